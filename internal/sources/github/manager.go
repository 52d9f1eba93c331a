package github

import (
	"context"
	"fmt"

	"sourcebridge.dev/internal/source"
)

const (
	// TaskFetchFile fetches one file's contents from a repository.
	TaskFetchFile = "fetch_file"
	// TaskFetchCommits lists a repository's recent commits.
	TaskFetchCommits = "fetch_commits"
)

// Manager is the GitHub source manager.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	newProcessor func(conn *source.Connector) (*Processor, error)
}

// NewManager builds the GitHub manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{newProcessor: NewProcessor}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskFetchFile: {
			Executor:    m.executeFetchFile,
			ResultType:  source.ResultTypeAPIResponse,
			DisplayName: "Fetch Files",
			Category:    "Code Repository",
			FormFields: []source.FormField{
				{KeyName: "repo", DisplayName: "Repository", Description: "Enter Repository name", DataType: source.DataTypeString},
				{KeyName: "file_path", DisplayName: "File Path", Description: "Enter File Path", DataType: source.DataTypeString},
			},
		},
		TaskFetchCommits: {
			Executor:    m.executeFetchCommits,
			ResultType:  source.ResultTypeTable,
			DisplayName: "Fetch recent commits",
			Category:    "Code Repository",
			FormFields: []source.FormField{
				{KeyName: "repo", DisplayName: "Repository", Description: "Enter Repository name", DataType: source.DataTypeString},
				{KeyName: "file_path", DisplayName: "File Path", Description: "Limit commits to one file", DataType: source.DataTypeString, Optional: true},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceGithub }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	processor, err := m.newProcessor(conn)
	if err != nil {
		return err
	}
	return processor.TestConnection(ctx)
}

func (m *Manager) executeFetchFile(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceGithub); err != nil {
		return nil, err
	}
	repo := source.StringParam(params, "repo")
	filePath := source.StringParam(params, "file_path")

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	file, err := processor.FetchFile(ctx, repo, filePath)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceGithub, Op: "fetch file", Err: err}
	}

	return []source.TaskResult{{
		Source:      source.SourceGithub,
		Type:        source.ResultTypeAPIResponse,
		APIResponse: &source.APIResponseResult{Body: file},
	}}, nil
}

func (m *Manager) executeFetchCommits(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceGithub); err != nil {
		return nil, err
	}
	repo := source.StringParam(params, "repo")
	filePath := source.StringParam(params, "file_path")

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	commits, err := processor.FetchCommits(ctx, repo, filePath)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceGithub, Op: "fetch commits", Err: err}
	}

	rows := make([]source.TableRow, 0, len(commits))
	for _, c := range commits {
		rows = append(rows, source.TableRow{Columns: []source.TableColumn{
			{Name: "sha", Value: c.SHA},
			{Name: "author_name", Value: c.Commit.Author.Name},
			{Name: "author_email", Value: c.Commit.Author.Email},
			{Name: "commit_date", Value: c.Commit.Author.Date},
			{Name: "message", Value: c.Commit.Message},
			{Name: "commit_url", Value: c.HTMLURL},
		}})
	}

	rawQuery := fmt.Sprintf("Commits for %s", repo)
	if filePath != "" {
		rawQuery = fmt.Sprintf("Commits for %s touching %s", repo, filePath)
	}
	return []source.TaskResult{{
		Source: source.SourceGithub,
		Type:   source.ResultTypeTable,
		Table: &source.TableResult{
			RawQuery:   rawQuery,
			Rows:       rows,
			TotalCount: uint64(len(rows)),
		},
	}}, nil
}
