package sentry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
)

const (
	// TaskFetchIssueInfoByID fetches issue details plus its latest event.
	TaskFetchIssueInfoByID = "fetch_issue_info_by_id"
	// TaskFetchEventInfoByID fetches one event's full payload.
	TaskFetchEventInfoByID = "fetch_event_info_by_id"
	// TaskFetchRecentEventsWithSearchQuery searches issues and collects
	// their recent events.
	TaskFetchRecentEventsWithSearchQuery = "fetch_list_of_recent_events_with_search_query"
)

// issueFanOutWorkers bounds concurrent per-issue event fetches.
const issueFanOutWorkers = 10

const defaultMaxEvents = 10

// Manager is the Sentry source manager.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	newProcessor func(conn *source.Connector) (*Processor, error)
}

// NewManager builds the Sentry manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{newProcessor: NewProcessor}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskFetchIssueInfoByID: {
			Executor:    m.executeFetchIssueInfo,
			ResultType:  source.ResultTypeAPIResponse,
			DisplayName: "Fetch Sentry Issue Related info",
			Category:    "Error",
			FormFields: []source.FormField{
				{KeyName: "issue_id", DisplayName: "Issue ID", Description: "Enter Issue ID", DataType: source.DataTypeString},
			},
		},
		TaskFetchEventInfoByID: {
			Executor:    m.executeFetchEventInfo,
			ResultType:  source.ResultTypeAPIResponse,
			DisplayName: "Fetch Sentry Event Info by ID",
			Category:    "Error",
			FormFields: []source.FormField{
				{KeyName: "event_id", DisplayName: "Event ID", Description: "Enter Event ID", DataType: source.DataTypeString},
				{KeyName: "project_slug", DisplayName: "Project Slug", Description: "Enter Project Slug", DataType: source.DataTypeString, Optional: true},
			},
		},
		TaskFetchRecentEventsWithSearchQuery: {
			Executor:    m.executeFetchRecentEvents,
			ResultType:  source.ResultTypeLogs,
			DisplayName: "Fetch List of Recent Events with Search Query",
			Category:    "Error",
			FormFields: []source.FormField{
				{KeyName: "project_slug", DisplayName: "Project Slug", Description: "Enter Project Slug", DataType: source.DataTypeString},
				{KeyName: "query", DisplayName: "Query", Description: "Enter Query", DataType: source.DataTypeString, Optional: true, Default: "is:unresolved"},
				{KeyName: "max_events_to_analyse", DisplayName: "Max Events to Analyse", DataType: source.DataTypeLong, Optional: true},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceSentry }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	processor, err := m.newProcessor(conn)
	if err != nil {
		return err
	}
	return processor.TestConnection(ctx)
}

func (m *Manager) executeFetchIssueInfo(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceSentry); err != nil {
		return nil, err
	}
	issueID := source.StringParam(params, "issue_id")

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	issue, err := processor.FetchIssueDetails(ctx, issueID)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceSentry, Op: "fetch issue", Err: err}
	}
	hash, err := processor.FetchIssueLatestEvent(ctx, issueID)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceSentry, Op: "fetch latest event", Err: err}
	}

	latest, _ := hash["latestEvent"].(map[string]any)
	body := map[string]any{
		"first_seen":     issue["firstSeen"],
		"last_seen":      issue["lastSeen"],
		"users_impacted": len(anySlice(issue["seenBy"])),
		"isUnhandled":    issue["isUnhandled"],
		"project_slug":   nestedString(issue, "project", "slug"),
	}
	if latest != nil {
		body["culprit"] = latest["culprit"]
		body["tags"] = latest["tags"]
		exceptions := entriesOfType(latest, "exception")
		body["count_exception_entries"] = len(exceptions)
		if len(exceptions) > 0 {
			data, _ := exceptions[0]["data"].(map[string]any)
			body["exception_counts"] = len(anySlice(data["values"]))
			body["stack_trace"] = latest["metadata"]
		} else {
			body["exception_counts"] = 0
			body["stack_trace"] = map[string]any{}
		}
		if requests := entriesOfType(latest, "request"); len(requests) > 0 {
			data, _ := requests[0]["data"].(map[string]any)
			body["url"] = data["url"]
		}
	}

	return []source.TaskResult{{
		Source:      source.SourceSentry,
		Type:        source.ResultTypeAPIResponse,
		APIResponse: &source.APIResponseResult{Body: body},
	}}, nil
}

func (m *Manager) executeFetchEventInfo(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceSentry); err != nil {
		return nil, err
	}
	eventID := source.StringParam(params, "event_id")
	projectSlug := source.StringParam(params, "project_slug")

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	event, err := processor.FetchEventDetails(ctx, eventID, projectSlug)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceSentry, Op: "fetch event", Err: err}
	}
	if len(event) == 0 {
		return []source.TaskResult{{
			Source: source.SourceSentry,
			Type:   source.ResultTypeText,
			Text:   &source.TextResult{Output: fmt.Sprintf("No event found with ID: %s", eventID)},
		}}, nil
	}

	body := map[string]any{
		"event_id":  event["eventID"],
		"project":   nestedString(event, "project", "slug"),
		"timestamp": event["dateCreated"],
		"message":   event["message"],
		"title":     event["title"],
		"tags":      event["tags"],
		"contexts":  event["contexts"],
		"entries":   event["entries"],
		"metadata":  event["metadata"],
		"user":      event["user"],
		"sdk":       event["sdk"],
		"url":       fmt.Sprintf("https://sentry.io/organizations/%s/issues/%s/", processor.OrgSlug(), eventID),
	}

	return []source.TaskResult{{
		Source:      source.SourceSentry,
		Type:        source.ResultTypeAPIResponse,
		APIResponse: &source.APIResponseResult{Body: body},
	}}, nil
}

func (m *Manager) executeFetchRecentEvents(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceSentry); err != nil {
		return nil, err
	}
	projectSlug := source.StringParam(params, "project_slug")
	query := source.StringParamOr(params, "query", "is:unresolved")
	maxEvents := source.Int64Param(params, "max_events_to_analyse")
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	start := time.Unix(tr.GEQ, 0).UTC().Format(time.RFC3339)
	end := time.Unix(tr.LT, 0).UTC().Format(time.RFC3339)

	issues, err := processor.FetchIssuesWithQuery(ctx, projectSlug, query, start, end)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceSentry, Op: "search issues", Err: err}
	}
	issues = issuesSeenSince(issues, start)
	if len(issues) == 0 {
		return []source.TaskResult{{
			Source: source.SourceSentry,
			Type:   source.ResultTypeText,
			Text:   &source.TextResult{Output: fmt.Sprintf("No issues found with %s for project: %s", query, projectSlug)},
		}}, nil
	}

	// Per-issue event fetches run concurrently; a failed issue contributes
	// nothing rather than failing the task.
	var mu sync.Mutex
	var allEvents []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(issueFanOutWorkers)
	for _, issue := range issues {
		issueID, _ := issue["id"].(string)
		if issueID == "" {
			continue
		}
		g.Go(func() error {
			events, err := processor.FetchEventsInsideIssue(gctx, issueID, start, end)
			if err != nil {
				logger.L().Warn("sentry issue event fetch failed, skipping",
					"issue_id", issueID, "error", err)
				return nil
			}
			mu.Lock()
			for _, event := range events {
				event["issue_id"] = issueID
				allEvents = append(allEvents, event)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	issueCounts := map[string]int{}
	for _, event := range allEvents {
		id, _ := event["issue_id"].(string)
		issueCounts[id]++
	}

	// Most recent first, then cap.
	sort.SliceStable(allEvents, func(i, j int) bool {
		di, _ := allEvents[i]["dateCreated"].(string)
		dj, _ := allEvents[j]["dateCreated"].(string)
		return di > dj
	})
	topEvents := allEvents
	if int64(len(topEvents)) > maxEvents {
		topEvents = topEvents[:maxEvents]
	}

	rows := make([]source.TableRow, 0, len(topEvents))
	for _, event := range topEvents {
		eventID, _ := event["eventID"].(string)
		details, err := processor.FetchEventDetails(ctx, eventID, projectSlug)
		if err != nil {
			logger.L().Warn("sentry event detail fetch failed, skipping",
				"event_id", eventID, "error", err)
			continue
		}
		details["issue_id"] = event["issue_id"]
		issueID, _ := event["issue_id"].(string)
		details["issue_count"] = issueCounts[issueID]
		if trace := stackTrace(details); trace != "" {
			details["stack_trace"] = trace
		}
		rows = append(rows, eventRow(details))
	}

	return []source.TaskResult{{
		Source: source.SourceSentry,
		Type:   source.ResultTypeLogs,
		Logs: &source.TableResult{
			RawQuery: fmt.Sprintf("Project: %s, Query: %s, Total Events: %d, Showing: %d events since %s",
				projectSlug, query, len(allEvents), len(rows), start),
			Rows:       rows,
			TotalCount: uint64(len(rows)),
		},
	}}, nil
}

// issuesSeenSince drops issues whose lastSeen predates the window start and
// orders the rest most recently seen first.
func issuesSeenSince(issues []map[string]any, start string) []map[string]any {
	kept := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		lastSeen, _ := issue["lastSeen"].(string)
		if lastSeen == "" || lastSeen < start {
			continue
		}
		kept = append(kept, issue)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		li, _ := kept[i]["lastSeen"].(string)
		lj, _ := kept[j]["lastSeen"].(string)
		return li > lj
	})
	return kept
}

// eventRow flattens one event payload into a row with sorted column names.
func eventRow(event map[string]any) source.TableRow {
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]source.TableColumn, 0, len(keys))
	for _, k := range keys {
		columns = append(columns, source.TableColumn{Name: k, Value: stringify(event[k])})
	}
	return source.TableRow{Columns: columns}
}

// stackTrace renders the first exception entry's frames as
// file:line in function, one frame per line.
func stackTrace(event map[string]any) string {
	exceptions := entriesOfType(event, "exception")
	if len(exceptions) == 0 {
		return ""
	}
	data, _ := exceptions[0]["data"].(map[string]any)
	values := anySlice(data["values"])
	if len(values) == 0 {
		return ""
	}
	value, _ := values[0].(map[string]any)
	trace, _ := value["stacktrace"].(map[string]any)
	frames := anySlice(trace["frames"])
	if len(frames) == 0 {
		return ""
	}

	lines := make([]string, 0, len(frames))
	for _, f := range frames {
		frame, _ := f.(map[string]any)
		filename, _ := frame["filename"].(string)
		if filename == "" {
			filename = "Unknown"
		}
		function, _ := frame["function"].(string)
		if function == "" {
			function = "Unknown"
		}
		lineno := "?"
		if n, ok := frame["lineno"].(float64); ok {
			lineno = fmt.Sprintf("%d", int64(n))
		}
		lines = append(lines, fmt.Sprintf("%s:%s in %s", filename, lineno, function))
	}
	return strings.Join(lines, "\n")
}

func entriesOfType(event map[string]any, entryType string) []map[string]any {
	var matched []map[string]any
	for _, e := range anySlice(event["entries"]) {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := entry["type"].(string); t == entryType {
			matched = append(matched, entry)
		}
	}
	return matched
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func nestedString(m map[string]any, keys ...string) string {
	cur := m
	for i, k := range keys {
		if i == len(keys)-1 {
			s, _ := cur[k].(string)
			return s
		}
		next, ok := cur[k].(map[string]any)
		if !ok {
			return ""
		}
		cur = next
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
