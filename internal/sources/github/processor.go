// Package github implements the GitHub source: file and commit lookups over
// the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sourcebridge.dev/internal/credentials"
	"sourcebridge.dev/internal/source"
)

const defaultAPIBase = "https://api.github.com"

// Processor wraps the GitHub REST API for one connector.
type Processor struct {
	apiBase    string
	token      string
	org        string
	httpClient *http.Client
}

// NewProcessor builds a GitHub API client from connector credentials.
func NewProcessor(conn *source.Connector) (*Processor, error) {
	creds := credentials.CredentialsDict(conn)
	if creds["org"] == "" {
		return nil, source.NewConfigurationError("connector %s: missing github org", conn.Name)
	}
	return &Processor{
		apiBase: defaultAPIBase,
		token:   creds["token"],
		org:     creds["org"],
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (p *Processor) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("github new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("github returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github decode response: %w", err)
	}
	return nil
}

// TestConnection verifies the token against the zen endpoint.
func (p *Processor) TestConnection(ctx context.Context) error {
	return p.get(ctx, "/octocat", nil)
}

// FetchFile fetches a file's contents metadata from a repository.
func (p *Processor) FetchFile(ctx context.Context, repo, filePath string) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(p.org), url.PathEscape(repo), filePath)
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Commit is the subset of a commit listing the commits table needs.
type Commit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Date  string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// FetchCommits lists a repository's commits, optionally scoped to one file
// path.
func (p *Processor) FetchCommits(ctx context.Context, repo, filePath string) ([]Commit, error) {
	q := url.Values{}
	q.Set("per_page", "100")
	if filePath != "" {
		q.Set("path", filePath)
	}
	var out []Commit
	path := fmt.Sprintf("/repos/%s/%s/commits?%s", url.PathEscape(p.org), url.PathEscape(repo), q.Encode())
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}
