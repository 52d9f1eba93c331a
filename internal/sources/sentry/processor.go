// Package sentry implements the Sentry source: issue and event lookups over
// the Sentry REST API, with rate-limit aware retries.
package sentry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"sourcebridge.dev/internal/credentials"
	"sourcebridge.dev/internal/retry"
	"sourcebridge.dev/internal/source"
)

const defaultAPIBase = "https://sentry.io/api/0"

// Processor wraps the Sentry REST API for one connector. Requests are paced
// by a shared limiter so the recent-events fan-out does not burst past the
// vendor's limits, and 429 responses are retried honoring the
// X-Sentry-Rate-Limit-Reset header.
type Processor struct {
	apiBase    string
	apiKey     string
	orgSlug    string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
}

// NewProcessor builds a Sentry API client from connector credentials.
func NewProcessor(conn *source.Connector) (*Processor, error) {
	creds := credentials.CredentialsDict(conn)
	if creds["org_slug"] == "" {
		return nil, source.NewConfigurationError("connector %s: missing sentry org_slug", conn.Name)
	}
	return &Processor{
		apiBase: defaultAPIBase,
		apiKey:  creds["api_key"],
		orgSlug: creds["org_slug"],
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		policy:  retry.DefaultPolicy,
	}, nil
}

// OrgSlug returns the connector's organization slug.
func (p *Processor) OrgSlug() string { return p.orgSlug }

func (p *Processor) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, "sentry get "+path, p.policy, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
		if err != nil {
			return fmt.Errorf("sentry new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sentry request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return &retry.RateLimitError{ResetAfter: resetAfter(resp.Header)}
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("sentry returned %d: %s", resp.StatusCode, string(b))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("sentry decode response: %w", err)
		}
		return nil
	})
}

// resetAfter reads the rate-limit reset header, an epoch second.
func resetAfter(h http.Header) time.Duration {
	epoch, err := strconv.ParseInt(h.Get("X-Sentry-Rate-Limit-Reset"), 10, 64)
	if err != nil {
		return 0
	}
	d := time.Until(time.Unix(epoch, 0))
	if d < 0 {
		return 0
	}
	return d
}

// TestConnection lists the organization's projects.
func (p *Processor) TestConnection(ctx context.Context) error {
	return p.get(ctx, fmt.Sprintf("/organizations/%s/projects/", url.PathEscape(p.orgSlug)), nil)
}

// FetchIssueDetails fetches one issue by id.
func (p *Processor) FetchIssueDetails(ctx context.Context, issueID string) (map[string]any, error) {
	var out map[string]any
	if err := p.get(ctx, fmt.Sprintf("/issues/%s/", url.PathEscape(issueID)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchIssueLatestEvent fetches the latest event hash for an issue.
func (p *Processor) FetchIssueLatestEvent(ctx context.Context, issueID string) (map[string]any, error) {
	var hashes []map[string]any
	path := fmt.Sprintf("/organizations/%s/issues/%s/hashes/", url.PathEscape(p.orgSlug), url.PathEscape(issueID))
	if err := p.get(ctx, path, &hashes); err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("sentry issue %s has no event hashes", issueID)
	}
	return hashes[0], nil
}

// FetchIssuesWithQuery searches a project's issues within a time window.
// Times are RFC 3339.
func (p *Processor) FetchIssuesWithQuery(ctx context.Context, projectSlug, query, start, end string) ([]map[string]any, error) {
	q := url.Values{}
	if query != "" {
		q.Set("query", query)
	}
	q.Set("start", start)
	q.Set("end", end)
	var out []map[string]any
	path := fmt.Sprintf("/projects/%s/%s/issues/?%s", url.PathEscape(p.orgSlug), url.PathEscape(projectSlug), q.Encode())
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchEventsInsideIssue lists events of one issue within a time window.
func (p *Processor) FetchEventsInsideIssue(ctx context.Context, issueID, start, end string) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)
	var out []map[string]any
	path := fmt.Sprintf("/organizations/%s/issues/%s/events/?%s", url.PathEscape(p.orgSlug), url.PathEscape(issueID), q.Encode())
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchEventDetails fetches one event, optionally scoped to a project.
func (p *Processor) FetchEventDetails(ctx context.Context, eventID, projectSlug string) (map[string]any, error) {
	var path string
	if projectSlug != "" {
		path = fmt.Sprintf("/projects/%s/%s/events/%s/", url.PathEscape(p.orgSlug), url.PathEscape(projectSlug), url.PathEscape(eventID))
	} else {
		path = fmt.Sprintf("/events/%s/%s/", url.PathEscape(p.orgSlug), url.PathEscape(eventID))
	}
	var out map[string]any
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}
