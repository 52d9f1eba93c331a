package sentry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sourcebridge.dev/internal/source"
)

func sentryConnector() *source.Connector {
	return &source.Connector{
		Name: "sentry",
		Type: source.SourceSentry,
		Keys: []source.ConnectorKey{
			{Type: source.KeySentryAPIKey, Value: "token"},
			{Type: source.KeySentryOrgSlug, Value: "acme"},
		},
	}
}

func TestIssuesSeenSince(t *testing.T) {
	issues := []map[string]any{
		{"id": "1", "lastSeen": "2026-08-01T00:00:00Z"},
		{"id": "2", "lastSeen": "2026-08-20T00:00:00Z"},
		{"id": "3", "lastSeen": "2026-08-25T00:00:00Z"},
		{"id": "4"},
	}
	kept := issuesSeenSince(issues, "2026-08-10T00:00:00Z")
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want stale and unseen issues dropped", len(kept))
	}
	if kept[0]["id"] != "3" || kept[1]["id"] != "2" {
		t.Errorf("kept = %v, want most recently seen first", kept)
	}
}

func TestStackTrace(t *testing.T) {
	event := map[string]any{
		"entries": []any{
			map[string]any{"type": "breadcrumbs"},
			map[string]any{
				"type": "exception",
				"data": map[string]any{
					"values": []any{
						map[string]any{
							"stacktrace": map[string]any{
								"frames": []any{
									map[string]any{"filename": "app/views.py", "lineno": float64(42), "function": "handle"},
									map[string]any{"lineno": float64(7)},
								},
							},
						},
					},
				},
			},
		},
	}
	got := stackTrace(event)
	want := "app/views.py:42 in handle\nUnknown:7 in Unknown"
	if got != want {
		t.Errorf("stackTrace() = %q, want %q", got, want)
	}

	if got := stackTrace(map[string]any{}); got != "" {
		t.Errorf("stackTrace(empty) = %q, want empty", got)
	}
}

func TestEventRow(t *testing.T) {
	row := eventRow(map[string]any{
		"title":    "boom",
		"count":    3,
		"tags":     []any{map[string]any{"key": "env", "value": "prod"}},
		"absent":   nil,
	})
	names := make([]string, 0, len(row.Columns))
	for _, c := range row.Columns {
		names = append(names, c.Name)
	}
	want := []string{"absent", "count", "tags", "title"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("columns = %v, want sorted %v", names, want)
		}
	}
	for _, c := range row.Columns {
		switch c.Name {
		case "title":
			if c.Value != "boom" {
				t.Errorf("title = %q", c.Value)
			}
		case "count":
			if c.Value != "3" {
				t.Errorf("count = %q", c.Value)
			}
		case "tags":
			if !strings.Contains(c.Value, `"env"`) {
				t.Errorf("tags = %q, want JSON rendering", c.Value)
			}
		case "absent":
			if c.Value != "" {
				t.Errorf("absent = %q", c.Value)
			}
		}
	}
}

func TestExecuteFetchRecentEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/issues/") && strings.HasSuffix(r.URL.Path, "/events/"):
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"eventID": "ev-old", "dateCreated": "2026-08-28T10:00:00Z"},
				{"eventID": "ev-new", "dateCreated": "2026-08-28T12:00:00Z"},
			})
		case strings.Contains(r.URL.Path, "/projects/acme/checkout/issues/"):
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "101", "lastSeen": "2026-08-28T12:00:00Z"},
			})
		case strings.Contains(r.URL.Path, "/events/"):
			parts := strings.Split(strings.TrimRight(r.URL.Path, "/"), "/")
			eventID := parts[len(parts)-1]
			_ = json.NewEncoder(w).Encode(map[string]any{
				"eventID":     eventID,
				"dateCreated": "2026-08-28T12:00:00Z",
				"title":       "NullPointerException",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewManager()
	base := m.newProcessor
	m.newProcessor = func(conn *source.Connector) (*Processor, error) {
		p, err := base(conn)
		if err != nil {
			return nil, err
		}
		p.apiBase = srv.URL
		return p, nil
	}

	tr := source.TimeRange{GEQ: 1787572800, LT: 1787583600}
	params := map[string]any{
		"project_slug":          "checkout",
		"query":                 "is:unresolved",
		"max_events_to_analyse": int64(1),
	}
	results, err := m.executeFetchRecentEvents(context.Background(), tr, params, sentryConnector())
	if err != nil {
		t.Fatalf("executeFetchRecentEvents() error = %v", err)
	}
	if results[0].Type != source.ResultTypeLogs {
		t.Fatalf("result = %+v", results[0])
	}
	table := results[0].Logs
	if table.TotalCount != 1 {
		t.Fatalf("rows = %d, want capped at max_events_to_analyse", table.TotalCount)
	}
	// Newest event wins the cap.
	var gotEventID string
	for _, c := range table.Rows[0].Columns {
		if c.Name == "eventID" {
			gotEventID = c.Value
		}
	}
	if gotEventID != "ev-new" {
		t.Errorf("capped event = %q, want the most recent", gotEventID)
	}
	if !strings.Contains(table.RawQuery, "Total Events: 2") {
		t.Errorf("raw query = %q", table.RawQuery)
	}
}

func TestExecuteFetchRecentEventsNoIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	m := NewManager()
	base := m.newProcessor
	m.newProcessor = func(conn *source.Connector) (*Processor, error) {
		p, err := base(conn)
		if err != nil {
			return nil, err
		}
		p.apiBase = srv.URL
		return p, nil
	}

	results, err := m.executeFetchRecentEvents(context.Background(), source.TimeRange{GEQ: 0, LT: 3600},
		map[string]any{"project_slug": "checkout"}, sentryConnector())
	if err != nil {
		t.Fatalf("executeFetchRecentEvents() error = %v", err)
	}
	if results[0].Type != source.ResultTypeText {
		t.Fatalf("result = %+v, want no-issues text", results[0])
	}
}

func TestNewProcessorRequiresOrgSlug(t *testing.T) {
	conn := &source.Connector{Name: "s", Type: source.SourceSentry, Keys: []source.ConnectorKey{
		{Type: source.KeySentryAPIKey, Value: "token"},
	}}
	_, err := NewProcessor(conn)
	if err == nil {
		t.Fatal("NewProcessor() = nil error, want missing org_slug")
	}
}
