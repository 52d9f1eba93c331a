package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sourcebridge.dev/internal/source"
)

func TestExecuteHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"page": 1}` {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "abc"}`)
	}))
	defer srv.Close()

	m := NewManager()
	params := map[string]any{
		"method":  "post",
		"url":     srv.URL,
		"headers": map[string]any{"Authorization": "Bearer secret"},
		"payload": `{"page": 1}`,
	}
	results, err := m.executeHTTPRequest(context.Background(), source.TimeRange{}, params, nil)
	if err != nil {
		t.Fatalf("executeHTTPRequest() error = %v", err)
	}

	resp := results[0].APIResponse
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.RequestMethod != http.MethodPost || resp.RequestURL != srv.URL {
		t.Errorf("request echo = %s %s", resp.RequestMethod, resp.RequestURL)
	}
	if resp.Body["id"] != "abc" {
		t.Errorf("body = %v", resp.Body)
	}
}

func TestExecuteHTTPRequestNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	}))
	defer srv.Close()

	m := NewManager()
	results, err := m.executeHTTPRequest(context.Background(), source.TimeRange{},
		map[string]any{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("executeHTTPRequest() error = %v", err)
	}
	if results[0].APIResponse.Body["raw"] != "pong" {
		t.Errorf("body = %v, want raw wrapper", results[0].APIResponse.Body)
	}
}

func TestExecuteHTTPRequestValidation(t *testing.T) {
	m := NewManager()
	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{"missing url", map[string]any{"method": "GET"}, "requires a url"},
		{"bad method", map[string]any{"method": "TRACE", "url": "http://x"}, "unsupported http method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.executeHTTPRequest(context.Background(), source.TimeRange{}, tt.params, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
