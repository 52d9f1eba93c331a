// Package api implements the generic HTTP source: arbitrary requests whose
// responses are returned verbatim as API responses.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"sourcebridge.dev/internal/source"
)

// TaskHTTPRequest issues one HTTP request and captures the response.
const TaskHTTPRequest = "http_request"

var validMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Manager is the generic HTTP source manager. It carries no credentials;
// auth material goes in the request headers.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	httpClient *http.Client
}

// NewManager builds the HTTP source manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskHTTPRequest: {
			Executor:    m.executeHTTPRequest,
			ResultType:  source.ResultTypeAPIResponse,
			DisplayName: "Make an HTTP API call",
			Category:    "Actions",
			FormFields: []source.FormField{
				{KeyName: "method", DisplayName: "Method", DataType: source.DataTypeString, Default: http.MethodGet,
					ValidValues: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}},
				{KeyName: "url", DisplayName: "URL", DataType: source.DataTypeString},
				{KeyName: "headers", DisplayName: "Headers", Description: `e.g. {"Authorization": "Bearer ..."}`, DataType: source.DataTypeStringMap, Optional: true},
				{KeyName: "payload", DisplayName: "Body", Description: "Request body, sent as-is", DataType: source.DataTypeString, Optional: true},
				{KeyName: "timeout", DisplayName: "Timeout (seconds)", DataType: source.DataTypeLong, Optional: true},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceAPI }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

// TestConnection always succeeds; there is nothing standing to verify.
func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	return nil
}

func (m *Manager) executeHTTPRequest(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	method := strings.ToUpper(source.StringParamOr(params, "method", http.MethodGet))
	if !validMethods[method] {
		return nil, source.NewConfigurationError("unsupported http method: %s", method)
	}
	requestURL := source.StringParam(params, "url")
	if requestURL == "" {
		return nil, source.NewConfigurationError("http_request requires a url")
	}

	var body io.Reader
	if payload := source.StringParam(params, "payload"); payload != "" {
		body = strings.NewReader(payload)
	}

	if timeout := source.Int64Param(params, "timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, source.NewConfigurationError("invalid http request: %v", err)
	}
	for name, value := range source.StringMapParam(params, "headers") {
		req.Header.Set(name, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceAPI, Op: "http request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceAPI, Op: "read response", Err: err}
	}

	// Non-JSON bodies are wrapped so the payload always round-trips as an
	// object.
	var responseBody map[string]any
	if err := json.Unmarshal(raw, &responseBody); err != nil {
		responseBody = map[string]any{"raw": string(raw)}
	}

	return []source.TaskResult{{
		Source: source.SourceAPI,
		Type:   source.ResultTypeAPIResponse,
		APIResponse: &source.APIResponseResult{
			RequestMethod: method,
			RequestURL:    requestURL,
			StatusCode:    resp.StatusCode,
			Body:          responseBody,
		},
	}}, nil
}
