package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine calls a remote transformer sandbox over HTTP.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPEngine creates an engine client for the given sandbox base URL.
func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type executeRequest struct {
	Definition   string         `json:"definition"`
	Requirements []string       `json:"requirements,omitempty"`
	Result       map[string]any `json:"result"`
}

type executeResponse struct {
	Output any    `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Execute sends the function and result to the sandbox and returns its raw
// output. Contract enforcement happens in Apply, not here.
func (e *HTTPEngine) Execute(ctx context.Context, fn Function, result map[string]any) (any, error) {
	body, err := json.Marshal(executeRequest{
		Definition:   fn.Definition,
		Requirements: fn.Requirements,
		Result:       result,
	})
	if err != nil {
		return nil, fmt.Errorf("transformer marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transformer new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transformer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transformer engine returned %d: %s", resp.StatusCode, string(b))
	}

	var execResp executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&execResp); err != nil {
		return nil, fmt.Errorf("transformer decode response: %w", err)
	}
	if execResp.Error != "" {
		return nil, fmt.Errorf("transformer engine error: %s", execResp.Error)
	}
	return execResp.Output, nil
}
