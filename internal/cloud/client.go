// Package cloud is the bearer-token client for the DRD Cloud control plane:
// the agent pings it, pulls scheduled work from it, and pushes results and
// extracted assets back.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sourcebridge.dev/internal/source"
)

// Client talks to one DRD Cloud deployment.
type Client struct {
	host       string
	token      string
	httpClient *http.Client
}

// NewClient builds a cloud client. Host carries the scheme, no trailing
// slash.
func NewClient(host, token string) (*Client, error) {
	if host == "" || token == "" {
		return nil, source.NewConfigurationError("cloud client requires both an api host and an api token")
	}
	return &Client{
		host:  host,
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("cloud marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return fmt.Errorf("cloud new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloud request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cloud %s returned %d: %s", path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloud decode %s response: %w", path, err)
	}
	return nil
}

// Ping establishes reachability with the cloud.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/connectors/proxy/ping", nil, nil)
}

// TaskExecution is one scheduled task pulled from the cloud, echoed back
// with a result attached.
type TaskExecution struct {
	ProxyExecutionRequestID string           `json:"proxy_execution_request_id"`
	TimeRange               source.TimeRange `json:"time_range"`
	GlobalVariableSet       map[string]any   `json:"execution_global_variable_set,omitempty"`
	Task                    source.Task      `json:"task"`

	Result *source.TaskResult `json:"result,omitempty"`
}

// FetchScheduledTasks pulls pending task executions.
func (c *Client) FetchScheduledTasks(ctx context.Context) ([]TaskExecution, error) {
	var out struct {
		PlaybookTaskExecutions []TaskExecution `json:"playbook_task_executions"`
	}
	if err := c.do(ctx, http.MethodPost, "/playbooks-engine/proxy/execution/tasks", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.PlaybookTaskExecutions, nil
}

// SubmitTaskResults pushes executed task logs back, one per result.
func (c *Client) SubmitTaskResults(ctx context.Context, executions []TaskExecution) error {
	payload := map[string]any{"playbook_task_execution_logs": executions}
	return c.do(ctx, http.MethodPost, "/playbooks-engine/proxy/execution/results", payload, nil)
}

// ConnectionTestRequest is one pending connector test.
type ConnectionTestRequest struct {
	RequestID     string `json:"request_id"`
	ConnectorName string `json:"connector_name"`
}

// ConnectionTestResult reports one connector test outcome.
type ConnectionTestResult struct {
	RequestID                   string `json:"request_id"`
	IsConnectionStateSuccessful bool   `json:"is_connection_state_successful"`
	Error                       string `json:"error,omitempty"`
}

// FetchConnectorTests pulls pending connection test requests.
func (c *Client) FetchConnectorTests(ctx context.Context) ([]ConnectionTestRequest, error) {
	var out struct {
		Requests []ConnectionTestRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodPost, "/connectors/proxy/connector/connection/tests", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// SubmitConnectorTestResults pushes connection test outcomes back.
func (c *Client) SubmitConnectorTestResults(ctx context.Context, results []ConnectionTestResult) error {
	payload := map[string]any{"results": results}
	return c.do(ctx, http.MethodPost, "/connectors/proxy/connector/connection/results", payload, nil)
}

// ConnectorRegistration names one connector the agent serves.
type ConnectorRegistration struct {
	Name string        `json:"name"`
	Type source.Source `json:"type"`
}

// RegisterConnectors announces the agent's loaded connectors.
func (c *Client) RegisterConnectors(ctx context.Context, connectors []ConnectorRegistration) error {
	payload := map[string]any{"connectors": connectors}
	return c.do(ctx, http.MethodPost, "/connectors/proxy/register", payload, nil)
}

// AssetUpsert is one extracted metadata batch for the cloud's asset store.
type AssetUpsert struct {
	RequestID     string         `json:"request_id"`
	ConnectorName string         `json:"connector_name"`
	ConnectorType source.Source  `json:"connector_type"`
	ModelType     string         `json:"model_type"`
	Models        map[string]any `json:"models"`
}

// UpsertAssets pushes extracted connector metadata.
func (c *Client) UpsertAssets(ctx context.Context, assets []AssetUpsert) error {
	payload := map[string]any{"assets": assets}
	return c.do(ctx, http.MethodPost, "/connectors/proxy/assets/models/upsert", payload, nil)
}
