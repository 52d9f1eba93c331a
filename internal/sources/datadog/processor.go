// Package datadog implements the Datadog source: metric queries over the
// Datadog REST API.
package datadog

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

// Processor wraps the Datadog REST API for one connector.
type Processor struct {
	// baseURL overrides the api.{domain} endpoint when non-empty.
	baseURL    string
	apiDomain  string
	apiKey     string
	appKey     string
	httpClient *http.Client
}

// NewProcessor builds a Datadog API client from connector credentials.
func NewProcessor(conn *source.Connector) (*Processor, error) {
	creds := credentials.CredentialsDict(conn)
	domain := creds["dd_api_domain"]
	if domain == "" {
		domain = "datadoghq.com"
	}
	return &Processor{
		apiDomain: domain,
		apiKey:    creds["dd_api_key"],
		appKey:    creds["dd_app_key"],
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (p *Processor) get(ctx context.Context, path string, out any) error {
	base := p.baseURL
	if base == "" {
		base = fmt.Sprintf("https://api.%s", p.apiDomain)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("datadog new request: %w", err)
	}
	req.Header.Set("DD-API-KEY", p.apiKey)
	req.Header.Set("DD-APPLICATION-KEY", p.appKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("datadog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("datadog returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("datadog decode response: %w", err)
	}
	return nil
}

// TestConnection validates the API key pair.
func (p *Processor) TestConnection(ctx context.Context) error {
	return p.get(ctx, "/api/v1/validate", nil)
}

// MetricQueryResponse is the v1 timeseries query payload.
type MetricQueryResponse struct {
	Status string `json:"status"`
	Series []struct {
		Metric      string      `json:"metric"`
		DisplayName string      `json:"display_name"`
		Scope       string      `json:"scope"`
		Unit        []*struct{ Name string } `json:"unit"`
		Pointlist   [][2]*float64            `json:"pointlist"`
	} `json:"series"`
}

// QueryMetrics runs a timeseries metric query over [from, to] epoch
// seconds.
func (p *Processor) QueryMetrics(ctx context.Context, from, to int64, query string) (*MetricQueryResponse, error) {
	path := fmt.Sprintf("/api/v1/query?from=%d&to=%d&query=%s", from, to, url.QueryEscape(query))
	var out MetricQueryResponse
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("datadog query status: %s", out.Status)
	}
	return &out, nil
}
