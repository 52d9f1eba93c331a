// Package grafana implements the Grafana source: Prometheus datasource
// queries and dashboard panel fan-out over the Grafana HTTP API.
package grafana

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"sourcebridge.dev/internal/credentials"
	"sourcebridge.dev/internal/source"
)

// Processor wraps the Grafana HTTP API for one connector.
type Processor struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

// NewProcessor builds a Grafana API client from connector credentials.
func NewProcessor(conn *source.Connector) (*Processor, error) {
	creds := credentials.CredentialsDict(conn)
	host := creds["grafana_host"]
	if host == "" {
		return nil, source.NewConfigurationError("connector %s: missing grafana host", conn.Name)
	}

	transport := http.DefaultTransport
	if creds["ssl_verify"] == "false" {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	return &Processor{
		host:   host,
		apiKey: creds["grafana_api_key"],
		httpClient: &http.Client{
			Timeout:   20 * time.Second,
			Transport: transport,
		},
	}, nil
}

// get issues an authenticated GET and decodes the JSON response into out.
func (p *Processor) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+path, nil)
	if err != nil {
		return fmt.Errorf("grafana new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("grafana request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("grafana returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("grafana decode response: %w", err)
	}
	return nil
}

// TestConnection lists datasources, which requires a valid API key.
func (p *Processor) TestConnection(ctx context.Context) error {
	return p.get(ctx, "/api/datasources", nil)
}

// RangeQueryResponse is the Prometheus query_range payload proxied through
// Grafana.
type RangeQueryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Values [][2]any          `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange runs a PromQL range query through the datasource proxy.
func (p *Processor) QueryRange(ctx context.Context, datasourceUID, query string, start, end, stepSeconds int64) (*RangeQueryResponse, error) {
	path := fmt.Sprintf("/api/datasources/proxy/uid/%s/api/v1/query_range?query=%s&start=%d&end=%d&step=%d",
		url.PathEscape(datasourceUID), url.QueryEscape(query), start, end, stepSeconds)
	var out RangeQueryResponse
	if err := p.get(ctx, path, &out); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("grafana query_range status: %s", out.Status)
	}
	return &out, nil
}

// Dashboard is the subset of a dashboard definition the panel fan-out
// needs.
type Dashboard struct {
	Dashboard struct {
		UID    string  `json:"uid"`
		Title  string  `json:"title"`
		Panels []Panel `json:"panels"`
	} `json:"dashboard"`
}

// Panel is one dashboard panel with its queries.
type Panel struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Type       string `json:"type"`
	Datasource struct {
		UID  string `json:"uid"`
		Type string `json:"type"`
	} `json:"datasource"`
	Targets []struct {
		Expr         string `json:"expr"`
		LegendFormat string `json:"legendFormat"`
	} `json:"targets"`
}

// DashboardRef is one dashboard search hit.
type DashboardRef struct {
	UID   string `json:"uid"`
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// ListDashboards lists all dashboards visible to the API key.
func (p *Processor) ListDashboards(ctx context.Context) ([]DashboardRef, error) {
	var out []DashboardRef
	if err := p.get(ctx, "/api/search?type=dash-db", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Datasource is one configured datasource.
type Datasource struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ListDatasources lists the instance's datasources.
func (p *Processor) ListDatasources(ctx context.Context) ([]Datasource, error) {
	var out []Datasource
	if err := p.get(ctx, "/api/datasources", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchDashboard fetches a dashboard definition by UID.
func (p *Processor) FetchDashboard(ctx context.Context, uid string) (*Dashboard, error) {
	var out Dashboard
	if err := p.get(ctx, "/api/dashboards/uid/"+url.PathEscape(uid), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// seriesFromRangeResponse shapes a query_range response into labeled
// series, tagging each with the offset label.
func seriesFromRangeResponse(resp *RangeQueryResponse, offsetSeconds int64) []source.LabeledSeries {
	series := make([]source.LabeledSeries, 0, len(resp.Data.Result))
	for _, r := range resp.Data.Result {
		labels := make([]source.Label, 0, len(r.Metric)+1)
		for name, value := range r.Metric {
			labels = append(labels, source.Label{Name: name, Value: value})
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
		labels = append(labels, source.Label{Name: "offset_seconds", Value: strconv.FormatInt(offsetSeconds, 10)})

		datapoints := make([]source.Datapoint, 0, len(r.Values))
		for _, v := range r.Values {
			ts, ok := v[0].(float64)
			if !ok {
				continue
			}
			s, ok := v[1].(string)
			if !ok {
				continue
			}
			value, err := strconv.ParseFloat(s, 64)
			if err != nil {
				continue
			}
			datapoints = append(datapoints, source.Datapoint{
				TimestampMS: int64(ts * 1000),
				Value:       value,
			})
		}
		series = append(series, source.LabeledSeries{Labels: labels, Datapoints: datapoints})
	}
	return series
}
