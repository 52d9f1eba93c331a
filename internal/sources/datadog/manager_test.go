package datadog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sourcebridge.dev/internal/source"
)

func ddConnector() *source.Connector {
	return &source.Connector{
		Name: "dd",
		Type: source.SourceDatadog,
		Keys: []source.ConnectorKey{
			{Type: source.KeyDatadogAPIKey, Value: "api-key"},
			{Type: source.KeyDatadogAppKey, Value: "app-key"},
			{Type: source.KeyDatadogAPIDomain, Value: "datadoghq.com"},
		},
	}
}

func managerAgainst(srvURL string) *Manager {
	m := NewManager()
	base := m.newProcessor
	m.newProcessor = func(conn *source.Connector) (*Processor, error) {
		p, err := base(conn)
		if err != nil {
			return nil, err
		}
		p.baseURL = srvURL
		return p, nil
	}
	return m
}

const queryPayload = `{
	"status": "ok",
	"series": [{
		"metric": "trace.http.request.duration",
		"display_name": "trace.http.request.duration",
		"scope": "service:checkout,env:prod",
		"unit": [{"name": "second"}],
		"pointlist": [[1700000000000, 0.25], [1700000060000, null], [1700000120000, 0.5]]
	}]
}`

func TestExecuteServiceMetric(t *testing.T) {
	var queries []string
	var froms []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("DD-API-KEY") != "api-key" || r.Header.Get("DD-APPLICATION-KEY") != "app-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		queries = append(queries, r.URL.Query().Get("query"))
		froms = append(froms, r.URL.Query().Get("from"))
		fmt.Fprint(w, queryPayload)
	}))
	defer srv.Close()

	m := managerAgainst(srv.URL)
	tr := source.TimeRange{GEQ: 1700000000, LT: 1700003600}
	params := map[string]any{
		"service_name":       "checkout",
		"environment_name":   "prod",
		"metric":             "trace.http.request.duration",
		"timeseries_offsets": []int64{604800},
	}

	results, err := m.executeServiceMetric(context.Background(), tr, params, ddConnector())
	if err != nil {
		t.Fatalf("executeServiceMetric() error = %v", err)
	}

	wantQuery := "avg:trace.http.request.duration{service:checkout,env:prod}"
	if queries[0] != wantQuery {
		t.Errorf("query = %q, want %q", queries[0], wantQuery)
	}
	if len(froms) != 2 || froms[1] != fmt.Sprint(tr.GEQ-604800) {
		t.Errorf("offset from = %v, window must shift", froms)
	}

	series := results[0].Timeseries.Series
	if len(series) != 2 {
		t.Fatalf("series = %d, want base plus offset", len(series))
	}
	if series[0].OffsetLabel() != "0" || series[1].OffsetLabel() != "604800" {
		t.Errorf("offset labels = %q, %q", series[0].OffsetLabel(), series[1].OffsetLabel())
	}
	if series[0].Labels[0].Name != "resource_name" || series[0].Labels[0].Value != "service:checkout,env:prod" {
		t.Errorf("labels = %+v", series[0].Labels)
	}
	if series[0].Unit != "second" {
		t.Errorf("unit = %q", series[0].Unit)
	}

	// The null point is dropped.
	points := series[0].Datapoints
	if len(points) != 2 {
		t.Fatalf("datapoints = %+v, want null point dropped", points)
	}
	if points[0].TimestampMS != 1700000000000 || points[0].Value != 0.25 {
		t.Errorf("first datapoint = %+v", points[0])
	}
}

func TestExecuteQueryMetricNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "ok", "series": []}`)
	}))
	defer srv.Close()

	m := managerAgainst(srv.URL)
	params := map[string]any{"query": "avg:system.cpu.user{*}"}
	results, err := m.executeQueryMetric(context.Background(), source.TimeRange{GEQ: 0, LT: 3600}, params, ddConnector())
	if err != nil {
		t.Fatalf("executeQueryMetric() error = %v", err)
	}
	if results[0].Type != source.ResultTypeText {
		t.Fatalf("result = %+v, want no-data text", results[0])
	}
	if !strings.Contains(results[0].Text.Output, "avg:system.cpu.user{*}") {
		t.Errorf("output = %q", results[0].Text.Output)
	}
}

func TestExecuteQueryMetricVendorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "error"}`)
	}))
	defer srv.Close()

	m := managerAgainst(srv.URL)
	_, err := m.executeQueryMetric(context.Background(), source.TimeRange{GEQ: 0, LT: 3600},
		map[string]any{"query": "avg:x{*}"}, ddConnector())
	if err == nil || !strings.Contains(err.Error(), "status") {
		t.Fatalf("executeQueryMetric() error = %v, want status failure", err)
	}
}

func TestNewProcessorDefaultDomain(t *testing.T) {
	conn := &source.Connector{Name: "dd", Type: source.SourceDatadog, Keys: []source.ConnectorKey{
		{Type: source.KeyDatadogAPIKey, Value: "a"},
		{Type: source.KeyDatadogAppKey, Value: "b"},
	}}
	p, err := NewProcessor(conn)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	if p.apiDomain != "datadoghq.com" {
		t.Errorf("apiDomain = %q, want default", p.apiDomain)
	}
}
