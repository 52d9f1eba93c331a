package grafana

import (
	"context"
	"fmt"

	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
	"sourcebridge.dev/internal/timeseries"
)

const (
	// TaskPrometheusDatasourceMetricExecution runs a PromQL query against
	// one of the instance's Prometheus datasources.
	TaskPrometheusDatasourceMetricExecution = "prometheus_datasource_metric_execution"
	// TaskExecuteAllDashboardPanels queries every panel of a dashboard.
	TaskExecuteAllDashboardPanels = "execute_all_dashboard_panels"
)

// maxDataPoints bounds the datapoint count per panel query, matching the
// Grafana UI default neighborhood.
const maxDataPoints = 70

// Manager is the Grafana source manager.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	newProcessor func(conn *source.Connector) (*Processor, error)
}

// NewManager builds the Grafana manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{newProcessor: NewProcessor}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskPrometheusDatasourceMetricExecution: {
			Executor:    m.executePrometheusQuery,
			ResultType:  source.ResultTypeTimeseries,
			DisplayName: "Query any of your Prometheus Data Sources from Grafana",
			Category:    "Metrics",
			FormFields: []source.FormField{
				{KeyName: "datasource_uid", DisplayName: "Data Source UID", DataType: source.DataTypeString},
				{KeyName: "promql_expression", DisplayName: "PromQL Expression", DataType: source.DataTypeString},
				{KeyName: "step", DisplayName: "Step (seconds)", DataType: source.DataTypeLong, Optional: true},
			},
		},
		TaskExecuteAllDashboardPanels: {
			Executor:    m.executeAllDashboardPanels,
			ResultType:  source.ResultTypeTimeseries,
			DisplayName: "Query all panels of a Grafana dashboard",
			Category:    "Dashboards",
			FormFields: []source.FormField{
				{KeyName: "dashboard_uid", DisplayName: "Dashboard UID", DataType: source.DataTypeString},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceGrafana }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	processor, err := m.newProcessor(conn)
	if err != nil {
		return err
	}
	return processor.TestConnection(ctx)
}

func (m *Manager) executePrometheusQuery(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceGrafana); err != nil {
		return nil, err
	}

	datasourceUID := source.StringParam(params, "datasource_uid")
	query := source.StringParam(params, "promql_expression")
	step := timeseries.Step(tr.DurationSeconds(), source.Int64Param(params, "step"), timeseries.MinBucketSeconds)

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	// Base window first, then comparison offsets; one failed offset never
	// aborts the rest.
	resp, err := processor.QueryRange(ctx, datasourceUID, query, tr.GEQ, tr.LT, step)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceGrafana, Op: "query range", Err: err}
	}
	series := seriesFromRangeResponse(resp, 0)

	for _, offset := range source.TimeseriesOffsets(params) {
		window := tr.Shift(offset)
		offsetResp, err := processor.QueryRange(ctx, datasourceUID, query, window.GEQ, window.LT, step)
		if err != nil {
			logger.L().Warn("grafana offset query failed, skipping",
				"offset_seconds", offset, "query", query, "error", err)
			continue
		}
		series = append(series, seriesFromRangeResponse(offsetResp, offset)...)
	}

	return []source.TaskResult{{
		Source: source.SourceGrafana,
		Type:   source.ResultTypeTimeseries,
		Timeseries: &source.TimeseriesResult{
			MetricExpression: query,
			MetricName:       query,
			Series:           series,
		},
	}}, nil
}

// executeAllDashboardPanels fans out one query per panel target. Per-panel
// failures are logged and skipped; the task only fails when the dashboard
// itself cannot be fetched.
func (m *Manager) executeAllDashboardPanels(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceGrafana); err != nil {
		return nil, err
	}

	dashboardUID := source.StringParam(params, "dashboard_uid")

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	dashboard, err := processor.FetchDashboard(ctx, dashboardUID)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceGrafana, Op: "fetch dashboard", Err: err}
	}

	step := timeseries.BucketSizeWithMax(tr.DurationSeconds(), maxDataPoints)

	var results []source.TaskResult
	for _, panel := range dashboard.Dashboard.Panels {
		for _, target := range panel.Targets {
			if target.Expr == "" {
				continue
			}
			resp, err := processor.QueryRange(ctx, panel.Datasource.UID, target.Expr, tr.GEQ, tr.LT, step)
			if err != nil {
				logger.L().Warn("grafana panel query failed, skipping",
					"dashboard_uid", dashboardUID, "panel", panel.Title, "error", err)
				continue
			}
			results = append(results, source.TaskResult{
				Source: source.SourceGrafana,
				Type:   source.ResultTypeTimeseries,
				Timeseries: &source.TimeseriesResult{
					MetricExpression: target.Expr,
					MetricName:       fmt.Sprintf("%s :: %s", dashboard.Dashboard.Title, panel.Title),
					Series:           seriesFromRangeResponse(resp, 0),
				},
			})
		}
	}

	if len(results) == 0 {
		return []source.TaskResult{{
			Source: source.SourceGrafana,
			Type:   source.ResultTypeText,
			Text:   &source.TextResult{Output: fmt.Sprintf("no panel data returned for dashboard %s", dashboardUID)},
		}}, nil
	}
	return results, nil
}
