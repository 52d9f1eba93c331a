package datadog

import (
	"context"
	"fmt"
	"strconv"

	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
)

const (
	// TaskServiceMetricExecution fetches a metric scoped to a service and
	// environment.
	TaskServiceMetricExecution = "service_metric_execution"
	// TaskQueryMetricExecution runs a raw Datadog metric query.
	TaskQueryMetricExecution = "query_metric_execution"
)

// Manager is the Datadog source manager.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	newProcessor func(conn *source.Connector) (*Processor, error)
}

// NewManager builds the Datadog manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{newProcessor: NewProcessor}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskServiceMetricExecution: {
			Executor:    m.executeServiceMetric,
			ResultType:  source.ResultTypeTimeseries,
			DisplayName: "Fetch a Datadog Metric by service",
			Category:    "Metrics",
			FormFields: []source.FormField{
				{KeyName: "service_name", DisplayName: "Service", Description: "Select Service", DataType: source.DataTypeString},
				{KeyName: "environment_name", DisplayName: "Environment", Description: "Select Environment", DataType: source.DataTypeString},
				{KeyName: "metric", DisplayName: "Metric", Description: "Select Metric", DataType: source.DataTypeString},
			},
		},
		TaskQueryMetricExecution: {
			Executor:    m.executeQueryMetric,
			ResultType:  source.ResultTypeTimeseries,
			DisplayName: "Run a raw Datadog metric query",
			Category:    "Metrics",
			FormFields: []source.FormField{
				{KeyName: "query", DisplayName: "Query", Description: `e.g. "avg:system.cpu.user{host:web-1}"`, DataType: source.DataTypeString},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceDatadog }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	processor, err := m.newProcessor(conn)
	if err != nil {
		return err
	}
	return processor.TestConnection(ctx)
}

func (m *Manager) executeServiceMetric(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceDatadog); err != nil {
		return nil, err
	}

	serviceName := source.StringParam(params, "service_name")
	envName := source.StringParam(params, "environment_name")
	metric := source.StringParam(params, "metric")
	query := fmt.Sprintf("avg:%s{service:%s,env:%s}", metric, serviceName, envName)

	return m.runMetricQuery(ctx, tr, params, conn, query, serviceName)
}

func (m *Manager) executeQueryMetric(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceDatadog); err != nil {
		return nil, err
	}

	query := source.StringParam(params, "query")
	return m.runMetricQuery(ctx, tr, params, conn, query, query)
}

// runMetricQuery fetches the base window then any comparison offsets; failed
// offsets are logged and skipped.
func (m *Manager) runMetricQuery(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector, query, metricName string) ([]source.TaskResult, error) {
	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	resp, err := processor.QueryMetrics(ctx, tr.GEQ, tr.LT, query)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceDatadog, Op: "query metrics", Err: err}
	}
	series := seriesFromQueryResponse(resp, 0)
	if len(series) == 0 {
		return []source.TaskResult{{
			Source: source.SourceDatadog,
			Type:   source.ResultTypeText,
			Text:   &source.TextResult{Output: fmt.Sprintf("No data returned from Datadog for metric query: %s", query)},
		}}, nil
	}

	for _, offset := range source.TimeseriesOffsets(params) {
		window := tr.Shift(offset)
		offsetResp, err := processor.QueryMetrics(ctx, window.GEQ, window.LT, query)
		if err != nil {
			logger.L().Warn("datadog offset query failed, skipping",
				"offset_seconds", offset, "query", query, "error", err)
			continue
		}
		series = append(series, seriesFromQueryResponse(offsetResp, offset)...)
	}

	return []source.TaskResult{{
		Source: source.SourceDatadog,
		Type:   source.ResultTypeTimeseries,
		Timeseries: &source.TimeseriesResult{
			MetricExpression: query,
			MetricName:       metricName,
			Series:           series,
		},
	}}, nil
}

// seriesFromQueryResponse shapes a v1 query response into labeled series.
// Pointlist timestamps are already epoch milliseconds; null points are
// dropped.
func seriesFromQueryResponse(resp *MetricQueryResponse, offsetSeconds int64) []source.LabeledSeries {
	series := make([]source.LabeledSeries, 0, len(resp.Series))
	for _, s := range resp.Series {
		labels := []source.Label{
			{Name: "resource_name", Value: s.Scope},
			{Name: "offset_seconds", Value: strconv.FormatInt(offsetSeconds, 10)},
		}
		unit := ""
		if len(s.Unit) > 0 && s.Unit[0] != nil {
			unit = s.Unit[0].Name
		}

		datapoints := make([]source.Datapoint, 0, len(s.Pointlist))
		for _, p := range s.Pointlist {
			if p[0] == nil || p[1] == nil {
				continue
			}
			datapoints = append(datapoints, source.Datapoint{
				TimestampMS: int64(*p[0]),
				Value:       *p[1],
			})
		}
		series = append(series, source.LabeledSeries{Labels: labels, Unit: unit, Datapoints: datapoints})
	}
	return series
}
