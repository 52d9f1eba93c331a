package newrelic

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
	"sourcebridge.dev/internal/timeseries"
)

const (
	// TaskGoldenMetricExecution fetches one of an APM entity's golden
	// metrics by its stored NRQL expression.
	TaskGoldenMetricExecution = "entity_application_golden_metric_execution"
	// TaskNRQLMetricExecution runs a custom NRQL query.
	TaskNRQLMetricExecution = "nrql_metric_execution"
)

var (
	aliasPattern       = regexp.MustCompile(`(?i)AS\s+'(.*?)'|AS\s+(\w+)`)
	limitMaxPattern    = regexp.MustCompile(`(?i)limit max timeseries`)
	sinceClausePattern = regexp.MustCompile(`(?i)SINCE\s+\d+\s+UNTIL\s+\d+`)
)

// resultAlias extracts the SELECT alias an NRQL expression reports its
// values under, defaulting to "result".
func resultAlias(nrql string) string {
	m := aliasPattern.FindStringSubmatch(nrql)
	if m == nil {
		return "result"
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// prepareNRQL normalizes an expression for one query window: the TIMESERIES
// bucket follows the window length and a missing time clause gets an epoch
// millisecond SINCE..UNTIL appended.
func prepareNRQL(nrql string, window source.TimeRange) (string, error) {
	lowered := strings.ToLower(nrql)
	if !strings.Contains(lowered, "timeseries") {
		return "", source.NewConfigurationError("invalid NRQL expression, TIMESERIES clause is missing: %s", nrql)
	}

	bucket := timeseries.BucketSize(window.DurationSeconds())
	nrql = limitMaxPattern.ReplaceAllString(nrql, fmt.Sprintf("TIMESERIES %d SECONDS", bucket))

	timeClause := fmt.Sprintf("SINCE %d UNTIL %d", window.GEQ*1000, window.LT*1000)
	switch {
	case sinceClausePattern.MatchString(nrql):
		nrql = sinceClausePattern.ReplaceAllString(nrql, timeClause)
	case !strings.Contains(strings.ToLower(nrql), "since"):
		nrql = nrql + " " + timeClause
	}
	return nrql, nil
}

// Manager is the New Relic source manager.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	newProcessor func(conn *source.Connector) (*Processor, error)
}

// NewManager builds the New Relic manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{newProcessor: NewProcessor}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskGoldenMetricExecution: {
			Executor:    m.executeGoldenMetric,
			ResultType:  source.ResultTypeTimeseries,
			DisplayName: "Fetch a New Relic golden metric",
			Category:    "Metrics",
			FormFields: []source.FormField{
				{KeyName: "application_entity_name", DisplayName: "Application", Description: "Select Application", DataType: source.DataTypeString},
				{KeyName: "golden_metric_name", DisplayName: "Metric", Description: "Select Metric", DataType: source.DataTypeString},
				{KeyName: "golden_metric_unit", DisplayName: "Unit", DataType: source.DataTypeString, Optional: true},
				{KeyName: "golden_metric_nrql_expression", DisplayName: "Selected Query", DataType: source.DataTypeString},
			},
		},
		TaskNRQLMetricExecution: {
			Executor:    m.executeNRQLMetric,
			ResultType:  source.ResultTypeTimeseries,
			DisplayName: "Fetch a custom NRQL query",
			Category:    "Metrics",
			FormFields: []source.FormField{
				{KeyName: "metric_name", DisplayName: "Metric Name", DataType: source.DataTypeString, Optional: true},
				{KeyName: "unit", DisplayName: "Unit", DataType: source.DataTypeString, Optional: true},
				{KeyName: "nrql_expression", DisplayName: "NRQL Expression", Description: "Must include a TIMESERIES clause", DataType: source.DataTypeString},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceNewRelic }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	processor, err := m.newProcessor(conn)
	if err != nil {
		return err
	}
	return processor.TestConnection(ctx)
}

func (m *Manager) executeGoldenMetric(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceNewRelic); err != nil {
		return nil, err
	}
	name := source.StringParam(params, "golden_metric_name")
	unit := source.StringParam(params, "golden_metric_unit")
	nrql := source.StringParam(params, "golden_metric_nrql_expression")
	return m.runNRQL(ctx, tr, params, conn, nrql, name, unit)
}

func (m *Manager) executeNRQLMetric(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceNewRelic); err != nil {
		return nil, err
	}
	nrql := source.StringParam(params, "nrql_expression")
	name := source.StringParamOr(params, "metric_name", nrql)
	unit := source.StringParam(params, "unit")
	return m.runNRQL(ctx, tr, params, conn, nrql, name, unit)
}

func (m *Manager) runNRQL(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector, nrql, metricName, unit string) ([]source.TaskResult, error) {
	prepared, err := prepareNRQL(nrql, tr)
	if err != nil {
		return nil, err
	}
	alias := resultAlias(nrql)

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	rows, err := processor.ExecuteNRQL(ctx, prepared)
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceNewRelic, Op: "execute nrql", Err: err}
	}
	series := []source.LabeledSeries{seriesFromRows(rows, alias, unit, 0)}

	for _, offset := range source.TimeseriesOffsets(params) {
		window := tr.Shift(offset)
		offsetNRQL, err := prepareNRQL(nrql, window)
		if err != nil {
			return nil, err
		}
		offsetRows, err := processor.ExecuteNRQL(ctx, offsetNRQL)
		if err != nil {
			logger.L().Warn("newrelic offset query failed, skipping",
				"offset_seconds", offset, "nrql", offsetNRQL, "error", err)
			continue
		}
		series = append(series, seriesFromRows(offsetRows, alias, unit, offset))
	}

	return []source.TaskResult{{
		Source: source.SourceNewRelic,
		Type:   source.ResultTypeTimeseries,
		Timeseries: &source.TimeseriesResult{
			MetricExpression: prepared,
			MetricName:       metricName,
			Series:           series,
		},
	}}, nil
}

// seriesFromRows shapes NRQL result rows into one labeled series. Each row
// carries beginTimeSeconds and the aliased value.
func seriesFromRows(rows []map[string]any, alias, unit string, offsetSeconds int64) source.LabeledSeries {
	datapoints := make([]source.Datapoint, 0, len(rows))
	for _, row := range rows {
		begin, ok := row["beginTimeSeconds"].(float64)
		if !ok {
			continue
		}
		value, ok := row[alias].(float64)
		if !ok {
			continue
		}
		datapoints = append(datapoints, source.Datapoint{
			TimestampMS: int64(begin) * 1000,
			Value:       value,
		})
	}
	return source.LabeledSeries{
		Labels: []source.Label{
			{Name: "offset_seconds", Value: strconv.FormatInt(offsetSeconds, 10)},
		},
		Unit:       unit,
		Datapoints: datapoints,
	}
}
