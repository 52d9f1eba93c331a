package cloudwatch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	awslogs "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logstypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
	"sourcebridge.dev/internal/timeseries"
)

const (
	// TaskMetricExecution fetches metric statistics as a timeseries.
	TaskMetricExecution = "metric_execution"
	// TaskFilterLogEvents fetches raw log events matching a filter.
	TaskFilterLogEvents = "filter_log_events"
	// TaskLogsInsightsQuery runs a Logs Insights query.
	TaskLogsInsightsQuery = "logs_insights_query"
)

// minPeriodSeconds is the smallest period CloudWatch accepts for standard
// resolution metrics.
const minPeriodSeconds = 60

// insightsQueryBudget caps the Logs Insights polling loop; the query is
// explicitly stopped once exceeded.
const insightsQueryBudget = 60 * time.Second

var validStatistics = map[string]cwtypes.Statistic{
	"Average":     cwtypes.StatisticAverage,
	"Sum":         cwtypes.StatisticSum,
	"SampleCount": cwtypes.StatisticSampleCount,
	"Maximum":     cwtypes.StatisticMaximum,
	"Minimum":     cwtypes.StatisticMinimum,
}

// Manager is the CloudWatch source manager.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	// newProcessor is swapped for a fake in tests.
	newProcessor func(ctx context.Context, conn *source.Connector, region string) (*Processor, error)
}

// NewManager builds the CloudWatch manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{newProcessor: NewProcessor}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskMetricExecution: {
			Executor:    m.executeMetricExecution,
			ResultType:  source.ResultTypeTimeseries,
			DisplayName: "Fetch a Metric from Cloudwatch",
			Category:    "Metrics",
			FormFields: []source.FormField{
				{KeyName: "namespace", DisplayName: "Namespace", Description: "Select Namespace", DataType: source.DataTypeString},
				{KeyName: "region", DisplayName: "Region", Description: "Select Region", DataType: source.DataTypeString},
				{KeyName: "dimensions", DisplayName: "Dimensions", Description: "Select Dimensions", Composite: []source.FormField{
					{KeyName: "name", DisplayName: "Dimension Name", DataType: source.DataTypeString},
					{KeyName: "value", DisplayName: "Dimension Value", DataType: source.DataTypeString},
				}},
				{KeyName: "metric_name", DisplayName: "Metric", Description: "Add Metric", DataType: source.DataTypeString},
				{KeyName: "statistic", DisplayName: "Metric Aggregation", DataType: source.DataTypeString,
					Default: "Average", Optional: true,
					ValidValues: []string{"Average", "Sum", "SampleCount", "Maximum", "Minimum"}},
				{KeyName: "period", DisplayName: "Period (seconds)", DataType: source.DataTypeLong, Optional: true},
			},
		},
		TaskFilterLogEvents: {
			Executor:    m.executeFilterLogEvents,
			ResultType:  source.ResultTypeLogs,
			DisplayName: "Fetch Logs from Cloudwatch",
			Category:    "Logs",
			FormFields: []source.FormField{
				{KeyName: "region", DisplayName: "Region", DataType: source.DataTypeString},
				{KeyName: "log_group_name", DisplayName: "Log Group", DataType: source.DataTypeString},
				{KeyName: "filter_query", DisplayName: "Filter Query", DataType: source.DataTypeString, Optional: true},
			},
		},
		TaskLogsInsightsQuery: {
			Executor:    m.executeLogsInsightsQuery,
			ResultType:  source.ResultTypeLogs,
			DisplayName: "Query Logs with Cloudwatch Logs Insights",
			Category:    "Logs",
			FormFields: []source.FormField{
				{KeyName: "region", DisplayName: "Region", DataType: source.DataTypeString},
				{KeyName: "log_group_name", DisplayName: "Log Group", DataType: source.DataTypeString},
				{KeyName: "query", DisplayName: "Query", DataType: source.DataTypeString},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceCloudwatch }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

// TestConnection verifies both the metrics and logs clients.
func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	processor, err := m.newProcessor(ctx, conn, "")
	if err != nil {
		return err
	}
	return processor.TestConnection(ctx)
}

func (m *Manager) executeMetricExecution(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceCloudwatch); err != nil {
		return nil, err
	}

	namespace := source.StringParam(params, "namespace")
	region := source.StringParam(params, "region")
	metricName := source.StringParam(params, "metric_name")
	statisticName := source.StringParamOr(params, "statistic", "Average")
	statistic, ok := validStatistics[statisticName]
	if !ok {
		statisticName = "Average"
		statistic = cwtypes.StatisticAverage
	}

	var dimensions []cwtypes.Dimension
	for _, d := range source.ObjectsParam(params, "dimensions") {
		dimensions = append(dimensions, cwtypes.Dimension{
			Name:  aws.String(source.StringParam(d, "name")),
			Value: aws.String(source.StringParam(d, "value")),
		})
	}

	period := timeseries.Step(tr.DurationSeconds(), source.Int64Param(params, "period"), minPeriodSeconds)

	processor, err := m.newProcessor(ctx, conn, region)
	if err != nil {
		return nil, err
	}

	fetch := func(window source.TimeRange) ([]cwtypes.Datapoint, error) {
		out, err := processor.Metrics.GetMetricStatistics(ctx, &awscw.GetMetricStatisticsInput{
			Namespace:  aws.String(namespace),
			MetricName: aws.String(metricName),
			StartTime:  aws.Time(time.Unix(window.GEQ, 0).UTC()),
			EndTime:    aws.Time(time.Unix(window.LT, 0).UTC()),
			Period:     aws.Int32(int32(period)),
			Statistics: []cwtypes.Statistic{statistic},
			Dimensions: dimensions,
		})
		if err != nil {
			return nil, &source.VendorAPIError{Source: source.SourceCloudwatch, Op: "get metric statistics", Err: err}
		}
		return out.Datapoints, nil
	}

	// Base window first; offsets are additional comparison windows.
	basePoints, err := fetch(tr)
	if err != nil {
		return nil, err
	}
	if len(basePoints) == 0 {
		return nil, fmt.Errorf("no data returned from cloudwatch for current time range")
	}

	unit := string(basePoints[0].Unit)
	series := []source.LabeledSeries{
		labeledSeries(namespace, statisticName, 0, unit, basePoints, statisticName),
	}

	for _, offset := range source.TimeseriesOffsets(params) {
		points, err := fetch(tr.Shift(offset))
		if err != nil || len(points) == 0 {
			logger.L().Warn("no data returned from cloudwatch for offset",
				"offset_seconds", offset, "metric", metricName, "error", err)
			continue
		}
		series = append(series, labeledSeries(namespace, statisticName, offset, unit, points, statisticName))
	}

	var meta strings.Builder
	fmt.Fprintf(&meta, "%s for region %s ", namespace, region)
	for _, d := range dimensions {
		fmt.Fprintf(&meta, "%s:%s,  ", aws.ToString(d.Name), aws.ToString(d.Value))
	}

	return []source.TaskResult{{
		Source: source.SourceCloudwatch,
		Type:   source.ResultTypeTimeseries,
		Timeseries: &source.TimeseriesResult{
			MetricExpression: metricName,
			MetricName:       meta.String(),
			Series:           series,
		},
	}}, nil
}

// labeledSeries shapes one GetMetricStatistics response into a labeled
// series, sorted by timestamp (AWS returns datapoints unordered).
func labeledSeries(namespace, statistic string, offsetSeconds int64, unit string, points []cwtypes.Datapoint, statName string) source.LabeledSeries {
	datapoints := make([]source.Datapoint, 0, len(points))
	for _, p := range points {
		datapoints = append(datapoints, source.Datapoint{
			TimestampMS: aws.ToTime(p.Timestamp).UnixMilli(),
			Value:       statisticValue(p, statName),
		})
	}
	sort.Slice(datapoints, func(i, j int) bool { return datapoints[i].TimestampMS < datapoints[j].TimestampMS })

	return source.LabeledSeries{
		Labels: []source.Label{
			{Name: "namespace", Value: namespace},
			{Name: "statistic", Value: statistic},
			{Name: "offset_seconds", Value: strconv.FormatInt(offsetSeconds, 10)},
		},
		Unit:       unit,
		Datapoints: datapoints,
	}
}

func statisticValue(p cwtypes.Datapoint, statistic string) float64 {
	switch statistic {
	case "Sum":
		return aws.ToFloat64(p.Sum)
	case "SampleCount":
		return aws.ToFloat64(p.SampleCount)
	case "Maximum":
		return aws.ToFloat64(p.Maximum)
	case "Minimum":
		return aws.ToFloat64(p.Minimum)
	default:
		return aws.ToFloat64(p.Average)
	}
}

func (m *Manager) executeFilterLogEvents(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceCloudwatch); err != nil {
		return nil, err
	}

	region := source.StringParam(params, "region")
	logGroup := source.StringParam(params, "log_group_name")
	filterQuery := source.StringParam(params, "filter_query")

	processor, err := m.newProcessor(ctx, conn, region)
	if err != nil {
		return nil, err
	}

	input := &awslogs.FilterLogEventsInput{
		LogGroupName: aws.String(logGroup),
		StartTime:    aws.Int64(tr.GEQ * 1000),
		EndTime:      aws.Int64(tr.LT * 1000),
	}
	if filterQuery != "" {
		input.FilterPattern = aws.String(filterQuery)
	}

	var rows []source.TableRow
	for {
		out, err := processor.Logs.FilterLogEvents(ctx, input)
		if err != nil {
			return nil, &source.VendorAPIError{Source: source.SourceCloudwatch, Op: "filter log events", Err: err}
		}
		for _, event := range out.Events {
			rows = append(rows, source.TableRow{Columns: []source.TableColumn{
				{Name: "timestamp", Value: strconv.FormatInt(aws.ToInt64(event.Timestamp), 10)},
				{Name: "log_stream", Value: aws.ToString(event.LogStreamName)},
				{Name: "message", Value: aws.ToString(event.Message)},
			}})
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	return []source.TaskResult{{
		Source: source.SourceCloudwatch,
		Type:   source.ResultTypeLogs,
		Logs: &source.TableResult{
			RawQuery:   fmt.Sprintf("Execute ```%s``` on log group %s in region %s", filterQuery, logGroup, region),
			Rows:       rows,
			TotalCount: uint64(len(rows)),
		},
	}}, nil
}

func (m *Manager) executeLogsInsightsQuery(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceCloudwatch); err != nil {
		return nil, err
	}

	region := source.StringParam(params, "region")
	logGroup := source.StringParam(params, "log_group_name")
	query := source.StringParam(params, "query")

	processor, err := m.newProcessor(ctx, conn, region)
	if err != nil {
		return nil, err
	}

	started, err := processor.Logs.StartQuery(ctx, &awslogs.StartQueryInput{
		LogGroupName: aws.String(logGroup),
		QueryString:  aws.String(query),
		StartTime:    aws.Int64(tr.GEQ),
		EndTime:      aws.Int64(tr.LT),
	})
	if err != nil {
		return nil, &source.VendorAPIError{Source: source.SourceCloudwatch, Op: "start insights query", Err: err}
	}
	queryID := started.QueryId

	deadline := time.Now().Add(insightsQueryBudget)
	for {
		out, err := processor.Logs.GetQueryResults(ctx, &awslogs.GetQueryResultsInput{QueryId: queryID})
		if err != nil {
			return nil, &source.VendorAPIError{Source: source.SourceCloudwatch, Op: "get insights query results", Err: err}
		}

		switch out.Status {
		case logstypes.QueryStatusComplete:
			return []source.TaskResult{{
				Source: source.SourceCloudwatch,
				Type:   source.ResultTypeLogs,
				Logs:   insightsTable(query, logGroup, region, out.Results),
			}}, nil
		case logstypes.QueryStatusFailed, logstypes.QueryStatusCancelled, logstypes.QueryStatusTimeout:
			return nil, fmt.Errorf("insights query ended with status %s", out.Status)
		}

		if time.Now().After(deadline) {
			// The query keeps consuming quota server-side; stop it explicitly.
			if _, stopErr := processor.Logs.StopQuery(ctx, &awslogs.StopQueryInput{QueryId: queryID}); stopErr != nil {
				logger.L().Warn("failed to stop insights query", "query_id", aws.ToString(queryID), "error", stopErr)
			}
			return nil, fmt.Errorf("insights query exceeded %s budget and was stopped", insightsQueryBudget)
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func insightsTable(query, logGroup, region string, results [][]logstypes.ResultField) *source.TableResult {
	rows := make([]source.TableRow, 0, len(results))
	for _, fields := range results {
		columns := make([]source.TableColumn, 0, len(fields))
		for _, f := range fields {
			columns = append(columns, source.TableColumn{
				Name:  aws.ToString(f.Field),
				Value: aws.ToString(f.Value),
			})
		}
		rows = append(rows, source.TableRow{Columns: columns})
	}
	return &source.TableResult{
		RawQuery:   fmt.Sprintf("Execute ```%s``` on log group %s in region %s", query, logGroup, region),
		Rows:       rows,
		TotalCount: uint64(len(rows)),
	}
}
