package cloudwatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	awslogs "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logstypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"sourcebridge.dev/internal/source"
)

type fakeMetrics struct {
	// datapoints keyed by the request's start time (epoch seconds).
	byStart map[int64][]cwtypes.Datapoint
	err     error
	calls   []awscw.GetMetricStatisticsInput
}

func (f *fakeMetrics) GetMetricStatistics(ctx context.Context, params *awscw.GetMetricStatisticsInput, optFns ...func(*awscw.Options)) (*awscw.GetMetricStatisticsOutput, error) {
	f.calls = append(f.calls, *params)
	if f.err != nil {
		return nil, f.err
	}
	points := f.byStart[params.StartTime.Unix()]
	return &awscw.GetMetricStatisticsOutput{Datapoints: points}, nil
}

func (f *fakeMetrics) ListMetrics(ctx context.Context, params *awscw.ListMetricsInput, optFns ...func(*awscw.Options)) (*awscw.ListMetricsOutput, error) {
	return &awscw.ListMetricsOutput{}, nil
}

type fakeLogs struct {
	events *awslogs.FilterLogEventsOutput
	err    error
}

func (f *fakeLogs) FilterLogEvents(ctx context.Context, params *awslogs.FilterLogEventsInput, optFns ...func(*awslogs.Options)) (*awslogs.FilterLogEventsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeLogs) DescribeLogGroups(ctx context.Context, params *awslogs.DescribeLogGroupsInput, optFns ...func(*awslogs.Options)) (*awslogs.DescribeLogGroupsOutput, error) {
	return &awslogs.DescribeLogGroupsOutput{}, nil
}

func (f *fakeLogs) StartQuery(ctx context.Context, params *awslogs.StartQueryInput, optFns ...func(*awslogs.Options)) (*awslogs.StartQueryOutput, error) {
	return &awslogs.StartQueryOutput{QueryId: aws.String("q-1")}, nil
}

func (f *fakeLogs) GetQueryResults(ctx context.Context, params *awslogs.GetQueryResultsInput, optFns ...func(*awslogs.Options)) (*awslogs.GetQueryResultsOutput, error) {
	return &awslogs.GetQueryResultsOutput{}, nil
}

func (f *fakeLogs) StopQuery(ctx context.Context, params *awslogs.StopQueryInput, optFns ...func(*awslogs.Options)) (*awslogs.StopQueryOutput, error) {
	return &awslogs.StopQueryOutput{}, nil
}

func managerWith(metrics MetricsAPI, logs LogsAPI) *Manager {
	m := NewManager()
	m.newProcessor = func(ctx context.Context, conn *source.Connector, region string) (*Processor, error) {
		return &Processor{Metrics: metrics, Logs: logs}, nil
	}
	return m
}

func cwConnector() *source.Connector {
	return &source.Connector{Name: "aws", Type: source.SourceCloudwatch}
}

func point(ts int64, avg float64) cwtypes.Datapoint {
	return cwtypes.Datapoint{
		Timestamp: aws.Time(time.Unix(ts, 0).UTC()),
		Average:   aws.Float64(avg),
		Unit:      cwtypes.StandardUnitCount,
	}
}

func TestMetricExecutionWithOffset(t *testing.T) {
	tr := source.TimeRange{GEQ: 100000, LT: 100000 + 2*3600}
	offset := int64(86400)

	metrics := &fakeMetrics{byStart: map[int64][]cwtypes.Datapoint{
		tr.GEQ:          {point(tr.GEQ+120, 5), point(tr.GEQ+60, 3)},
		tr.GEQ - offset: {point(tr.GEQ-offset+60, 2)},
	}}
	m := managerWith(metrics, &fakeLogs{})

	params := map[string]any{
		"namespace":          "AWS/EC2",
		"region":             "us-east-1",
		"metric_name":        "CPUUtilization",
		"timeseries_offsets": []int64{offset},
	}
	results, err := m.executeMetricExecution(context.Background(), tr, params, cwConnector())
	if err != nil {
		t.Fatalf("executeMetricExecution() error = %v", err)
	}
	if len(results) != 1 || results[0].Type != source.ResultTypeTimeseries {
		t.Fatalf("results = %+v", results)
	}

	series := results[0].Timeseries.Series
	if len(series) != 2 {
		t.Fatalf("series = %d, want base plus offset", len(series))
	}
	if got := series[0].OffsetLabel(); got != "0" {
		t.Errorf("base offset label = %q, want 0", got)
	}
	if got := series[1].OffsetLabel(); got != "86400" {
		t.Errorf("comparison offset label = %q, want 86400", got)
	}

	// AWS returns datapoints unordered; the series must be sorted.
	base := series[0].Datapoints
	if len(base) != 2 || base[0].TimestampMS >= base[1].TimestampMS {
		t.Errorf("base datapoints not sorted: %+v", base)
	}
	if base[0].Value != 3 || base[1].Value != 5 {
		t.Errorf("base values = %+v", base)
	}

	// The offset request must actually shift the window.
	if len(metrics.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(metrics.calls))
	}
	if got := metrics.calls[1].StartTime.Unix(); got != tr.GEQ-offset {
		t.Errorf("offset call start = %d, want %d", got, tr.GEQ-offset)
	}
}

func TestMetricExecutionNoData(t *testing.T) {
	m := managerWith(&fakeMetrics{byStart: map[int64][]cwtypes.Datapoint{}}, &fakeLogs{})
	params := map[string]any{"namespace": "AWS/EC2", "region": "us-east-1", "metric_name": "CPUUtilization"}
	_, err := m.executeMetricExecution(context.Background(), source.TimeRange{GEQ: 0, LT: 3600}, params, cwConnector())
	if err == nil || !strings.Contains(err.Error(), "no data returned") {
		t.Fatalf("executeMetricExecution() error = %v, want no-data error", err)
	}
}

func TestMetricExecutionFailedOffsetSkipped(t *testing.T) {
	tr := source.TimeRange{GEQ: 100000, LT: 103600}
	metrics := &fakeMetrics{byStart: map[int64][]cwtypes.Datapoint{
		tr.GEQ: {point(tr.GEQ+60, 1)},
		// Offset window intentionally absent: the fake returns no points.
	}}
	m := managerWith(metrics, &fakeLogs{})

	params := map[string]any{
		"namespace": "AWS/EC2", "region": "us-east-1", "metric_name": "CPUUtilization",
		"timeseries_offsets": []int64{604800},
	}
	results, err := m.executeMetricExecution(context.Background(), tr, params, cwConnector())
	if err != nil {
		t.Fatalf("executeMetricExecution() error = %v", err)
	}
	if got := len(results[0].Timeseries.Series); got != 1 {
		t.Errorf("series = %d, want failed offset skipped", got)
	}
}

func TestMetricExecutionRequiresConnector(t *testing.T) {
	m := managerWith(&fakeMetrics{}, &fakeLogs{})
	_, err := m.executeMetricExecution(context.Background(), source.TimeRange{GEQ: 0, LT: 60},
		map[string]any{"namespace": "n", "region": "r", "metric_name": "m"}, nil)
	if err == nil {
		t.Fatal("executeMetricExecution(nil connector) = nil error")
	}
}

func TestFilterLogEvents(t *testing.T) {
	logs := &fakeLogs{events: &awslogs.FilterLogEventsOutput{
		Events: []logstypes.FilteredLogEvent{
			{Timestamp: aws.Int64(1700000000000), LogStreamName: aws.String("stream-a"), Message: aws.String("error: boom")},
		},
	}}
	m := managerWith(&fakeMetrics{}, logs)

	params := map[string]any{"region": "us-east-1", "log_group_name": "/app/prod", "filter_query": "error"}
	results, err := m.executeFilterLogEvents(context.Background(), source.TimeRange{GEQ: 0, LT: 3600}, params, cwConnector())
	if err != nil {
		t.Fatalf("executeFilterLogEvents() error = %v", err)
	}
	table := results[0].Logs
	if table.TotalCount != 1 || len(table.Rows) != 1 {
		t.Fatalf("table = %+v", table)
	}
	cols := table.Rows[0].Columns
	if cols[2].Name != "message" || cols[2].Value != "error: boom" {
		t.Errorf("columns = %+v", cols)
	}
	if !strings.Contains(table.RawQuery, "/app/prod") {
		t.Errorf("raw query = %q", table.RawQuery)
	}
}

func TestFilterLogEventsVendorError(t *testing.T) {
	m := managerWith(&fakeMetrics{}, &fakeLogs{err: errors.New("throttled")})
	params := map[string]any{"region": "us-east-1", "log_group_name": "/app/prod"}
	_, err := m.executeFilterLogEvents(context.Background(), source.TimeRange{GEQ: 0, LT: 3600}, params, cwConnector())
	var vendorErr *source.VendorAPIError
	if !errors.As(err, &vendorErr) {
		t.Fatalf("executeFilterLogEvents() error = %T, want VendorAPIError", err)
	}
}
