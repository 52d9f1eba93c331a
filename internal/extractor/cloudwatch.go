package extractor

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awslogs "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"sourcebridge.dev/internal/source"
	"sourcebridge.dev/internal/sources/cloudwatch"
)

// CloudwatchExtractor collects metric namespaces and log groups.
type CloudwatchExtractor struct {
	newProcessor func(ctx context.Context, conn *source.Connector, region string) (*cloudwatch.Processor, error)
}

// NewCloudwatchExtractor builds the CloudWatch extractor.
func NewCloudwatchExtractor() *CloudwatchExtractor {
	return &CloudwatchExtractor{newProcessor: cloudwatch.NewProcessor}
}

func (e *CloudwatchExtractor) Source() source.Source { return source.SourceCloudwatch }

func (e *CloudwatchExtractor) Extractions(conn *source.Connector) ([]Extraction, error) {
	region := regionOf(conn)
	return []Extraction{
		{
			Name:      "metrics",
			ModelType: "cloudwatch_metric",
			Run: func(ctx context.Context) (map[string]any, error) {
				return e.extractMetrics(ctx, conn, region)
			},
		},
		{
			Name:      "log_groups",
			ModelType: "cloudwatch_log_group",
			Run: func(ctx context.Context) (map[string]any, error) {
				return e.extractLogGroups(ctx, conn, region)
			},
		},
	}, nil
}

// extractMetrics walks every metric and folds it into a
// namespace -> region -> metric -> dimension-values map.
func (e *CloudwatchExtractor) extractMetrics(ctx context.Context, conn *source.Connector, region string) (map[string]any, error) {
	processor, err := e.newProcessor(ctx, conn, region)
	if err != nil {
		return nil, err
	}

	type metricEntry struct {
		Dimensions     map[string][]string `json:"Dimensions"`
		DimensionNames []string            `json:"DimensionNames"`
	}
	namespaces := map[string]map[string]map[string]*metricEntry{}

	var nextToken *string
	for {
		page, err := processor.Metrics.ListMetrics(ctx, &awscw.ListMetricsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}
		for _, metric := range page.Metrics {
			ns := aws.ToString(metric.Namespace)
			name := aws.ToString(metric.MetricName)
			regions, ok := namespaces[ns]
			if !ok {
				regions = map[string]map[string]*metricEntry{}
				namespaces[ns] = regions
			}
			metrics, ok := regions[region]
			if !ok {
				metrics = map[string]*metricEntry{}
				regions[region] = metrics
			}
			entry, ok := metrics[name]
			if !ok {
				entry = &metricEntry{Dimensions: map[string][]string{}}
				metrics[name] = entry
			}
			for _, dim := range metric.Dimensions {
				dimName := aws.ToString(dim.Name)
				value := aws.ToString(dim.Value)
				if !containsString(entry.Dimensions[dimName], value) {
					entry.Dimensions[dimName] = append(entry.Dimensions[dimName], value)
				}
				if !containsString(entry.DimensionNames, dimName) {
					entry.DimensionNames = append(entry.DimensionNames, dimName)
				}
			}
		}
		nextToken = page.NextToken
		if nextToken == nil {
			break
		}
	}

	models := make(map[string]any, len(namespaces))
	for ns, regions := range namespaces {
		models[ns] = regions
	}
	return models, nil
}

func (e *CloudwatchExtractor) extractLogGroups(ctx context.Context, conn *source.Connector, region string) (map[string]any, error) {
	processor, err := e.newProcessor(ctx, conn, region)
	if err != nil {
		return nil, err
	}

	var groups []string
	var nextToken *string
	for {
		page, err := processor.Logs.DescribeLogGroups(ctx, &awslogs.DescribeLogGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}
		for _, g := range page.LogGroups {
			groups = append(groups, aws.ToString(g.LogGroupName))
		}
		nextToken = page.NextToken
		if nextToken == nil {
			break
		}
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return map[string]any{region: map[string]any{"log_groups": groups}}, nil
}

func regionOf(conn *source.Connector) string {
	for _, key := range conn.Keys {
		if key.Type == source.KeyAWSRegion {
			return key.Value
		}
	}
	return ""
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
