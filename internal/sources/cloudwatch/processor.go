// Package cloudwatch implements the CloudWatch source: metric statistics,
// log filtering, and Logs Insights queries over the AWS SDK.
package cloudwatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	awscw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awslogs "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"sourcebridge.dev/internal/credentials"
	"sourcebridge.dev/internal/source"
)

// MetricsAPI is the subset of the CloudWatch metrics client the processor
// uses; narrowed for testability.
type MetricsAPI interface {
	GetMetricStatistics(ctx context.Context, params *awscw.GetMetricStatisticsInput, optFns ...func(*awscw.Options)) (*awscw.GetMetricStatisticsOutput, error)
	ListMetrics(ctx context.Context, params *awscw.ListMetricsInput, optFns ...func(*awscw.Options)) (*awscw.ListMetricsOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client the processor uses.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, params *awslogs.FilterLogEventsInput, optFns ...func(*awslogs.Options)) (*awslogs.FilterLogEventsOutput, error)
	DescribeLogGroups(ctx context.Context, params *awslogs.DescribeLogGroupsInput, optFns ...func(*awslogs.Options)) (*awslogs.DescribeLogGroupsOutput, error)
	StartQuery(ctx context.Context, params *awslogs.StartQueryInput, optFns ...func(*awslogs.Options)) (*awslogs.StartQueryOutput, error)
	GetQueryResults(ctx context.Context, params *awslogs.GetQueryResultsInput, optFns ...func(*awslogs.Options)) (*awslogs.GetQueryResultsOutput, error)
	StopQuery(ctx context.Context, params *awslogs.StopQueryInput, optFns ...func(*awslogs.Options)) (*awslogs.StopQueryOutput, error)
}

// Processor wraps the AWS clients built from one connector's credentials.
type Processor struct {
	Metrics MetricsAPI
	Logs    LogsAPI
}

// NewProcessor builds AWS clients from connector credentials. The region
// argument overrides the connector's stored region when non-empty (tasks
// may target a different region than the credentials default). Supports
// static access keys or an assumed role ARN.
func NewProcessor(ctx context.Context, conn *source.Connector, region string) (*Processor, error) {
	creds := credentials.CredentialsDict(conn)
	if region == "" {
		region = creds["region"]
	}
	if region == "" {
		return nil, source.NewConfigurationError("connector %s: no AWS region configured", conn.Name)
	}

	var cfg aws.Config
	var err error
	if roleARN := creds["aws_assumed_role_arn"]; roleARN != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(
				awscredentials.NewStaticCredentialsProvider(creds["aws_access_key"], creds["aws_secret_key"], "")),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
	}

	return &Processor{
		Metrics: awscw.NewFromConfig(cfg),
		Logs:    awslogs.NewFromConfig(cfg),
	}, nil
}

// TestConnection verifies both the metrics and logs clients can reach AWS.
func (p *Processor) TestConnection(ctx context.Context) error {
	if _, err := p.Metrics.ListMetrics(ctx, &awscw.ListMetricsInput{}); err != nil {
		return fmt.Errorf("cloudwatch list metrics: %w", err)
	}
	limit := int32(1)
	if _, err := p.Logs.DescribeLogGroups(ctx, &awslogs.DescribeLogGroupsInput{Limit: &limit}); err != nil {
		return fmt.Errorf("cloudwatch describe log groups: %w", err)
	}
	return nil
}
