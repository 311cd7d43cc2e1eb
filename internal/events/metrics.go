package events

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"metergate/internal/types"
)

// metricNamespace is the CloudWatch namespace for engine metrics.
const metricNamespace = "MeterGate"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// DecisionMetrics records authorization outcomes. Emission failures are
// logged and swallowed; metrics never affect the decision path.
type DecisionMetrics interface {
	RecordDecision(ctx context.Context, metric types.Metric, allowed bool, reason types.DenyReason)
	RecordCommitRetries(ctx context.Context, metric types.Metric, retries int)
}

// CloudWatchDecisionMetrics emits decision metrics to CloudWatch.
//
// Metrics emitted:
//   - AuthorizeDecision: Dims {Metric, Outcome} on every decision, where
//     Outcome is "allow" or the deny reason
//   - CommitRetries: Dims {Metric} when a commit needed optimistic retries
type CloudWatchDecisionMetrics struct {
	client CloudWatchClient
	logger *slog.Logger
}

var _ DecisionMetrics = (*CloudWatchDecisionMetrics)(nil)

// NewCloudWatchDecisionMetrics creates a recorder publishing to the MeterGate
// namespace.
func NewCloudWatchDecisionMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchDecisionMetrics {
	return &CloudWatchDecisionMetrics{client: client, logger: logger}
}

func (m *CloudWatchDecisionMetrics) RecordDecision(ctx context.Context, metric types.Metric, allowed bool, reason types.DenyReason) {
	outcome := "allow"
	if !allowed {
		outcome = string(reason)
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("AuthorizeDecision"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Metric"), Value: aws.String(string(metric))},
					{Name: aws.String("Outcome"), Value: aws.String(outcome)},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record decision metric",
			"error", err.Error(),
			"metric", string(metric),
			"outcome", outcome,
		)
	}
}

func (m *CloudWatchDecisionMetrics) RecordCommitRetries(ctx context.Context, metric types.Metric, retries int) {
	if retries == 0 {
		return
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("CommitRetries"),
				Value:      aws.Float64(float64(retries)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Metric"), Value: aws.String(string(metric))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record commit retry metric",
			"error", err.Error(),
			"metric", string(metric),
		)
	}
}

// NopDecisionMetrics discards all metrics. Used in local mode and tests.
type NopDecisionMetrics struct{}

var _ DecisionMetrics = NopDecisionMetrics{}

func (NopDecisionMetrics) RecordDecision(context.Context, types.Metric, bool, types.DenyReason) {}
func (NopDecisionMetrics) RecordCommitRetries(context.Context, types.Metric, int)               {}
