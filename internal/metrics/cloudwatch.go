// Package metrics provides metrics integration for the job-queue worker.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

// CloudWatchProvider handles sending metrics to AWS CloudWatch
type CloudWatchProvider struct {
	client    *cloudwatch.Client
	namespace string
	logger    zerolog.Logger
	enabled   bool
}

// CloudWatchConfig holds configuration for the CloudWatch provider
type CloudWatchConfig struct {
	Enabled   bool
	Namespace string
}

// NewCloudWatchProvider creates a new CloudWatch metrics provider
func NewCloudWatchProvider(client *cloudwatch.Client, cfg CloudWatchConfig, logger zerolog.Logger) *CloudWatchProvider {
	if cfg.Namespace == "" {
		cfg.Namespace = "Grapevine/Worker"
	}
	return &CloudWatchProvider{
		client:    client,
		namespace: cfg.Namespace,
		logger:    logger,
		enabled:   cfg.Enabled,
	}
}

// Ensure CloudWatchProvider implements Provider interface
var _ Provider = (*CloudWatchProvider)(nil)

// Name returns the provider name
func (s *CloudWatchProvider) Name() string {
	return string(ProviderTypeCloudWatch)
}

// Enabled returns whether CloudWatch metrics are enabled
func (s *CloudWatchProvider) Enabled() bool {
	return s.enabled
}

// PutMetric sends a single metric to CloudWatch
func (s *CloudWatchProvider) PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error {
	if !s.enabled {
		return nil
	}

	metric := s.createMetricDatum(name, value, unit, dimensions)

	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.namespace),
		MetricData: []types.MetricDatum{metric},
	})
	if err != nil {
		s.logger.Warn().
			Str("metric", name).
			Err(err).
			Msg("Failed to put CloudWatch metric")
		return err
	}

	s.logger.Debug().
		Str("metric", name).
		Float64("value", value).
		Msg("Put CloudWatch metric")
	return nil
}

// Increment increments a counter metric
func (s *CloudWatchProvider) Increment(ctx context.Context, name string, dimensions map[string]string) error {
	return s.PutMetric(ctx, name, 1.0, "Count", dimensions)
}

// RecordDuration records a duration metric in milliseconds
func (s *CloudWatchProvider) RecordDuration(ctx context.Context, name string, duration float64, dimensions map[string]string) error {
	return s.PutMetric(ctx, name, duration, "Milliseconds", dimensions)
}

// IncJobsProcessed increments the jobs processed counter
func (s *CloudWatchProvider) IncJobsProcessed(ctx context.Context, queue, jobType, status string) {
	s.Increment(ctx, MetricJobsProcessed, map[string]string{
		"queue":    queue,
		"job_type": jobType,
		"status":   status,
	})
}

// IncJobsSucceeded increments the success counter
func (s *CloudWatchProvider) IncJobsSucceeded(ctx context.Context, queue, jobType string) {
	s.Increment(ctx, MetricJobsSucceeded, map[string]string{
		"queue":    queue,
		"job_type": jobType,
	})
}

// IncJobsFailed increments the failure counter
func (s *CloudWatchProvider) IncJobsFailed(ctx context.Context, queue, jobType string) {
	s.Increment(ctx, MetricJobsFailed, map[string]string{
		"queue":    queue,
		"job_type": jobType,
	})
}

// IncJobsPoisoned increments the poison message counter
func (s *CloudWatchProvider) IncJobsPoisoned(ctx context.Context, queue string) {
	s.Increment(ctx, MetricJobsPoisoned, map[string]string{
		"queue": queue,
	})
}

// IncVisibilityExtensions increments the visibility extension counter
func (s *CloudWatchProvider) IncVisibilityExtensions(ctx context.Context, queue, jobType string) {
	s.Increment(ctx, MetricVisibilityExtensions, map[string]string{
		"queue":    queue,
		"job_type": jobType,
	})
}

// IncMessagesReleased increments the shutdown release counter
func (s *CloudWatchProvider) IncMessagesReleased(ctx context.Context, queue string) {
	s.Increment(ctx, MetricMessagesReleased, map[string]string{
		"queue": queue,
	})
}

// IncJobsPublished increments the publish counter
func (s *CloudWatchProvider) IncJobsPublished(ctx context.Context, queue, jobType string) {
	s.Increment(ctx, MetricJobsPublished, map[string]string{
		"queue":    queue,
		"job_type": jobType,
	})
}

// IncPublishErrors increments the publish error counter
func (s *CloudWatchProvider) IncPublishErrors(ctx context.Context, queue, jobType string) {
	s.Increment(ctx, MetricPublishErrors, map[string]string{
		"queue":    queue,
		"job_type": jobType,
	})
}

// ObserveProcessingDuration records a processing duration observation
func (s *CloudWatchProvider) ObserveProcessingDuration(ctx context.Context, queue, jobType string, durationMs float64) {
	s.RecordDuration(ctx, MetricProcessingTime, durationMs, map[string]string{
		"queue":    queue,
		"job_type": jobType,
	})
}

// SetInFlight sets the in-flight gauge
func (s *CloudWatchProvider) SetInFlight(ctx context.Context, queue string, count float64) {
	s.PutMetric(ctx, MetricInFlight, count, "Count", map[string]string{
		"queue": queue,
	})
}

// SetQueueDepth sets the queue depth gauge
func (s *CloudWatchProvider) SetQueueDepth(ctx context.Context, queue string, depth float64) {
	s.PutMetric(ctx, MetricQueueDepth, depth, "Count", map[string]string{
		"queue": queue,
	})
}

func (s *CloudWatchProvider) createMetricDatum(name string, value float64, unit string, dimensions map[string]string) types.MetricDatum {
	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		if v == "" {
			continue
		}
		dims = append(dims, types.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	return types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       types.StandardUnit(unit),
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dims,
	}
}
