// Package metrics provides metrics integration for the job-queue worker.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names shared by all providers.
const (
	MetricJobsProcessed        = "JobsProcessed"
	MetricJobsSucceeded        = "JobsSucceeded"
	MetricJobsFailed           = "JobsFailed"
	MetricJobsPoisoned         = "JobsPoisoned"
	MetricVisibilityExtensions = "VisibilityExtensions"
	MetricMessagesReleased     = "MessagesReleased"
	MetricJobsPublished        = "JobsPublished"
	MetricPublishErrors        = "PublishErrors"
	MetricProcessingTime       = "ProcessingTime"
	MetricInFlight             = "InFlight"
	MetricQueueDepth           = "QueueDepth"
)

// Provider defines the unified interface for all metrics providers.
// Implementations include CloudWatch, Prometheus, Noop, and Composite providers.
type Provider interface {
	// Core metrics methods
	PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error
	Increment(ctx context.Context, name string, dimensions map[string]string) error
	RecordDuration(ctx context.Context, name string, duration float64, dimensions map[string]string) error

	// Convenience methods for common job outcomes
	IncJobsProcessed(ctx context.Context, queue, jobType, status string)
	IncJobsSucceeded(ctx context.Context, queue, jobType string)
	IncJobsFailed(ctx context.Context, queue, jobType string)
	IncJobsPoisoned(ctx context.Context, queue string)
	IncVisibilityExtensions(ctx context.Context, queue, jobType string)
	IncMessagesReleased(ctx context.Context, queue string)
	IncJobsPublished(ctx context.Context, queue, jobType string)
	IncPublishErrors(ctx context.Context, queue, jobType string)

	// Duration recording
	ObserveProcessingDuration(ctx context.Context, queue, jobType string, durationMs float64)

	// Gauge operations
	SetInFlight(ctx context.Context, queue string, count float64)
	SetQueueDepth(ctx context.Context, queue string, depth float64)

	// Provider info
	Name() string
	Enabled() bool
}

// HTTPProvider is an optional interface for providers that expose HTTP handlers (e.g., Prometheus)
type HTTPProvider interface {
	Provider
	Handler() http.Handler
	HandlerFunc() http.HandlerFunc
}

// CollectorProvider is an optional interface for providers that expose Prometheus collectors
type CollectorProvider interface {
	Provider
	Collectors() []prometheus.Collector
	Register() error
}

// ProviderType represents the type of metrics provider
type ProviderType string

const (
	ProviderTypeCloudWatch ProviderType = "cloudwatch"
	ProviderTypePrometheus ProviderType = "prometheus"
	ProviderTypeNoop       ProviderType = "noop"
	ProviderTypeComposite  ProviderType = "composite"
)
