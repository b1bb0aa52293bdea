// Package metrics provides metrics integration for the job-queue worker.
package metrics

import (
	"context"
)

// NoopProvider is a no-operation metrics provider that does nothing.
// Used when metrics are disabled or as a fallback.
type NoopProvider struct{}

// NewNoopProvider creates a new no-operation metrics provider
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Ensure NoopProvider implements Provider interface
var _ Provider = (*NoopProvider)(nil)

// Name returns the provider name
func (n *NoopProvider) Name() string {
	return string(ProviderTypeNoop)
}

// Enabled returns false as this provider does nothing
func (n *NoopProvider) Enabled() bool {
	return false
}

// PutMetric does nothing
func (n *NoopProvider) PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error {
	return nil
}

// Increment does nothing
func (n *NoopProvider) Increment(ctx context.Context, name string, dimensions map[string]string) error {
	return nil
}

// RecordDuration does nothing
func (n *NoopProvider) RecordDuration(ctx context.Context, name string, duration float64, dimensions map[string]string) error {
	return nil
}

// IncJobsProcessed does nothing
func (n *NoopProvider) IncJobsProcessed(ctx context.Context, queue, jobType, status string) {}

// IncJobsSucceeded does nothing
func (n *NoopProvider) IncJobsSucceeded(ctx context.Context, queue, jobType string) {}

// IncJobsFailed does nothing
func (n *NoopProvider) IncJobsFailed(ctx context.Context, queue, jobType string) {}

// IncJobsPoisoned does nothing
func (n *NoopProvider) IncJobsPoisoned(ctx context.Context, queue string) {}

// IncVisibilityExtensions does nothing
func (n *NoopProvider) IncVisibilityExtensions(ctx context.Context, queue, jobType string) {}

// IncMessagesReleased does nothing
func (n *NoopProvider) IncMessagesReleased(ctx context.Context, queue string) {}

// IncJobsPublished does nothing
func (n *NoopProvider) IncJobsPublished(ctx context.Context, queue, jobType string) {}

// IncPublishErrors does nothing
func (n *NoopProvider) IncPublishErrors(ctx context.Context, queue, jobType string) {}

// ObserveProcessingDuration does nothing
func (n *NoopProvider) ObserveProcessingDuration(ctx context.Context, queue, jobType string, durationMs float64) {
}

// SetInFlight does nothing
func (n *NoopProvider) SetInFlight(ctx context.Context, queue string, count float64) {}

// SetQueueDepth does nothing
func (n *NoopProvider) SetQueueDepth(ctx context.Context, queue string, depth float64) {}
