// Package metrics provides metrics integration for the job-queue worker.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// CompositeProvider aggregates multiple metrics providers and delegates calls to all of them.
// This allows sending metrics to multiple backends simultaneously (e.g., CloudWatch and Prometheus).
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider creates a new composite provider with the given providers.
// Only enabled providers are included.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	enabledProviders := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil && p.Enabled() {
			enabledProviders = append(enabledProviders, p)
		}
	}
	return &CompositeProvider{
		providers: enabledProviders,
	}
}

// Ensure CompositeProvider implements Provider, HTTPProvider, and CollectorProvider interfaces
var _ Provider = (*CompositeProvider)(nil)
var _ HTTPProvider = (*CompositeProvider)(nil)
var _ CollectorProvider = (*CompositeProvider)(nil)

// Name returns the provider name
func (c *CompositeProvider) Name() string {
	return string(ProviderTypeComposite)
}

// Enabled returns true if at least one provider is enabled
func (c *CompositeProvider) Enabled() bool {
	return len(c.providers) > 0
}

// PutMetric sends a metric to all providers
func (c *CompositeProvider) PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.PutMetric(ctx, name, value, unit, dimensions); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Increment increments a counter on all providers
func (c *CompositeProvider) Increment(ctx context.Context, name string, dimensions map[string]string) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Increment(ctx, name, dimensions); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// RecordDuration records a duration on all providers
func (c *CompositeProvider) RecordDuration(ctx context.Context, name string, duration float64, dimensions map[string]string) error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.RecordDuration(ctx, name, duration, dimensions); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// IncJobsProcessed increments on all providers
func (c *CompositeProvider) IncJobsProcessed(ctx context.Context, queue, jobType, status string) {
	for _, p := range c.providers {
		p.IncJobsProcessed(ctx, queue, jobType, status)
	}
}

// IncJobsSucceeded increments on all providers
func (c *CompositeProvider) IncJobsSucceeded(ctx context.Context, queue, jobType string) {
	for _, p := range c.providers {
		p.IncJobsSucceeded(ctx, queue, jobType)
	}
}

// IncJobsFailed increments on all providers
func (c *CompositeProvider) IncJobsFailed(ctx context.Context, queue, jobType string) {
	for _, p := range c.providers {
		p.IncJobsFailed(ctx, queue, jobType)
	}
}

// IncJobsPoisoned increments on all providers
func (c *CompositeProvider) IncJobsPoisoned(ctx context.Context, queue string) {
	for _, p := range c.providers {
		p.IncJobsPoisoned(ctx, queue)
	}
}

// IncVisibilityExtensions increments on all providers
func (c *CompositeProvider) IncVisibilityExtensions(ctx context.Context, queue, jobType string) {
	for _, p := range c.providers {
		p.IncVisibilityExtensions(ctx, queue, jobType)
	}
}

// IncMessagesReleased increments on all providers
func (c *CompositeProvider) IncMessagesReleased(ctx context.Context, queue string) {
	for _, p := range c.providers {
		p.IncMessagesReleased(ctx, queue)
	}
}

// IncJobsPublished increments on all providers
func (c *CompositeProvider) IncJobsPublished(ctx context.Context, queue, jobType string) {
	for _, p := range c.providers {
		p.IncJobsPublished(ctx, queue, jobType)
	}
}

// IncPublishErrors increments on all providers
func (c *CompositeProvider) IncPublishErrors(ctx context.Context, queue, jobType string) {
	for _, p := range c.providers {
		p.IncPublishErrors(ctx, queue, jobType)
	}
}

// ObserveProcessingDuration records on all providers
func (c *CompositeProvider) ObserveProcessingDuration(ctx context.Context, queue, jobType string, durationMs float64) {
	for _, p := range c.providers {
		p.ObserveProcessingDuration(ctx, queue, jobType, durationMs)
	}
}

// SetInFlight sets the gauge on all providers
func (c *CompositeProvider) SetInFlight(ctx context.Context, queue string, count float64) {
	for _, p := range c.providers {
		p.SetInFlight(ctx, queue, count)
	}
}

// SetQueueDepth sets the gauge on all providers
func (c *CompositeProvider) SetQueueDepth(ctx context.Context, queue string, depth float64) {
	for _, p := range c.providers {
		p.SetQueueDepth(ctx, queue, depth)
	}
}

// Handler returns the HTTP handler of the first HTTP-capable provider
func (c *CompositeProvider) Handler() http.Handler {
	for _, p := range c.providers {
		if hp, ok := p.(HTTPProvider); ok {
			return hp.Handler()
		}
	}
	return nil
}

// HandlerFunc returns the HTTP handler func of the first HTTP-capable provider
func (c *CompositeProvider) HandlerFunc() http.HandlerFunc {
	if h := c.Handler(); h != nil {
		return h.ServeHTTP
	}
	return nil
}

// Collectors returns the collectors of every collector-capable provider
func (c *CompositeProvider) Collectors() []prometheus.Collector {
	var collectors []prometheus.Collector
	for _, p := range c.providers {
		if cp, ok := p.(CollectorProvider); ok {
			collectors = append(collectors, cp.Collectors()...)
		}
	}
	return collectors
}

// Register registers every collector-capable provider
func (c *CompositeProvider) Register() error {
	var lastErr error
	for _, p := range c.providers {
		if cp, ok := p.(CollectorProvider); ok {
			if err := cp.Register(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
