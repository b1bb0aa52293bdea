// Package metrics provides metrics integration for the job-queue worker.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PrometheusProvider handles exposing metrics to Prometheus
type PrometheusProvider struct {
	logger    zerolog.Logger
	namespace string
	subsystem string
	enabled   bool

	// Custom registry (if provided)
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	// Counters
	jobsProcessed        *prometheus.CounterVec
	jobsSucceeded        *prometheus.CounterVec
	jobsFailed           *prometheus.CounterVec
	jobsPoisoned         *prometheus.CounterVec
	visibilityExtensions *prometheus.CounterVec
	messagesReleased     *prometheus.CounterVec
	jobsPublished        *prometheus.CounterVec
	publishErrors        *prometheus.CounterVec

	// Gauges
	inFlight   *prometheus.GaugeVec
	queueDepth *prometheus.GaugeVec

	// Histograms
	processingDuration *prometheus.HistogramVec

	// Track if already registered
	registered bool
	mu         sync.Mutex
}

// PrometheusConfig holds configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool                  // Whether Prometheus metrics are enabled
	Namespace string                // Metric namespace (e.g., "grapevine")
	Subsystem string                // Metric subsystem (e.g., "worker")
	Registry  prometheus.Registerer // Custom registry (optional, defaults to prometheus.DefaultRegisterer)
}

// DefaultPrometheusConfig returns the default Prometheus configuration
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Enabled:   true,
		Namespace: "grapevine",
		Subsystem: "worker",
		Registry:  nil, // Will use default registerer
	}
}

// NewPrometheusProvider creates a new Prometheus metrics provider
func NewPrometheusProvider(logger zerolog.Logger, cfg PrometheusConfig) *PrometheusProvider {
	if cfg.Namespace == "" {
		cfg.Namespace = "grapevine"
	}

	s := &PrometheusProvider{
		logger:    logger,
		namespace: cfg.Namespace,
		subsystem: cfg.Subsystem,
		registry:  cfg.Registry,
		enabled:   cfg.Enabled,
	}

	// If a custom registry is provided, try to get the gatherer for it
	if cfg.Registry != nil {
		if reg, ok := cfg.Registry.(*prometheus.Registry); ok {
			s.gatherer = reg
		}
	}

	s.initMetrics()
	return s
}

// Ensure PrometheusProvider implements Provider, HTTPProvider, and CollectorProvider interfaces
var _ Provider = (*PrometheusProvider)(nil)
var _ HTTPProvider = (*PrometheusProvider)(nil)
var _ CollectorProvider = (*PrometheusProvider)(nil)

// Name returns the provider name
func (s *PrometheusProvider) Name() string {
	return string(ProviderTypePrometheus)
}

// Enabled returns whether Prometheus metrics are enabled
func (s *PrometheusProvider) Enabled() bool {
	return s.enabled
}

func (s *PrometheusProvider) initMetrics() {
	// Counters
	s.jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed",
		},
		[]string{"queue", "job_type", "status"},
	)

	s.jobsSucceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "jobs_succeeded_total",
			Help:      "Total number of jobs processed successfully",
		},
		[]string{"queue", "job_type"},
	)

	s.jobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that failed and were left for redelivery",
		},
		[]string{"queue", "job_type"},
	)

	s.jobsPoisoned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "jobs_poisoned_total",
			Help:      "Total number of unparseable messages deleted without dispatch",
		},
		[]string{"queue"},
	)

	s.visibilityExtensions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "visibility_extensions_total",
			Help:      "Total number of handler-requested visibility extensions",
		},
		[]string{"queue", "job_type"},
	)

	s.messagesReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "messages_released_total",
			Help:      "Total number of in-flight messages released back to the queue on shutdown",
		},
		[]string{"queue"},
	)

	s.jobsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "jobs_published_total",
			Help:      "Total number of jobs published",
		},
		[]string{"queue", "job_type"},
	)

	s.publishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "publish_errors_total",
			Help:      "Total number of publish failures",
		},
		[]string{"queue", "job_type"},
	)

	// Gauges
	s.inFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "in_flight_messages",
			Help:      "Number of messages currently tracked as in-flight",
		},
		[]string{"queue"},
	)

	s.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "queue_depth",
			Help:      "Approximate number of messages in the queue",
		},
		[]string{"queue"},
	)

	// Histograms
	s.processingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "processing_duration_milliseconds",
			Help:      "Job processing duration in milliseconds",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"queue", "job_type"},
	)
}

// Collectors returns all Prometheus collectors for registration
func (s *PrometheusProvider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.jobsProcessed,
		s.jobsSucceeded,
		s.jobsFailed,
		s.jobsPoisoned,
		s.visibilityExtensions,
		s.messagesReleased,
		s.jobsPublished,
		s.publishErrors,
		s.inFlight,
		s.queueDepth,
		s.processingDuration,
	}
}

// Register registers all collectors with the configured registry.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *PrometheusProvider) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}

	registry := s.registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	for _, c := range s.Collectors() {
		if err := registry.Register(c); err != nil {
			// Ignore duplicate registration errors
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	s.registered = true
	return nil
}

// Handler returns the HTTP handler for the metrics endpoint
func (s *PrometheusProvider) Handler() http.Handler {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// HandlerFunc returns the HTTP handler func for the metrics endpoint
func (s *PrometheusProvider) HandlerFunc() http.HandlerFunc {
	return s.Handler().ServeHTTP
}

// PutMetric is a generic entry point; Prometheus metrics are pre-declared,
// so unrecognized names are dropped.
func (s *PrometheusProvider) PutMetric(ctx context.Context, name string, value float64, unit string, dimensions map[string]string) error {
	if !s.enabled {
		return nil
	}

	switch name {
	case MetricInFlight:
		s.inFlight.WithLabelValues(dimensions["queue"]).Set(value)
	case MetricQueueDepth:
		s.queueDepth.WithLabelValues(dimensions["queue"]).Set(value)
	case MetricProcessingTime:
		s.processingDuration.WithLabelValues(dimensions["queue"], dimensions["job_type"]).Observe(value)
	default:
		s.logger.Debug().Str("metric", name).Msg("Dropping metric with no Prometheus collector")
	}
	return nil
}

// Increment increments a counter metric
func (s *PrometheusProvider) Increment(ctx context.Context, name string, dimensions map[string]string) error {
	if !s.enabled {
		return nil
	}

	queue := dimensions["queue"]
	jobType := dimensions["job_type"]

	switch name {
	case MetricJobsProcessed:
		s.jobsProcessed.WithLabelValues(queue, jobType, dimensions["status"]).Inc()
	case MetricJobsSucceeded:
		s.jobsSucceeded.WithLabelValues(queue, jobType).Inc()
	case MetricJobsFailed:
		s.jobsFailed.WithLabelValues(queue, jobType).Inc()
	case MetricJobsPoisoned:
		s.jobsPoisoned.WithLabelValues(queue).Inc()
	case MetricVisibilityExtensions:
		s.visibilityExtensions.WithLabelValues(queue, jobType).Inc()
	case MetricMessagesReleased:
		s.messagesReleased.WithLabelValues(queue).Inc()
	case MetricJobsPublished:
		s.jobsPublished.WithLabelValues(queue, jobType).Inc()
	case MetricPublishErrors:
		s.publishErrors.WithLabelValues(queue, jobType).Inc()
	default:
		s.logger.Debug().Str("metric", name).Msg("Dropping metric with no Prometheus collector")
	}
	return nil
}

// RecordDuration records a duration metric in milliseconds
func (s *PrometheusProvider) RecordDuration(ctx context.Context, name string, duration float64, dimensions map[string]string) error {
	return s.PutMetric(ctx, name, duration, "Milliseconds", dimensions)
}

// IncJobsProcessed increments the jobs processed counter
func (s *PrometheusProvider) IncJobsProcessed(ctx context.Context, queue, jobType, status string) {
	if !s.enabled {
		return
	}
	s.jobsProcessed.WithLabelValues(queue, jobType, status).Inc()
}

// IncJobsSucceeded increments the success counter
func (s *PrometheusProvider) IncJobsSucceeded(ctx context.Context, queue, jobType string) {
	if !s.enabled {
		return
	}
	s.jobsSucceeded.WithLabelValues(queue, jobType).Inc()
}

// IncJobsFailed increments the failure counter
func (s *PrometheusProvider) IncJobsFailed(ctx context.Context, queue, jobType string) {
	if !s.enabled {
		return
	}
	s.jobsFailed.WithLabelValues(queue, jobType).Inc()
}

// IncJobsPoisoned increments the poison message counter
func (s *PrometheusProvider) IncJobsPoisoned(ctx context.Context, queue string) {
	if !s.enabled {
		return
	}
	s.jobsPoisoned.WithLabelValues(queue).Inc()
}

// IncVisibilityExtensions increments the visibility extension counter
func (s *PrometheusProvider) IncVisibilityExtensions(ctx context.Context, queue, jobType string) {
	if !s.enabled {
		return
	}
	s.visibilityExtensions.WithLabelValues(queue, jobType).Inc()
}

// IncMessagesReleased increments the shutdown release counter
func (s *PrometheusProvider) IncMessagesReleased(ctx context.Context, queue string) {
	if !s.enabled {
		return
	}
	s.messagesReleased.WithLabelValues(queue).Inc()
}

// IncJobsPublished increments the publish counter
func (s *PrometheusProvider) IncJobsPublished(ctx context.Context, queue, jobType string) {
	if !s.enabled {
		return
	}
	s.jobsPublished.WithLabelValues(queue, jobType).Inc()
}

// IncPublishErrors increments the publish error counter
func (s *PrometheusProvider) IncPublishErrors(ctx context.Context, queue, jobType string) {
	if !s.enabled {
		return
	}
	s.publishErrors.WithLabelValues(queue, jobType).Inc()
}

// ObserveProcessingDuration records a processing duration observation
func (s *PrometheusProvider) ObserveProcessingDuration(ctx context.Context, queue, jobType string, durationMs float64) {
	if !s.enabled {
		return
	}
	s.processingDuration.WithLabelValues(queue, jobType).Observe(durationMs)
}

// SetInFlight sets the in-flight gauge
func (s *PrometheusProvider) SetInFlight(ctx context.Context, queue string, count float64) {
	if !s.enabled {
		return
	}
	s.inFlight.WithLabelValues(queue).Set(count)
}

// SetQueueDepth sets the queue depth gauge
func (s *PrometheusProvider) SetQueueDepth(ctx context.Context, queue string, depth float64) {
	if !s.enabled {
		return
	}
	s.queueDepth.WithLabelValues(queue).Set(depth)
}
