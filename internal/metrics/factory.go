// Package metrics provides metrics integration for the job-queue worker.
package metrics

import (
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// FactoryConfig holds configuration for creating metrics providers
type FactoryConfig struct {
	// CloudWatch configuration
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchClient    *cloudwatch.Client

	// Prometheus configuration
	PrometheusEnabled   bool
	PrometheusNamespace string
	PrometheusSubsystem string
	PrometheusRegistry  prometheus.Registerer

	// Logger
	Logger zerolog.Logger
}

// Factory creates metrics providers based on configuration
type Factory struct {
	config FactoryConfig
}

// NewFactory creates a new metrics factory
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{config: cfg}
}

// Create creates a metrics provider based on the factory configuration.
// If both CloudWatch and Prometheus are enabled, returns a CompositeProvider.
// If only one is enabled, returns that specific provider.
// If neither is enabled, returns a NoopProvider.
func (f *Factory) Create() Provider {
	var providers []Provider

	if f.config.CloudWatchEnabled && f.config.CloudWatchClient != nil {
		cwProvider := NewCloudWatchProvider(
			f.config.CloudWatchClient,
			CloudWatchConfig{
				Enabled:   true,
				Namespace: f.config.CloudWatchNamespace,
			},
			f.config.Logger,
		)
		providers = append(providers, cwProvider)
		f.config.Logger.Debug().Msg("CloudWatch metrics provider created")
	}

	if f.config.PrometheusEnabled {
		promProvider := NewPrometheusProvider(f.config.Logger, PrometheusConfig{
			Enabled:   true,
			Namespace: f.config.PrometheusNamespace,
			Subsystem: f.config.PrometheusSubsystem,
			Registry:  f.config.PrometheusRegistry,
		})
		if err := promProvider.Register(); err != nil {
			f.config.Logger.Warn().Err(err).Msg("Failed to register Prometheus metrics")
		}
		providers = append(providers, promProvider)
		f.config.Logger.Debug().Msg("Prometheus metrics provider created")
	}

	switch len(providers) {
	case 0:
		return NewNoopProvider()
	case 1:
		return providers[0]
	default:
		return NewCompositeProvider(providers...)
	}
}
