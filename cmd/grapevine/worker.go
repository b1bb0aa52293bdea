package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/gathertown/grapevine"
	"github.com/gathertown/grapevine/internal/metrics"
	"github.com/gathertown/grapevine/internal/storage"
	"github.com/gathertown/grapevine/pkg/job"
)

// newWorkerCmd creates the worker command
func newWorkerCmd() *cobra.Command {
	var maxMessages int
	var waitTime int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job queue worker",
		Long: `Polls the configured SQS FIFO queue and dispatches jobs to handlers.

The worker implements:
- Long polling with per-worker jitter
- Short poll pre-fetch after a successful delete for lane fairness
- Visibility extension for long-running jobs
- Release of in-flight messages on shutdown`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), maxMessages, waitTime)
		},
	}

	cmd.Flags().IntVarP(&maxMessages, "max", "m", 0, "Maximum messages to receive per poll (default from config)")
	cmd.Flags().IntVarP(&waitTime, "wait", "w", 0, "Long polling wait time in seconds (default from config)")

	return cmd
}

func runWorker(ctx context.Context, maxMessages, waitTime int) error {
	if maxMessages <= 0 {
		maxMessages = cfg.Queue.MaxMessages
	}
	if waitTime <= 0 {
		waitTime = cfg.Queue.LongPollingWait
	}

	logger.Info().
		Str("queue_arn", cfg.Queue.QueueARN).
		Int("max_messages", maxMessages).
		Int("wait_time", waitTime).
		Msg("Starting worker")

	client, err := createQueueClient(ctx)
	if err != nil {
		return err
	}

	provider, err := createMetricsProvider(ctx)
	if err != nil {
		return err
	}
	if cfg.Metrics.PrometheusEnabled {
		startMetricsServer(provider)
	}

	registry := grapevine.NewHandlerRegistry()
	registerHandlers(registry)

	opts := []grapevine.ProcessorOption{
		grapevine.WithLogger(logger),
		grapevine.WithMetrics(provider),
		grapevine.WithMaxMessages(maxMessages),
		grapevine.WithWaitTime(waitTime),
		grapevine.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
		grapevine.WithPrefetch(cfg.Processor.PrefetchEnabled),
		grapevine.WithPrefetchWait(cfg.Processor.PrefetchWait),
		grapevine.WithJitter(time.Duration(cfg.Processor.JitterMillis) * time.Millisecond),
	}

	if cfg.Processor.IdempotencyEnabled {
		redisClient, err := createRedisClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create Redis client: %w", err)
		}
		logger.Info().Msg("Redis connection verified")
		opts = append(opts, grapevine.WithIdempotencyStore(storage.NewIdempotencyStore(redisClient, logger)))
	}

	processor := grapevine.NewProcessor(client, registry, opts...)
	return processor.Start(ctx)
}

// registerHandlers installs the built-in handlers. Embedding services
// replace these with their own.
func registerHandlers(registry *grapevine.HandlerRegistry) {
	registry.Register(job.TypeControl, func(ctx context.Context, j *job.Job, meta grapevine.Metadata) error {
		logger.Info().
			Str("tenant_id", j.TenantID).
			Interface("payload", j.Payload).
			Msg("Control job received")
		return nil
	})
}

// startMetricsServer exposes the Prometheus scrape endpoint.
func startMetricsServer(provider metrics.Provider) {
	httpProvider, ok := provider.(metrics.HTTPProvider)
	if !ok {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", httpProvider.Handler())

	go func() {
		logger.Info().Str("addr", cfg.Metrics.PrometheusAddr).Msg("Metrics server listening")
		if err := http.ListenAndServe(cfg.Metrics.PrometheusAddr, mux); err != nil {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}
