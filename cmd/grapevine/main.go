// Package main provides the CLI entry point for the grapevine job worker
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gathertown/grapevine/internal/config"
)

var (
	cfg    *config.Config
	logger zerolog.Logger
)

func main() {
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Load configuration from .env file and environment variables
	cfg = config.Load()
	logger.Debug().
		Str("region", cfg.AWS.Region).
		Str("queue_arn", cfg.Queue.QueueARN).
		Msg("Configuration loaded")

	rootCmd := &cobra.Command{
		Use:   "grapevine",
		Short: "Grapevine job queue worker",
		Long: `Grapevine consumes jobs from an SQS FIFO queue, spreads them across
lanes for parallelism, and dispatches them to registered handlers.

Run "grapevine worker" under a process supervisor for production deployments.`,
	}

	rootCmd.AddCommand(
		newWorkerCmd(),
		newEnqueueCmd(),
		newStatusCmd(),
		newTestConnectionCmd(),
	)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Received shutdown signal")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
