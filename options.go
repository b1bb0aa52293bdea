package grapevine

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/gathertown/grapevine/internal/metrics"
	"github.com/gathertown/grapevine/internal/storage"
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(logger zerolog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics sets the metrics provider. Defaults to a no-op provider.
func WithMetrics(provider metrics.Provider) ProcessorOption {
	return func(p *Processor) { p.metrics = provider }
}

// WithIdempotencyStore enables skipping messages already marked processed.
func WithIdempotencyStore(store *storage.IdempotencyStore) ProcessorOption {
	return func(p *Processor) { p.idempotency = store }
}

// WithMaxMessages sets the receive batch size. SQS caps this at 10.
func WithMaxMessages(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 10 {
			n = 10
		}
		if n > 0 {
			p.maxMessages = n
		}
	}
}

// WithWaitTime sets the long poll wait in seconds. SQS caps this at 20.
func WithWaitTime(seconds int) ProcessorOption {
	return func(p *Processor) {
		if seconds > 20 {
			seconds = 20
		}
		if seconds >= 0 {
			p.waitSeconds = seconds
		}
	}
}

// WithVisibilityTimeout sets the visibility timeout in seconds applied to
// received messages.
func WithVisibilityTimeout(seconds int) ProcessorOption {
	return func(p *Processor) {
		if seconds > 0 {
			p.visibilityTimeout = seconds
		}
	}
}

// WithPrefetch toggles the short poll issued after a successful delete.
func WithPrefetch(enabled bool) ProcessorOption {
	return func(p *Processor) { p.prefetchEnabled = enabled }
}

// WithPrefetchWait sets the short poll wait in seconds.
func WithPrefetchWait(seconds int) ProcessorOption {
	return func(p *Processor) {
		if seconds >= 0 {
			p.prefetchWait = seconds
		}
	}
}

// WithJitter sets the maximum random delay before each long poll.
// Zero disables the jitter.
func WithJitter(max time.Duration) ProcessorOption {
	return func(p *Processor) { p.jitterMax = max }
}

// WithReleaseTimeout bounds the time spent releasing in-flight messages
// during shutdown.
func WithReleaseTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.releaseTimeout = d
		}
	}
}

// WithRandSeed makes the jitter deterministic. Intended for tests.
func WithRandSeed(seed int64) ProcessorOption {
	return func(p *Processor) { p.rng = rand.New(rand.NewSource(seed)) }
}
