// Package grapevine implements an SQS FIFO backed job processor. Jobs are
// spread across lanes (message group ids) for parallelism where ordering does
// not matter and serialized where it does, handlers report their outcome
// through the returned error, and shutdown releases every in-flight message
// so another worker can pick it up immediately.
package grapevine

import (
	"context"
	"errors"
	"math/rand"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gathertown/grapevine/internal/metrics"
	"github.com/gathertown/grapevine/internal/storage"
	"github.com/gathertown/grapevine/pkg/job"
)

// QueueClient is the queue surface the processor consumes. Receive reports
// transport failures as an empty batch; Delete and ChangeVisibility report
// them as false. See internal/queueclient for the SQS implementation.
type QueueClient interface {
	Receive(ctx context.Context, maxMessages, waitSeconds, visibilityTimeout int) []Message
	Delete(ctx context.Context, receiptHandle string) bool
	ChangeVisibility(ctx context.Context, receiptHandle string, timeoutSeconds int) bool
	QueueName() string
}

// Processor polls a queue and dispatches parsed jobs to registered handlers.
type Processor struct {
	client      QueueClient
	registry    *HandlerRegistry
	logger      zerolog.Logger
	metrics     metrics.Provider
	idempotency *storage.IdempotencyStore
	inFlight    *inFlightSet
	rng         *rand.Rand

	maxMessages       int
	waitSeconds       int
	visibilityTimeout int
	prefetchEnabled   bool
	prefetchWait      int
	jitterMax         time.Duration
	releaseTimeout    time.Duration

	closed atomic.Bool
}

// NewProcessor creates a processor consuming from the given queue client.
func NewProcessor(client QueueClient, registry *HandlerRegistry, opts ...ProcessorOption) *Processor {
	p := &Processor{
		client:   client,
		registry: registry,
		logger:   zerolog.Nop(),
		metrics:  metrics.NewNoopProvider(),
		inFlight: newInFlightSet(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),

		maxMessages:       10,
		waitSeconds:       20,
		visibilityTimeout: 120,
		prefetchEnabled:   true,
		prefetchWait:      1,
		jitterMax:         150 * time.Millisecond,
		releaseTimeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InFlight returns the number of messages currently being processed.
func (p *Processor) InFlight() int {
	return p.inFlight.Len()
}

// Start runs the poll loop until ctx is cancelled or a termination signal
// arrives. On the way out every in-flight message is released back to the
// queue. A processor runs once; Start on a finished processor returns
// ErrProcessorClosed.
func (p *Processor) Start(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrProcessorClosed
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer p.releaseInFlight()

	p.logger.Info().
		Str("queue", p.client.QueueName()).
		Int("max_messages", p.maxMessages).
		Int("wait_seconds", p.waitSeconds).
		Msg("Processor started")

	for {
		if err := p.sleepJitter(ctx); err != nil {
			return nil
		}

		msgs := p.client.Receive(ctx, p.maxMessages, p.waitSeconds, p.visibilityTimeout)
		if ctx.Err() != nil {
			p.trackBatch(msgs)
			return nil
		}

		for len(msgs) > 0 {
			deleted, err := p.processBatch(ctx, msgs)
			if err != nil || ctx.Err() != nil {
				return nil
			}
			if deleted == 0 || !p.prefetchEnabled {
				break
			}
			// A delete means this worker just freed a lane; poll again with
			// a short wait so other lanes' work is picked up promptly. The
			// short poll follows the whole batch rather than each delete,
			// keeping at most one receive outstanding at a time.
			msgs = p.client.Receive(ctx, p.maxMessages, p.prefetchWait, p.visibilityTimeout)
			if ctx.Err() != nil {
				p.trackBatch(msgs)
				return nil
			}
		}
	}
}

// sleepJitter waits a random slice of jitterMax so multiple workers do not
// poll in lockstep. Returns an error when ctx is cancelled during the wait.
func (p *Processor) sleepJitter(ctx context.Context) error {
	if p.jitterMax <= 0 {
		return ctx.Err()
	}
	d := time.Duration(p.rng.Int63n(int64(p.jitterMax)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// trackBatch registers received but unprocessed messages so shutdown
// releases them instead of leaving them invisible until their timeout.
func (p *Processor) trackBatch(msgs []Message) {
	for _, m := range msgs {
		p.inFlight.Add(m)
	}
}

// processBatch runs the batch through handlers. It returns the number of
// deleted messages and a non-nil error when a handler asked for abort.
func (p *Processor) processBatch(ctx context.Context, msgs []Message) (int, error) {
	p.trackBatch(msgs)
	p.metrics.SetInFlight(ctx, p.client.QueueName(), float64(p.inFlight.Len()))

	deleted := 0
	for _, msg := range msgs {
		// Messages not yet processed stay in the in-flight set and are
		// released by the shutdown path.
		if ctx.Err() != nil {
			return deleted, nil
		}
		ok, err := p.processMessage(ctx, msg)
		if ok {
			deleted++
		}
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// processMessage handles one message end to end. It reports whether the
// message was deleted, and a non-nil error only for the abort outcome.
func (p *Processor) processMessage(ctx context.Context, msg Message) (deleted bool, abort error) {
	// The abort path keeps the message in the in-flight set so shutdown
	// releases it; every other path is a final outcome for this delivery.
	removeFromInFlight := true
	defer func() {
		if removeFromInFlight {
			p.inFlight.Remove(msg.ReceiptHandle)
		}
	}()

	queue := p.client.QueueName()
	start := time.Now()

	j, err := job.ParseJob(msg.Body)
	if err != nil {
		// Unparseable bodies can never succeed; delete instead of letting
		// them churn through redelivery into the DLQ.
		p.logger.Error().Err(err).
			Str("message_id", msg.MessageID).
			Str("lane", msg.Lane).
			Msg("Dropping unparseable message")
		p.metrics.IncJobsPoisoned(ctx, queue)
		return p.deleteMessage(ctx, msg.ReceiptHandle), nil
	}

	logger := p.logger.With().
		Str("message_id", msg.MessageID).
		Str("job_type", string(j.Type)).
		Str("tenant_id", j.TenantID).
		Str("lane", msg.Lane).
		Str("trace_id", j.TraceID).
		Logger()

	if p.idempotency != nil {
		done, err := p.idempotency.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			logger.Warn().Err(err).Msg("Idempotency check failed, processing anyway")
		} else if done {
			logger.Info().Msg("Skipping already processed message")
			return p.deleteMessage(ctx, msg.ReceiptHandle), nil
		}
	}

	handler, ok := p.registry.GetHandler(j.Type)
	if !ok {
		// Leave the message; a deploy carrying the missing handler may be
		// in progress and redelivery picks it up.
		logger.Error().Msg("No handler registered for job type")
		p.metrics.IncJobsFailed(ctx, queue, string(j.Type))
		return false, nil
	}

	if p.idempotency != nil {
		if err := p.idempotency.MarkProcessing(ctx, msg.MessageID); err != nil {
			// Another worker holds the lock; its outcome decides this message.
			logger.Warn().Err(err).Msg("Message locked by another worker, leaving for redelivery")
			return false, nil
		}
		defer func() {
			cctx, cancel := p.terminalCtx(ctx)
			defer cancel()
			if err := p.idempotency.ClearProcessing(cctx, msg.MessageID); err != nil {
				logger.Warn().Err(err).Msg("Failed to clear processing lock")
			}
		}()
	}

	hctx := context.WithValue(ctx, ContextKeyMessageID, msg.MessageID)
	hctx = context.WithValue(hctx, ContextKeyLane, msg.Lane)
	hctx = context.WithValue(hctx, ContextKeyTenantID, j.TenantID)
	hctx = context.WithValue(hctx, ContextKeyTraceID, j.TraceID)

	herr := handler(hctx, j, Metadata{
		MessageID:     msg.MessageID,
		ReceiptHandle: msg.ReceiptHandle,
		Lane:          msg.Lane,
		ReceiveCount:  msg.ReceiveCount,
	})

	elapsed := time.Since(start)
	p.metrics.ObserveProcessingDuration(ctx, queue, string(j.Type), float64(elapsed.Milliseconds()))
	p.metrics.IncJobsProcessed(ctx, queue, string(j.Type), outcomeLabel(herr))

	switch {
	case herr == nil:
		tctx, cancel := p.terminalCtx(ctx)
		defer cancel()
		if p.idempotency != nil {
			if err := p.idempotency.MarkProcessed(tctx, msg.MessageID); err != nil {
				logger.Warn().Err(err).Msg("Failed to mark message processed")
			}
		}
		p.metrics.IncJobsSucceeded(ctx, queue, string(j.Type))
		logger.Info().Dur("duration", elapsed).Msg("Job succeeded")
		return p.client.Delete(tctx, msg.ReceiptHandle), nil

	case isExtendVisibility(herr):
		ev, _ := AsExtendVisibility(herr)
		p.metrics.IncVisibilityExtensions(ctx, queue, string(j.Type))
		logger.Info().Int("seconds", ev.Seconds).Msg("Extending message visibility")
		tctx, cancel := p.terminalCtx(ctx)
		defer cancel()
		p.client.ChangeVisibility(tctx, msg.ReceiptHandle, ev.Seconds)
		return false, nil

	case errors.Is(herr, context.Canceled):
		logger.Warn().Msg("Handler aborted, shutting down")
		removeFromInFlight = false
		return false, herr

	default:
		// Redelivery after the visibility timeout; the queue's redrive
		// policy moves repeat offenders to the DLQ.
		p.metrics.IncJobsFailed(ctx, queue, string(j.Type))
		logger.Error().Err(herr).Dur("duration", elapsed).Msg("Job failed, leaving for redelivery")
		return false, nil
	}
}

func isExtendVisibility(err error) bool {
	_, ok := AsExtendVisibility(err)
	return ok
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case isExtendVisibility(err):
		return "extended"
	case errors.Is(err, context.Canceled):
		return "aborted"
	default:
		return "failure"
	}
}

// terminalCtx returns ctx while it is still live, or a fresh short-timeout
// background context once shutdown has cancelled it. A message whose handler
// finished during shutdown still gets its terminal delete or visibility
// change through instead of sitting invisible until its timeout lapses.
func (p *Processor) terminalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), p.releaseTimeout)
}

func (p *Processor) deleteMessage(ctx context.Context, receiptHandle string) bool {
	ctx, cancel := p.terminalCtx(ctx)
	defer cancel()
	return p.client.Delete(ctx, receiptHandle)
}

// releaseInFlight hands every in-flight message back to the queue by zeroing
// its visibility timeout, so another worker can claim it without waiting for
// the original timeout to lapse. Runs under a fresh context; the shutdown
// context is already cancelled by the time this runs.
func (p *Processor) releaseInFlight() {
	drained := p.inFlight.Drain()
	if len(drained) == 0 {
		p.logger.Info().Msg("Processor stopped, no in-flight messages")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.releaseTimeout)
	defer cancel()

	queue := p.client.QueueName()
	released := 0
	for _, msg := range drained {
		if p.client.ChangeVisibility(ctx, msg.ReceiptHandle, 0) {
			released++
			p.metrics.IncMessagesReleased(ctx, queue)
		} else {
			// The message surfaces again when its original timeout lapses.
			p.logger.Warn().
				Str("message_id", msg.MessageID).
				Str("lane", msg.Lane).
				Msg("Failed to release message, it redelivers after the visibility timeout")
		}
	}

	p.logger.Info().
		Int("released", released).
		Int("in_flight", len(drained)).
		Msg("Processor stopped, released in-flight messages")
}
