package grapevine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gathertown/grapevine/internal/metrics"
	"github.com/gathertown/grapevine/pkg/job"
)

// QueueSender is the queue surface the enqueuer publishes to.
type QueueSender interface {
	Send(ctx context.Context, body, lane, dedupID string) (string, error)
	QueueName() string
}

// Enqueuer submits jobs to the queue, assigning each one a lane.
type Enqueuer struct {
	client   QueueSender
	assigner *LaneAssigner
	logger   zerolog.Logger
	metrics  metrics.Provider
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithEnqueuerLogger sets the enqueuer logger.
func WithEnqueuerLogger(logger zerolog.Logger) EnqueuerOption {
	return func(e *Enqueuer) { e.logger = logger }
}

// WithEnqueuerMetrics sets the metrics provider.
func WithEnqueuerMetrics(provider metrics.Provider) EnqueuerOption {
	return func(e *Enqueuer) { e.metrics = provider }
}

// NewEnqueuer creates an enqueuer publishing through the given client.
func NewEnqueuer(client QueueSender, assigner *LaneAssigner, opts ...EnqueuerOption) *Enqueuer {
	e := &Enqueuer{
		client:   client,
		assigner: assigner,
		logger:   zerolog.Nop(),
		metrics:  metrics.NewNoopProvider(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue validates the job, assigns it a lane, and sends it. The job's
// batch key doubles as the deduplication id, so identical jobs submitted
// within the queue's deduplication window collapse into one delivery.
func (e *Enqueuer) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	queue := e.client.QueueName()

	if err := j.Validate(); err != nil {
		e.metrics.IncPublishErrors(ctx, queue, string(j.Type))
		return "", fmt.Errorf("invalid job: %w", err)
	}

	lane, err := e.assigner.AssignForJob(j)
	if err != nil {
		e.metrics.IncPublishErrors(ctx, queue, string(j.Type))
		return "", fmt.Errorf("failed to assign lane: %w", err)
	}

	body, err := j.ToJSON()
	if err != nil {
		e.metrics.IncPublishErrors(ctx, queue, string(j.Type))
		return "", fmt.Errorf("failed to serialize job: %w", err)
	}

	messageID, err := e.client.Send(ctx, body, lane, j.BatchKey())
	if err != nil {
		e.metrics.IncPublishErrors(ctx, queue, string(j.Type))
		return "", err
	}

	e.metrics.IncJobsPublished(ctx, queue, string(j.Type))
	e.logger.Info().
		Str("queue", queue).
		Str("job_type", string(j.Type)).
		Str("tenant_id", j.TenantID).
		Str("lane", lane).
		Str("message_id", messageID).
		Str("trace_id", j.TraceID).
		Msg("Enqueued job")
	return messageID, nil
}
