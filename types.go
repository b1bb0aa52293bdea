package grapevine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gathertown/grapevine/internal/queueclient"
	"github.com/gathertown/grapevine/pkg/job"
)

// Context keys for message metadata
type contextKey string

const (
	// ContextKeyMessageID is the context key for the queue message ID
	ContextKeyMessageID contextKey = "grapevine.message_id"
	// ContextKeyLane is the context key for the message's lane (group id)
	ContextKeyLane contextKey = "grapevine.lane"
	// ContextKeyTenantID is the context key for the tenant ID
	ContextKeyTenantID contextKey = "grapevine.tenant_id"
	// ContextKeyTraceID is the context key for the trace ID
	ContextKeyTraceID contextKey = "grapevine.trace_id"
)

// MessageIDFromContext returns the queue message ID from the context.
// Returns empty string if not set.
func MessageIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ContextKeyMessageID); v != nil {
		return v.(string)
	}
	return ""
}

// LaneFromContext returns the lane from the context.
// Returns empty string if not set.
func LaneFromContext(ctx context.Context) string {
	if v := ctx.Value(ContextKeyLane); v != nil {
		return v.(string)
	}
	return ""
}

// TenantIDFromContext returns the tenant ID from the context.
// Returns empty string if not set.
func TenantIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ContextKeyTenantID); v != nil {
		return v.(string)
	}
	return ""
}

// TraceIDFromContext returns the trace ID from the context.
// Returns empty string if not set.
func TraceIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ContextKeyTraceID); v != nil {
		return v.(string)
	}
	return ""
}

// Message represents a received queue message.
type Message = queueclient.Message

// Metadata carries queue-level facts about a message into its handler.
type Metadata struct {
	// MessageID is the unique message identifier
	MessageID string
	// ReceiptHandle identifies this delivery of the message
	ReceiptHandle string
	// Lane is the FIFO message group id
	Lane string
	// ReceiveCount is the approximate delivery attempt counter
	ReceiveCount int
}

// Handler processes a single parsed job. Returning nil deletes the message;
// returning an error wrapping *ExtendVisibilityError bumps the message's
// visibility timeout and leaves it in place; returning context.Canceled (or
// any error wrapping it) aborts the processor; any other error leaves the
// message for standard queue redelivery.
type Handler func(ctx context.Context, j *job.Job, meta Metadata) error

// Common errors
var (
	// ErrProcessorClosed is returned when Start is called on a closed processor
	ErrProcessorClosed = errors.New("grapevine: processor is closed")

	// ErrNoHandler is returned when no handler is registered for a job type
	ErrNoHandler = errors.New("grapevine: no handler registered for job type")

	// ErrInvalidARN is returned when a queue ARN cannot be parsed.
	// This indicates misconfiguration and fails fast at construction time.
	ErrInvalidARN = queueclient.ErrInvalidARN

	// ErrBodyTooLarge is returned when a message body exceeds the SQS limit
	// and the queue is not configured for extended payloads
	ErrBodyTooLarge = queueclient.ErrBodyTooLarge
)

// ExtendVisibilityError is the distinguished handler outcome meaning "not
// done yet, give me more time". The processor responds by extending the
// message's visibility timeout instead of deleting it or leaving it for
// redelivery. It is a protocol signal, not a processing failure, and is not
// counted as one in metrics.
type ExtendVisibilityError struct {
	// Seconds is the new visibility timeout requested for the message
	Seconds int
}

func (e *ExtendVisibilityError) Error() string {
	return fmt.Sprintf("extend visibility by %d seconds", e.Seconds)
}

// NewExtendVisibility creates the handler outcome requesting a visibility
// extension of the given number of seconds.
func NewExtendVisibility(seconds int) *ExtendVisibilityError {
	return &ExtendVisibilityError{Seconds: seconds}
}

// AsExtendVisibility checks whether err signals a visibility extension and,
// if so, returns the requested timeout.
func AsExtendVisibility(err error) (*ExtendVisibilityError, bool) {
	var ev *ExtendVisibilityError
	if errors.As(err, &ev) {
		return ev, true
	}
	return nil, false
}
