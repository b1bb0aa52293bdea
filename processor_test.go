package grapevine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gathertown/grapevine/pkg/job"
)

// fakeQueue serves pre-loaded batches and records every delete and
// visibility change. When the batches run out it cancels the test context so
// Start returns instead of polling forever.
type fakeQueue struct {
	mu         sync.Mutex
	batches    [][]Message
	waits      []int
	deleted    []string
	visibility map[string]int
	cancel     context.CancelFunc

	failDelete     bool
	failVisibility bool
}

func newFakeQueue(cancel context.CancelFunc, batches ...[]Message) *fakeQueue {
	return &fakeQueue{
		batches:    batches,
		visibility: make(map[string]int),
		cancel:     cancel,
	}
}

func (f *fakeQueue) Receive(ctx context.Context, maxMessages, waitSeconds, visibilityTimeout int) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	f.waits = append(f.waits, waitSeconds)
	if len(f.batches) == 0 {
		f.cancel()
		return nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch
}

func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil || f.failDelete {
		return false
	}
	f.deleted = append(f.deleted, receiptHandle)
	return true
}

func (f *fakeQueue) ChangeVisibility(ctx context.Context, receiptHandle string, timeoutSeconds int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil || f.failVisibility {
		return false
	}
	f.visibility[receiptHandle] = timeoutSeconds
	return true
}

func (f *fakeQueue) QueueName() string { return "test-queue" }

func (f *fakeQueue) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeQueue) visibilityFor(handle string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.visibility[handle]
	return v, ok
}

func testMessage(t *testing.T, id string, msgType job.Type, tenantID, source string) Message {
	t.Helper()
	body, err := job.Wrap(msgType, tenantID, source, map[string]any{"doc": id}).ToJSON()
	if err != nil {
		t.Fatalf("failed to build test message: %v", err)
	}
	return Message{
		MessageID:     id,
		ReceiptHandle: "rh-" + id,
		Body:          body,
		Lane:          "ingest_webhook_" + tenantID + "_0",
		ReceiveCount:  1,
	}
}

func runProcessor(t *testing.T, queue *fakeQueue, registry *HandlerRegistry, opts ...ProcessorOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.mu.Lock()
	queue.cancel = cancel
	queue.mu.Unlock()

	p := NewProcessor(queue, registry,
		append([]ProcessorOption{WithJitter(0), WithPrefetch(false)}, opts...)...,
	)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if p.InFlight() != 0 {
		t.Errorf("expected no in-flight messages after Start, got %d", p.InFlight())
	}
}

func TestProcessor_SuccessDeletesMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(cancel, []Message{msg})

	var handled *job.Job
	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		handled = j
		if meta.MessageID != "m1" {
			t.Errorf("unexpected message id in metadata: %s", meta.MessageID)
		}
		if LaneFromContext(ctx) != msg.Lane {
			t.Errorf("expected lane in context, got %q", LaneFromContext(ctx))
		}
		return nil
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(false))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if handled == nil {
		t.Fatal("expected handler to be called")
	}
	if handled.TenantID != "tenant-a" {
		t.Errorf("unexpected tenant: %s", handled.TenantID)
	}
	deleted := queue.deletedHandles()
	if len(deleted) != 1 || deleted[0] != "rh-m1" {
		t.Errorf("expected rh-m1 to be deleted, got %v", deleted)
	}
	if p.InFlight() != 0 {
		t.Errorf("expected no in-flight messages, got %d", p.InFlight())
	}
}

func TestProcessor_FailureLeavesMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(cancel, []Message{msg})

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		return errors.New("downstream unavailable")
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(false))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if len(queue.deletedHandles()) != 0 {
		t.Errorf("expected no deletes, got %v", queue.deletedHandles())
	}
	// A failed message is a final outcome for this delivery, not an
	// in-flight message to release on shutdown
	if _, ok := queue.visibilityFor("rh-m1"); ok {
		t.Error("expected no visibility change for failed message")
	}
}

func TestProcessor_ExtendVisibility(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := testMessage(t, "m1", job.TypeBackfill, "tenant-a", "gdrive")
	queue := newFakeQueue(cancel, []Message{msg})

	registry := NewHandlerRegistry()
	registry.Register(job.TypeBackfill, func(ctx context.Context, j *job.Job, meta Metadata) error {
		// Wrapped, to exercise the errors.As unwrapping
		return fmt.Errorf("checkpointing: %w", NewExtendVisibility(300))
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(false))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if len(queue.deletedHandles()) != 0 {
		t.Errorf("expected no deletes, got %v", queue.deletedHandles())
	}
	timeout, ok := queue.visibilityFor("rh-m1")
	if !ok {
		t.Fatal("expected visibility change for rh-m1")
	}
	if timeout != 300 {
		t.Errorf("expected visibility timeout 300, got %d", timeout)
	}
}

func TestProcessor_PoisonMessageDeletedWithoutHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poison := Message{
		MessageID:     "m1",
		ReceiptHandle: "rh-m1",
		Body:          "{not json",
		Lane:          "ingest_webhook_tenant-a_0",
		ReceiveCount:  1,
	}
	queue := newFakeQueue(cancel, []Message{poison})

	handlerCalled := false
	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		handlerCalled = true
		return nil
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(false))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if handlerCalled {
		t.Error("expected handler not to be called for poison message")
	}
	deleted := queue.deletedHandles()
	if len(deleted) != 1 || deleted[0] != "rh-m1" {
		t.Errorf("expected poison message to be deleted, got %v", deleted)
	}
}

func TestProcessor_InvalidJobDeleted(t *testing.T) {
	// Parses as JSON but fails validation: backfill without a source
	invalid := Message{
		MessageID:     "m1",
		ReceiptHandle: "rh-m1",
		Body:          `{"type":"backfill","tenant_id":"tenant-a","payload":{},"version":"1.0"}`,
		ReceiveCount:  1,
	}
	queue := newFakeQueue(nil, []Message{invalid})

	runProcessor(t, queue, NewHandlerRegistry())

	deleted := queue.deletedHandles()
	if len(deleted) != 1 || deleted[0] != "rh-m1" {
		t.Errorf("expected invalid message to be deleted, got %v", deleted)
	}
}

func TestProcessor_NoHandlerLeavesMessage(t *testing.T) {
	msg := testMessage(t, "m1", job.TypeControl, "tenant-a", "")
	queue := newFakeQueue(nil, []Message{msg})

	runProcessor(t, queue, NewHandlerRegistry())

	if len(queue.deletedHandles()) != 0 {
		t.Errorf("expected no deletes, got %v", queue.deletedHandles())
	}
}

func TestProcessor_BatchProcessedInOrder(t *testing.T) {
	// Two jobs on the same lane followed by one on another. The queue
	// delivers them in submission order and the processor must keep it.
	a1 := testMessage(t, "a1", job.TypeWebhook, "tenant-a", "")
	a2 := testMessage(t, "a2", job.TypeWebhook, "tenant-a", "")
	b := testMessage(t, "b", job.TypeWebhook, "tenant-b", "")
	queue := newFakeQueue(nil, []Message{a1, a2, b})

	var order []string
	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		order = append(order, meta.MessageID)
		return nil
	})

	runProcessor(t, queue, registry)

	want := []string{"a1", "a2", "b"}
	if len(order) != len(want) {
		t.Fatalf("expected %d handler calls, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected processing order %v, got %v", want, order)
		}
	}
	if deleted := queue.deletedHandles(); len(deleted) != 3 {
		t.Errorf("expected all three messages deleted, got %v", deleted)
	}
}

func TestProcessor_AbortReleasesInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := []Message{
		testMessage(t, "m1", job.TypeWebhook, "tenant-a", ""),
		testMessage(t, "m2", job.TypeWebhook, "tenant-a", ""),
		testMessage(t, "m3", job.TypeWebhook, "tenant-b", ""),
	}
	queue := newFakeQueue(cancel, msgs)

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		// First message aborts the whole worker
		return context.Canceled
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(false))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if len(queue.deletedHandles()) != 0 {
		t.Errorf("expected no deletes, got %v", queue.deletedHandles())
	}
	// The aborted message and the two never-processed ones are all released
	for _, handle := range []string{"rh-m1", "rh-m2", "rh-m3"} {
		timeout, ok := queue.visibilityFor(handle)
		if !ok {
			t.Errorf("expected %s to have been released", handle)
			continue
		}
		if timeout != 0 {
			t.Errorf("expected %s released with timeout 0, got %d", handle, timeout)
		}
	}
	if p.InFlight() != 0 {
		t.Errorf("expected in-flight set to be drained, got %d", p.InFlight())
	}
}

func TestProcessor_ShutdownMidBatchReleasesRemainder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := []Message{
		testMessage(t, "m1", job.TypeWebhook, "tenant-a", ""),
		testMessage(t, "m2", job.TypeWebhook, "tenant-a", ""),
		testMessage(t, "m3", job.TypeWebhook, "tenant-a", ""),
	}
	queue := newFakeQueue(cancel, msgs)

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(hctx context.Context, j *job.Job, meta Metadata) error {
		// Shutdown arrives while the first message is being handled
		cancel()
		return nil
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(false))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// m1 finished and was deleted; m2 and m3 were released untouched
	deleted := queue.deletedHandles()
	if len(deleted) != 1 || deleted[0] != "rh-m1" {
		t.Errorf("expected only rh-m1 deleted, got %v", deleted)
	}
	for _, handle := range []string{"rh-m2", "rh-m3"} {
		if timeout, ok := queue.visibilityFor(handle); !ok || timeout != 0 {
			t.Errorf("expected %s released with timeout 0", handle)
		}
	}
}

func TestProcessor_ShutdownMidHandlerStillDeletes(t *testing.T) {
	// Shutdown arrives while the handler runs. The handler finishes
	// successfully, and its terminal delete must go through even though the
	// run context is already cancelled; otherwise the message sits
	// invisible until its timeout and is re-processed despite success.
	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(nil, []Message{msg})

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		queue.mu.Lock()
		cancel := queue.cancel
		queue.mu.Unlock()
		cancel()
		return nil
	})

	runProcessor(t, queue, registry)

	deleted := queue.deletedHandles()
	if len(deleted) != 1 || deleted[0] != "rh-m1" {
		t.Errorf("expected rh-m1 deleted despite shutdown, got %v", deleted)
	}
	if _, ok := queue.visibilityFor("rh-m1"); ok {
		t.Error("expected no release for a deleted message")
	}
}

func TestProcessor_ShutdownMidHandlerStillExtendsVisibility(t *testing.T) {
	msg := testMessage(t, "m1", job.TypeBackfill, "tenant-a", "gdrive")
	queue := newFakeQueue(nil, []Message{msg})

	registry := NewHandlerRegistry()
	registry.Register(job.TypeBackfill, func(ctx context.Context, j *job.Job, meta Metadata) error {
		queue.mu.Lock()
		cancel := queue.cancel
		queue.mu.Unlock()
		cancel()
		return NewExtendVisibility(300)
	})

	runProcessor(t, queue, registry)

	if len(queue.deletedHandles()) != 0 {
		t.Errorf("expected no deletes, got %v", queue.deletedHandles())
	}
	if timeout, ok := queue.visibilityFor("rh-m1"); !ok || timeout != 300 {
		t.Errorf("expected visibility extended to 300 despite shutdown, got %d (set=%v)", timeout, ok)
	}
}

func TestProcessor_ReleaseFailureIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(cancel, []Message{msg})
	queue.failVisibility = true

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		return context.Canceled
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(false))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if p.InFlight() != 0 {
		t.Errorf("expected in-flight set to be drained even when release fails, got %d", p.InFlight())
	}
}

func TestProcessor_PrefetchAfterDelete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := newFakeQueue(cancel,
		[]Message{testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")},
		[]Message{testMessage(t, "m2", job.TypeWebhook, "tenant-b", "")},
	)

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		return nil
	})

	p := NewProcessor(queue, registry,
		WithJitter(0),
		WithPrefetch(true),
		WithPrefetchWait(1),
		WithWaitTime(20),
	)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if len(queue.deletedHandles()) != 2 {
		t.Fatalf("expected both messages deleted, got %v", queue.deletedHandles())
	}
	// First poll is a long poll, the one after the successful delete is short
	queue.mu.Lock()
	waits := append([]int(nil), queue.waits...)
	queue.mu.Unlock()
	if len(waits) < 2 {
		t.Fatalf("expected at least 2 receives, got %d", len(waits))
	}
	if waits[0] != 20 {
		t.Errorf("expected first receive to long poll (20s), got %d", waits[0])
	}
	if waits[1] != 1 {
		t.Errorf("expected second receive to short poll (1s), got %d", waits[1])
	}
}

func TestProcessor_StartTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	queue := newFakeQueue(func() {})
	p := NewProcessor(queue, NewHandlerRegistry(), WithJitter(0))

	if err := p.Start(ctx); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	if err := p.Start(ctx); !errors.Is(err, ErrProcessorClosed) {
		t.Errorf("expected ErrProcessorClosed, got %v", err)
	}
}

func TestProcessor_DeleteFailureRedelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(cancel, []Message{msg})
	queue.failDelete = true

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		return nil
	})

	p := NewProcessor(queue, registry, WithJitter(0), WithPrefetch(true), WithPrefetchWait(1))
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// Delete failed, so it must not count as a delete for prefetch: the
	// second receive is a long poll, not a short one
	queue.mu.Lock()
	waits := append([]int(nil), queue.waits...)
	queue.mu.Unlock()
	for i, w := range waits {
		if w != 20 {
			t.Errorf("receive %d: expected long poll (20s), got %d", i, w)
		}
	}
}
