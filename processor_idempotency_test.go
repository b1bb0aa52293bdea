package grapevine

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gathertown/grapevine/internal/storage"
	"github.com/gathertown/grapevine/pkg/job"
)

func newTestIdempotencyStore(t *testing.T) *storage.IdempotencyStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return storage.NewIdempotencyStore(client, zerolog.Nop())
}

func TestProcessor_SkipsProcessedMessage(t *testing.T) {
	store := newTestIdempotencyStore(t)
	if err := store.MarkProcessed(context.Background(), "m1"); err != nil {
		t.Fatalf("failed to seed processed marker: %v", err)
	}

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(nil, []Message{msg})

	handlerCalled := false
	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		handlerCalled = true
		return nil
	})

	runProcessor(t, queue, registry, WithIdempotencyStore(store))

	if handlerCalled {
		t.Error("expected handler not to run for an already processed message")
	}
	deleted := queue.deletedHandles()
	if len(deleted) != 1 || deleted[0] != "rh-m1" {
		t.Errorf("expected duplicate delivery to be deleted, got %v", deleted)
	}
}

func TestProcessor_LockedMessageLeftForRedelivery(t *testing.T) {
	store := newTestIdempotencyStore(t)
	// Another worker is mid-processing the same message
	if err := store.MarkProcessing(context.Background(), "m1"); err != nil {
		t.Fatalf("failed to seed processing lock: %v", err)
	}

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(nil, []Message{msg})

	handlerCalled := false
	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		handlerCalled = true
		return nil
	})

	runProcessor(t, queue, registry, WithIdempotencyStore(store))

	if handlerCalled {
		t.Error("expected handler not to run while another worker holds the lock")
	}
	if len(queue.deletedHandles()) != 0 {
		t.Errorf("expected no deletes, got %v", queue.deletedHandles())
	}
	// The other worker's lock must survive this worker's pass
	if err := store.MarkProcessing(context.Background(), "m1"); err == nil {
		t.Error("expected the foreign processing lock to still be held")
	}
}

func TestProcessor_SuccessMarksProcessedAndReleasesLock(t *testing.T) {
	store := newTestIdempotencyStore(t)

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(nil, []Message{msg})

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		return nil
	})

	runProcessor(t, queue, registry, WithIdempotencyStore(store))

	ctx := context.Background()
	done, err := store.IsProcessed(ctx, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Error("expected message to be marked processed")
	}
	// The processing lock was released, not left to expire
	if err := store.MarkProcessing(ctx, "m1"); err != nil {
		t.Errorf("expected processing lock to be free, got %v", err)
	}
}

func TestProcessor_FailureReleasesLockForRetry(t *testing.T) {
	store := newTestIdempotencyStore(t)

	msg := testMessage(t, "m1", job.TypeWebhook, "tenant-a", "")
	queue := newFakeQueue(nil, []Message{msg})

	registry := NewHandlerRegistry()
	registry.Register(job.TypeWebhook, func(ctx context.Context, j *job.Job, meta Metadata) error {
		return context.DeadlineExceeded
	})

	runProcessor(t, queue, registry, WithIdempotencyStore(store))

	ctx := context.Background()
	done, err := store.IsProcessed(ctx, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Error("expected failed message not to be marked processed")
	}
	// Redelivery must not be blocked by a stale lock
	if err := store.MarkProcessing(ctx, "m1"); err != nil {
		t.Errorf("expected processing lock to be free after failure, got %v", err)
	}
}
