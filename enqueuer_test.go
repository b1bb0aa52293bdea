package grapevine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gathertown/grapevine/pkg/job"
)

type fakeSender struct {
	body    string
	lane    string
	dedupID string
	err     error
}

func (f *fakeSender) Send(ctx context.Context, body, lane, dedupID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.body = body
	f.lane = lane
	f.dedupID = dedupID
	return "msg-1", nil
}

func (f *fakeSender) QueueName() string { return "test-queue" }

func TestEnqueuer_Enqueue(t *testing.T) {
	sender := &fakeSender{}
	enqueuer := NewEnqueuer(sender, NewLaneAssignerWithSeed(1))

	j := job.Wrap(job.TypeWebhook, "tenant-a", "", map[string]any{"doc": "d1"})
	messageID, err := enqueuer.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if messageID != "msg-1" {
		t.Errorf("unexpected message id: %s", messageID)
	}
	if !strings.HasPrefix(sender.lane, "ingest_webhook_tenant-a_") {
		t.Errorf("unexpected lane: %s", sender.lane)
	}
	if sender.dedupID != j.BatchKey() {
		t.Errorf("expected dedup id to be the batch key")
	}

	parsed, err := job.ParseJob(sender.body)
	if err != nil {
		t.Fatalf("sent body does not parse back: %v", err)
	}
	if parsed.TenantID != "tenant-a" || parsed.Type != job.TypeWebhook {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
}

func TestEnqueuer_InvalidJobRejected(t *testing.T) {
	sender := &fakeSender{}
	enqueuer := NewEnqueuer(sender, NewLaneAssignerWithSeed(1))

	// Backfill without a source never reaches the queue
	j := job.Wrap(job.TypeBackfill, "tenant-a", "", map[string]any{})
	if _, err := enqueuer.Enqueue(context.Background(), j); err == nil {
		t.Error("expected validation error")
	}
	if sender.lane != "" {
		t.Error("expected nothing to be sent")
	}
}

func TestEnqueuer_SendErrorPropagates(t *testing.T) {
	sendErr := errors.New("queue unavailable")
	enqueuer := NewEnqueuer(&fakeSender{err: sendErr}, NewLaneAssignerWithSeed(1))

	j := job.Wrap(job.TypeDelete, "tenant-a", "", map[string]any{"doc": "d1"})
	if _, err := enqueuer.Enqueue(context.Background(), j); !errors.Is(err, sendErr) {
		t.Errorf("expected send error, got %v", err)
	}
}

func TestEnqueuer_DedupCollapsesIdenticalJobs(t *testing.T) {
	sender := &fakeSender{}
	enqueuer := NewEnqueuer(sender, NewLaneAssignerWithSeed(1))

	// Temporary payload fields do not change the dedup id
	first := job.Wrap(job.TypeDelete, "tenant-a", "", map[string]any{"doc": "d1", "timestamp": "t1"})
	if _, err := enqueuer.Enqueue(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstDedup := sender.dedupID

	second := job.Wrap(job.TypeDelete, "tenant-a", "", map[string]any{"doc": "d1", "timestamp": "t2"})
	if _, err := enqueuer.Enqueue(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sender.dedupID != firstDedup {
		t.Error("expected identical jobs to share a dedup id")
	}
}
