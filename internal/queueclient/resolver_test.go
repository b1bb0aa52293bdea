package queueclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gathertown/grapevine/internal/storage"
)

func TestResolver_Resolve(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := storage.NewRedisCache(redisClient, "grapevine")

	resolver := NewResolver(newFakeSQS(), cache, zerolog.Nop())

	url, err := resolver.Resolve(context.Background(), "jobs.fifo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://sqs.us-east-1.amazonaws.com/123456789012/jobs.fifo"
	if url != want {
		t.Errorf("expected %s, got %s", want, url)
	}

	// Second resolve is served from the cache
	cached, err := resolver.Resolve(context.Background(), "jobs.fifo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached != url {
		t.Errorf("cache returned different URL: %s", cached)
	}

	resolver.Invalidate(context.Background(), "jobs.fifo")
	if _, err := resolver.Resolve(context.Background(), "jobs.fifo"); err != nil {
		t.Fatalf("unexpected error after invalidate: %v", err)
	}
}

func TestResolver_NoCache(t *testing.T) {
	resolver := NewResolver(newFakeSQS(), nil, zerolog.Nop())

	url, err := resolver.Resolve(context.Background(), "jobs.fifo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url == "" {
		t.Error("expected a URL")
	}
}
