package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCache(client, "grapevine"), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "jobs.fifo", "https://example/queue", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, err := cache.Get(ctx, "jobs.fifo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "https://example/queue" {
		t.Errorf("unexpected value: %s", val)
	}
}

func TestRedisCache_MissingKey(t *testing.T) {
	cache, _ := newTestCache(t)

	val, err := cache.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error for missing key, got %v", err)
	}
	if val != "" {
		t.Errorf("expected empty value, got %s", val)
	}
}

func TestRedisCache_Delete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "jobs.fifo", "url", 0)
	if err := cache.Delete(ctx, "jobs.fifo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, _ := cache.Get(ctx, "jobs.fifo")
	if val != "" {
		t.Errorf("expected key to be gone, got %s", val)
	}
}

func TestRedisCache_TTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "short", "v", time.Minute)
	mr.FastForward(2 * time.Minute)

	val, err := cache.Get(ctx, "short")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "" {
		t.Errorf("expected key to have expired, got %s", val)
	}
}

func TestRedisCache_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	a := NewRedisCache(client, "a")
	b := NewRedisCache(client, "b")
	ctx := context.Background()

	a.Set(ctx, "k", "from-a", 0)
	b.Set(ctx, "k", "from-b", 0)

	if val, _ := a.Get(ctx, "k"); val != "from-a" {
		t.Errorf("prefix a: unexpected value %s", val)
	}
	if val, _ := b.Get(ctx, "k"); val != "from-b" {
		t.Errorf("prefix b: unexpected value %s", val)
	}
}
