package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// Redis key prefixes
	keyProcessed  = "jobs:processed:"
	keyProcessing = "jobs:processing:"

	// TTL values
	processingTTL = 5 * time.Minute    // Lock expires after 5 minutes
	processedTTL  = 7 * 24 * time.Hour // Keep processed keys for 7 days
)

// IdempotencyStore provides duplicate-delivery detection for jobs whose
// producers cannot guarantee single submission (webhook retries, cron jobs
// that fire twice). Callers key it with the queue message id or a job
// batch key.
type IdempotencyStore struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewIdempotencyStore creates a new idempotency store
func NewIdempotencyStore(redisClient *redis.Client, logger zerolog.Logger) *IdempotencyStore {
	return &IdempotencyStore{
		redis:  redisClient,
		logger: logger,
	}
}

// IsProcessed checks if a job has already been processed.
func (s *IdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.redis.Exists(ctx, keyProcessed+key).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	return exists > 0, nil
}

// MarkProcessing marks a job as currently being processed.
// Returns an error if another consumer already holds the processing lock.
func (s *IdempotencyStore) MarkProcessing(ctx context.Context, key string) error {
	// SetNX for atomic check-and-set
	set, err := s.redis.SetNX(ctx, keyProcessing+key, "1", processingTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to set processing lock: %w", err)
	}
	if !set {
		return fmt.Errorf("job is already being processed")
	}
	return nil
}

// MarkProcessed marks a job as successfully processed.
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, key string) error {
	if err := s.redis.Set(ctx, keyProcessed+key, "1", processedTTL).Err(); err != nil {
		s.logger.Warn().
			Str("key", key).
			Err(err).
			Msg("Failed to set processed key")
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// ClearProcessing removes the processing lock.
func (s *IdempotencyStore) ClearProcessing(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, keyProcessing+key).Err(); err != nil {
		return fmt.Errorf("failed to clear processing lock: %w", err)
	}
	return nil
}
