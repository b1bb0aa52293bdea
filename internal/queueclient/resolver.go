package queueclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"github.com/gathertown/grapevine/internal/storage"
)

// Resolver resolves queue names to URLs, caching results in Redis so
// restarts and sibling workers skip the lookup.
type Resolver struct {
	client sqsAPI
	cache  *storage.RedisCache
	logger zerolog.Logger
}

// NewResolver creates a queue URL resolver. The cache may be nil, in which
// case every call hits the SQS API.
func NewResolver(client sqsAPI, cache *storage.RedisCache, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client: client,
		cache:  cache,
		logger: logger,
	}
}

// Resolve returns the URL for a queue name.
func (r *Resolver) Resolve(ctx context.Context, queueName string) (string, error) {
	if r.cache != nil {
		if url, err := r.cache.Get(ctx, queueName); err == nil && url != "" {
			return url, nil
		}
	}

	result, err := r.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue %s: %w", queueName, err)
	}
	url := aws.ToString(result.QueueUrl)

	if r.cache != nil {
		if err := r.cache.Set(ctx, queueName, url, 0); err != nil {
			r.logger.Warn().Err(err).Str("queue", queueName).Msg("Failed to cache queue URL")
		}
	}
	return url, nil
}

// Invalidate drops a cached queue URL.
func (r *Resolver) Invalidate(ctx context.Context, queueName string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, queueName); err != nil {
		r.logger.Warn().Err(err).Str("queue", queueName).Msg("Failed to invalidate cached queue URL")
	}
}
