package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/gathertown/grapevine/internal/metrics"
	"github.com/gathertown/grapevine/internal/queueclient"
	"github.com/gathertown/grapevine/internal/storage"
)

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		)))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func createSQSClient(ctx context.Context) (*sqs.Client, error) {
	awsCfg, err := loadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	}), nil
}

func createS3Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := loadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// createRedisClient creates and validates a Redis client connection
func createRedisClient(ctx context.Context) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return redisClient, nil
}

// createQueueClient builds the queue client for the configured queue ARN,
// with S3 payload offload when a bucket is configured. The queue URL is
// resolved through the SQS API rather than derived from the ARN, since
// custom endpoints serve URLs the ARN cannot predict; when Redis is enabled
// the resolved URL is cached so restarts and sibling workers skip the call.
func createQueueClient(ctx context.Context) (*queueclient.Client, error) {
	if cfg.Queue.QueueARN == "" {
		return nil, fmt.Errorf("QUEUE_ARN is not configured")
	}
	arn, err := queueclient.ParseARN(cfg.Queue.QueueARN)
	if err != nil {
		return nil, err
	}

	sqsClient, err := createSQSClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS client: %w", err)
	}

	opts := []queueclient.Option{
		queueclient.WithLogger(logger),
	}

	var cache *storage.RedisCache
	if cfg.Redis.Enabled {
		redisClient, err := createRedisClient(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, resolving queue URL without cache")
		} else {
			cache = storage.NewRedisCache(redisClient, "queues:url")
		}
	}
	resolver := queueclient.NewResolver(sqsClient, cache, logger)
	if url, err := resolver.Resolve(ctx, arn.Name); err != nil {
		logger.Warn().Err(err).Str("queue", arn.Name).Msg("Queue URL resolution failed, deriving from ARN")
	} else {
		opts = append(opts, queueclient.WithQueueURL(url))
	}
	if cfg.Payload.Bucket != "" {
		s3Client, err := createS3Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		store := storage.NewPayloadStore(s3Client, cfg.Payload.Bucket, cfg.Payload.Prefix, logger)
		opts = append(opts, queueclient.WithPayloadStore(store))
	}

	return queueclient.NewClient(sqsClient, cfg.Queue.QueueARN, opts...)
}

// createMetricsProvider wires up CloudWatch and Prometheus providers per config.
func createMetricsProvider(ctx context.Context) (metrics.Provider, error) {
	factoryCfg := metrics.FactoryConfig{
		PrometheusEnabled:   cfg.Metrics.PrometheusEnabled,
		PrometheusNamespace: "grapevine",
		PrometheusSubsystem: "worker",
		Logger:              logger,
	}

	if cfg.Metrics.CloudWatchEnabled {
		awsCfg, err := loadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for CloudWatch: %w", err)
		}
		factoryCfg.CloudWatchEnabled = true
		factoryCfg.CloudWatchNamespace = cfg.Metrics.CloudWatchNamespace
		factoryCfg.CloudWatchClient = cloudwatch.NewFromConfig(awsCfg)
	}

	return metrics.NewFactory(factoryCfg).Create(), nil
}
