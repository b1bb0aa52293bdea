// Package config provides configuration management for the job queue worker.
// Values come from a .env file and environment variables via Viper.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the worker.
type Config struct {
	AWS       AWSConfig
	Queue     QueueConfig
	Payload   PayloadConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Processor ProcessorConfig
}

// AWSConfig holds AWS credentials and region.
type AWSConfig struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Region          string `json:"region" yaml:"region"`
	// Endpoint overrides the AWS endpoint, for localstack or elasticmq
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// QueueConfig holds SQS queue settings.
type QueueConfig struct {
	// QueueARN is the full ARN of the FIFO queue to consume
	QueueARN string `json:"queue_arn" yaml:"queue_arn"`
	// VisibilityTimeout is the default visibility timeout in seconds
	VisibilityTimeout int `json:"visibility_timeout" yaml:"visibility_timeout"`
	// LongPollingWait is the wait time for long polling in seconds
	LongPollingWait int `json:"long_polling_wait" yaml:"long_polling_wait"`
	// MaxMessages is the receive batch size (SQS caps this at 10)
	MaxMessages int `json:"max_messages" yaml:"max_messages"`
	// DLQMaxReceiveCount is the number of receives before moving to DLQ
	DLQMaxReceiveCount int `json:"dlq_max_receive_count" yaml:"dlq_max_receive_count"`
}

// PayloadConfig holds settings for oversized payload offload.
type PayloadConfig struct {
	// Bucket is the S3 bucket for payloads over the queue size limit.
	// Offload is disabled when empty.
	Bucket string `json:"bucket" yaml:"bucket"`
	// Prefix is the S3 key prefix for offloaded payloads
	Prefix string `json:"prefix" yaml:"prefix"`
}

// RedisConfig holds Redis connection settings. Enabled gates the optional
// Redis-backed pieces, like the queue URL cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// MetricsConfig holds metrics provider settings.
type MetricsConfig struct {
	CloudWatchEnabled   bool   `json:"cloudwatch_enabled" yaml:"cloudwatch_enabled"`
	CloudWatchNamespace string `json:"cloudwatch_namespace" yaml:"cloudwatch_namespace"`
	PrometheusEnabled   bool   `json:"prometheus_enabled" yaml:"prometheus_enabled"`
	PrometheusAddr      string `json:"prometheus_addr" yaml:"prometheus_addr"`
}

// ProcessorConfig holds poll loop tuning.
type ProcessorConfig struct {
	// PrefetchEnabled turns on the short poll after a successful delete
	PrefetchEnabled bool `json:"prefetch_enabled" yaml:"prefetch_enabled"`
	// PrefetchWait is the short poll wait in seconds
	PrefetchWait int `json:"prefetch_wait" yaml:"prefetch_wait"`
	// JitterMillis is the max random delay before each long poll
	JitterMillis int `json:"jitter_millis" yaml:"jitter_millis"`
	// IdempotencyEnabled skips jobs already marked processed in Redis
	IdempotencyEnabled bool `json:"idempotency_enabled" yaml:"idempotency_enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Queue: QueueConfig{
			VisibilityTimeout:  120,
			LongPollingWait:    20,
			MaxMessages:        10,
			DLQMaxReceiveCount: 5,
		},
		Payload: PayloadConfig{
			Prefix: "payloads",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Metrics: MetricsConfig{
			CloudWatchNamespace: "Grapevine/Worker",
			PrometheusAddr:      ":9090",
		},
		Processor: ProcessorConfig{
			PrefetchEnabled: true,
			PrefetchWait:    1,
			JitterMillis:    150,
		},
	}
}

// GetVisibilityTimeout returns the visibility timeout as a duration.
func (c *Config) GetVisibilityTimeout() time.Duration {
	return time.Duration(c.Queue.VisibilityTimeout) * time.Second
}

// GetLongPollingWait returns the long polling wait time as a duration.
func (c *Config) GetLongPollingWait() time.Duration {
	return time.Duration(c.Queue.LongPollingWait) * time.Second
}

// RedisAddr returns the host:port pair for the Redis client.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}

// Helper functions using Viper

func getViperString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getViperBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defaultValue
}

func getViperInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return defaultValue
}

// LoadDotEnv loads environment variables from a .env file using Viper.
func LoadDotEnv() error {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")

	viper.AutomaticEnv()

	// Missing .env is fine, environment variables still apply
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load loads configuration from the .env file and environment variables.
func Load() *Config {
	_ = LoadDotEnv()
	return LoadFromViper()
}

// LoadFromViper loads configuration from Viper (after .env is loaded).
func LoadFromViper() *Config {
	cfg := DefaultConfig()

	// AWS config
	cfg.AWS.AccessKeyID = getViperString("AWS_ACCESS_KEY_ID", cfg.AWS.AccessKeyID)
	cfg.AWS.SecretAccessKey = getViperString("AWS_SECRET_ACCESS_KEY", cfg.AWS.SecretAccessKey)
	cfg.AWS.Region = getViperString("AWS_DEFAULT_REGION", cfg.AWS.Region)
	cfg.AWS.Endpoint = getViperString("AWS_ENDPOINT_URL", cfg.AWS.Endpoint)

	// Queue config
	cfg.Queue.QueueARN = getViperString("QUEUE_ARN", cfg.Queue.QueueARN)
	cfg.Queue.VisibilityTimeout = getViperInt("QUEUE_VISIBILITY_TIMEOUT", cfg.Queue.VisibilityTimeout)
	cfg.Queue.LongPollingWait = getViperInt("QUEUE_LONG_POLLING_WAIT", cfg.Queue.LongPollingWait)
	cfg.Queue.MaxMessages = getViperInt("QUEUE_MAX_MESSAGES", cfg.Queue.MaxMessages)
	cfg.Queue.DLQMaxReceiveCount = getViperInt("QUEUE_DLQ_MAX_RECEIVE_COUNT", cfg.Queue.DLQMaxReceiveCount)

	// Payload offload
	cfg.Payload.Bucket = getViperString("PAYLOAD_BUCKET", cfg.Payload.Bucket)
	if prefix := getViperString("PAYLOAD_PREFIX", ""); prefix != "" {
		cfg.Payload.Prefix = strings.Trim(prefix, "/")
	}

	// Redis config
	cfg.Redis.Enabled = getViperBool("REDIS_ENABLED", false)
	cfg.Redis.Host = getViperString("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getViperInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getViperString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getViperInt("REDIS_DB", cfg.Redis.DB)

	// Metrics config
	cfg.Metrics.CloudWatchEnabled = getViperBool("METRICS_CLOUDWATCH_ENABLED", false)
	if ns := getViperString("METRICS_CLOUDWATCH_NAMESPACE", ""); ns != "" {
		cfg.Metrics.CloudWatchNamespace = ns
	}
	cfg.Metrics.PrometheusEnabled = getViperBool("METRICS_PROMETHEUS_ENABLED", false)
	cfg.Metrics.PrometheusAddr = getViperString("METRICS_PROMETHEUS_ADDR", cfg.Metrics.PrometheusAddr)

	// Processor config
	cfg.Processor.PrefetchEnabled = getViperBool("PROCESSOR_PREFETCH_ENABLED", cfg.Processor.PrefetchEnabled)
	cfg.Processor.PrefetchWait = getViperInt("PROCESSOR_PREFETCH_WAIT", cfg.Processor.PrefetchWait)
	cfg.Processor.JitterMillis = getViperInt("PROCESSOR_JITTER_MILLIS", cfg.Processor.JitterMillis)
	cfg.Processor.IdempotencyEnabled = getViperBool("PROCESSOR_IDEMPOTENCY_ENABLED", cfg.Processor.IdempotencyEnabled)

	return cfg
}
