package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// s3API is the subset of the S3 client the payload store uses.
// Narrowed for test injection.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// PayloadStore holds message bodies too large for the queue. The sender
// writes the body under a fresh key and puts a pointer stub on the queue;
// the receiver dereferences the stub and the deleter removes the blob, so
// no orphaned storage is left behind.
type PayloadStore struct {
	client s3API
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewPayloadStore creates a payload store backed by the given bucket.
func NewPayloadStore(client *s3.Client, bucket, prefix string, logger zerolog.Logger) *PayloadStore {
	return newPayloadStore(client, bucket, prefix, logger)
}

// NewPayloadStoreWithAPI creates a payload store with an injected S3 API.
// Intended for tests.
func NewPayloadStoreWithAPI(client s3API, bucket, prefix string, logger zerolog.Logger) *PayloadStore {
	return newPayloadStore(client, bucket, prefix, logger)
}

func newPayloadStore(client s3API, bucket, prefix string, logger zerolog.Logger) *PayloadStore {
	return &PayloadStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Bucket returns the backing bucket name.
func (p *PayloadStore) Bucket() string {
	return p.bucket
}

// Put writes a payload under a fresh key and returns the key.
func (p *PayloadStore) Put(ctx context.Context, body []byte) (string, error) {
	key := p.buildKey(uuid.New().String())

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store payload in S3: %w", err)
	}

	p.logger.Debug().
		Str("bucket", p.bucket).
		Str("key", key).
		Int("size", len(body)).
		Msg("Stored oversized payload")

	return key, nil
}

// Get reads a payload back by key.
func (p *PayloadStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payload from S3: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload body: %w", err)
	}
	return body, nil
}

// Delete removes a payload by key.
func (p *PayloadStore) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete payload from S3: %w", err)
	}

	p.logger.Debug().
		Str("bucket", p.bucket).
		Str("key", key).
		Msg("Deleted oversized payload")
	return nil
}

func (p *PayloadStore) buildKey(id string) string {
	if p.prefix == "" {
		return id
	}
	return p.prefix + "/" + id
}
