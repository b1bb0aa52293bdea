package queueclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gathertown/grapevine/internal/storage"
)

// maxBodyBytes is the SQS message size limit. Bodies over this are
// offloaded to S3 when a payload store is configured.
const maxBodyBytes = 256 * 1024

// ErrBodyTooLarge is returned when a message body exceeds the queue size
// limit and no payload store is configured.
var ErrBodyTooLarge = errors.New("queueclient: message body exceeds size limit and payload offload is disabled")

// Message is a received queue message after any S3 dereference. When the
// body was offloaded, ReceiptHandle carries the S3 key folded in so Delete
// removes the blob as well.
type Message struct {
	// MessageID is the unique message identifier
	MessageID string
	// ReceiptHandle is the opaque token required to delete or modify the message
	ReceiptHandle string
	// Body is the raw message body (JSON)
	Body string
	// Lane is the FIFO message group id the message was submitted under
	Lane string
	// ReceiveCount is the approximate number of times the message has been delivered
	ReceiveCount int
}

// sqsAPI is the subset of the SQS client the queue client uses.
// Narrowed for test injection.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// Client is a queue client bound to a single FIFO queue.
type Client struct {
	sqs      sqsAPI
	arn      *QueueARN
	queueURL string
	payloads *storage.PayloadStore
	logger   zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPayloadStore enables S3 offload for bodies over the queue size limit.
func WithPayloadStore(store *storage.PayloadStore) Option {
	return func(c *Client) { c.payloads = store }
}

// WithQueueURL overrides the URL derived from the ARN, for local endpoints.
func WithQueueURL(url string) Option {
	return func(c *Client) { c.queueURL = url }
}

// NewClient creates a queue client for the given queue ARN. A malformed ARN
// is a configuration error and fails here rather than at first use.
func NewClient(api sqsAPI, queueARN string, opts ...Option) (*Client, error) {
	arn, err := ParseARN(queueARN)
	if err != nil {
		return nil, err
	}
	c := &Client{
		sqs:      api,
		arn:      arn,
		queueURL: arn.URL(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// QueueURL returns the resolved queue URL.
func (c *Client) QueueURL() string {
	return c.queueURL
}

// QueueName returns the queue name from the ARN.
func (c *Client) QueueName() string {
	return c.arn.Name
}

// Send submits a message body under the given lane (FIFO message group id).
// An empty dedupID gets a random one. Bodies over the queue size limit are
// written to S3 and replaced with a pointer stub when offload is enabled.
func (c *Client) Send(ctx context.Context, body, lane, dedupID string) (string, error) {
	if dedupID == "" {
		dedupID = uuid.New().String()
	}

	if len(body) > maxBodyBytes {
		if c.payloads == nil {
			return "", ErrBodyTooLarge
		}
		key, err := c.payloads.Put(ctx, []byte(body))
		if err != nil {
			return "", fmt.Errorf("failed to offload payload: %w", err)
		}
		body, err = makePointerBody(c.payloads.Bucket(), key)
		if err != nil {
			return "", fmt.Errorf("failed to build payload pointer: %w", err)
		}
	}

	result, err := c.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(c.queueURL),
		MessageBody:            aws.String(body),
		MessageGroupId:         aws.String(lane),
		MessageDeduplicationId: aws.String(dedupID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Debug().
		Str("queue", c.arn.Name).
		Str("lane", lane).
		Str("message_id", *result.MessageId).
		Msg("Sent message")
	return *result.MessageId, nil
}

// Receive long polls the queue for up to maxMessages messages. Transport
// errors are logged and reported as an empty batch; the caller treats them
// the same as an idle queue and polls again.
func (c *Client) Receive(ctx context.Context, maxMessages, waitSeconds, visibilityTimeout int) []Message {
	result, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
		VisibilityTimeout:   int32(visibilityTimeout),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameMessageGroupId,
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error().Err(err).Str("queue", c.arn.Name).Msg("Failed to receive messages")
		}
		return nil
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		msg, err := c.dereference(ctx, m)
		if err != nil {
			// Leave the message in place; it becomes visible again after
			// the visibility timeout.
			c.logger.Error().Err(err).
				Str("queue", c.arn.Name).
				Str("message_id", aws.ToString(m.MessageId)).
				Msg("Failed to dereference offloaded payload")
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (c *Client) dereference(ctx context.Context, m types.Message) (Message, error) {
	msg := Message{
		MessageID:     aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Body:          aws.ToString(m.Body),
		Lane:          m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
		ReceiveCount:  parseReceiveCount(m.Attributes),
	}

	ptr := parsePointerBody(msg.Body)
	if ptr == nil {
		return msg, nil
	}
	if c.payloads == nil {
		return Message{}, fmt.Errorf("message %s points to S3 but payload offload is disabled", msg.MessageID)
	}
	body, err := c.payloads.Get(ctx, ptr.Key)
	if err != nil {
		return Message{}, err
	}
	msg.Body = string(body)
	msg.ReceiptHandle = foldHandle(ptr.Key, msg.ReceiptHandle)
	return msg, nil
}

// Delete removes a message from the queue, and its S3 blob when the receipt
// handle carries one. Failures are logged and reported as false; the message
// redelivers after its visibility timeout and deletion is retried then.
func (c *Client) Delete(ctx context.Context, receiptHandle string) bool {
	key, handle := unfoldHandle(receiptHandle)

	_, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("queue", c.arn.Name).Msg("Failed to delete message")
		return false
	}

	if key != "" && c.payloads != nil {
		if err := c.payloads.Delete(ctx, key); err != nil {
			// The queue message is gone; the blob is orphaned but harmless.
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete offloaded payload")
		}
	}
	return true
}

// ChangeVisibility sets a message's visibility timeout. Zero releases the
// message for immediate redelivery. Failures are logged and reported as
// false; the message surfaces again when its current timeout lapses.
func (c *Client) ChangeVisibility(ctx context.Context, receiptHandle string, timeoutSeconds int) bool {
	_, handle := unfoldHandle(receiptHandle)

	_, err := c.sqs.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: int32(timeoutSeconds),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("queue", c.arn.Name).Msg("Failed to change message visibility")
		return false
	}
	return true
}

// Depth returns the approximate number of visible and in-flight messages.
func (c *Client) Depth(ctx context.Context) (visible, inFlight int, err error) {
	result, err := c.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get queue attributes: %w", err)
	}
	visible = atoiAttr(result.Attributes, string(types.QueueAttributeNameApproximateNumberOfMessages))
	inFlight = atoiAttr(result.Attributes, string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible))
	return visible, inFlight, nil
}

func parseReceiveCount(attrs map[string]string) int {
	n := atoiAttr(attrs, string(types.MessageSystemAttributeNameApproximateReceiveCount))
	if n == 0 {
		return 1
	}
	return n
}

func atoiAttr(attrs map[string]string, name string) int {
	n, err := strconv.Atoi(attrs[name])
	if err != nil {
		return 0
	}
	return n
}
