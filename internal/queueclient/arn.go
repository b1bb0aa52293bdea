// Package queueclient wraps the SQS API for a single FIFO queue. It resolves
// the queue URL from its ARN, offloads oversized bodies to S3, and converts
// transport failures on the consume path into empty results so the poll loop
// never has to distinguish "queue briefly unreachable" from "queue empty".
package queueclient

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidARN is returned when a queue ARN cannot be parsed. This is a
// configuration error and fails fast at construction time.
var ErrInvalidARN = errors.New("queueclient: invalid queue ARN")

// QueueARN is a parsed SQS queue ARN.
type QueueARN struct {
	Partition string
	Region    string
	AccountID string
	Name      string
}

// ParseARN parses an SQS queue ARN of the form
// arn:aws:sqs:<region>:<account>:<name>.
func ParseARN(arn string) (*QueueARN, error) {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "sqs" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidARN, arn)
	}
	q := &QueueARN{
		Partition: parts[1],
		Region:    parts[3],
		AccountID: parts[4],
		Name:      parts[5],
	}
	if q.Partition == "" || q.Region == "" || q.AccountID == "" || q.Name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidARN, arn)
	}
	return q, nil
}

// URL derives the queue URL from the ARN.
func (q *QueueARN) URL() string {
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", q.Region, q.AccountID, q.Name)
}

// IsFIFO reports whether the queue name carries the FIFO suffix.
func (q *QueueARN) IsFIFO() bool {
	return strings.HasSuffix(q.Name, ".fifo")
}
