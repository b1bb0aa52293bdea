package queueclient

import (
	"encoding/json"
	"strings"
)

// payloadPointer is the stub body sent in place of an oversized payload.
// The real body lives in S3 under the given key.
type payloadPointer struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type pointerEnvelope struct {
	S3Payload *payloadPointer `json:"s3_payload,omitempty"`
}

// s3KeyMarker brackets the S3 key folded into a receipt handle so that
// Delete can remove the blob together with the queue message. The marker
// follows the convention of the AWS extended client libraries.
const s3KeyMarker = "-..s3Key..-"

func makePointerBody(bucket, key string) (string, error) {
	b, err := json.Marshal(pointerEnvelope{S3Payload: &payloadPointer{Bucket: bucket, Key: key}})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parsePointerBody returns the payload pointer if the body is a stub,
// or nil for an ordinary body.
func parsePointerBody(body string) *payloadPointer {
	if !strings.Contains(body, "s3_payload") {
		return nil
	}
	var env pointerEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil
	}
	if env.S3Payload == nil || env.S3Payload.Key == "" {
		return nil
	}
	return env.S3Payload
}

// foldHandle embeds an S3 key into a receipt handle.
func foldHandle(key, receiptHandle string) string {
	return s3KeyMarker + key + s3KeyMarker + receiptHandle
}

// unfoldHandle splits a receipt handle into the embedded S3 key (empty if
// none) and the original handle.
func unfoldHandle(handle string) (key, receiptHandle string) {
	if !strings.HasPrefix(handle, s3KeyMarker) {
		return "", handle
	}
	rest := handle[len(s3KeyMarker):]
	idx := strings.Index(rest, s3KeyMarker)
	if idx < 0 {
		return "", handle
	}
	return rest[:idx], rest[idx+len(s3KeyMarker):]
}
