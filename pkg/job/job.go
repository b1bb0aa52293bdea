// Package job defines the job envelope carried as the body of every queue
// message. Producers wrap a payload with Wrap; the worker parses it back with
// ParseJob before dispatching to a handler.
package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// Version is the envelope format version
	Version = "1.0"
)

// Type identifies the kind of work a job represents. The type drives both
// lane assignment and handler dispatch.
type Type string

const (
	TypeWebhook            Type = "webhook"
	TypeBackfill           Type = "backfill"
	TypeReindex            Type = "reindex"
	TypeIndex              Type = "index"
	TypeDelete             Type = "delete"
	TypeTenantDataDeletion Type = "tenant_data_deletion"
	TypeControl            Type = "control"
)

// Types lists every known job type.
var Types = []Type{
	TypeWebhook,
	TypeBackfill,
	TypeReindex,
	TypeIndex,
	TypeDelete,
	TypeTenantDataDeletion,
	TypeControl,
}

// ParseType converts a string into a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !slices.Contains(Types, t) {
		return "", fmt.Errorf("unknown job type %q", s)
	}
	return t, nil
}

// Job is the standardized message wrapper for every unit of work flowing
// through the queue.
type Job struct {
	Type       Type           `json:"type"`
	TenantID   string         `json:"tenant_id"`
	Source     string         `json:"source,omitempty"`
	Payload    map[string]any `json:"payload"`
	TraceID    string         `json:"trace_id"`
	EnqueuedAt string         `json:"enqueued_at"`
	Version    string         `json:"version"`
}

// temporaryFields are payload fields excluded from batch key generation
var temporaryFields = []string{
	"timestamp",
	"created_at",
	"updated_at",
	"deleted_at",
	"trace_id",
	"request_id",
}

// Wrap creates a new job envelope for the given type, tenant, and payload.
func Wrap(msgType Type, tenantID, source string, payload map[string]any) *Job {
	traceID := extractTraceID(payload)
	if traceID == "" {
		traceID = uuid.New().String()
	}

	return &Job{
		Type:       msgType,
		TenantID:   tenantID,
		Source:     source,
		Payload:    payload,
		TraceID:    traceID,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
	}
}

// ParseJob parses a raw message body into a Job and validates it.
func ParseJob(body string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	return &j, nil
}

// ToJSON serializes the job to JSON.
func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return string(data), nil
}

// Validate checks that the job has all required fields.
func (j *Job) Validate() error {
	if j.Type == "" {
		return errors.New("job missing type")
	}
	if _, err := ParseType(string(j.Type)); err != nil {
		return err
	}
	if j.TenantID == "" {
		return errors.New("job missing tenant_id")
	}
	if j.Payload == nil {
		return errors.New("job missing payload")
	}
	if j.Version == "" {
		return errors.New("job missing version")
	}
	switch j.Type {
	case TypeBackfill, TypeIndex, TypeReindex:
		if j.Source == "" {
			return fmt.Errorf("job type %s requires a source", j.Type)
		}
	}
	return nil
}

// BatchKey returns a deterministic hash of the job identity and payload.
// Two jobs with the same type, tenant, source, and payload (minus temporary
// fields) produce the same key, so the key can serve as both a consistent
// lane key and an explicit deduplication id for idempotent submission.
func (j *Job) BatchKey() string {
	cleaned := removeTemporaryFields(j.Payload)
	sorted := sortMapRecursively(cleaned)
	payloadJSON, _ := json.Marshal(sorted)

	data := string(j.Type) + "|" + j.TenantID + "|" + j.Source + "|" + string(payloadJSON)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// removeTemporaryFields removes fields that shouldn't affect the batch key
func removeTemporaryFields(payload map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range payload {
		if !slices.Contains(temporaryFields, k) {
			if nested, ok := v.(map[string]any); ok {
				result[k] = removeTemporaryFields(nested)
			} else {
				result[k] = v
			}
		}
	}
	return result
}

// sortMapRecursively sorts map keys recursively for deterministic serialization
func sortMapRecursively(m map[string]any) map[string]any {
	result := make(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		if nested, ok := v.(map[string]any); ok {
			result[k] = sortMapRecursively(nested)
		} else if arr, ok := v.([]any); ok {
			result[k] = sortArrayRecursively(arr)
		} else {
			result[k] = v
		}
	}
	return result
}

// sortArrayRecursively sorts arrays containing maps
func sortArrayRecursively(arr []any) []any {
	result := make([]any, len(arr))
	for i, v := range arr {
		if m, ok := v.(map[string]any); ok {
			result[i] = sortMapRecursively(m)
		} else {
			result[i] = v
		}
	}
	return result
}

// extractTraceID extracts an existing trace ID from the payload if present
func extractTraceID(payload map[string]any) string {
	if traceID, ok := payload["trace_id"].(string); ok {
		return traceID
	}
	if traceID, ok := payload["traceId"].(string); ok {
		return traceID
	}
	return ""
}
