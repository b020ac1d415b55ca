package core

import (
	"strings"
	"time"
)

// CoordinateEntry aggregates usage statistics for one operation prefix
// ("subject:action"). It is informational only and the single record kind
// updated in place: Observe bumps the usage count, folds the token cost into
// a running mean and advances LastUsedAt monotonically.
type CoordinateEntry struct {
	OperationPrefix   string    `codec:"operation_prefix" json:"operation_prefix"`
	Subject           string    `codec:"subject" json:"subject"`
	Action            string    `codec:"action" json:"action"`
	Template          string    `codec:"template" json:"template,omitempty"`
	PreferredExecutor string    `codec:"preferred_executor" json:"preferred_executor,omitempty"`
	UsageCount        int64     `codec:"usage_count" json:"usage_count"`
	AverageTokenCost  float64   `codec:"average_token_cost" json:"average_token_cost"`
	FirstUsedAt       time.Time `codec:"first_used_at" json:"first_used_at"`
	LastUsedAt        time.Time `codec:"last_used_at" json:"last_used_at"`
}

// NewCoordinateEntry constructs an empty entry for the prefix derived from
// the operation key.
func NewCoordinateEntry(operationKey string) CoordinateEntry {
	subject, action := SplitOperationKey(operationKey)
	prefix := subject
	if action != "" {
		prefix = subject + ":" + action
	}
	return CoordinateEntry{OperationPrefix: prefix, Subject: subject, Action: action}
}

// Observe records one use of the prefix at the given time and token cost.
func (e *CoordinateEntry) Observe(tokenCost int64, executor string, at time.Time) {
	e.UsageCount++
	// Running mean; stable for the modest counts a single trace accumulates.
	e.AverageTokenCost += (float64(tokenCost) - e.AverageTokenCost) / float64(e.UsageCount)
	if e.FirstUsedAt.IsZero() || at.Before(e.FirstUsedAt) {
		e.FirstUsedAt = at
	}
	if at.After(e.LastUsedAt) {
		e.LastUsedAt = at
	}
	if executor != "" {
		e.PreferredExecutor = executor
	}
}

// SplitOperationKey derives (subject, action) from the first two
// colon-separated segments of an operation key. A key without a colon maps to
// subject alone.
func SplitOperationKey(operationKey string) (subject, action string) {
	parts := strings.SplitN(operationKey, ":", 3)
	subject = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	return subject, action
}

// OperationPrefix returns the dictionary prefix for an operation key.
func OperationPrefix(operationKey string) string {
	subject, action := SplitOperationKey(operationKey)
	if action == "" {
		return subject
	}
	return subject + ":" + action
}

// MaxOperationKeyLength bounds operation keys; coordinates are compact
// "subject:action:argument" tokens, not prose.
const MaxOperationKeyLength = 512

// ValidateOperationKey rejects empty, oversized or non-token keys.
func ValidateOperationKey(key string) error {
	if key == "" {
		return NewValidationError("operation_key", "must not be empty")
	}
	if len(key) > MaxOperationKeyLength {
		return NewValidationError("operation_key", "exceeds maximum length")
	}
	for _, r := range key {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r < 0x20 || r == 0x7f {
			return NewValidationError("operation_key", "must not contain whitespace or control characters")
		}
	}
	return nil
}
