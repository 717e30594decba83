package models

import (
	"time"

	"github.com/google/uuid"
)

// Idempotency key statuses
const (
	IdempotencyStatusProcessing = "PROCESSING"
	IdempotencyStatusCompleted  = "COMPLETED"
	IdempotencyStatusFailed     = "FAILED"
)

// IdempotencyKey deduplicates mutating requests. Unique per (key, user_id).
// A FAILED record is deleted on retry; a COMPLETED record replays its cached
// response verbatim until it expires.
type IdempotencyKey struct {
	ID             uuid.UUID `json:"id"`
	Key            string    `json:"key"`
	UserID         uuid.UUID `json:"user_id"`
	OperationType  string    `json:"operation_type"`
	RequestBody    []byte    `json:"request_body,omitempty"`
	Status         string    `json:"status"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (k *IdempotencyKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
