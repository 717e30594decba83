package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit entry statuses
const (
	AuditStatusSuccess = "SUCCESS"
	AuditStatusFailure = "FAILURE"
)

type AuditLog struct {
	ID           uuid.UUID      `json:"id"`
	Action       string         `json:"action"`
	EntityType   string         `json:"entity_type"`
	EntityID     *uuid.UUID     `json:"entity_id,omitempty"`
	ActorUserID  *uuid.UUID     `json:"actor_user_id,omitempty"`
	ActorAddress *string        `json:"actor_address,omitempty"`
	ActorType    string         `json:"actor_type"` // user/system/chain
	Status       string         `json:"status"`
	BeforeState  map[string]any `json:"before_state,omitempty"`
	AfterState   map[string]any `json:"after_state,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	RequestIP    *string        `json:"request_ip,omitempty"`
	UserAgent    *string        `json:"user_agent,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
