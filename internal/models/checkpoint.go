package models

import "time"

// EventSyncCheckpoint tracks the last block folded into the database for one
// external event type. last_processed_block is monotonically non-decreasing
// and only moves together with the event's database effect.
type EventSyncCheckpoint struct {
	EventType          string    `json:"event_type"`
	LastProcessedBlock uint64    `json:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at"`
}
