package opslog

import "time"

// Event is an immutable, append-only operator-visibility record.
//
// Invariants:
// - Events are never updated or deleted.
// - Appending is best-effort; no call-control flow blocks on it.
//
// Storage recommendation (Postgres): table ops_events with an INSERT-only
// policy and time-based partitioning for retention.
type Event struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`

	Type EventType `json:"type" db:"type"`

	// Subject identifiers (optional, depending on the event type).
	CallSid    string `json:"call_sid,omitempty" db:"call_sid"`
	MessageSid string `json:"message_sid,omitempty" db:"message_sid"`
	RoomID     string `json:"room_id,omitempty" db:"room_id"`

	// ActorID is the authenticated operator behind a privileged action.
	ActorID string `json:"actor_id,omitempty" db:"actor_id"`

	// CarrierErrorCode preserves the carrier's failure code for follow-up.
	CarrierErrorCode string `json:"carrier_error_code,omitempty" db:"carrier_error_code"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDeliveryFailed  EventType = "delivery_failed"
	EventTypeCallFailed      EventType = "call_failed"
	EventTypeCallPlaced      EventType = "call_placed"
	EventTypeTransferStarted EventType = "transfer_started"
	EventTypeStoreWriteError EventType = "store_write_error"
)
