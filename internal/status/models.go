package status

import "time"

// MessageDelivery tracks the delivery outcome of an outbound message sent by
// a sibling subsystem, referenced here only by its carrier sid. Updates are
// idempotent and never regress a terminal status.
type MessageDelivery struct {
	Sid   string `json:"sid" db:"sid"`
	OrgID string `json:"org_id" db:"org_id"`

	Status MessageStatus `json:"status" db:"status"`

	// Carrier error detail, populated on failed/undelivered.
	ErrorCode    string `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type MessageStatus string

const (
	MessageStatusQueued      MessageStatus = "queued"
	MessageStatusSent        MessageStatus = "sent"
	MessageStatusDelivered   MessageStatus = "delivered"
	MessageStatusFailed      MessageStatus = "failed"
	MessageStatusUndelivered MessageStatus = "undelivered"
)

var messageRank = map[MessageStatus]int{
	MessageStatusQueued: 0,
	MessageStatusSent:   1,
}

func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusDelivered, MessageStatusFailed, MessageStatusUndelivered:
		return true
	default:
		return false
	}
}

func (s MessageStatus) IsFailure() bool {
	return s == MessageStatusFailed || s == MessageStatusUndelivered
}

func (s MessageStatus) Known() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := messageRank[s]
	return ok
}

// CanTransition mirrors the call status lattice: forward-only, terminal is
// final, repeats are no-ops handled by the caller.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if !s.Known() || !next.Known() {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return messageRank[next] > messageRank[s]
}
