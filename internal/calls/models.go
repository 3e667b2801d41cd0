package calls

import "time"

// Call represents one carrier call leg, keyed by the carrier-assigned sid.
//
// Multi-tenant invariant: OrgID is required on every row.
//
// Status invariant: transitions follow the carrier lifecycle monotonically
// (queued -> ringing -> in_progress -> completed on the happy path;
// failed/busy/no_answer/canceled are terminal from any non-terminal state).
// Once terminal, further status writes are idempotent no-ops.
type Call struct {
	Sid   string `json:"sid" db:"sid"`
	OrgID string `json:"org_id" db:"org_id"`

	Direction Direction `json:"direction" db:"direction"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Status Status `json:"status" db:"status"`

	// Recording fields stay empty until the recording-ready callback lands.
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	RecordingSid string `json:"recording_sid,omitempty" db:"recording_sid"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
	StatusCanceled   Status = "canceled"
)

// statusRank orders the non-terminal lifecycle so that late or duplicated
// callbacks can never move a call backwards.
var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusRinging:    1,
	StatusInProgress: 2,
}

// IsTerminal reports whether no further status change is accepted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsFailure reports the non-completed terminal outcomes, which are surfaced
// to operators via the ops event log.
func (s Status) IsFailure() bool {
	switch s {
	case StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// Known reports whether s is a status this system models. Unknown carrier
// statuses are dropped rather than stored.
func (s Status) Known() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether moving from s to next respects the monotonic
// lifecycle. A repeat of the current status is not a valid transition; callers
// treat it as an idempotent no-op.
func (s Status) CanTransition(next Status) bool {
	if !s.Known() || !next.Known() {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return statusRank[next] > statusRank[s]
}
