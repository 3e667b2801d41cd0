package transfer

import (
	"fmt"
	"time"
)

// Session is one in-flight warm transfer. The room id doubles as the hold
// conference name, unique per transfer so concurrent transfers can never
// collide on a shared conference.
type Session struct {
	RoomID string `json:"room_id"`
	OrgID  string `json:"org_id"`

	// SourceCallSid is the customer leg being held.
	SourceCallSid string `json:"source_call_sid"`

	TargetAgentID string `json:"target_agent_id"`
	TargetNumber  string `json:"target_number"`
	// TargetCallSid is set once the announcement leg has been placed.
	TargetCallSid string `json:"target_call_sid,omitempty"`

	// CallerName is spoken to the target agent during the announcement.
	// Untrusted display text; escaping happens in the markup layer.
	CallerName string `json:"caller_name,omitempty"`

	State State `json:"state"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type State string

const (
	// StateHolding: source leg parked in the hold conference.
	StateHolding State = "holding"
	// StateAnnouncing: target agent dialed, announcement/gather in flight.
	StateAnnouncing State = "announcing"
	// StateAccepted: target pressed 1; join document issued.
	StateAccepted State = "accepted"
	// StateBridged: conference join confirmed, both legs mixing.
	StateBridged State = "bridged"
	// StateDeclined: target pressed another digit or hung up in the window.
	StateDeclined State = "declined"
	// StateTimedOut: window elapsed with no input.
	StateTimedOut State = "timed_out"
	// StateCanceled: source leg terminated while holding/announcing.
	StateCanceled State = "canceled"
)

var validTransitions = map[State][]State{
	StateHolding:    {StateAnnouncing, StateCanceled},
	StateAnnouncing: {StateAccepted, StateDeclined, StateTimedOut, StateCanceled},
	StateAccepted:   {StateBridged},
	StateBridged:    {},
	StateDeclined:   {},
	StateTimedOut:   {},
	StateCanceled:   {},
}

// CanTransitionTo reports whether moving to next is a legal step.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the session still occupies the source call's
// transfer slot (a second transfer must be rejected while true).
func (s State) Active() bool {
	switch s {
	case StateHolding, StateAnnouncing, StateAccepted:
		return true
	default:
		return false
	}
}

// Resolved reports whether the session reached a final state and is
// immutable from here on.
func (s State) Resolved() bool {
	switch s {
	case StateBridged, StateDeclined, StateTimedOut, StateCanceled:
		return true
	default:
		return false
	}
}

func (s State) String() string { return string(s) }

// transition mutates the session state, enforcing the state machine.
func (sess *Session) transition(next State, now time.Time) error {
	if !sess.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.State, next)
	}
	sess.State = next
	if next.Resolved() {
		t := now.UTC()
		sess.ResolvedAt = &t
	}
	return nil
}
