package opslog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for ops events.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operator-visibility events: delivery failures with their
// carrier error codes, failed calls, and privileged call actions. Callers
// treat appends as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("opslog: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("opslog: repository not configured")
	}
	if e.OrgID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogDeliveryFailure records a failed/undelivered message with its carrier
// error code. The reconciler does not retry; this is the operator signal.
func (s *Service) LogDeliveryFailure(ctx context.Context, orgID, messageSid, errorCode, message string) error {
	return s.Append(ctx, Event{
		OrgID:            orgID,
		Type:             EventTypeDeliveryFailed,
		MessageSid:       messageSid,
		CarrierErrorCode: errorCode,
		Message:          message,
	})
}

// LogCallFailure records a call that ended failed/busy/no-answer/canceled.
func (s *Service) LogCallFailure(ctx context.Context, orgID, callSid, message string) error {
	return s.Append(ctx, Event{
		OrgID:   orgID,
		Type:    EventTypeCallFailed,
		CallSid: callSid,
		Message: message,
	})
}

// LogTransferStarted records an operator starting a warm transfer.
func (s *Service) LogTransferStarted(ctx context.Context, orgID, actorID, callSid, roomID string) error {
	return s.Append(ctx, Event{
		OrgID:   orgID,
		Type:    EventTypeTransferStarted,
		ActorID: actorID,
		CallSid: callSid,
		RoomID:  roomID,
	})
}

// LogCallPlaced records an operator-initiated outbound call.
func (s *Service) LogCallPlaced(ctx context.Context, orgID, actorID, callSid string) error {
	return s.Append(ctx, Event{
		OrgID:   orgID,
		Type:    EventTypeCallPlaced,
		ActorID: actorID,
		CallSid: callSid,
	})
}
