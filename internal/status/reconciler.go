package status

import (
	"context"
	"errors"

	"voicebridge/internal/calls"
	"voicebridge/internal/opslog"
	"voicebridge/pkg/logger"
)

// TransferNotifier lets the reconciler tell the transfer orchestrator that a
// call leg reached a terminal status, without a package dependency on it.
// The orchestrator decides whether the sid is a source or target leg.
type TransferNotifier interface {
	CallEnded(ctx context.Context, callSid string, final calls.Status) error
}

// Reconciler ingests asynchronous carrier callbacks (call status, recording
// ready, message delivery status) and applies them idempotently.
//
// Error posture: every Apply method returns nil unless the failure is worth
// an error-level log upstream; the webhook layer acknowledges 200 to the
// carrier regardless, because the carrier will not retry a 200 and a retried
// non-200 would hammer us with duplicates we'd discard anyway.
type Reconciler struct {
	calls     calls.Store
	messages  MessageRepo
	transfers TransferNotifier
	ops       *opslog.Service
}

func NewReconciler(callStore calls.Store, messages MessageRepo, transfers TransferNotifier, ops *opslog.Service) *Reconciler {
	return &Reconciler{
		calls:     callStore,
		messages:  messages,
		transfers: transfers,
		ops:       ops,
	}
}

// CallStatusEvent is one call lifecycle callback.
type CallStatusEvent struct {
	CallSid string
	Status  calls.Status
}

// ApplyCallStatus updates the call record and, on a terminal status, cancels
// any in-flight transfer hanging off the leg. Unknown sids are acknowledged
// and discarded: callbacks outlive records under normal churn (test calls,
// retention deletes), and the carrier must not be made to retry forever.
func (r *Reconciler) ApplyCallStatus(ctx context.Context, ev CallStatusEvent) {
	log := logger.From(ctx)

	if ev.CallSid == "" || !ev.Status.Known() {
		log.Info("call status callback dropped", "call_sid", ev.CallSid, "status", ev.Status)
		return
	}

	applied, err := r.calls.UpsertStatus(ctx, ev.CallSid, ev.Status)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Info("call status callback for unknown call", "call_sid", ev.CallSid, "status", ev.Status)
			return
		}
		// The carrier already got its 200; this is the operator's problem now.
		log.Error("call status write failed", "call_sid", ev.CallSid, "status", ev.Status, "err", err)
		return
	}
	if !applied {
		log.Debug("call status no-op", "call_sid", ev.CallSid, "status", ev.Status)
		return
	}

	if ev.Status.IsTerminal() && r.transfers != nil {
		if err := r.transfers.CallEnded(ctx, ev.CallSid, ev.Status); err != nil {
			log.Error("transfer resolve on call end failed", "call_sid", ev.CallSid, "err", err)
		}
	}

	if ev.Status.IsFailure() && r.ops != nil {
		if call, err := r.calls.GetBySid(ctx, ev.CallSid); err == nil {
			_ = r.ops.LogCallFailure(ctx, call.OrgID, ev.CallSid, "call ended "+string(ev.Status))
		}
	}
}

// RecordingEvent is the recording-ready callback.
type RecordingEvent struct {
	CallSid      string
	RecordingSid string
	RecordingURL string
}

// ApplyRecording attaches the durable media location to the call record.
func (r *Reconciler) ApplyRecording(ctx context.Context, ev RecordingEvent) {
	log := logger.From(ctx)

	if ev.CallSid == "" || ev.RecordingSid == "" || ev.RecordingURL == "" {
		log.Info("recording callback dropped", "call_sid", ev.CallSid, "recording_sid", ev.RecordingSid)
		return
	}

	if err := r.calls.SetRecording(ctx, ev.CallSid, ev.RecordingURL, ev.RecordingSid); err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Info("recording callback for unknown call", "call_sid", ev.CallSid)
			return
		}
		log.Error("recording write failed", "call_sid", ev.CallSid, "err", err)
	}
}

// MessageStatusEvent is one delivery-status callback.
type MessageStatusEvent struct {
	MessageSid   string
	Status       MessageStatus
	ErrorCode    string
	ErrorMessage string
}

// ApplyMessageStatus updates the delivery record. Failure statuses are
// recorded to the ops log with their carrier error code for operator
// visibility; retry policy belongs to the sender, not here.
func (r *Reconciler) ApplyMessageStatus(ctx context.Context, ev MessageStatusEvent) {
	log := logger.From(ctx)

	if ev.MessageSid == "" || !ev.Status.Known() {
		log.Info("message status callback dropped", "message_sid", ev.MessageSid, "status", ev.Status)
		return
	}

	applied, err := r.messages.UpdateStatus(ctx, ev.MessageSid, ev.Status, ev.ErrorCode, ev.ErrorMessage)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info("message status callback for unknown message", "message_sid", ev.MessageSid, "status", ev.Status)
			return
		}
		log.Error("message status write failed", "message_sid", ev.MessageSid, "status", ev.Status, "err", err)
		return
	}
	if !applied {
		log.Debug("message status no-op", "message_sid", ev.MessageSid, "status", ev.Status)
		return
	}

	if ev.Status.IsFailure() {
		log.Warn("message delivery failed",
			"message_sid", ev.MessageSid,
			"status", ev.Status,
			"error_code", ev.ErrorCode,
		)
		if r.ops != nil {
			if m, err := r.messages.GetBySid(ctx, ev.MessageSid); err == nil {
				_ = r.ops.LogDeliveryFailure(ctx, m.OrgID, ev.MessageSid, ev.ErrorCode, ev.ErrorMessage)
			}
		}
	}
}
