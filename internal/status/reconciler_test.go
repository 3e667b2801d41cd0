package status

import (
	"context"
	"testing"

	"voicebridge/internal/calls"
	"voicebridge/internal/opslog"
)

type notedTransfers struct {
	ended []string
}

func (n *notedTransfers) CallEnded(ctx context.Context, sid string, final calls.Status) error {
	n.ended = append(n.ended, sid+" "+string(final))
	return nil
}

type reconcilerFixture struct {
	rec       *Reconciler
	calls     *calls.MemoryStore
	messages  *MemoryMessageRepo
	transfers *notedTransfers
	opsRepo   *opslog.MemoryRepo
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	callStore := calls.NewMemoryStore()
	messages := NewMemoryMessageRepo()
	transfers := &notedTransfers{}
	opsRepo := opslog.NewMemoryRepo()

	return &reconcilerFixture{
		rec:       NewReconciler(callStore, messages, transfers, opslog.NewService(opsRepo)),
		calls:     callStore,
		messages:  messages,
		transfers: transfers,
		opsRepo:   opsRepo,
	}
}

func (f *reconcilerFixture) seedCall(t *testing.T, sid string, st calls.Status) {
	t.Helper()
	if _, err := f.calls.Create(context.Background(), calls.Call{
		Sid: sid, OrgID: "org1", Direction: calls.DirectionInbound, Status: st,
	}); err != nil {
		t.Fatalf("seed call: %v", err)
	}
}

func TestApplyCallStatusAdvances(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCall(t, "CA1", calls.StatusRinging)

	f.rec.ApplyCallStatus(ctx, CallStatusEvent{CallSid: "CA1", Status: calls.StatusInProgress})

	call, _ := f.calls.GetBySid(ctx, "CA1")
	if call.Status != calls.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", call.Status)
	}
}

func TestApplyCallStatusReplayIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCall(t, "CA1", calls.StatusInProgress)

	f.rec.ApplyCallStatus(ctx, CallStatusEvent{CallSid: "CA1", Status: calls.StatusCompleted})
	f.rec.ApplyCallStatus(ctx, CallStatusEvent{CallSid: "CA1", Status: calls.StatusCompleted})

	call, _ := f.calls.GetBySid(ctx, "CA1")
	if call.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", call.Status)
	}
	// The transfer notification fires only on the applied transition.
	if len(f.transfers.ended) != 1 {
		t.Fatalf("expected one transfer notification, got %d", len(f.transfers.ended))
	}
}

func TestApplyCallStatusNeverRegresses(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCall(t, "CA1", calls.StatusInProgress)

	f.rec.ApplyCallStatus(ctx, CallStatusEvent{CallSid: "CA1", Status: calls.StatusCompleted})
	f.rec.ApplyCallStatus(ctx, CallStatusEvent{CallSid: "CA1", Status: calls.StatusQueued})

	call, _ := f.calls.GetBySid(ctx, "CA1")
	if call.Status != calls.StatusCompleted {
		t.Fatalf("late queued callback regressed the call: %s", call.Status)
	}
}

func TestApplyCallStatusUnknownSidNoWrite(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	f.rec.ApplyCallStatus(ctx, CallStatusEvent{CallSid: "CAghost", Status: calls.StatusCompleted})

	if _, err := f.calls.GetBySid(ctx, "CAghost"); err == nil {
		t.Fatal("unknown sid must not create a record")
	}
	if len(f.transfers.ended) != 0 {
		t.Fatal("unknown sid must not notify transfers")
	}
}

func TestApplyCallStatusFailureLogsOpsEvent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCall(t, "CA1", calls.StatusRinging)

	f.rec.ApplyCallStatus(ctx, CallStatusEvent{CallSid: "CA1", Status: calls.StatusNoAnswer})

	events := f.opsRepo.Events()
	if len(events) != 1 || events[0].Type != opslog.EventTypeCallFailed || events[0].CallSid != "CA1" {
		t.Fatalf("expected call_failed event, got %+v", events)
	}
}

func TestApplyRecording(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCall(t, "CA1", calls.StatusInProgress)

	f.rec.ApplyRecording(ctx, RecordingEvent{
		CallSid:      "CA1",
		RecordingSid: "RE1",
		RecordingURL: "https://api.example.test/recordings/RE1",
	})

	call, _ := f.calls.GetBySid(ctx, "CA1")
	if call.RecordingSid != "RE1" {
		t.Fatalf("recording not attached: %+v", call)
	}
}

func TestApplyRecordingIncompletePayloadDropped(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCall(t, "CA1", calls.StatusInProgress)

	f.rec.ApplyRecording(ctx, RecordingEvent{CallSid: "CA1", RecordingSid: "RE1"})

	call, _ := f.calls.GetBySid(ctx, "CA1")
	if call.RecordingSid != "" {
		t.Fatalf("incomplete payload must be dropped: %+v", call)
	}
}

func TestApplyMessageStatusAdvancesAndReplays(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.messages.Seed(MessageDelivery{Sid: "SM1", OrgID: "org1", Status: MessageStatusQueued})

	f.rec.ApplyMessageStatus(ctx, MessageStatusEvent{MessageSid: "SM1", Status: MessageStatusSent})
	f.rec.ApplyMessageStatus(ctx, MessageStatusEvent{MessageSid: "SM1", Status: MessageStatusSent})
	f.rec.ApplyMessageStatus(ctx, MessageStatusEvent{MessageSid: "SM1", Status: MessageStatusDelivered})

	m, _ := f.messages.GetBySid(ctx, "SM1")
	if m.Status != MessageStatusDelivered {
		t.Fatalf("expected delivered, got %s", m.Status)
	}
}

func TestApplyMessageStatusFailureRecordsCarrierError(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.messages.Seed(MessageDelivery{Sid: "SM1", OrgID: "org1", Status: MessageStatusSent})

	f.rec.ApplyMessageStatus(ctx, MessageStatusEvent{
		MessageSid:   "SM1",
		Status:       MessageStatusUndelivered,
		ErrorCode:    "30003",
		ErrorMessage: "Unreachable destination handset",
	})

	m, _ := f.messages.GetBySid(ctx, "SM1")
	if m.Status != MessageStatusUndelivered || m.ErrorCode != "30003" {
		t.Fatalf("carrier error not recorded: %+v", m)
	}

	events := f.opsRepo.Events()
	if len(events) != 1 || events[0].Type != opslog.EventTypeDeliveryFailed || events[0].CarrierErrorCode != "30003" {
		t.Fatalf("expected delivery_failed event, got %+v", events)
	}
}

func TestApplyMessageStatusUnknownSidNoWrite(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	f.rec.ApplyMessageStatus(ctx, MessageStatusEvent{MessageSid: "SM999", Status: MessageStatusDelivered})

	if _, err := f.messages.GetBySid(ctx, "SM999"); err == nil {
		t.Fatal("unknown sid must not create a record")
	}
	if len(f.opsRepo.Events()) != 0 {
		t.Fatal("unknown sid must not log events")
	}
}
