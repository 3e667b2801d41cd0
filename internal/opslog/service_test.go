package opslog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAppendFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.Append(context.Background(), Event{
		OrgID: "org1",
		Type:  EventTypeCallFailed,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].ID == "" {
		t.Fatal("expected generated id")
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at stamp")
	}
}

func TestAppendPreservesExplicitFields(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	err := svc.Append(context.Background(), Event{
		ID:        "evt-1",
		OrgID:     "org1",
		Type:      EventTypeCallPlaced,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if got := repo.Events()[0]; got.ID != "evt-1" || !got.CreatedAt.Equal(at) {
		t.Fatalf("explicit fields overwritten: %+v", got)
	}
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeCallFailed}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing org, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{OrgID: "org1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing type, got %v", err)
	}
}

func TestLogDeliveryFailure(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogDeliveryFailure(context.Background(), "org1", "SM1", "30003", "Unreachable destination handset"); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	got := repo.Events()[0]
	if got.Type != EventTypeDeliveryFailed || got.MessageSid != "SM1" || got.CarrierErrorCode != "30003" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestLogTransferStarted(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogTransferStarted(context.Background(), "org1", "agent1", "CA1", "xfer-abc"); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	got := repo.Events()[0]
	if got.Type != EventTypeTransferStarted || got.ActorID != "agent1" || got.RoomID != "xfer-abc" {
		t.Fatalf("unexpected event: %+v", got)
	}
}
