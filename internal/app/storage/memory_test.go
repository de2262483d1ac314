package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
)

func TestLedgerRejectsSecondTerminalRow(t *testing.T) {
	mem := NewMemory()
	occ := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	row := delivery.Log{
		ReminderID:   "rem-1",
		OccurrenceAt: occ,
		Channel:      delivery.ChannelPush,
		Endpoint:     "https://push.example/ep",
		Status:       delivery.StatusSent,
	}
	if _, err := mem.AppendLog(context.Background(), row); err != nil {
		t.Fatalf("first append: %v", err)
	}

	// Same key, any terminal status: rejected.
	row.Status = delivery.StatusFailed
	if _, err := mem.AppendLog(context.Background(), row); !errors.Is(err, delivery.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// A different channel of the same occurrence is a distinct key.
	live := delivery.Log{
		ReminderID:   "rem-1",
		OccurrenceAt: occ,
		Channel:      delivery.ChannelLive,
		Status:       delivery.StatusSent,
	}
	if _, err := mem.AppendLog(context.Background(), live); err != nil {
		t.Fatalf("live append: %v", err)
	}

	seen, err := mem.HasTerminal(context.Background(), "rem-1", occ, delivery.ChannelPush, "https://push.example/ep")
	if err != nil || !seen {
		t.Fatalf("expected terminal row, got seen=%v err=%v", seen, err)
	}
	seen, _ = mem.HasTerminal(context.Background(), "rem-1", occ.Add(time.Hour), delivery.ChannelPush, "https://push.example/ep")
	if seen {
		t.Fatal("different occurrence must not share the key")
	}
}

func TestTakeDueConsumesSnoozes(t *testing.T) {
	mem := NewMemory()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	if _, err := mem.AddSnooze(context.Background(), Snooze{ReminderID: "rem-1", FireAt: now}); err != nil {
		t.Fatalf("add snooze: %v", err)
	}
	if _, err := mem.AddSnooze(context.Background(), Snooze{ReminderID: "rem-2", FireAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("add snooze: %v", err)
	}

	due, err := mem.TakeDue(context.Background(), now)
	if err != nil {
		t.Fatalf("take due: %v", err)
	}
	if len(due) != 1 || due[0].ReminderID != "rem-1" {
		t.Fatalf("expected only the due snooze, got %v", due)
	}

	// Consumed entries never reappear.
	due, _ = mem.TakeDue(context.Background(), now)
	if len(due) != 0 {
		t.Fatalf("expected nothing on the second take, got %v", due)
	}
}
