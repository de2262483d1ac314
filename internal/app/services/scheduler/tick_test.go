package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/recurrence"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/system"
)

type captureDispatcher struct {
	mu        sync.Mutex
	delivered []delivery.Outcome
}

func (c *captureDispatcher) Deliver(_ context.Context, rem reminder.Reminder, occurrenceAt time.Time) delivery.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := delivery.Outcome{ReminderID: rem.ID, OccurrenceAt: occurrenceAt, Delivered: true}
	c.delivered = append(c.delivered, out)
	return out
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

func seedReminder(t *testing.T, mem *storage.Memory, id string, sched reminder.Schedule) reminder.Reminder {
	t.Helper()
	rem, err := mem.CreateReminder(context.Background(), reminder.Reminder{
		ID:       id,
		OwnerID:  "user-1",
		Title:    id,
		Schedule: sched,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
	return rem
}

func daily(hour int) reminder.Schedule {
	return reminder.Schedule{
		Mode:      reminder.ModeDaily,
		Times:     []reminder.WallClock{{Hour: hour, Minute: 0}},
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Timezone:  "UTC",
	}
}

func TestTickDeliversDueOccurrences(t *testing.T) {
	mem := storage.NewMemory()
	seedReminder(t, mem, "due", daily(8))
	seedReminder(t, mem, "not-due", daily(20))

	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 4, nil)

	err := tick.Run(context.Background(),
		time.Date(2025, 6, 1, 7, 59, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if disp.count() != 1 {
		t.Fatalf("expected one delivery, got %v", disp.delivered)
	}
	if disp.delivered[0].ReminderID != "due" {
		t.Fatalf("wrong reminder delivered: %+v", disp.delivered[0])
	}
}

func TestBrokenReminderDoesNotStopTheScan(t *testing.T) {
	mem := storage.NewMemory()
	// A schedule with an unknown timezone fails evaluation; persisted
	// directly to bypass write-time validation.
	seedReminder(t, mem, "broken", reminder.Schedule{
		Mode:      reminder.ModeDaily,
		Times:     []reminder.WallClock{{Hour: 8, Minute: 0}},
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Timezone:  "Not/AZone",
	})
	seedReminder(t, mem, "healthy", daily(8))

	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 4, nil)

	err := tick.Run(context.Background(),
		time.Date(2025, 6, 1, 7, 59, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick must not fail on one broken reminder: %v", err)
	}
	if disp.count() != 1 || disp.delivered[0].ReminderID != "healthy" {
		t.Fatalf("healthy reminder must still deliver: %v", disp.delivered)
	}
}

func TestPausedAndCompletedAreSkipped(t *testing.T) {
	mem := storage.NewMemory()
	paused := seedReminder(t, mem, "paused", daily(8))
	paused.IsActive = false
	if _, err := mem.UpdateReminder(context.Background(), paused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 1, nil)

	err := tick.Run(context.Background(),
		time.Date(2025, 6, 1, 7, 59, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if disp.count() != 0 {
		t.Fatalf("paused reminder must not deliver: %v", disp.delivered)
	}
}

func TestOverrideReplacesSchedule(t *testing.T) {
	mem := storage.NewMemory()
	over := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	rem := seedReminder(t, mem, "override", daily(8))
	rem.OverrideAt = &over
	if _, err := mem.UpdateReminder(context.Background(), rem); err != nil {
		t.Fatalf("set override: %v", err)
	}

	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 1, nil)

	// The pattern's 08:00 slot is ignored.
	err := tick.Run(context.Background(),
		time.Date(2025, 6, 1, 7, 59, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if disp.count() != 0 {
		t.Fatalf("override must mute the pattern: %v", disp.delivered)
	}

	// The override instant fires.
	err = tick.Run(context.Background(),
		time.Date(2025, 6, 1, 14, 29, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if disp.count() != 1 || !disp.delivered[0].OccurrenceAt.Equal(over) {
		t.Fatalf("expected the override delivery: %v", disp.delivered)
	}
}

func TestTickDrainsDueSnoozes(t *testing.T) {
	mem := storage.NewMemory()
	rem := seedReminder(t, mem, "snoozed", daily(8))

	fireAt := time.Date(2025, 6, 1, 8, 15, 0, 0, time.UTC)
	if _, err := mem.AddSnooze(context.Background(), storage.Snooze{
		ReminderID: rem.ID,
		FireAt:     fireAt,
	}); err != nil {
		t.Fatalf("add snooze: %v", err)
	}

	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 1, nil)

	err := tick.Run(context.Background(),
		time.Date(2025, 6, 1, 8, 14, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 15, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if disp.count() != 1 || !disp.delivered[0].OccurrenceAt.Equal(fireAt) {
		t.Fatalf("expected the snooze re-fire, got %v", disp.delivered)
	}

	// The snooze was consumed; re-running the window adds nothing.
	err = tick.Run(context.Background(),
		time.Date(2025, 6, 1, 8, 14, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 15, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if disp.count() != 1 {
		t.Fatalf("snooze must fire once, got %v", disp.delivered)
	}
}

func TestSnoozeForPausedReminderIsDropped(t *testing.T) {
	mem := storage.NewMemory()
	rem := seedReminder(t, mem, "snoozed-paused", daily(8))
	if _, err := mem.AddSnooze(context.Background(), storage.Snooze{
		ReminderID: rem.ID,
		FireAt:     time.Date(2025, 6, 1, 8, 15, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("add snooze: %v", err)
	}
	rem.IsActive = false
	if _, err := mem.UpdateReminder(context.Background(), rem); err != nil {
		t.Fatalf("pause: %v", err)
	}

	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 1, nil)

	err := tick.Run(context.Background(),
		time.Date(2025, 6, 1, 8, 14, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 16, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if disp.count() != 0 {
		t.Fatalf("paused reminder's snooze must be dropped, got %v", disp.delivered)
	}
}

func TestRunnerResumesFromPersistedTick(t *testing.T) {
	mem := storage.NewMemory()
	seedReminder(t, mem, "resume", daily(8))

	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 1, nil)
	runner := NewRunner(tick, mem, time.Minute, nil)

	// Pretend a previous process finished a tick just before 08:00.
	last := time.Date(2025, 6, 1, 7, 59, 30, 0, time.UTC)
	if err := mem.SaveLastTick(context.Background(), last); err != nil {
		t.Fatalf("save last tick: %v", err)
	}
	runner.lastTick = last
	runner.now = func() time.Time { return time.Date(2025, 6, 1, 8, 0, 30, 0, time.UTC) }

	if err := runner.TickNow(context.Background()); err != nil {
		t.Fatalf("tick now: %v", err)
	}
	if disp.count() != 1 {
		t.Fatalf("expected the 08:00 occurrence after restart, got %v", disp.delivered)
	}

	saved, err := mem.LastTick(context.Background())
	if err != nil {
		t.Fatalf("last tick: %v", err)
	}
	if !saved.Equal(time.Date(2025, 6, 1, 8, 0, 30, 0, time.UTC)) {
		t.Fatalf("tick bound not persisted, got %v", saved)
	}
}

func TestRunnerLifecycle(t *testing.T) {
	mem := storage.NewMemory()
	disp := &captureDispatcher{}
	tick := NewTick(mem, mem, mem, recurrence.New(nil), disp, 1, nil)

	// Drive the runner through the interface the runtime uses.
	var svc system.Service = NewRunner(tick, mem, time.Minute, nil)

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
