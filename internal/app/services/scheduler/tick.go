// Package scheduler drives the periodic scan that turns recurrence
// schedules into deliveries.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/metrics"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/prayertimes"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/recurrence"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// Dispatcher is the delivery side of a tick.
type Dispatcher interface {
	Deliver(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time) delivery.Outcome
}

// Tick scans every schedulable reminder once over a half-open window
// (start, end]. One broken reminder never stops the scan, and re-running
// the same window is a no-op because the delivery ledger absorbs
// duplicates.
type Tick struct {
	reminders storage.ReminderStore
	settings  storage.SettingsStore
	snoozes   storage.SnoozeStore
	eval      *recurrence.Evaluator
	disp      Dispatcher
	fanOut    int
	log       *logger.Logger
}

// NewTick creates a tick executor. fanOut bounds concurrent per-reminder
// evaluations; values below 1 mean sequential.
func NewTick(
	reminders storage.ReminderStore,
	settingsStore storage.SettingsStore,
	snoozes storage.SnoozeStore,
	eval *recurrence.Evaluator,
	disp Dispatcher,
	fanOut int,
	log *logger.Logger,
) *Tick {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	if fanOut < 1 {
		fanOut = 1
	}
	return &Tick{
		reminders: reminders,
		settings:  settingsStore,
		snoozes:   snoozes,
		eval:      eval,
		disp:      disp,
		fanOut:    fanOut,
		log:       log,
	}
}

// Run executes one tick over (windowStart, windowEnd].
func (t *Tick) Run(ctx context.Context, windowStart, windowEnd time.Time) error {
	started := time.Now()

	rems, err := t.reminders.ListSchedulable(ctx)
	if err != nil {
		metrics.RecordTick(time.Since(started), false)
		return err
	}

	sem := make(chan struct{}, t.fanOut)
	var wg sync.WaitGroup
	var faults int64
	for _, rem := range rems {
		rem := rem
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := t.scan(ctx, rem, windowStart, windowEnd); err != nil {
				atomic.AddInt64(&faults, 1)
				metrics.RecordSchedulerFault()
				t.log.WithError(err).WithField("reminder_id", rem.ID).Error("reminder evaluation failed")
			}
		}()
	}
	wg.Wait()

	t.drainSnoozes(ctx, windowEnd)

	metrics.RecordTick(time.Since(started), atomic.LoadInt64(&faults) == 0)
	return nil
}

// scan evaluates one reminder against the window and dispatches whatever
// is due.
func (t *Tick) scan(ctx context.Context, rem reminder.Reminder, windowStart, windowEnd time.Time) error {
	// A pinned fire time replaces the schedule entirely.
	if rem.OverrideAt != nil {
		at := rem.OverrideAt.UTC()
		if at.After(windowStart) && !at.After(windowEnd) {
			metrics.RecordOccurrencesEvaluated(1)
			t.disp.Deliver(ctx, rem, at)
		}
		return nil
	}

	occs, err := t.eval.OccurrencesDue(rem.Schedule, t.prayerLocation(ctx, rem.OwnerID), windowStart, windowEnd)
	if err != nil {
		return err
	}
	if len(occs) == 0 {
		return nil
	}
	metrics.RecordOccurrencesEvaluated(len(occs))
	for _, occ := range occs {
		t.disp.Deliver(ctx, rem, occ)
	}
	return nil
}

// drainSnoozes consumes queued snooze re-fires that are due. A snooze for a
// reminder that was deleted or paused in the meantime is dropped.
func (t *Tick) drainSnoozes(ctx context.Context, now time.Time) {
	due, err := t.snoozes.TakeDue(ctx, now)
	if err != nil {
		t.log.WithError(err).Error("take due snoozes failed")
		return
	}
	for _, sn := range due {
		rem, err := t.reminders.GetReminder(ctx, sn.ReminderID)
		if err != nil {
			continue
		}
		if !rem.IsActive || rem.IsCompleted {
			continue
		}
		metrics.RecordOccurrencesEvaluated(1)
		t.disp.Deliver(ctx, rem, sn.FireAt.UTC())
	}
}

func (t *Tick) prayerLocation(ctx context.Context, ownerID string) prayertimes.Location {
	prefs, err := t.settings.GetSettings(ctx, ownerID)
	if err != nil {
		return prayertimes.Location{}
	}
	return prayertimes.Location{City: prefs.City, Country: prefs.Country}
}
