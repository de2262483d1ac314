// Package reminders implements owner-scoped reminder management and the
// acknowledgment state machine (complete, snooze, pause).
package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/settings"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/prayertimes"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/recurrence"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// Sender delivers a reminder out of schedule. The scheduler's dispatcher
// satisfies it.
type Sender interface {
	DeliverNow(ctx context.Context, rem reminder.Reminder) delivery.Outcome
}

// Service owns reminder CRUD and acknowledgment state. Every operation is
// scoped to an owner; a reminder belonging to someone else behaves exactly
// like a missing one.
type Service struct {
	reminders storage.ReminderStore
	settings  storage.SettingsStore
	snoozes   storage.SnoozeStore
	eval      *recurrence.Evaluator
	sender    Sender
	log       *logger.Logger
	now       func() time.Time
}

// New creates a reminder service. sender may be nil when out-of-schedule
// sends are not needed (tests, read-only tooling).
func New(
	reminders storage.ReminderStore,
	settingsStore storage.SettingsStore,
	snoozes storage.SnoozeStore,
	eval *recurrence.Evaluator,
	sender Sender,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("reminders")
	}
	return &Service{
		reminders: reminders,
		settings:  settingsStore,
		snoozes:   snoozes,
		eval:      eval,
		sender:    sender,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Tests use it.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and persists a new reminder for the owner.
func (s *Service) Create(ctx context.Context, ownerID string, rem reminder.Reminder) (reminder.Reminder, error) {
	rem.ID = uuid.NewString()
	rem.OwnerID = ownerID
	rem.IsActive = true
	rem.IsCompleted = false
	rem.Metrics = reminder.Metrics{}
	now := s.now().UTC()
	rem.CreatedAt = now
	rem.UpdatedAt = now
	rem.Schedule.Normalize()

	if err := rem.Validate(); err != nil {
		return reminder.Reminder{}, err
	}

	created, err := s.reminders.CreateReminder(ctx, rem)
	if err != nil {
		return reminder.Reminder{}, err
	}
	s.log.WithField("reminder_id", created.ID).WithField("mode", string(created.Schedule.Mode)).Info("reminder created")
	return created, nil
}

// Update replaces the writable fields of an owned reminder. Acknowledgment
// metrics and ownership are not writable.
func (s *Service) Update(ctx context.Context, ownerID string, rem reminder.Reminder) (reminder.Reminder, error) {
	current, err := s.owned(ctx, ownerID, rem.ID)
	if err != nil {
		return reminder.Reminder{}, err
	}

	current.Type = rem.Type
	current.Title = rem.Title
	current.Description = rem.Description
	current.Priority = rem.Priority
	current.Schedule = rem.Schedule
	current.Sound = rem.Sound
	current.OverrideAt = rem.OverrideAt
	current.UpdatedAt = s.now().UTC()
	current.Schedule.Normalize()

	if err := current.Validate(); err != nil {
		return reminder.Reminder{}, err
	}
	return s.reminders.UpdateReminder(ctx, current)
}

// Get returns an owned reminder.
func (s *Service) Get(ctx context.Context, ownerID, id string) (reminder.Reminder, error) {
	return s.owned(ctx, ownerID, id)
}

// List returns every reminder the owner has.
func (s *Service) List(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	return s.reminders.ListReminders(ctx, ownerID)
}

// Delete removes an owned reminder.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	return s.reminders.DeleteReminder(ctx, id)
}

// Toggle pauses or resumes scheduling. A paused reminder accrues no missed
// occurrences: resuming simply picks up future windows.
func (s *Service) Toggle(ctx context.Context, ownerID, id string, active bool) (reminder.Reminder, error) {
	rem, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if rem.IsActive == active {
		return rem, nil
	}
	rem.IsActive = active
	rem.UpdatedAt = s.now().UTC()
	return s.reminders.UpdateReminder(ctx, rem)
}

// Complete acknowledges the reminder's current occurrence. A ONCE reminder
// terminates; a recurring one increments DoneCount and recomputes the
// streak. Re-acknowledging the same occurrence is a no-op.
func (s *Service) Complete(ctx context.Context, ownerID, id string) (reminder.Reminder, error) {
	rem, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return reminder.Reminder{}, err
	}

	now := s.now().UTC()

	if !rem.Recurring() {
		if rem.IsCompleted {
			return rem, nil
		}
		rem.IsCompleted = true
		rem.Metrics.DoneCount++
		rem.Metrics.Streak = 1
		rem.Metrics.LastAckAt = &now
		rem.UpdatedAt = now
		return s.reminders.UpdateReminder(ctx, rem)
	}

	last, prev, haveLast, havePrev, err := s.eval.LatestTwoBefore(rem.Schedule, s.prayerLocation(ctx, ownerID), now)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if !haveLast {
		// Nothing has fired yet; treat the ack as covering the first
		// upcoming occurrence's slot.
		last = now
	}

	// An ack at or after the latest occurrence covers it. Acking the same
	// slot twice changes nothing.
	if rem.Metrics.LastAckAt != nil && !rem.Metrics.LastAckAt.Before(last) {
		return rem, nil
	}

	// The streak continues only when the previous occurrence was also
	// acknowledged, meaning no slot was skipped in between.
	continued := havePrev && rem.Metrics.LastAckAt != nil && !rem.Metrics.LastAckAt.Before(prev)
	if continued {
		rem.Metrics.Streak++
	} else {
		rem.Metrics.Streak = 1
	}
	rem.Metrics.DoneCount++
	rem.Metrics.LastAckAt = &now
	rem.UpdatedAt = now
	return s.reminders.UpdateReminder(ctx, rem)
}

// Snooze defers the current occurrence by the given minutes (the user's
// default when minutes <= 0) and counts it as skipped. Each snooze queues
// exactly one extra delivery; it never shifts the recurrence pattern.
func (s *Service) Snooze(ctx context.Context, ownerID, id string, minutes int) (reminder.Reminder, error) {
	rem, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return reminder.Reminder{}, err
	}

	if minutes <= 0 {
		prefs, err := s.settings.GetSettings(ctx, ownerID)
		if err != nil {
			prefs = settings.Defaults(ownerID)
		}
		minutes = prefs.DefaultSnooze
	}
	if minutes <= 0 {
		minutes = settings.DefaultSnoozeMinutes
	}

	now := s.now().UTC()
	fireAt := now.Add(time.Duration(minutes) * time.Minute)

	// A re-fire landing on or after the next scheduled occurrence would
	// notify twice; the pattern already covers that instant.
	queue := true
	if next, ok, err := s.eval.NextAfter(rem.Schedule, s.prayerLocation(ctx, ownerID), now); err == nil && ok && !next.After(fireAt) {
		queue = false
	}
	if queue {
		if _, err := s.snoozes.AddSnooze(ctx, storage.Snooze{
			ID:         uuid.NewString(),
			ReminderID: rem.ID,
			FireAt:     fireAt,
			CreatedAt:  now,
		}); err != nil {
			return reminder.Reminder{}, err
		}
	}

	rem.Metrics.SkipCount++
	rem.Metrics.Streak = 0
	rem.UpdatedAt = now
	s.log.WithField("reminder_id", rem.ID).WithField("minutes", minutes).Debug("reminder snoozed")
	return s.reminders.UpdateReminder(ctx, rem)
}

// SendNow delivers the reminder immediately, outside its schedule and
// bypassing quiet hours.
func (s *Service) SendNow(ctx context.Context, ownerID, id string) (delivery.Outcome, error) {
	rem, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return delivery.Outcome{}, err
	}
	if s.sender == nil {
		return delivery.Outcome{}, nil
	}
	return s.sender.DeliverNow(ctx, rem), nil
}

// Settings returns the owner's reminder preferences, defaults included.
func (s *Service) Settings(ctx context.Context, ownerID string) (settings.UserSettings, error) {
	return s.settings.GetSettings(ctx, ownerID)
}

// UpdateSettings persists the owner's reminder preferences.
func (s *Service) UpdateSettings(ctx context.Context, prefs settings.UserSettings) (settings.UserSettings, error) {
	if err := prefs.Validate(); err != nil {
		return settings.UserSettings{}, err
	}
	prefs.UpdatedAt = s.now().UTC()
	return s.settings.UpsertSettings(ctx, prefs)
}

func (s *Service) owned(ctx context.Context, ownerID, id string) (reminder.Reminder, error) {
	rem, err := s.reminders.GetReminder(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if rem.OwnerID != ownerID {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	return rem, nil
}

func (s *Service) prayerLocation(ctx context.Context, ownerID string) prayertimes.Location {
	prefs, err := s.settings.GetSettings(ctx, ownerID)
	if err != nil {
		return prayertimes.Location{}
	}
	return prayertimes.Location{City: prefs.City, Country: prefs.Country}
}
