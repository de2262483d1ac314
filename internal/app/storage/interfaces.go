package storage

import (
	"context"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/settings"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/subscription"
)

// ReminderStore persists reminders.
type ReminderStore interface {
	CreateReminder(ctx context.Context, rem reminder.Reminder) (reminder.Reminder, error)
	UpdateReminder(ctx context.Context, rem reminder.Reminder) (reminder.Reminder, error)
	GetReminder(ctx context.Context, id string) (reminder.Reminder, error)
	ListReminders(ctx context.Context, ownerID string) ([]reminder.Reminder, error)
	// ListSchedulable returns reminders with IsActive=true and
	// IsCompleted=false across all owners; the tick scans these.
	ListSchedulable(ctx context.Context) ([]reminder.Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
}

// SubscriptionStore persists push subscriptions keyed by endpoint.
type SubscriptionStore interface {
	// UpsertSubscription inserts or overwrites the row for sub.Endpoint.
	UpsertSubscription(ctx context.Context, sub subscription.PushSubscription) (subscription.PushSubscription, error)
	GetSubscription(ctx context.Context, endpoint string) (subscription.PushSubscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]subscription.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// DeliveryLogStore is the append-only delivery ledger. AppendLog must
// reject a second terminal row for the same
// (reminder_id, occurrence_at, channel, endpoint) key with
// delivery.ErrDuplicate, serialized at the storage layer so overlapping
// ticks cannot double-deliver.
type DeliveryLogStore interface {
	AppendLog(ctx context.Context, log delivery.Log) (delivery.Log, error)
	HasTerminal(ctx context.Context, reminderID string, occurrenceAt time.Time, channel delivery.Channel, endpoint string) (bool, error)
	ListLogs(ctx context.Context, reminderID string) ([]delivery.Log, error)
}

// SettingsStore persists per-user reminder settings.
type SettingsStore interface {
	UpsertSettings(ctx context.Context, s settings.UserSettings) (settings.UserSettings, error)
	// GetSettings returns settings.Defaults(userID) when the user never
	// saved any.
	GetSettings(ctx context.Context, userID string) (settings.UserSettings, error)
}

// Snooze is a single extra one-off delivery scheduled outside the
// recurrence pattern.
type Snooze struct {
	ID         string
	ReminderID string
	FireAt     time.Time
	CreatedAt  time.Time
}

// SnoozeStore queues one-off snooze re-fires. TakeDue removes and returns
// entries with FireAt <= now, so each re-fire is consumed by exactly one
// tick.
type SnoozeStore interface {
	AddSnooze(ctx context.Context, s Snooze) (Snooze, error)
	TakeDue(ctx context.Context, now time.Time) ([]Snooze, error)
}

// TickStateStore persists the scheduler's last completed window bound so a
// restarted process resumes scanning where it stopped.
type TickStateStore interface {
	LastTick(ctx context.Context) (time.Time, error)
	SaveLastTick(ctx context.Context, at time.Time) error
}
