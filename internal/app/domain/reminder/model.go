// Package reminder holds the reminder aggregate and its recurrence schedule.
package reminder

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a reminder does not exist or is not owned by
// the caller. Ownership misses are indistinguishable from absence on purpose.
var ErrNotFound = errors.New("reminder not found")

// Priority orders reminders for presentation; delivery ignores it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SoundSettings selects the notification sound and vibration behaviour.
type SoundSettings struct {
	Sound   string `json:"sound"`
	Vibrate bool   `json:"vibrate"`
	Volume  int    `json:"volume"`
}

// Metrics tracks acknowledgment history for a reminder.
type Metrics struct {
	Streak    int        `json:"streak"`
	DoneCount int        `json:"doneCount"`
	SkipCount int        `json:"skipCount"`
	LastAckAt *time.Time `json:"lastAckAt,omitempty"`
}

// Reminder is owned exclusively by its creator. IsActive gates scheduling;
// IsCompleted terminates ONCE reminders.
type Reminder struct {
	ID          string
	OwnerID     string
	Type        string
	Title       string
	Description string
	Priority    Priority
	Schedule    Schedule
	Sound       SoundSettings
	// OverrideAt, when set, replaces the schedule with a single absolute
	// fire time.
	OverrideAt  *time.Time
	IsActive    bool
	IsCompleted bool
	Metrics     Metrics
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Recurring reports whether the reminder yields more than one occurrence.
func (r Reminder) Recurring() bool {
	return r.Schedule.Mode != ModeOnce && r.OverrideAt == nil
}

// Validate checks the reminder's writable fields.
func (r Reminder) Validate() error {
	if r.OwnerID == "" {
		return invalid("ownerId", "required")
	}
	if r.Title == "" {
		return invalid("title", "required")
	}
	switch r.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return invalid("priority", "unknown priority")
	}
	if r.OverrideAt != nil {
		return nil
	}
	return r.Schedule.Validate()
}
