// Package settings holds per-user reminder preferences.
package settings

import (
	"errors"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
)

// DefaultSnoozeMinutes is applied when a user has no saved snooze length.
const DefaultSnoozeMinutes = 10

// QuietHours is a daily window during which delivery is suppressed. The
// window may cross midnight (From 22:00, To 06:00).
type QuietHours struct {
	Enabled bool               `json:"enabled"`
	From    reminder.WallClock `json:"from"`
	To      reminder.WallClock `json:"to"`
}

// Contains reports whether the local time of day t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	from := q.From.Hour*60 + q.From.Minute
	to := q.To.Hour*60 + q.To.Minute
	if from == to {
		return false
	}
	if from < to {
		return minute >= from && minute < to
	}
	// crosses midnight
	return minute >= from || minute < to
}

// UserSettings is one row per user. Timezone and city/country feed prayer
// lookups; the rest are defaults applied to new reminders.
type UserSettings struct {
	UserID          string
	Timezone        string
	City            string
	Country         string
	DefaultSnooze   int // minutes
	QuietHours      QuietHours
	DefaultPriority reminder.Priority
	DefaultSound    reminder.SoundSettings
	UpdatedAt       time.Time
}

// Validate checks the writable fields.
func (s UserSettings) Validate() error {
	if s.UserID == "" {
		return errors.New("settings: user id required")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return errors.New("settings: unknown timezone " + s.Timezone)
		}
	}
	if s.DefaultSnooze < 0 {
		return errors.New("settings: negative snooze")
	}
	return nil
}

// Defaults returns baseline settings for a user that has never saved any.
func Defaults(userID string) UserSettings {
	return UserSettings{
		UserID:          userID,
		Timezone:        "UTC",
		DefaultSnooze:   DefaultSnoozeMinutes,
		DefaultPriority: reminder.PriorityNormal,
	}
}
