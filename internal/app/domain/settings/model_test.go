package settings

import (
	"testing"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
)

func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 1, hour, minute, 0, 0, time.UTC)
}

func TestQuietHoursSameDayWindow(t *testing.T) {
	q := QuietHours{
		Enabled: true,
		From:    reminder.WallClock{Hour: 13, Minute: 0},
		To:      reminder.WallClock{Hour: 15, Minute: 0},
	}

	if q.Contains(at(12, 59)) {
		t.Fatal("before the window")
	}
	if !q.Contains(at(13, 0)) {
		t.Fatal("window start is inside")
	}
	if !q.Contains(at(14, 30)) {
		t.Fatal("middle is inside")
	}
	if q.Contains(at(15, 0)) {
		t.Fatal("window end is outside")
	}
}

func TestQuietHoursCrossesMidnight(t *testing.T) {
	q := QuietHours{
		Enabled: true,
		From:    reminder.WallClock{Hour: 22, Minute: 0},
		To:      reminder.WallClock{Hour: 6, Minute: 0},
	}

	if !q.Contains(at(23, 30)) {
		t.Fatal("late evening is inside")
	}
	if !q.Contains(at(2, 0)) {
		t.Fatal("early morning is inside")
	}
	if q.Contains(at(12, 0)) {
		t.Fatal("midday is outside")
	}
}

func TestQuietHoursDisabledOrDegenerate(t *testing.T) {
	disabled := QuietHours{From: reminder.WallClock{Hour: 0}, To: reminder.WallClock{Hour: 23}}
	if disabled.Contains(at(12, 0)) {
		t.Fatal("disabled window must contain nothing")
	}

	zero := QuietHours{
		Enabled: true,
		From:    reminder.WallClock{Hour: 8, Minute: 0},
		To:      reminder.WallClock{Hour: 8, Minute: 0},
	}
	if zero.Contains(at(8, 0)) {
		t.Fatal("zero-width window must contain nothing")
	}
}

func TestSettingsValidate(t *testing.T) {
	ok := Defaults("user-1")
	if err := ok.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := Defaults("user-1")
	bad.Timezone = "Nowhere/Town"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected timezone rejection")
	}

	neg := Defaults("user-1")
	neg.DefaultSnooze = -5
	if err := neg.Validate(); err == nil {
		t.Fatal("expected negative snooze rejection")
	}
}
