package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mode selects which recurrence variant of a Schedule is in effect.
type Mode string

const (
	ModeOnce     Mode = "ONCE"
	ModeDaily    Mode = "DAILY"
	ModeWeekly   Mode = "WEEKLY"
	ModeMonthly  Mode = "MONTHLY"
	ModeInterval Mode = "INTERVAL"
	ModePrayer   Mode = "PRAYER"
)

// IntervalUnit is the wall-clock step unit for INTERVAL schedules.
type IntervalUnit string

const (
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
	UnitWeek   IntervalUnit = "week"
)

// PrayerDirection places the offset before or after the prayer time.
type PrayerDirection string

const (
	PrayerBefore PrayerDirection = "before"
	PrayerAfter  PrayerDirection = "after"
)

// PrayerNames are the five daily prayers a PRAYER schedule may anchor to.
var PrayerNames = []string{"fajr", "dhuhr", "asr", "maghrib", "isha"}

// WallClock is a time of day with no fixed UTC offset, interpreted against
// the schedule's timezone at evaluation time.
type WallClock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseWallClock parses "HH:mm".
func ParseWallClock(s string) (WallClock, error) {
	var wc WallClock
	if _, err := fmt.Sscanf(s, "%d:%d", &wc.Hour, &wc.Minute); err != nil {
		return WallClock{}, fmt.Errorf("invalid wall-clock time %q", s)
	}
	if wc.Hour < 0 || wc.Hour > 23 || wc.Minute < 0 || wc.Minute > 59 {
		return WallClock{}, fmt.Errorf("wall-clock time %q out of range", s)
	}
	return wc, nil
}

func (w WallClock) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}

// Interval configures an INTERVAL schedule: every N units, stepped in the
// schedule's local wall clock.
type Interval struct {
	Every int          `json:"every"`
	Unit  IntervalUnit `json:"unit"`
}

// Prayer configures a PRAYER schedule relative to a named daily prayer.
type Prayer struct {
	Name      string          `json:"name"`
	Direction PrayerDirection `json:"direction"`
	OffsetMin int             `json:"offsetMin"`
}

// Schedule is the recurrence value object carried by a Reminder. Mode keys
// the variant; only the fields legal for the active mode may be set, which
// Validate enforces at write time.
type Schedule struct {
	Mode       Mode           `json:"mode"`
	Times      []WallClock    `json:"times,omitempty"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty"`
	Interval   *Interval      `json:"interval,omitempty"`
	Prayer     *Prayer        `json:"prayer,omitempty"`
	StartDate  time.Time      `json:"startDate"`
	EndDate    *time.Time     `json:"endDate,omitempty"`
	Timezone   string         `json:"timezone"`
	// Exdates holds local calendar days ("2006-01-02") that never yield an
	// occurrence even when the pattern matches.
	Exdates []string `json:"exdates,omitempty"`
	// RRule, when set, overrides the pattern fields with an RFC 5545
	// recurrence rule.
	RRule string `json:"rrule,omitempty"`
}

// ValidationError reports a malformed schedule or reminder field. It is
// surfaced to callers at write time; evaluation assumes validated input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Location resolves the schedule's timezone. Validate guarantees this
// succeeds for stored schedules.
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return nil, invalid("timezone", "required")
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, invalid("timezone", fmt.Sprintf("unknown timezone %q", s.Timezone))
	}
	return loc, nil
}

// Validate checks per-mode field legality. It is called on create and
// update; the evaluator trusts schedules that passed it.
func (s Schedule) Validate() error {
	if _, err := s.Location(); err != nil {
		return err
	}
	if s.StartDate.IsZero() {
		return invalid("startDate", "required")
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return invalid("endDate", "precedes startDate")
	}
	for _, d := range s.Exdates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return invalid("exdates", fmt.Sprintf("bad date %q", d))
		}
	}

	if s.RRule != "" {
		// The rrule escape hatch bypasses the mode-specific pattern fields;
		// parseability is checked by the evaluator helper at write time.
		return nil
	}

	switch s.Mode {
	case ModeOnce:
		if len(s.Times) != 1 {
			return invalid("times", "ONCE requires exactly one time")
		}
	case ModeDaily, ModeMonthly:
		if len(s.Times) == 0 {
			return invalid("times", string(s.Mode)+" requires at least one time")
		}
	case ModeWeekly:
		if len(s.Times) == 0 {
			return invalid("times", "WEEKLY requires at least one time")
		}
		if len(s.DaysOfWeek) == 0 {
			return invalid("daysOfWeek", "WEEKLY requires at least one weekday")
		}
		for _, d := range s.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				return invalid("daysOfWeek", fmt.Sprintf("bad weekday %d", d))
			}
		}
	case ModeInterval:
		if s.Interval == nil {
			return invalid("interval", "INTERVAL requires interval settings")
		}
		if s.Interval.Every < 1 {
			return invalid("interval.every", "must be >= 1")
		}
		switch s.Interval.Unit {
		case UnitMinute, UnitHour, UnitDay, UnitWeek:
		default:
			return invalid("interval.unit", fmt.Sprintf("unknown unit %q", s.Interval.Unit))
		}
	case ModePrayer:
		if s.Prayer == nil {
			return invalid("prayer", "PRAYER requires prayer settings")
		}
		if !knownPrayer(s.Prayer.Name) {
			return invalid("prayer.name", fmt.Sprintf("unknown prayer %q", s.Prayer.Name))
		}
		switch s.Prayer.Direction {
		case PrayerBefore, PrayerAfter:
		default:
			return invalid("prayer.direction", fmt.Sprintf("unknown direction %q", s.Prayer.Direction))
		}
		if s.Prayer.OffsetMin < 0 {
			return invalid("prayer.offsetMin", "must be >= 0")
		}
	default:
		return invalid("mode", fmt.Sprintf("unknown mode %q", s.Mode))
	}
	return nil
}

func knownPrayer(name string) bool {
	name = strings.ToLower(name)
	for _, p := range PrayerNames {
		if p == name {
			return true
		}
	}
	return false
}

// HasExdate reports whether the given local calendar day is excluded.
func (s Schedule) HasExdate(localDay time.Time) bool {
	key := localDay.Format("2006-01-02")
	for _, d := range s.Exdates {
		if d == key {
			return true
		}
	}
	return false
}

// Normalize sorts the set-valued fields so two structurally equal schedules
// compare equal regardless of input order.
func (s *Schedule) Normalize() {
	sort.Slice(s.Times, func(i, j int) bool {
		if s.Times[i].Hour != s.Times[j].Hour {
			return s.Times[i].Hour < s.Times[j].Hour
		}
		return s.Times[i].Minute < s.Times[j].Minute
	})
	sort.Slice(s.DaysOfWeek, func(i, j int) bool { return s.DaysOfWeek[i] < s.DaysOfWeek[j] })
	sort.Strings(s.Exdates)
}
