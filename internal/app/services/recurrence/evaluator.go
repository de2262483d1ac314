// Package recurrence expands reminder schedules into concrete due instants.
//
// All wall-clock fields are interpreted in the schedule's timezone and only
// converted to absolute instants for window comparison, so interval
// arithmetic survives DST transitions. Windows are half-open (start, end]:
// a boundary instant belongs to exactly one tick.
package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/prayertimes"
)

// stepCap bounds pattern iteration so a degenerate schedule cannot spin a
// tick forever.
const stepCap = 200000

// Evaluator is a pure schedule expander. The prayer provider is its only
// collaborator and is itself pure per (date, location).
type Evaluator struct {
	prayers prayertimes.Provider
}

// New creates an evaluator. The provider may be nil if no PRAYER schedules
// are ever evaluated.
func New(prayers prayertimes.Provider) *Evaluator {
	return &Evaluator{prayers: prayers}
}

// OccurrencesDue returns every occurrence of sched falling in
// (windowStart, windowEnd], sorted ascending. The schedule must already
// have passed Validate; a malformed one yields an error, never a panic.
func (e *Evaluator) OccurrencesDue(sched reminder.Schedule, loc prayertimes.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if !windowEnd.After(windowStart) {
		return nil, nil
	}
	tz, err := sched.Location()
	if err != nil {
		return nil, err
	}

	var raw []time.Time
	switch {
	case sched.RRule != "":
		raw, err = e.rruleOccurrences(sched, tz, windowStart, windowEnd)
	case sched.Mode == reminder.ModeInterval:
		raw, err = e.intervalOccurrences(sched, tz, windowStart, windowEnd)
	case sched.Mode == reminder.ModePrayer:
		raw, err = e.prayerOccurrences(sched, tz, loc, windowStart, windowEnd)
	default:
		raw, err = e.calendarOccurrences(sched, tz, windowStart, windowEnd)
	}
	if err != nil {
		return nil, err
	}

	var out []time.Time
	for _, occ := range raw {
		if occ.After(windowStart) && !occ.After(windowEnd) && e.inRange(sched, tz, occ) {
			out = append(out, occ)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// inRange applies the startDate/endDate day bounds and exdates, all in
// local calendar terms.
func (e *Evaluator) inRange(sched reminder.Schedule, tz *time.Location, occ time.Time) bool {
	local := occ.In(tz)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)

	start := sched.StartDate.In(tz)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, tz)
	if day.Before(startDay) {
		return false
	}
	if sched.EndDate != nil {
		end := sched.EndDate.In(tz)
		endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, tz)
		if day.After(endDay) {
			return false
		}
	}
	return !sched.HasExdate(day)
}

// calendarOccurrences handles ONCE, DAILY, WEEKLY and MONTHLY: per matching
// local day, one instant per configured wall-clock time.
func (e *Evaluator) calendarOccurrences(sched reminder.Schedule, tz *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	start := sched.StartDate.In(tz)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, tz)

	if sched.Mode == reminder.ModeOnce {
		t := sched.Times[0]
		return []time.Time{time.Date(startDay.Year(), startDay.Month(), startDay.Day(), t.Hour, t.Minute, 0, 0, tz)}, nil
	}

	// Scan one day beyond each window bound; timezone offsets can move an
	// instant across a UTC day boundary.
	scanFrom := windowStart.In(tz).AddDate(0, 0, -1)
	scanFrom = time.Date(scanFrom.Year(), scanFrom.Month(), scanFrom.Day(), 0, 0, 0, 0, tz)
	if scanFrom.Before(startDay) {
		scanFrom = startDay
	}
	scanTo := windowEnd.In(tz).AddDate(0, 0, 1)

	var out []time.Time
	for day := scanFrom; !day.After(scanTo); day = day.AddDate(0, 0, 1) {
		if !e.dayMatches(sched, startDay, day) {
			continue
		}
		for _, t := range sched.Times {
			out = append(out, time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, tz))
		}
	}
	return out, nil
}

func (e *Evaluator) dayMatches(sched reminder.Schedule, startDay, day time.Time) bool {
	switch sched.Mode {
	case reminder.ModeDaily:
		return true
	case reminder.ModeWeekly:
		for _, wd := range sched.DaysOfWeek {
			if day.Weekday() == wd {
				return true
			}
		}
		return false
	case reminder.ModeMonthly:
		// Same day-of-month as startDate, clamped to shorter months.
		want := startDay.Day()
		if last := daysInMonth(day.Year(), day.Month()); want > last {
			want = last
		}
		return day.Day() == want
	default:
		return false
	}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// intervalOccurrences expands an INTERVAL schedule. The k-th occurrence is
// the anchor's local clock fields advanced by k steps and renormalized in
// the schedule's timezone. Instants depend only on the anchor and k, never
// on the window that happened to observe them, and a 24-hour daily interval
// keeps its local hour across a DST shift.
func (e *Evaluator) intervalOccurrences(sched reminder.Schedule, tz *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	anchor := e.intervalAnchor(sched, tz)
	iv := sched.Interval

	occurrence := func(k int) time.Time {
		return addLocal(anchor, iv.Every*k, iv.Unit, tz)
	}

	// Fast-forward close to the window; local steps never drift more than
	// a DST offset from fixed-duration arithmetic.
	k := 0
	if gap := windowStart.Sub(anchor); gap > 0 {
		if est := int(gap/approxStep(iv)) - 2; est > 0 {
			k = est
		}
	}
	for k > 0 && occurrence(k).After(windowStart) {
		k--
	}

	var out []time.Time
	for i := 0; i < stepCap; i++ {
		occ := occurrence(k + i)
		if occ.After(windowEnd) {
			return out, nil
		}
		out = append(out, occ)
	}
	return nil, fmt.Errorf("interval expansion exceeded %d steps", stepCap)
}

func (e *Evaluator) intervalAnchor(sched reminder.Schedule, tz *time.Location) time.Time {
	start := sched.StartDate.In(tz)
	hour, minute := start.Hour(), start.Minute()
	if len(sched.Times) > 0 {
		hour, minute = sched.Times[0].Hour, sched.Times[0].Minute
	}
	return time.Date(start.Year(), start.Month(), start.Day(), hour, minute, 0, 0, tz)
}

func approxStep(iv *reminder.Interval) time.Duration {
	switch iv.Unit {
	case reminder.UnitMinute:
		return time.Duration(iv.Every) * time.Minute
	case reminder.UnitHour:
		return time.Duration(iv.Every) * time.Hour
	case reminder.UnitDay:
		return time.Duration(iv.Every) * 24 * time.Hour
	default:
		return time.Duration(iv.Every) * 7 * 24 * time.Hour
	}
}

func addLocal(anchor time.Time, amount int, unit reminder.IntervalUnit, tz *time.Location) time.Time {
	local := anchor.In(tz)
	y, mo, d := local.Date()
	h, mi := local.Hour(), local.Minute()
	switch unit {
	case reminder.UnitMinute:
		mi += amount
	case reminder.UnitHour:
		h += amount
	case reminder.UnitDay:
		d += amount
	case reminder.UnitWeek:
		d += amount * 7
	}
	return time.Date(y, mo, d, h, mi, 0, 0, tz)
}

// prayerOccurrences asks the provider for each candidate local day and
// applies the configured offset.
func (e *Evaluator) prayerOccurrences(sched reminder.Schedule, tz *time.Location, loc prayertimes.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if e.prayers == nil {
		return nil, fmt.Errorf("prayer schedule requires a prayer time provider")
	}

	scanFrom := windowStart.In(tz).AddDate(0, 0, -1)
	scanFrom = time.Date(scanFrom.Year(), scanFrom.Month(), scanFrom.Day(), 0, 0, 0, 0, tz)
	scanTo := windowEnd.In(tz).AddDate(0, 0, 1)

	name := strings.ToLower(sched.Prayer.Name)
	offset := time.Duration(sched.Prayer.OffsetMin) * time.Minute
	if sched.Prayer.Direction == reminder.PrayerBefore {
		offset = -offset
	}

	var out []time.Time
	for day := scanFrom; !day.After(scanTo); day = day.AddDate(0, 0, 1) {
		times, err := e.prayers.TimesFor(day, loc)
		if err != nil {
			return nil, fmt.Errorf("prayer times for %s: %w", day.Format("2006-01-02"), err)
		}
		at, ok := times.ByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown prayer %q", name)
		}
		out = append(out, at.Add(offset))
	}
	return out, nil
}

// rruleOccurrences expands the RFC 5545 escape hatch.
func (e *Evaluator) rruleOccurrences(sched reminder.Schedule, tz *time.Location, windowStart, windowEnd time.Time) ([]time.Time, error) {
	rule, err := ParseRule(sched.RRule, sched.StartDate, tz)
	if err != nil {
		return nil, err
	}
	return rule.Between(windowStart, windowEnd, true), nil
}

// ParseRule parses an RRULE string against the schedule's start and
// timezone. Exposed so write-time validation can reject unparseable rules.
func ParseRule(raw string, startDate time.Time, tz *time.Location) (*rrule.RRule, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}
	start := startDate.In(tz)
	opt.Dtstart = time.Date(start.Year(), start.Month(), start.Day(),
		start.Hour(), start.Minute(), 0, 0, tz)
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}
	return rule, nil
}

// NextAfter returns the earliest occurrence strictly after the given
// instant, searching up to ~13 months ahead. ok is false when the schedule
// yields nothing more.
func (e *Evaluator) NextAfter(sched reminder.Schedule, loc prayertimes.Location, after time.Time) (time.Time, bool, error) {
	horizon := after.AddDate(0, 0, 400)
	if sched.EndDate != nil && sched.EndDate.Before(horizon) {
		horizon = sched.EndDate.AddDate(0, 0, 1)
	}
	// Widen the probe window geometrically so dense schedules stay cheap.
	for span := 24 * time.Hour; ; span *= 8 {
		end := after.Add(span)
		if end.After(horizon) {
			end = horizon
		}
		occs, err := e.OccurrencesDue(sched, loc, after, end)
		if err != nil {
			return time.Time{}, false, err
		}
		if len(occs) > 0 {
			return occs[0], true, nil
		}
		if !end.Before(horizon) {
			return time.Time{}, false, nil
		}
	}
}

// LatestTwoBefore returns the most recent occurrence at or before the
// given instant and the one preceding it. Either may be absent.
func (e *Evaluator) LatestTwoBefore(sched reminder.Schedule, loc prayertimes.Location, at time.Time) (last, prev time.Time, haveLast, havePrev bool, err error) {
	var occs []time.Time
	for span := 48 * time.Hour; span <= 24*400*time.Hour; span *= 8 {
		start := at.Add(-span)
		var e2 error
		occs, e2 = e.OccurrencesDue(sched, loc, start, at)
		if e2 != nil {
			return time.Time{}, time.Time{}, false, false, e2
		}
		if len(occs) >= 2 {
			return occs[len(occs)-1], occs[len(occs)-2], true, true, nil
		}
		if start.Before(sched.StartDate) {
			break
		}
	}
	if len(occs) == 1 {
		return occs[0], time.Time{}, true, false, nil
	}
	return time.Time{}, time.Time{}, false, false, nil
}
