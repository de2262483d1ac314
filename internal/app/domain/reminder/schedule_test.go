package reminder

import (
	"testing"
	"time"
)

func base(mode Mode) Schedule {
	return Schedule{
		Mode:      mode,
		Times:     []WallClock{{Hour: 8, Minute: 0}},
		StartDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Timezone:  "UTC",
	}
}

func TestValidatePerMode(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Schedule)
		wantErr string
	}{
		{"daily ok", func(s *Schedule) {}, ""},
		{"missing timezone", func(s *Schedule) { s.Timezone = "" }, "timezone"},
		{"unknown timezone", func(s *Schedule) { s.Timezone = "Mars/Olympus" }, "timezone"},
		{"missing start", func(s *Schedule) { s.StartDate = time.Time{} }, "startDate"},
		{"end before start", func(s *Schedule) {
			end := s.StartDate.AddDate(0, 0, -1)
			s.EndDate = &end
		}, "endDate"},
		{"bad exdate", func(s *Schedule) { s.Exdates = []string{"June 9"} }, "exdates"},
		{"once needs one time", func(s *Schedule) {
			s.Mode = ModeOnce
			s.Times = []WallClock{{Hour: 8}, {Hour: 9}}
		}, "times"},
		{"weekly needs days", func(s *Schedule) { s.Mode = ModeWeekly }, "daysOfWeek"},
		{"interval needs settings", func(s *Schedule) { s.Mode = ModeInterval }, "interval"},
		{"interval every must be positive", func(s *Schedule) {
			s.Mode = ModeInterval
			s.Interval = &Interval{Every: 0, Unit: UnitHour}
		}, "interval.every"},
		{"prayer unknown name", func(s *Schedule) {
			s.Mode = ModePrayer
			s.Prayer = &Prayer{Name: "midnight", Direction: PrayerAfter}
		}, "prayer.name"},
		{"unknown mode", func(s *Schedule) { s.Mode = "HOURLY" }, "mode"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := base(ModeDaily)
			tc.mutate(&s)
			err := s.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.wantErr {
				t.Fatalf("expected %s rejection, got %s", tc.wantErr, verr.Field)
			}
		})
	}
}

func TestRRuleSkipsPatternChecks(t *testing.T) {
	s := base(ModeWeekly)
	s.DaysOfWeek = nil
	s.RRule = "FREQ=WEEKLY;BYDAY=MO"
	if err := s.Validate(); err != nil {
		t.Fatalf("rrule schedule should skip pattern checks: %v", err)
	}
}

func TestParseWallClock(t *testing.T) {
	wc, err := ParseWallClock("07:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if wc.Hour != 7 || wc.Minute != 30 {
		t.Fatalf("unexpected parse result: %+v", wc)
	}
	if _, err := ParseWallClock("25:00"); err == nil {
		t.Fatal("expected out-of-range rejection")
	}
	if _, err := ParseWallClock("noon"); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestNormalizeSortsSetFields(t *testing.T) {
	s := Schedule{
		Times:      []WallClock{{Hour: 18}, {Hour: 7, Minute: 30}, {Hour: 7, Minute: 5}},
		DaysOfWeek: []time.Weekday{time.Friday, time.Monday},
		Exdates:    []string{"2025-07-01", "2025-06-09"},
	}
	s.Normalize()
	if s.Times[0].Hour != 7 || s.Times[0].Minute != 5 {
		t.Fatalf("times not sorted: %v", s.Times)
	}
	if s.DaysOfWeek[0] != time.Monday {
		t.Fatalf("weekdays not sorted: %v", s.DaysOfWeek)
	}
	if s.Exdates[0] != "2025-06-09" {
		t.Fatalf("exdates not sorted: %v", s.Exdates)
	}
}
