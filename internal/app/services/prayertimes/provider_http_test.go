package prayertimes

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func timingsHandler(calls *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		fmt.Fprint(w, `{"data":{"timings":{
			"Fajr":"03:12 (CEST)",
			"Dhuhr":"13:05",
			"Asr":"17:20",
			"Maghrib":"21:30",
			"Isha":"23:10"
		}}}`)
	}
}

func TestTimesForParsesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(timingsHandler(&calls))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.Client(), srv.URL, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	loc := Location{City: "Berlin", Country: "Germany"}

	times, err := p.TimesFor(day, loc)
	if err != nil {
		t.Fatalf("times for: %v", err)
	}
	if times.Fajr.Hour() != 3 || times.Fajr.Minute() != 12 {
		t.Fatalf("fajr not parsed (timezone suffix handling), got %v", times.Fajr)
	}
	if times.Isha.Hour() != 23 {
		t.Fatalf("isha not parsed, got %v", times.Isha)
	}

	// Second lookup for the same day and location hits the cache.
	if _, err := p.TimesFor(day, loc); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}

	// A different day goes upstream again.
	if _, err := p.TimesFor(day.AddDate(0, 0, 1), loc); err != nil {
		t.Fatalf("next day lookup: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a second upstream call, got %d", calls)
	}
}

func TestTimesForUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.Client(), srv.URL, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.TimesFor(time.Now(), Location{City: "X", Country: "Y"}); err == nil {
		t.Fatal("expected an error on upstream failure")
	}
}

func TestByName(t *testing.T) {
	times := Times{Maghrib: time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC)}
	got, ok := times.ByName("maghrib")
	if !ok || got.Hour() != 21 {
		t.Fatalf("unexpected ByName result: %v %v", got, ok)
	}
	if _, ok := times.ByName("midnight"); ok {
		t.Fatal("unknown prayer must not resolve")
	}
}
