package prayertimes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// HTTPProvider fetches prayer times from an AlAdhan-compatible timings API
// and caches per (day, location) since the upstream answer never changes
// for a past or current day.
type HTTPProvider struct {
	client   *http.Client
	endpoint *url.URL
	log      *logger.Logger

	mu    sync.Mutex
	cache map[string]Times
}

// NewHTTPProvider constructs a provider against the given timings endpoint.
func NewHTTPProvider(client *http.Client, endpoint string, log *logger.Logger) (*HTTPProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("prayer times endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse prayer times endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("prayertimes")
	}
	return &HTTPProvider{
		client:   client,
		endpoint: parsed,
		log:      log,
		cache:    make(map[string]Times),
	}, nil
}

func cacheKey(date time.Time, loc Location) string {
	return date.Format("2006-01-02") + "|" + loc.City + "|" + loc.Country
}

// TimesFor resolves the five prayer times for the date's calendar day in
// the date's location (timezone taken from the date value itself).
func (p *HTTPProvider) TimesFor(date time.Time, loc Location) (Times, error) {
	key := cacheKey(date, loc)
	p.mu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	requestURL := *p.endpoint
	q := requestURL.Query()
	q.Set("city", loc.City)
	q.Set("country", loc.Country)
	q.Set("date", date.Format("02-01-2006"))
	requestURL.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return Times{}, fmt.Errorf("build prayer times request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Times{}, fmt.Errorf("prayer times request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Times{}, fmt.Errorf("prayer times status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Timings map[string]string `json:"timings"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Times{}, fmt.Errorf("decode prayer times response: %w", err)
	}

	times, err := parseTimings(payload.Data.Timings, date)
	if err != nil {
		return Times{}, err
	}

	p.mu.Lock()
	p.cache[key] = times
	p.mu.Unlock()
	return times, nil
}

func parseTimings(timings map[string]string, date time.Time) (Times, error) {
	at := func(name string) (time.Time, error) {
		raw, ok := timings[name]
		if !ok {
			return time.Time{}, fmt.Errorf("prayer %s missing from response", name)
		}
		// Some deployments append the timezone in parentheses: "05:12 (CET)".
		if idx := strings.IndexByte(raw, ' '); idx > 0 {
			raw = raw[:idx]
		}
		parsed, err := time.Parse("15:04", raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse prayer time %q: %w", raw, err)
		}
		return time.Date(date.Year(), date.Month(), date.Day(),
			parsed.Hour(), parsed.Minute(), 0, 0, date.Location()), nil
	}

	var (
		t   Times
		err error
	)
	if t.Fajr, err = at("Fajr"); err != nil {
		return Times{}, err
	}
	if t.Dhuhr, err = at("Dhuhr"); err != nil {
		return Times{}, err
	}
	if t.Asr, err = at("Asr"); err != nil {
		return Times{}, err
	}
	if t.Maghrib, err = at("Maghrib"); err != nil {
		return Times{}, err
	}
	if t.Isha, err = at("Isha"); err != nil {
		return Times{}, err
	}
	return t, nil
}
