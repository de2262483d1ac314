// Package prayertimes resolves the five daily prayer times for a location.
package prayertimes

import "time"

// Location identifies where prayer times are computed for. City/Country
// come from the owner's reminder settings.
type Location struct {
	City    string
	Country string
}

// Times are the five named prayer wall-clock instants for one local day,
// already resolved in the requested timezone.
type Times struct {
	Fajr    time.Time
	Dhuhr   time.Time
	Asr     time.Time
	Maghrib time.Time
	Isha    time.Time
}

// ByName returns the named prayer's time.
func (t Times) ByName(name string) (time.Time, bool) {
	switch name {
	case "fajr":
		return t.Fajr, true
	case "dhuhr":
		return t.Dhuhr, true
	case "asr":
		return t.Asr, true
	case "maghrib":
		return t.Maghrib, true
	case "isha":
		return t.Isha, true
	}
	return time.Time{}, false
}

// Provider looks up prayer times for one calendar day at a location. It is
// an external collaborator; implementations must be pure with respect to
// (date, location).
type Provider interface {
	TimesFor(date time.Time, loc Location) (Times, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(date time.Time, loc Location) (Times, error)

func (f ProviderFunc) TimesFor(date time.Time, loc Location) (Times, error) {
	return f(date, loc)
}
