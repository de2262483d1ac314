// Package subscription models per-device push endpoints.
package subscription

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no subscription exists for an endpoint.
var ErrNotFound = errors.New("push subscription not found")

// ErrInvalidEndpoint is returned for empty or non-HTTP endpoint URLs.
var ErrInvalidEndpoint = errors.New("invalid push endpoint")

// ErrMissingKeys is returned when p256dh or auth material is absent.
var ErrMissingKeys = errors.New("missing push encryption keys")

// Keys carries the client's web-push encryption material.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is keyed naturally by Endpoint: a device re-registering
// with rotated keys overwrites its previous row in place. Failures counts
// consecutive transient send failures; permanent failures delete the row.
type PushSubscription struct {
	Endpoint   string
	UserID     string
	Keys       Keys
	UserAgent  string
	IP         string
	Failures   int
	LastSentAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
