// Package delivery defines the append-only delivery ledger and the
// classification of send outcomes.
package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicate is returned by stores when a terminal ledger row already
// exists for a dedup key. The dispatcher treats it as success.
var ErrDuplicate = errors.New("duplicate delivery for occurrence")

// Channel identifies the transport an attempt used.
type Channel string

const (
	ChannelLive Channel = "live"
	ChannelPush Channel = "push"
)

// Status is the lifecycle state of a ledger row. sent and failed are
// terminal; rows never leave a terminal state.
type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Log is one append-only delivery attempt. The unique key
// (ReminderID, OccurrenceAt, Channel, Endpoint) is the idempotency source
// of truth; Endpoint is empty for the live channel.
type Log struct {
	ID           string
	ReminderID   string
	OccurrenceAt time.Time
	Channel      Channel
	Endpoint     string
	Status       Status
	Payload      string
	Error        string
	// Permanent marks a failed row whose cause will never succeed on retry
	// (endpoint gone); transient failures leave it false.
	Permanent bool
	CreatedAt time.Time
}

// Terminal reports whether the row has reached a final state.
func (l Log) Terminal() bool {
	return l.Status == StatusSent || l.Status == StatusFailed
}

// DedupKey is the deterministic idempotency key for one occurrence of one
// reminder, shared by all channels of that occurrence.
func DedupKey(reminderID string, occurrenceAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", reminderID, occurrenceAt.Unix())))
	return hex.EncodeToString(sum[:16])
}

// Outcome summarises one occurrence's fan-out across channels.
type Outcome struct {
	ReminderID   string
	OccurrenceAt time.Time
	Delivered    bool
	LiveSent     bool
	PushSent     int
	PushFailed   int
	Pruned       int
	Deduped      bool
	Suppressed   bool
}
