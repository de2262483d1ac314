// Package delivery fans one due occurrence out across the live and push
// channels, with the delivery ledger as the idempotency gate.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/time/rate"

	domain "github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/subscription"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/livehub"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/metrics"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

const quietHoursReason = "suppressed: quiet hours"

// Dispatcher delivers occurrences. It never returns an error to abort the
// caller's batch; every path resolves to an Outcome.
type Dispatcher struct {
	subs        storage.SubscriptionStore
	ledger      storage.DeliveryLogStore
	settings    storage.SettingsStore
	live        livehub.Registry
	push        PushClient
	pushTimeout time.Duration
	limiter     *rate.Limiter
	log         *logger.Logger
	now         func() time.Time
}

// NewDispatcher wires the dispatcher. live and push may be nil, disabling
// the corresponding channel.
func NewDispatcher(
	subs storage.SubscriptionStore,
	ledger storage.DeliveryLogStore,
	settings storage.SettingsStore,
	live livehub.Registry,
	push PushClient,
	pushTimeout time.Duration,
	log *logger.Logger,
) *Dispatcher {
	if pushTimeout <= 0 {
		pushTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("dispatcher")
	}
	return &Dispatcher{
		subs:        subs,
		ledger:      ledger,
		settings:    settings,
		live:        live,
		push:        push,
		pushTimeout: pushTimeout,
		log:         log,
		now:         time.Now,
	}
}

// WithClock overrides the dispatcher clock, for tests.
func (d *Dispatcher) WithClock(now func() time.Time) { d.now = now }

// WithRateLimit caps outbound push sends at perSecond with the given
// burst, so a wide tick cannot flood the push provider. perSecond of
// zero or less disables the cap.
func (d *Dispatcher) WithRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		d.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// payload is the snapshot recorded in the ledger and sent on both channels.
type payload struct {
	ReminderID   string                 `json:"reminderId"`
	DedupKey     string                 `json:"dedupKey"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description,omitempty"`
	Priority     reminder.Priority      `json:"priority,omitempty"`
	Sound        reminder.SoundSettings `json:"sound"`
	OccurrenceAt time.Time              `json:"occurrenceAt"`
}

func buildPayload(rem reminder.Reminder, occurrenceAt time.Time) []byte {
	raw, _ := json.Marshal(payload{
		ReminderID:   rem.ID,
		DedupKey:     domain.DedupKey(rem.ID, occurrenceAt),
		Type:         rem.Type,
		Title:        rem.Title,
		Description:  rem.Description,
		Priority:     rem.Priority,
		Sound:        rem.Sound,
		OccurrenceAt: occurrenceAt.UTC(),
	})
	return raw
}

// Deliver fans the occurrence out across both channels, honouring the
// owner's quiet hours.
func (d *Dispatcher) Deliver(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time) domain.Outcome {
	return d.deliver(ctx, rem, occurrenceAt, false)
}

// DeliverNow is the "send now" test/broadcast entry point: identical to
// Deliver but quiet hours do not apply.
func (d *Dispatcher) DeliverNow(ctx context.Context, rem reminder.Reminder) domain.Outcome {
	return d.deliver(ctx, rem, d.now().UTC().Truncate(time.Second), true)
}

func (d *Dispatcher) deliver(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time, force bool) domain.Outcome {
	outcome := domain.Outcome{ReminderID: rem.ID, OccurrenceAt: occurrenceAt}
	body := buildPayload(rem, occurrenceAt)

	if !force && d.quiet(ctx, rem, occurrenceAt) {
		d.suppress(ctx, rem, occurrenceAt, body)
		outcome.Suppressed = true
		return outcome
	}

	d.deliverLive(ctx, rem, occurrenceAt, body, &outcome)
	d.deliverPush(ctx, rem, occurrenceAt, body, &outcome)

	outcome.Delivered = outcome.LiveSent || outcome.PushSent > 0 || outcome.Deduped
	if outcome.Delivered {
		metrics.RecordOccurrenceDelivered()
	} else if outcome.PushFailed > 0 {
		metrics.RecordOccurrenceFailed()
	}
	return outcome
}

// quiet reports whether the occurrence falls inside the owner's quiet
// hours, evaluated in the owner's own timezone.
func (d *Dispatcher) quiet(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time) bool {
	if d.settings == nil {
		return false
	}
	prefs, err := d.settings.GetSettings(ctx, rem.OwnerID)
	if err != nil {
		d.log.WithError(err).WithField("owner_id", rem.OwnerID).Warn("load settings failed, skipping quiet hours")
		return false
	}
	if !prefs.QuietHours.Enabled {
		return false
	}
	tz, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		tz = time.UTC
	}
	return prefs.QuietHours.Contains(occurrenceAt.In(tz))
}

// suppress consumes the occurrence with terminal failed rows so a re-run
// tick does not deliver it after the quiet window ends.
func (d *Dispatcher) suppress(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time, body []byte) {
	for _, ch := range []domain.Channel{domain.ChannelLive, domain.ChannelPush} {
		_, err := d.ledger.AppendLog(ctx, domain.Log{
			ReminderID:   rem.ID,
			OccurrenceAt: occurrenceAt,
			Channel:      ch,
			Status:       domain.StatusFailed,
			Payload:      string(body),
			Error:        quietHoursReason,
		})
		if err != nil && !errors.Is(err, domain.ErrDuplicate) {
			d.log.WithError(err).WithField("reminder_id", rem.ID).Warn("record quiet-hours suppression failed")
		}
	}
	d.log.WithField("reminder_id", rem.ID).
		WithField("occurrence_at", occurrenceAt).
		Info("occurrence suppressed by quiet hours")
}

func (d *Dispatcher) deliverLive(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time, body []byte, outcome *domain.Outcome) {
	if d.live == nil || !d.live.Connected(rem.OwnerID) {
		return
	}

	seen, err := d.ledger.HasTerminal(ctx, rem.ID, occurrenceAt, domain.ChannelLive, "")
	if err != nil {
		d.log.WithError(err).WithField("reminder_id", rem.ID).Warn("live idempotency check failed")
		return
	}
	if seen {
		outcome.Deduped = true
		metrics.RecordDeliveryDeduped(string(domain.ChannelLive))
		return
	}

	row := domain.Log{
		ReminderID:   rem.ID,
		OccurrenceAt: occurrenceAt,
		Channel:      domain.ChannelLive,
		Payload:      string(body),
	}
	if err := d.live.Send(ctx, rem.OwnerID, body); err != nil {
		row.Status = domain.StatusFailed
		row.Error = err.Error()
	} else {
		row.Status = domain.StatusSent
		outcome.LiveSent = true
	}

	if _, err := d.ledger.AppendLog(ctx, row); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Another tick won the race; its row stands.
			outcome.LiveSent = false
			outcome.Deduped = true
			metrics.RecordDeliveryDeduped(string(domain.ChannelLive))
			return
		}
		d.log.WithError(err).WithField("reminder_id", rem.ID).Error("append live ledger row failed")
	}
	metrics.RecordDeliveryAttempt(string(domain.ChannelLive), string(row.Status))
}

func (d *Dispatcher) deliverPush(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time, body []byte, outcome *domain.Outcome) {
	if d.push == nil || d.subs == nil {
		return
	}

	subs, err := d.subs.ListSubscriptions(ctx, rem.OwnerID)
	if err != nil {
		d.log.WithError(err).WithField("owner_id", rem.OwnerID).Warn("list subscriptions failed")
		return
	}

	for _, sub := range subs {
		d.pushOne(ctx, rem, occurrenceAt, body, sub, outcome)
	}
}

func (d *Dispatcher) pushOne(ctx context.Context, rem reminder.Reminder, occurrenceAt time.Time, body []byte, sub subscription.PushSubscription, outcome *domain.Outcome) {
	seen, err := d.ledger.HasTerminal(ctx, rem.ID, occurrenceAt, domain.ChannelPush, sub.Endpoint)
	if err != nil {
		d.log.WithError(err).WithField("reminder_id", rem.ID).Warn("push idempotency check failed")
		return
	}
	if seen {
		outcome.Deduped = true
		metrics.RecordDeliveryDeduped(string(domain.ChannelPush))
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			// No ledger row; the next tick retries this occurrence.
			d.log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("push rate limit wait aborted")
			return
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.pushTimeout)
	result, sendErr := d.push.Send(sendCtx, sub, body)
	cancel()

	row := domain.Log{
		ReminderID:   rem.ID,
		OccurrenceAt: occurrenceAt,
		Channel:      domain.ChannelPush,
		Endpoint:     sub.Endpoint,
		Payload:      string(body),
	}

	switch result {
	case SendOK:
		row.Status = domain.StatusSent
		now := d.now().UTC()
		sub.LastSentAt = &now
		sub.Failures = 0
		if _, err := d.subs.UpsertSubscription(ctx, sub); err != nil {
			d.log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("update subscription after send failed")
		}
		outcome.PushSent++

	case SendPermanent:
		row.Status = domain.StatusFailed
		row.Permanent = true
		if sendErr != nil {
			row.Error = sendErr.Error()
		}
		// The endpoint will never accept another payload; no retry.
		if err := d.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil && !errors.Is(err, subscription.ErrNotFound) {
			d.log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("prune dead subscription failed")
		}
		metrics.RecordSubscriptionPruned()
		outcome.PushFailed++
		outcome.Pruned++
		d.log.WithField("endpoint", sub.Endpoint).
			WithField("reminder_id", rem.ID).
			Info("pruned dead push subscription")

	default: // SendTransient
		row.Status = domain.StatusFailed
		if sendErr != nil {
			row.Error = sendErr.Error()
		}
		// The next natural occurrence is the retry vector; no immediate
		// resend.
		sub.Failures++
		if _, err := d.subs.UpsertSubscription(ctx, sub); err != nil {
			d.log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("record transient failure failed")
		}
		outcome.PushFailed++
	}

	if _, err := d.ledger.AppendLog(ctx, row); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			if row.Status == domain.StatusSent {
				outcome.PushSent--
			} else {
				outcome.PushFailed--
			}
			outcome.Deduped = true
			metrics.RecordDeliveryDeduped(string(domain.ChannelPush))
			return
		}
		d.log.WithError(err).WithField("reminder_id", rem.ID).Error("append push ledger row failed")
	}
	metrics.RecordDeliveryAttempt(string(domain.ChannelPush), string(row.Status))
}
