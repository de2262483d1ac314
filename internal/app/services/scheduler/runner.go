package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/system"
	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

var _ system.Service = (*Runner)(nil)

// DefaultPeriod is the tick cadence.
const DefaultPeriod = time.Minute

// maxCatchUp caps the window scanned after downtime. Occurrences older
// than this on startup are abandoned rather than delivered late in bulk.
const maxCatchUp = time.Hour

// Runner owns the tick loop. It persists the completed window's upper
// bound so a restarted process resumes where it stopped, and it skips a
// cadence beat when the previous tick is still running.
type Runner struct {
	tick   *Tick
	state  storage.TickStateStore
	period time.Duration
	log    *logger.Logger
	now    func() time.Time

	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	inFlight bool
	lastTick time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewRunner creates the tick loop. period below one second falls back to
// DefaultPeriod.
func NewRunner(tick *Tick, state storage.TickStateStore, period time.Duration, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("scheduler-runner")
	}
	if period < time.Second {
		period = DefaultPeriod
	}
	return &Runner{
		tick:   tick,
		state:  state,
		period: period,
		log:    log,
		now:    time.Now,
	}
}

// Name implements system.Service.
func (r *Runner) Name() string { return "scheduler" }

// Start implements system.Service. It restores the last completed window
// bound and begins ticking on the configured cadence. Ticks run under a
// context derived from ctx, so cancelling it stops in-flight work.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	last, err := r.state.LastTick(r.ctx)
	if err != nil || last.IsZero() {
		last = r.now().UTC().Add(-r.period)
	}
	if since := r.now().UTC().Sub(last); since > maxCatchUp {
		last = r.now().UTC().Add(-maxCatchUp)
	}
	r.lastTick = last

	r.cron = cron.New()
	if _, err := r.cron.AddFunc("@every "+r.period.String(), r.beat); err != nil {
		r.cancel()
		return err
	}
	r.cron.Start()
	r.running = true
	r.log.WithField("period", r.period.String()).Info("scheduler started")
	return nil
}

// Stop implements system.Service. It stops the cadence and waits for an
// in-flight tick to finish, or gives up when ctx expires first.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	c := r.cron
	cancel := r.cancel
	r.mu.Unlock()

	defer cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("scheduler stopped")
	return nil
}

// TickNow runs one tick immediately over the pending window. The cadence
// uses it; operational tooling may call it directly.
func (r *Runner) TickNow(ctx context.Context) error {
	r.mu.Lock()
	windowStart := r.lastTick
	r.mu.Unlock()

	windowEnd := r.now().UTC()
	if !windowEnd.After(windowStart) {
		return nil
	}

	if err := r.tick.Run(ctx, windowStart, windowEnd); err != nil {
		return err
	}

	if err := r.state.SaveLastTick(ctx, windowEnd); err != nil {
		r.log.WithError(err).Warn("persist tick bound failed")
	}
	r.mu.Lock()
	r.lastTick = windowEnd
	r.mu.Unlock()
	return nil
}

// beat is the cron callback. A beat arriving while the previous tick is
// still running is skipped; the next beat covers the widened window.
func (r *Runner) beat() {
	r.mu.Lock()
	if r.inFlight || !r.running {
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	ctx := r.ctx
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	if err := r.TickNow(ctx); err != nil {
		r.log.WithError(err).Error("tick failed")
	}
}
