// Package runtime wires the engine's services together and manages their
// lifecycle.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/livehub"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/metrics"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/prayertimes"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/recurrence"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/reminders"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/scheduler"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/services/subscriptions"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage/postgres"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/system"
	"github.com/PulseFit-Labs/reminder_engine/internal/config"
	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// stores groups the persistence interfaces the services depend on.
type stores struct {
	reminders     storage.ReminderStore
	subscriptions storage.SubscriptionStore
	ledger        storage.DeliveryLogStore
	settings      storage.SettingsStore
	snoozes       storage.SnoozeStore
	tickState     storage.TickStateStore
}

// Application wires the stores, services and HTTP listener.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *sqlx.DB
	rdb    *redis.Client
	hub    *livehub.Hub
	runner *scheduler.Runner

	Reminders     *reminders.Service
	Subscriptions *subscriptions.Service

	httpServer *http.Server
}

// NewApplication constructs the engine from configuration.
func NewApplication(cfgPath string) (*Application, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Logging)

	st, db, err := buildStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var rdb *redis.Client
	var presence livehub.Presence
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		presence = livehub.NewRedisPresence(rdb)
	}
	hub := livehub.NewHub(presence, log.WithField("component", "livehub"))

	prayerClient := &http.Client{Timeout: cfg.Prayer.Timeout.Std()}
	prayers, err := prayertimes.NewHTTPProvider(prayerClient, cfg.Prayer.BaseURL, log.WithField("component", "prayertimes"))
	if err != nil {
		return nil, fmt.Errorf("configure prayer provider: %w", err)
	}
	eval := recurrence.New(prayers)

	pushClient := delivery.NewHTTPPushClient(
		&http.Client{Timeout: cfg.Push.Timeout.Std()},
		time.Duration(cfg.Push.TTL)*time.Second,
		log.WithField("component", "push"),
	)
	dispatcher := delivery.NewDispatcher(
		st.subscriptions, st.ledger, st.settings,
		hub, pushClient, cfg.Push.Timeout.Std(),
		log.WithField("component", "dispatcher"),
	)
	dispatcher.WithRateLimit(cfg.Push.RatePerSecond, cfg.Push.RateBurst)

	remindersSvc := reminders.New(
		st.reminders, st.settings, st.snoozes, eval, dispatcher,
		log.WithField("component", "reminders"),
	)
	subsSvc := subscriptions.New(st.subscriptions, log.WithField("component", "subscriptions"))

	tick := scheduler.NewTick(
		st.reminders, st.settings, st.snoozes, eval, dispatcher,
		cfg.Scheduler.FanOut, log.WithField("component", "scheduler"),
	)
	runner := scheduler.NewRunner(tick, st.tickState, cfg.Scheduler.Period.Std(), log.WithField("component", "scheduler"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/live", hub.Handler())

	return &Application{
		cfg:           cfg,
		log:           log,
		db:            db,
		rdb:           rdb,
		hub:           hub,
		runner:        runner,
		Reminders:     remindersSvc,
		Subscriptions: subsSvc,
		httpServer: &http.Server{
			Addr:         cfg.Server.Listen,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}, nil
}

// Services returns the lifecycle services the application manages.
func (a *Application) Services() []system.Service {
	return []system.Service{a.runner}
}

// Run starts the scheduler and the HTTP listener and blocks until the
// context is cancelled or the listener fails.
func (a *Application) Run(ctx context.Context) error {
	for _, svc := range a.Services() {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("listening on %s", a.cfg.Server.Listen)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the scheduler, the listener and the store connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, svc := range a.Services() {
		if err := svc.Stop(shutdownCtx); err != nil {
			a.log.WithError(err).Warnf("error stopping %s", svc.Name())
		}
	}

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

// buildStores selects Postgres when a DSN is configured and the in-memory
// store otherwise.
func buildStores(cfg *config.Config) (stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		mem := storage.NewMemory()
		return stores{
			reminders:     mem,
			subscriptions: mem,
			ledger:        mem,
			settings:      mem,
			snoozes:       mem,
			tickState:     mem,
		}, nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime.Std())
	if err != nil {
		return stores{}, nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return stores{}, nil, err
	}

	pg := postgres.New(db)
	return stores{
		reminders:     pg,
		subscriptions: pg,
		ledger:        pg,
		settings:      pg,
		snoozes:       pg,
		tickState:     pg,
	}, db, nil
}
