package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/settings"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/subscription"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ReminderStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.DeliveryLogStore = (*Store)(nil)
var _ storage.SettingsStore = (*Store)(nil)
var _ storage.SnoozeStore = (*Store)(nil)
var _ storage.TickStateStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Connect opens a pooled connection and verifies it.
func Connect(ctx context.Context, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- ReminderStore ----------------------------------------------------------

func (s *Store) CreateReminder(ctx context.Context, rem reminder.Reminder) (reminder.Reminder, error) {
	if rem.ID == "" {
		rem.ID = uuid.NewString()
	}

	scheduleJSON, err := json.Marshal(rem.Schedule)
	if err != nil {
		return reminder.Reminder{}, err
	}
	soundJSON, err := json.Marshal(rem.Sound)
	if err != nil {
		return reminder.Reminder{}, err
	}
	metricsJSON, err := json.Marshal(rem.Metrics)
	if err != nil {
		return reminder.Reminder{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reminders (
			id, owner_id, type, title, description, priority,
			schedule, sound, override_at, is_active, is_completed,
			metrics, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rem.ID, rem.OwnerID, rem.Type, rem.Title, rem.Description, string(rem.Priority),
		scheduleJSON, soundJSON, rem.OverrideAt, rem.IsActive, rem.IsCompleted,
		metricsJSON, rem.CreatedAt, rem.UpdatedAt)
	if err != nil {
		return reminder.Reminder{}, err
	}
	return rem, nil
}

func (s *Store) UpdateReminder(ctx context.Context, rem reminder.Reminder) (reminder.Reminder, error) {
	scheduleJSON, err := json.Marshal(rem.Schedule)
	if err != nil {
		return reminder.Reminder{}, err
	}
	soundJSON, err := json.Marshal(rem.Sound)
	if err != nil {
		return reminder.Reminder{}, err
	}
	metricsJSON, err := json.Marshal(rem.Metrics)
	if err != nil {
		return reminder.Reminder{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET type = $2, title = $3, description = $4, priority = $5,
			schedule = $6, sound = $7, override_at = $8, is_active = $9,
			is_completed = $10, metrics = $11, updated_at = $12
		WHERE id = $1
	`, rem.ID, rem.Type, rem.Title, rem.Description, string(rem.Priority),
		scheduleJSON, soundJSON, rem.OverrideAt, rem.IsActive,
		rem.IsCompleted, metricsJSON, rem.UpdatedAt)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	return rem, nil
}

const reminderColumns = `
	id, owner_id, type, title, description, priority,
	schedule, sound, override_at, is_active, is_completed,
	metrics, created_at, updated_at
`

func scanReminder(row interface{ Scan(...any) error }) (reminder.Reminder, error) {
	var (
		rem         reminder.Reminder
		priority    string
		scheduleRaw []byte
		soundRaw    []byte
		metricsRaw  []byte
	)
	if err := row.Scan(
		&rem.ID, &rem.OwnerID, &rem.Type, &rem.Title, &rem.Description, &priority,
		&scheduleRaw, &soundRaw, &rem.OverrideAt, &rem.IsActive, &rem.IsCompleted,
		&metricsRaw, &rem.CreatedAt, &rem.UpdatedAt,
	); err != nil {
		return reminder.Reminder{}, err
	}
	rem.Priority = reminder.Priority(priority)
	if len(scheduleRaw) > 0 {
		if err := json.Unmarshal(scheduleRaw, &rem.Schedule); err != nil {
			return reminder.Reminder{}, err
		}
	}
	if len(soundRaw) > 0 {
		_ = json.Unmarshal(soundRaw, &rem.Sound)
	}
	if len(metricsRaw) > 0 {
		_ = json.Unmarshal(metricsRaw, &rem.Metrics)
	}
	return rem, nil
}

func (s *Store) GetReminder(ctx context.Context, id string) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = $1
	`, id)

	rem, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	return rem, err
}

func (s *Store) listReminders(ctx context.Context, query string, args ...any) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reminder.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rem)
	}
	return result, rows.Err()
}

func (s *Store) ListReminders(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	return s.listReminders(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE owner_id = $1
		ORDER BY created_at
	`, ownerID)
}

func (s *Store) ListSchedulable(ctx context.Context) ([]reminder.Reminder, error) {
	return s.listReminders(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE is_active AND NOT is_completed
		ORDER BY created_at
	`)
}

func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reminders WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reminder.ErrNotFound
	}
	return nil
}

// --- SubscriptionStore ------------------------------------------------------

func (s *Store) UpsertSubscription(ctx context.Context, sub subscription.PushSubscription) (subscription.PushSubscription, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (
			endpoint, user_id, p256dh, auth, user_agent, ip,
			failures, last_sent_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			user_agent = EXCLUDED.user_agent,
			ip = EXCLUDED.ip,
			failures = EXCLUDED.failures,
			last_sent_at = EXCLUDED.last_sent_at,
			updated_at = EXCLUDED.updated_at
	`, sub.Endpoint, sub.UserID, sub.Keys.P256dh, sub.Keys.Auth, sub.UserAgent, sub.IP,
		sub.Failures, sub.LastSentAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return subscription.PushSubscription{}, err
	}
	return sub, nil
}

func scanSubscription(row interface{ Scan(...any) error }) (subscription.PushSubscription, error) {
	var sub subscription.PushSubscription
	err := row.Scan(
		&sub.Endpoint, &sub.UserID, &sub.Keys.P256dh, &sub.Keys.Auth,
		&sub.UserAgent, &sub.IP, &sub.Failures, &sub.LastSentAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	return sub, err
}

func (s *Store) GetSubscription(ctx context.Context, endpoint string) (subscription.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT endpoint, user_id, p256dh, auth, user_agent, ip,
			failures, last_sent_at, created_at, updated_at
		FROM push_subscriptions
		WHERE endpoint = $1
	`, endpoint)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.PushSubscription{}, subscription.ErrNotFound
	}
	return sub, err
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]subscription.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, user_id, p256dh, auth, user_agent, ip,
			failures, last_sent_at, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []subscription.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM push_subscriptions WHERE endpoint = $1
	`, endpoint)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

// --- DeliveryLogStore -------------------------------------------------------

func (s *Store) AppendLog(ctx context.Context, log delivery.Log) (delivery.Log, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	// The partial unique index on terminal rows turns a concurrent
	// double-delivery into a constraint violation here.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_logs (
			id, reminder_id, occurrence_at, channel, endpoint,
			status, payload, error, permanent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, log.ID, log.ReminderID, log.OccurrenceAt.UTC(), string(log.Channel), log.Endpoint,
		string(log.Status), log.Payload, log.Error, log.Permanent, log.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return delivery.Log{}, delivery.ErrDuplicate
		}
		return delivery.Log{}, err
	}
	return log, nil
}

func (s *Store) HasTerminal(ctx context.Context, reminderID string, occurrenceAt time.Time, channel delivery.Channel, endpoint string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_logs
			WHERE reminder_id = $1 AND occurrence_at = $2
				AND channel = $3 AND endpoint = $4
				AND status IN ('sent', 'failed')
		)
	`, reminderID, occurrenceAt.UTC(), string(channel), endpoint).Scan(&exists)
	return exists, err
}

func (s *Store) ListLogs(ctx context.Context, reminderID string) ([]delivery.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reminder_id, occurrence_at, channel, endpoint,
			status, payload, error, permanent, created_at
		FROM delivery_logs
		WHERE reminder_id = $1
		ORDER BY created_at
	`, reminderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []delivery.Log
	for rows.Next() {
		var (
			log     delivery.Log
			channel string
			status  string
		)
		if err := rows.Scan(
			&log.ID, &log.ReminderID, &log.OccurrenceAt, &channel, &log.Endpoint,
			&status, &log.Payload, &log.Error, &log.Permanent, &log.CreatedAt,
		); err != nil {
			return nil, err
		}
		log.Channel = delivery.Channel(channel)
		log.Status = delivery.Status(status)
		result = append(result, log)
	}
	return result, rows.Err()
}

// --- SettingsStore ----------------------------------------------------------

func (s *Store) UpsertSettings(ctx context.Context, prefs settings.UserSettings) (settings.UserSettings, error) {
	quietJSON, err := json.Marshal(prefs.QuietHours)
	if err != nil {
		return settings.UserSettings{}, err
	}
	soundJSON, err := json.Marshal(prefs.DefaultSound)
	if err != nil {
		return settings.UserSettings{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (
			user_id, timezone, city, country, default_snooze,
			quiet_hours, default_priority, default_sound, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			default_snooze = EXCLUDED.default_snooze,
			quiet_hours = EXCLUDED.quiet_hours,
			default_priority = EXCLUDED.default_priority,
			default_sound = EXCLUDED.default_sound,
			updated_at = EXCLUDED.updated_at
	`, prefs.UserID, prefs.Timezone, prefs.City, prefs.Country, prefs.DefaultSnooze,
		quietJSON, string(prefs.DefaultPriority), soundJSON, prefs.UpdatedAt)
	if err != nil {
		return settings.UserSettings{}, err
	}
	return prefs, nil
}

func (s *Store) GetSettings(ctx context.Context, userID string) (settings.UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, timezone, city, country, default_snooze,
			quiet_hours, default_priority, default_sound, updated_at
		FROM user_settings
		WHERE user_id = $1
	`, userID)

	var (
		prefs    settings.UserSettings
		priority string
		quietRaw []byte
		soundRaw []byte
	)
	err := row.Scan(
		&prefs.UserID, &prefs.Timezone, &prefs.City, &prefs.Country, &prefs.DefaultSnooze,
		&quietRaw, &priority, &soundRaw, &prefs.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Defaults(userID), nil
	}
	if err != nil {
		return settings.UserSettings{}, err
	}
	prefs.DefaultPriority = reminder.Priority(priority)
	if len(quietRaw) > 0 {
		_ = json.Unmarshal(quietRaw, &prefs.QuietHours)
	}
	if len(soundRaw) > 0 {
		_ = json.Unmarshal(soundRaw, &prefs.DefaultSound)
	}
	return prefs, nil
}

// --- SnoozeStore ------------------------------------------------------------

func (s *Store) AddSnooze(ctx context.Context, sn storage.Snooze) (storage.Snooze, error) {
	if sn.ID == "" {
		sn.ID = uuid.NewString()
	}
	if sn.CreatedAt.IsZero() {
		sn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snoozes (id, reminder_id, fire_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, sn.ID, sn.ReminderID, sn.FireAt.UTC(), sn.CreatedAt)
	if err != nil {
		return storage.Snooze{}, err
	}
	return sn, nil
}

func (s *Store) TakeDue(ctx context.Context, now time.Time) ([]storage.Snooze, error) {
	// DELETE ... RETURNING hands each due snooze to exactly one caller.
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM snoozes
		WHERE fire_at <= $1
		RETURNING id, reminder_id, fire_at, created_at
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.Snooze
	for rows.Next() {
		var sn storage.Snooze
		if err := rows.Scan(&sn.ID, &sn.ReminderID, &sn.FireAt, &sn.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, sn)
	}
	return result, rows.Err()
}

// --- TickStateStore ---------------------------------------------------------

func (s *Store) LastTick(ctx context.Context) (time.Time, error) {
	var last time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_tick FROM tick_state WHERE id = 1
	`).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return last, err
}

func (s *Store) SaveLastTick(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tick_state (id, last_tick)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_tick = EXCLUDED.last_tick
	`, at.UTC())
	return err
}
