package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/delivery"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/reminder"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/settings"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/subscription"
)

// Memory is a thread-safe in-memory persistence layer implementing the
// storage interfaces in this package. It is the fixture for tests and
// keeps the same uniqueness guarantees as the postgres store, including
// the delivery ledger's terminal-row constraint.
type Memory struct {
	mu            sync.RWMutex
	reminders     map[string]reminder.Reminder
	subscriptions map[string]subscription.PushSubscription
	logs          []delivery.Log
	terminal      map[string]struct{}
	settings      map[string]settings.UserSettings
	snoozes       map[string]Snooze
	lastTick      time.Time
}

var (
	_ ReminderStore     = (*Memory)(nil)
	_ SubscriptionStore = (*Memory)(nil)
	_ DeliveryLogStore  = (*Memory)(nil)
	_ SettingsStore     = (*Memory)(nil)
	_ SnoozeStore       = (*Memory)(nil)
	_ TickStateStore    = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		reminders:     make(map[string]reminder.Reminder),
		subscriptions: make(map[string]subscription.PushSubscription),
		terminal:      make(map[string]struct{}),
		settings:      make(map[string]settings.UserSettings),
		snoozes:       make(map[string]Snooze),
	}
}

// ReminderStore implementation ----------------------------------------------

func (m *Memory) CreateReminder(_ context.Context, rem reminder.Reminder) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rem.ID == "" {
		rem.ID = uuid.NewString()
	} else if _, exists := m.reminders[rem.ID]; exists {
		return reminder.Reminder{}, fmt.Errorf("reminder %s already exists", rem.ID)
	}

	now := time.Now().UTC()
	rem.CreatedAt = now
	rem.UpdatedAt = now
	m.reminders[rem.ID] = rem
	return rem, nil
}

func (m *Memory) UpdateReminder(_ context.Context, rem reminder.Reminder) (reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.reminders[rem.ID]
	if !ok {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	rem.CreatedAt = original.CreatedAt
	rem.UpdatedAt = time.Now().UTC()
	m.reminders[rem.ID] = rem
	return rem, nil
}

func (m *Memory) GetReminder(_ context.Context, id string) (reminder.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rem, ok := m.reminders[id]
	if !ok {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	return rem, nil
}

func (m *Memory) ListReminders(_ context.Context, ownerID string) ([]reminder.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.Reminder
	for _, rem := range m.reminders {
		if rem.OwnerID == ownerID {
			result = append(result, rem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) ListSchedulable(_ context.Context) ([]reminder.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reminder.Reminder
	for _, rem := range m.reminders {
		if rem.IsActive && !rem.IsCompleted {
			result = append(result, rem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeleteReminder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reminders[id]; !ok {
		return reminder.ErrNotFound
	}
	delete(m.reminders, id)
	return nil
}

// SubscriptionStore implementation ------------------------------------------

func (m *Memory) UpsertSubscription(_ context.Context, sub subscription.PushSubscription) (subscription.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.subscriptions[sub.Endpoint]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	m.subscriptions[sub.Endpoint] = sub
	return sub, nil
}

func (m *Memory) GetSubscription(_ context.Context, endpoint string) (subscription.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[endpoint]
	if !ok {
		return subscription.PushSubscription{}, subscription.ErrNotFound
	}
	return sub, nil
}

func (m *Memory) ListSubscriptions(_ context.Context, userID string) ([]subscription.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []subscription.PushSubscription
	for _, sub := range m.subscriptions {
		if sub.UserID == userID {
			result = append(result, sub)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Endpoint < result[j].Endpoint })
	return result, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[endpoint]; !ok {
		return subscription.ErrNotFound
	}
	delete(m.subscriptions, endpoint)
	return nil
}

// DeliveryLogStore implementation -------------------------------------------

func terminalKey(reminderID string, occurrenceAt time.Time, channel delivery.Channel, endpoint string) string {
	return fmt.Sprintf("%s|%d|%s|%s", reminderID, occurrenceAt.UTC().Unix(), channel, endpoint)
}

func (m *Memory) AppendLog(_ context.Context, log delivery.Log) (delivery.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if log.Terminal() {
		key := terminalKey(log.ReminderID, log.OccurrenceAt, log.Channel, log.Endpoint)
		if _, exists := m.terminal[key]; exists {
			return delivery.Log{}, delivery.ErrDuplicate
		}
		m.terminal[key] = struct{}{}
	}

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	log.CreatedAt = time.Now().UTC()
	m.logs = append(m.logs, log)
	return log, nil
}

func (m *Memory) HasTerminal(_ context.Context, reminderID string, occurrenceAt time.Time, channel delivery.Channel, endpoint string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.terminal[terminalKey(reminderID, occurrenceAt, channel, endpoint)]
	return ok, nil
}

func (m *Memory) ListLogs(_ context.Context, reminderID string) ([]delivery.Log, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []delivery.Log
	for _, log := range m.logs {
		if log.ReminderID == reminderID {
			result = append(result, log)
		}
	}
	return result, nil
}

// SettingsStore implementation ----------------------------------------------

func (m *Memory) UpsertSettings(_ context.Context, s settings.UserSettings) (settings.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.UpdatedAt = time.Now().UTC()
	m.settings[s.UserID] = s
	return s, nil
}

func (m *Memory) GetSettings(_ context.Context, userID string) (settings.UserSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return settings.Defaults(userID), nil
}

// SnoozeStore implementation -------------------------------------------------

func (m *Memory) AddSnooze(_ context.Context, s Snooze) (Snooze, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	m.snoozes[s.ID] = s
	return s, nil
}

func (m *Memory) TakeDue(_ context.Context, now time.Time) ([]Snooze, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Snooze
	for id, s := range m.snoozes {
		if !s.FireAt.After(now) {
			due = append(due, s)
			delete(m.snoozes, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	return due, nil
}

// TickStateStore implementation ----------------------------------------------

func (m *Memory) LastTick(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTick, nil
}

func (m *Memory) SaveLastTick(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTick = at.UTC()
	return nil
}
