// Package subscriptions manages push endpoint registrations.
package subscriptions

import (
	"context"
	"strings"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/subscription"
	"github.com/PulseFit-Labs/reminder_engine/internal/app/storage"
	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// Service registers, lists and removes push subscriptions. Registration is
// keyed by endpoint URL so that a browser re-subscribing with rotated keys
// replaces its previous record instead of accumulating duplicates.
type Service struct {
	subs storage.SubscriptionStore
	log  *logger.Logger
	now  func() time.Time
}

// New creates a subscription service.
func New(subs storage.SubscriptionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("subscriptions")
	}
	return &Service{subs: subs, log: log, now: time.Now}
}

// RegisterInput carries the fields a client submits when subscribing.
type RegisterInput struct {
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
	IP        string
}

func (in RegisterInput) validate() error {
	if strings.TrimSpace(in.Endpoint) == "" {
		return subscription.ErrInvalidEndpoint
	}
	if !strings.HasPrefix(in.Endpoint, "https://") && !strings.HasPrefix(in.Endpoint, "http://") {
		return subscription.ErrInvalidEndpoint
	}
	if in.P256dh == "" || in.Auth == "" {
		return subscription.ErrMissingKeys
	}
	return nil
}

// Register upserts a subscription for the user. Re-registering an existing
// endpoint overwrites its keys and resets the failure counter.
func (s *Service) Register(ctx context.Context, userID string, in RegisterInput) (subscription.PushSubscription, error) {
	if err := in.validate(); err != nil {
		return subscription.PushSubscription{}, err
	}

	now := s.now().UTC()
	sub := subscription.PushSubscription{
		Endpoint:  in.Endpoint,
		UserID:    userID,
		Keys:      subscription.Keys{P256dh: in.P256dh, Auth: in.Auth},
		UserAgent: in.UserAgent,
		IP:        in.IP,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if existing, err := s.subs.GetSubscription(ctx, in.Endpoint); err == nil {
		sub.CreatedAt = existing.CreatedAt
		sub.LastSentAt = existing.LastSentAt
	}

	saved, err := s.subs.UpsertSubscription(ctx, sub)
	if err != nil {
		return subscription.PushSubscription{}, err
	}
	s.log.WithField("user_id", userID).WithField("endpoint", in.Endpoint).Debug("push subscription registered")
	return saved, nil
}

// Unregister removes the subscription for an endpoint. Removing an unknown
// endpoint is not an error.
func (s *Service) Unregister(ctx context.Context, endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return subscription.ErrInvalidEndpoint
	}
	if err := s.subs.DeleteSubscription(ctx, endpoint); err != nil {
		if err == subscription.ErrNotFound {
			return nil
		}
		return err
	}
	return nil
}

// ListForUser returns every subscription registered for the user.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]subscription.PushSubscription, error) {
	return s.subs.ListSubscriptions(ctx, userID)
}
