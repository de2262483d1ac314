package delivery

import (
	"context"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/subscription"
)

// SendResult classifies one push attempt. The dispatcher turns the
// classification into ledger rows and subscription cleanup; the client
// only reports what happened.
type SendResult int

const (
	// SendOK means the provider accepted the payload.
	SendOK SendResult = iota
	// SendTransient covers timeouts, rate limits and provider errors that
	// may succeed on a later occurrence. The subscription is kept.
	SendTransient
	// SendPermanent means the endpoint is gone or expired and will never
	// accept another payload. The subscription is pruned.
	SendPermanent
)

// PushClient delivers a payload to one push endpoint.
type PushClient interface {
	Send(ctx context.Context, sub subscription.PushSubscription, payload []byte) (SendResult, error)
}

// PushClientFunc adapts a function to the PushClient interface.
type PushClientFunc func(ctx context.Context, sub subscription.PushSubscription, payload []byte) (SendResult, error)

func (f PushClientFunc) Send(ctx context.Context, sub subscription.PushSubscription, payload []byte) (SendResult, error) {
	return f(ctx, sub, payload)
}
