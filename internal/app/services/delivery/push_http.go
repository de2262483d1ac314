package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PulseFit-Labs/reminder_engine/internal/app/domain/subscription"
	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// HTTPPushClient posts payloads directly to web-push endpoints and maps
// HTTP status codes onto the send classification.
type HTTPPushClient struct {
	client *http.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ PushClient = (*HTTPPushClient)(nil)

// NewHTTPPushClient builds a push client. The http client's timeout is the
// per-send ceiling; callers additionally bound each send with a context.
func NewHTTPPushClient(client *http.Client, ttl time.Duration, log *logger.Logger) *HTTPPushClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = logger.NewDefault("push-http")
	}
	return &HTTPPushClient{client: client, ttl: ttl, log: log}
}

func (c *HTTPPushClient) Send(ctx context.Context, sub subscription.PushSubscription, payload []byte) (SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendPermanent, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("TTL", fmt.Sprintf("%d", int(c.ttl.Seconds())))
	req.Header.Set("X-Push-P256dh", sub.Keys.P256dh)
	req.Header.Set("X-Push-Auth", sub.Keys.Auth)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures and timeouts are retried via the next natural
		// occurrence.
		if errors.Is(err, context.Canceled) {
			return SendTransient, err
		}
		return SendTransient, fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SendOK, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return SendPermanent, fmt.Errorf("endpoint gone (status %d)", resp.StatusCode)
	default:
		return SendTransient, fmt.Errorf("push status %d", resp.StatusCode)
	}
}
