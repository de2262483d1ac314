package livehub

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const presenceTTL = 90 * time.Second

// RedisPresence mirrors live-session presence into redis so sibling
// instances can look up who is reachable without sharing process memory.
// Keys expire on their own if an instance dies without cleaning up.
type RedisPresence struct {
	client *redis.Client
}

var _ Presence = (*RedisPresence)(nil)

// NewRedisPresence wraps an existing redis client.
func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func presenceKey(userID string) string {
	return "live:presence:" + userID
}

func (p *RedisPresence) SetOnline(ctx context.Context, userID string) error {
	return p.client.Set(ctx, presenceKey(userID), 1, presenceTTL).Err()
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID string) error {
	return p.client.Del(ctx, presenceKey(userID)).Err()
}

// Online reports whether any instance currently holds a session for the
// user.
func (p *RedisPresence) Online(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
