package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matchcast/backend/internal/cache"
)

// RedisPublisher writes JSON events to a pub/sub channel read by the
// websocket hub of every replica.
type RedisPublisher struct {
	redis   *cache.RedisClient
	channel string
}

func NewRedisPublisher(redis *cache.RedisClient, channel string) *RedisPublisher {
	return &RedisPublisher{redis: redis, channel: channel}
}

func (p *RedisPublisher) Channel() string { return p.channel }

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.redis.Publish(ctx, p.channel, data); err != nil {
		return fmt.Errorf("failed to publish %s to redis: %w", e.Type, err)
	}
	return nil
}
