package notify

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "qms:group:"

// RedisPublisher forwards each group message to a Redis channel so every
// service instance can relay it to its own subscribers.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, group string, payload []byte) error {
	return p.client.Publish(ctx, p.prefix+group, payload).Err()
}

func (p *RedisPublisher) Prefix() string {
	return p.prefix
}
