package hub

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay feeds group messages published on Redis by any instance into the
// local hub. It returns when ctx is cancelled.
func Relay(ctx context.Context, client *redis.Client, prefix string, h *Hub, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubsub := client.PSubscribe(ctx, prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	logger.Info("subscribed to redis groups", zap.String("pattern", prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			group := strings.TrimPrefix(msg.Channel, prefix)
			if !ValidGroup(group) {
				logger.Debug("ignore redis message", zap.String("channel", msg.Channel))
				continue
			}
			_ = h.Publish(ctx, group, []byte(msg.Payload))
		}
	}
}
