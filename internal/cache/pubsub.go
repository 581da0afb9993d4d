package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publish sends message on a Redis channel.
func (c *Client) Publish(ctx context.Context, channel, message string) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

// Subscriber is a confirmed subscription to one Redis channel.
type Subscriber struct {
	pubsub *redis.PubSub
}

// Subscribe opens a subscription and waits for Redis to confirm it.
func (c *Client) Subscribe(ctx context.Context, channel string) (*Subscriber, error) {
	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	c.logger.Info("Subscribed to Redis channel", zap.String("channel", channel))
	return &Subscriber{pubsub: pubsub}, nil
}

// ReceiveMessage waits for and returns the next message.
func (s *Subscriber) ReceiveMessage(ctx context.Context) (*redis.Message, error) {
	return s.pubsub.ReceiveMessage(ctx)
}

// Close closes the subscription.
func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}
