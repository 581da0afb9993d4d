package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// MessagePublisher is satisfied by *cache.Client.
type MessagePublisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// RedisPublisher publishes trigger events on a pub/sub channel.
type RedisPublisher struct {
	client  MessagePublisher
	channel string
}

func NewRedisPublisher(client MessagePublisher, channel string) *RedisPublisher {
	if channel == "" {
		channel = RedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (r *RedisPublisher) Publish(ctx context.Context, ev TriggerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trigger event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, string(payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
