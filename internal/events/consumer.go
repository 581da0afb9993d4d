package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const pollTimeout = time.Second

// Handler processes one trigger event read from Kafka.
type Handler func(ctx context.Context, ev TriggerEvent) error

// KafkaConsumer reads trigger events from a topic within a consumer group.
type KafkaConsumer struct {
	consumer *kafka.Consumer
	topic    string
	logger   *zap.Logger
}

func NewKafkaConsumer(brokers, groupID, topic string, logger *zap.Logger) (*KafkaConsumer, error) {
	if topic == "" {
		topic = KafkaTopic
	}
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          groupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return &KafkaConsumer{consumer: c, topic: topic, logger: logger}, nil
}

// Run feeds every decodable event to handle until ctx is done. Handler and
// decode errors are logged and the message is skipped.
func (k *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	k.logger.Info("Listening for trigger events", zap.String("topic", k.topic))

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := k.consumer.ReadMessage(pollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.IsTimeout() {
				continue
			}
			k.logger.Error("Kafka consumer error", zap.Error(err))
			continue
		}

		ev, err := DecodeTriggerEvent(msg.Value)
		if err != nil {
			k.logger.Error("Error parsing trigger event", zap.Error(err))
			continue
		}
		if err := handle(ctx, ev); err != nil {
			k.logger.Error("Failed to handle trigger event", zap.Int64("alert_id", ev.AlertID), zap.Error(err))
		}
	}
}

func (k *KafkaConsumer) Close() error {
	return k.consumer.Close()
}

// DecodeTriggerEvent parses a JSON trigger event and rejects records
// without an alert id.
func DecodeTriggerEvent(data []byte) (TriggerEvent, error) {
	var ev TriggerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return TriggerEvent{}, fmt.Errorf("decode trigger event: %w", err)
	}
	if ev.AlertID == 0 {
		return TriggerEvent{}, errors.New("decode trigger event: missing alert_id")
	}
	return ev, nil
}
