package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaPublisher produces trigger events to a Kafka topic and waits for the
// broker's delivery report.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if topic == "" {
		topic = KafkaTopic
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"message.timeout.ms": 10000,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: p, topic: topic, logger: logger}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, ev TriggerEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trigger event: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatInt(ev.AlertID, 10)),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce trigger event: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected kafka event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver trigger event: %w", m.TopicPartition.Error)
		}
		k.logger.Debug("Trigger event sent to Kafka",
			zap.String("topic", k.topic),
			zap.Int64("alert_id", ev.AlertID),
			zap.Int32("partition", m.TopicPartition.Partition),
		)
		return nil
	}
}

// Close flushes outstanding messages for up to 5s and closes the producer.
func (k *KafkaPublisher) Close() {
	if left := k.producer.Flush(5000); left > 0 {
		k.logger.Warn("Kafka producer closed with undelivered messages", zap.Int("count", left))
	}
	k.producer.Close()
}
