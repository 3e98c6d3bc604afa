package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer publishes CloudEvents to Kafka topics.
type Producer struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

// NewProducer creates a producer that routes by message topic.
func NewProducer(brokers []string, logger *zap.Logger) *Producer {
	return &Producer{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// PublishEvent writes ce to topic, keyed by the event ID.
func (p *Producer) PublishEvent(ctx context.Context, topic string, ce CloudEvent) error {
	return p.PublishEventWithKey(ctx, topic, ce.ID, ce)
}

// PublishEventWithKey writes ce to topic with an explicit partition key.
func (p *Producer) PublishEventWithKey(ctx context.Context, topic, key string, ce CloudEvent) error {
	value, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("failed to marshal cloud event: %w", err)
	}
	return p.publish(ctx, kafkago.Message{Topic: topic, Key: []byte(key), Value: value})
}

// PublishRaw forwards an already encoded message, used for dead-lettering.
func (p *Producer) PublishRaw(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error {
	return p.publish(ctx, kafkago.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

func (p *Producer) publish(ctx context.Context, msg kafkago.Message) error {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish message",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}
	p.logger.Debug("message published",
		zap.String("topic", msg.Topic),
		zap.String("key", string(msg.Key)),
	)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
