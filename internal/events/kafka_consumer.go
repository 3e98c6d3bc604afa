package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/replyloop/service-codepool/internal/application"
	"github.com/replyloop/service-codepool/internal/metrics"
	"github.com/replyloop/service-codepool/internal/reply"
	"github.com/replyloop/service-codepool/pkg/domain"
	"github.com/replyloop/service-codepool/pkg/kafka"
)

// CodeAssigner is the assignment use case driven by comment events.
type CodeAssigner interface {
	AssignCode(ctx context.Context, req application.AssignCodeRequest) (*application.AssignResult, error)
}

// EventPublisher publishes reply events.
type EventPublisher interface {
	PublishEventWithKey(ctx context.Context, topic, key string, ce kafka.CloudEvent) error
}

// CommentEventHandler turns matched comments into reply events.
type CommentEventHandler struct {
	assigner  CodeAssigner
	publisher EventPublisher
	logger    *zap.Logger
}

// NewCommentEventHandler creates a new CommentEventHandler.
func NewCommentEventHandler(assigner CodeAssigner, publisher EventPublisher, logger *zap.Logger) *CommentEventHandler {
	return &CommentEventHandler{assigner: assigner, publisher: publisher, logger: logger}
}

// HandleMessage routes one Kafka message. Malformed events and invalid
// requests are marked permanent. Storage and broker outages are marked
// transient so they are retried until they clear.
func (h *CommentEventHandler) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		h.logger.Error("failed to parse cloud event from automation topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		metrics.ConsumedEvents.WithLabelValues("malformed").Inc()
		return kafka.Permanent(err)
	}

	switch {
	case strings.EqualFold(cloudEvent.Type, CommentMatched):
		return h.handleCommentMatched(ctx, cloudEvent)

	default:
		h.logger.Debug("ignoring unhandled automation event type",
			zap.String("type", cloudEvent.Type),
		)
		metrics.ConsumedEvents.WithLabelValues("ignored").Inc()
		return nil
	}
}

func (h *CommentEventHandler) handleCommentMatched(ctx context.Context, ce kafka.CloudEvent) error {
	var event CommentMatchedEvent
	if err := ce.ParseData(&event); err != nil {
		h.logger.Error("failed to parse CommentMatchedEvent data", zap.Error(err), zap.String("id", ce.ID))
		metrics.ConsumedEvents.WithLabelValues("malformed").Inc()
		return kafka.Permanent(err)
	}

	result, err := h.assigner.AssignCode(ctx, application.AssignCodeRequest{
		AutomationID: event.AutomationID,
		PoolID:       event.PoolID,
		EventID:      event.CommentID,
		ClaimantID:   event.CommenterID,
		ClaimantName: event.CommenterUsername,
		FirstNCutoff: event.FirstNCutoff,
	})
	if err != nil {
		metrics.ConsumedEvents.WithLabelValues("failed").Inc()
		switch {
		case isPermanent(err):
			return kafka.Permanent(err)
		case errors.Is(err, domain.ErrUnavailable):
			return kafka.Transient(err)
		}
		return err
	}

	eventType := CodeAssigned
	if result.Fallback {
		eventType = FallbackSelected
	}
	out, err := kafka.NewCloudEvent(Source, eventType, ReplyReadyEvent{
		AutomationID: event.AutomationID,
		PoolID:       event.PoolID,
		CommentID:    event.CommentID,
		CommenterID:  event.CommenterID,
		Code:         result.Code,
		Fallback:     result.Fallback,
		Reused:       result.Reused,
		ReplyText:    reply.Choose(result.Code, result.Fallback, event.ReplyTemplate, event.FallbackMessage),
	})
	if err != nil {
		return fmt.Errorf("failed to build reply event: %w", err)
	}

	if err := h.publisher.PublishEventWithKey(ctx, TopicCodePoolEvents, event.CommentID, out); err != nil {
		metrics.ConsumedEvents.WithLabelValues("failed").Inc()
		return kafka.Transient(fmt.Errorf("failed to publish reply event: %w", err))
	}

	metrics.ConsumedEvents.WithLabelValues("handled").Inc()
	return nil
}

// isPermanent reports errors that a redelivery cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrAccessDenied)
}

// CommentEventConsumer listens to automation events and hands out codes.
type CommentEventConsumer struct {
	consumer *kafka.Consumer
	handler  *CommentEventHandler
}

// NewCommentEventConsumer creates a new consumer for automation events.
// Messages that keep failing go to the topic's dead-letter queue.
func NewCommentEventConsumer(
	brokers []string,
	groupID string,
	handler *CommentEventHandler,
	deadLetter kafka.DeadLetterPublisher,
	retry kafka.RetryPolicy,
	logger *zap.Logger,
) *CommentEventConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, TopicAutomationEvents, logger).
		WithRetryPolicy(retry).
		WithDeadLetter(deadLetter)
	return &CommentEventConsumer{consumer: consumer, handler: handler}
}

// Start begins consuming automation events. It blocks until the context is cancelled.
func (c *CommentEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handler.HandleMessage)
}

// Ready reports nil while the consumer is running and not stalled.
func (c *CommentEventConsumer) Ready(context.Context) error {
	return c.consumer.Ready()
}

// Close closes the underlying Kafka consumer.
func (c *CommentEventConsumer) Close() error {
	return c.consumer.Close()
}
