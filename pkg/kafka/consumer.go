package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one message. A returned error triggers a retry.
type MessageHandler func(ctx context.Context, msg kafkago.Message) error

// DeadLetterPublisher receives messages that exhausted their retries.
type DeadLetterPublisher interface {
	PublishRaw(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to
// the dead-letter topic.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as an outage that redelivery will outlive. Transient
// failures are retried until they clear or the consumer stops; they never
// count toward MaxAttempts.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// RetryPolicy bounds redelivery of a failing message.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries five times with exponential backoff capped at five seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// backOff returns an uncapped exponential schedule bound to ctx. Attempt
// limits are enforced by the caller so transient failures can outlast them.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Consumer reads a topic as part of a consumer group and commits each message
// only after it was handled or dead-lettered.
type Consumer struct {
	reader     messageReader
	topic      string
	retry      RetryPolicy
	deadLetter DeadLetterPublisher
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stalled error
}

// NewConsumer creates a group consumer for topic.
func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
	})
	return &Consumer{
		reader: reader,
		topic:  topic,
		retry:  DefaultRetryPolicy(),
		logger: logger,
	}
}

// WithRetryPolicy overrides the retry policy.
func (c *Consumer) WithRetryPolicy(p RetryPolicy) *Consumer {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	c.retry = p
	return c
}

// WithDeadLetter forwards messages that exhausted retries to "<topic>.dlq".
func (c *Consumer) WithDeadLetter(p DeadLetterPublisher) *Consumer {
	c.deadLetter = p
	return c
}

// Ready reports nil while Consume is running and making progress. It returns
// the blocking error while the consumer waits out a broker or dead-letter
// failure, and an error once Consume has returned.
func (c *Consumer) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return fmt.Errorf("consumer for %s is not running", c.topic)
	}
	return c.stalled
}

func (c *Consumer) setRunning(running bool) {
	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
}

func (c *Consumer) setStalled(err error) {
	c.mu.Lock()
	c.stalled = err
	c.mu.Unlock()
}

// Consume blocks, dispatching messages to handler until ctx is cancelled or
// the reader is closed. Fetch and dead-letter failures are retried in place.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.setRunning(true)
	defer c.setRunning(false)

	fetchBackOff := c.retry.backOff(ctx)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("reader for %s closed: %w", c.topic, err)
			}
			c.logger.Error("failed to fetch message", zap.String("topic", c.topic), zap.Error(err))
			c.setStalled(err)
			if !sleep(ctx, fetchBackOff.NextBackOff()) {
				return nil
			}
			continue
		}
		fetchBackOff.Reset()
		c.setStalled(nil)

		if err := c.process(ctx, msg, handler); err != nil {
			// Only cancellation gets here; the offset stays uncommitted and the
			// group redelivers it.
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to commit message",
				zap.String("topic", c.topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// process runs handler with retries and dead-letters the message when they
// run out. It only fails when ctx is cancelled.
func (c *Consumer) process(ctx context.Context, msg kafkago.Message, handler MessageHandler) error {
	attempt, failures := 0, 0
	operation := func() error {
		attempt++
		err := handler(ctx, msg)
		switch {
		case err == nil:
			return nil
		case IsPermanent(err):
			return backoff.Permanent(err)
		case IsTransient(err):
			return err
		}
		failures++
		if failures >= c.retry.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("message handling failed",
			zap.String("topic", c.topic),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, c.retry.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.forwardToDeadLetter(ctx, msg, err)
}

// forwardToDeadLetter publishes msg to "<topic>.dlq", retrying until the
// publish succeeds or ctx is cancelled.
func (c *Consumer) forwardToDeadLetter(ctx context.Context, msg kafkago.Message, cause error) error {
	if c.deadLetter == nil {
		c.logger.Error("dropping message after retries",
			zap.String("topic", c.topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(cause),
		)
		return nil
	}

	dlqTopic := c.topic + ".dlq"
	headers := []kafkago.Header{
		{Key: "x-error", Value: []byte(cause.Error())},
		{Key: "x-original-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	}
	publish := func() error {
		return c.deadLetter.PublishRaw(ctx, dlqTopic, msg.Key, msg.Value, headers...)
	}
	notify := func(err error, wait time.Duration) {
		c.setStalled(fmt.Errorf("dead-letter publish to %s failing: %w", dlqTopic, err))
		c.logger.Error("failed to dead-letter message",
			zap.String("dlq", dlqTopic),
			zap.Int64("offset", msg.Offset),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(publish, c.retry.backOff(ctx), notify); err != nil {
		return err
	}
	c.setStalled(nil)

	c.logger.Error("message dead-lettered",
		zap.String("topic", c.topic),
		zap.String("dlq", dlqTopic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause),
	)
	return nil
}

// sleep waits for d or until ctx is done. It reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
