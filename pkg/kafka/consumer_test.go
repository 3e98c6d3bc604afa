package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubReader struct {
	mu        sync.Mutex
	messages  []kafkago.Message
	committed []int64
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

func (r *stubReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type stubDeadLetter struct {
	mu       sync.Mutex
	topics   []string
	failures int
	calls    int
}

func (d *stubDeadLetter) PublishRaw(_ context.Context, topic string, _, _ []byte, _ ...kafkago.Header) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failures > 0 {
		d.failures--
		return errors.New("broker unreachable")
	}
	d.topics = append(d.topics, topic)
	return nil
}

func (d *stubDeadLetter) published() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.topics...)
}

func newTestConsumer(reader *stubReader) *Consumer {
	c := &Consumer{reader: reader, topic: "automation.events", logger: zap.NewNop()}
	return c.WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

func runUntilCommitted(t *testing.T, c *Consumer, reader *stubReader, handler MessageHandler, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, handler) }()

	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == want
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_RetriesUntilSuccess(t *testing.T) {
	reader := &stubReader{messages: []kafkago.Message{{Offset: 7}}}
	c := newTestConsumer(reader)

	calls := 0
	handler := func(context.Context, kafkago.Message) error {
		calls++
		if calls < 3 {
			return errors.New("database unavailable")
		}
		return nil
	}

	runUntilCommitted(t, c, reader, handler, 1)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, reader.committedOffsets())
}

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	reader := &stubReader{messages: []kafkago.Message{{Offset: 1}, {Offset: 2}}}
	dlq := &stubDeadLetter{}
	c := newTestConsumer(reader).WithDeadLetter(dlq)

	handler := func(_ context.Context, msg kafkago.Message) error {
		if msg.Offset == 1 {
			return errors.New("poison")
		}
		return nil
	}

	runUntilCommitted(t, c, reader, handler, 2)
	assert.Equal(t, []int64{1, 2}, reader.committedOffsets())
	assert.Equal(t, []string{"automation.events.dlq"}, dlq.topics)
}

func TestConsumer_PermanentErrorSkipsRetries(t *testing.T) {
	reader := &stubReader{messages: []kafkago.Message{{Offset: 3}}}
	dlq := &stubDeadLetter{}
	c := newTestConsumer(reader).WithDeadLetter(dlq)

	calls := 0
	handler := func(context.Context, kafkago.Message) error {
		calls++
		return Permanent(errors.New("malformed payload"))
	}

	runUntilCommitted(t, c, reader, handler, 1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"automation.events.dlq"}, dlq.topics)
}

func TestConsumer_DeadLetterFailureDoesNotStopConsumption(t *testing.T) {
	reader := &stubReader{messages: []kafkago.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	dlq := &stubDeadLetter{failures: 2}
	c := newTestConsumer(reader).WithDeadLetter(dlq)

	var handled []int64
	handler := func(_ context.Context, msg kafkago.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 1 {
			return Permanent(errors.New("malformed payload"))
		}
		return nil
	}

	runUntilCommitted(t, c, reader, handler, 3)
	assert.Equal(t, []int64{1, 2, 3}, reader.committedOffsets())
	assert.Equal(t, []int64{1, 2, 3}, handled)
	assert.Equal(t, []string{"automation.events.dlq"}, dlq.published())
	assert.Equal(t, 3, dlq.calls)
}

func TestConsumer_TransientErrorsOutlastMaxAttempts(t *testing.T) {
	reader := &stubReader{messages: []kafkago.Message{{Offset: 4}}}
	dlq := &stubDeadLetter{}
	c := newTestConsumer(reader).WithDeadLetter(dlq)

	calls := 0
	handler := func(context.Context, kafkago.Message) error {
		calls++
		if calls <= 6 {
			return Transient(errors.New("database unavailable"))
		}
		return nil
	}

	runUntilCommitted(t, c, reader, handler, 1)
	assert.Equal(t, 7, calls)
	assert.Empty(t, dlq.published())
}

func TestConsumer_ReadyTracksRunState(t *testing.T) {
	reader := &stubReader{}
	c := newTestConsumer(reader)
	assert.Error(t, c.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, func(context.Context, kafkago.Message) error { return nil }) }()

	require.Eventually(t, func() bool { return c.Ready() == nil }, time.Second, 5*time.Millisecond)

	c.setStalled(errors.New("dead-letter publish failing"))
	assert.Error(t, c.Ready())
	c.setStalled(nil)

	cancel()
	require.NoError(t, <-done)
	assert.Error(t, c.Ready())
}

func TestRetryPolicy_BackOffIsCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	b := p.backOff(ctx)

	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		assert.Greater(t, d, time.Duration(0))
		// Randomisation spreads each interval by up to half of itself.
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}

	cancel()
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestCloudEvent_ParseDataDecodesPayload(t *testing.T) {
	ce, err := NewCloudEvent("service-automation", "automation.comment.matched", map[string]string{"comment_id": "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.NotEmpty(t, ce.ID)

	var data map[string]string
	require.NoError(t, ce.ParseData(&data))
	assert.Equal(t, "c-1", data["comment_id"])
}

func TestParseCloudEvent_RejectsMissingType(t *testing.T) {
	_, err := ParseCloudEvent([]byte(`{"id":"x","data":{}}`))
	assert.Error(t, err)
}
