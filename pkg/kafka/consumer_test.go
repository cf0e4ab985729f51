package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MergeWatch/pkg/logger"
)

type stubHandler struct {
	topic string
	errs  []error
	calls int
}

func (h *stubHandler) Topic() string { return h.topic }

func (h *stubHandler) Handle(context.Context, []byte) error {
	h.calls++
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

type stubWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error { return nil }

type stubCommitter struct {
	committed []int64
}

func (c *stubCommitter) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		c.committed = append(c.committed, m.Offset)
	}
	return nil
}

func testConsumer(retries int) *Consumer {
	return newConsumer(&ConsumerConfig{
		WorkerCount: 1,
		BufferSize:  1,
		RetryMax:    retries,
		BackoffMin:  time.Millisecond,
		BackoffMax:  time.Millisecond,
		DLQTopic:    "dlq",
		Logger:      logger.Nop(),
	})
}

func testMessage(topic string, offset int64) *message {
	return &message{
		topic: topic,
		data:  []byte(`{}`),
		km:    kafka.Message{Topic: topic, Offset: offset, Key: []byte("7")},
	}
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	c := testConsumer(3)
	h := &stubHandler{topic: "in", errs: []error{errors.New("busy"), errors.New("busy")}}
	c.RegisterHandler(h)
	commit := &stubCommitter{}

	c.process(testMessage("in", 42), commit)

	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []int64{42}, commit.committed)
}

func TestConsumer_DeadLettersAfterRetries(t *testing.T) {
	c := testConsumer(1)
	dlq := &stubWriter{}
	c.dlq = dlq
	h := &stubHandler{topic: "in", errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	c.RegisterHandler(h)
	commit := &stubCommitter{}

	c.process(testMessage("in", 5), commit)

	assert.Equal(t, 2, h.calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "dlq", dlq.msgs[0].Topic)
	assert.Equal(t, []byte("7"), dlq.msgs[0].Key)
	assert.Equal(t, []int64{5}, commit.committed)
}

func TestConsumer_PermanentErrorSkipsRetries(t *testing.T) {
	c := testConsumer(5)
	dlq := &stubWriter{}
	c.dlq = dlq
	h := &stubHandler{topic: "in", errs: []error{fmt.Errorf("decode: %w", ErrPermanent)}}
	c.RegisterHandler(h)

	c.process(testMessage("in", 1), &stubCommitter{})

	assert.Equal(t, 1, h.calls)
	assert.Len(t, dlq.msgs, 1)
}

func TestConsumer_NoCommitWithoutDLQOnFailure(t *testing.T) {
	c := testConsumer(0)
	h := &stubHandler{topic: "in", errs: []error{errors.New("x")}}
	c.RegisterHandler(h)
	commit := &stubCommitter{}

	c.process(testMessage("in", 9), commit)

	assert.Empty(t, commit.committed)
}

func TestConsumer_HandlerPanicIsPermanent(t *testing.T) {
	c := testConsumer(3)
	c.RegisterHandler(panicHandler{})

	assert.NotPanics(t, func() { c.process(testMessage("boom", 1), &stubCommitter{}) })
}

type panicHandler struct{}

func (panicHandler) Topic() string                        { return "boom" }
func (panicHandler) Handle(context.Context, []byte) error { panic("kaboom") }

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestPartitionLockIsShared(t *testing.T) {
	c := testConsumer(0)
	assert.Same(t, c.partitionLock("t", 1), c.partitionLock("t", 1))
	assert.NotSame(t, c.partitionLock("t", 1), c.partitionLock("t", 2))
}
