package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducer_Validation(t *testing.T) {
	_, err := NewProducer()
	assert.ErrorIs(t, err, errNoBrokers)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.ErrorContains(t, err, "brotli")

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"), WithHashByKey(true))
	require.NoError(t, err)
	w := p.writer.(*kafka.Writer)
	assert.Equal(t, kafka.Zstd, w.Compression)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	require.NoError(t, p.Close())
}

func TestNewConsumer_Validation(t *testing.T) {
	brokers := WithConsumerBrokers([]string{"localhost:9092"})

	_, err := NewConsumer()
	assert.ErrorIs(t, err, errNoBrokers)

	_, err = NewConsumer(brokers, WithConsumerGroupID(""))
	assert.Error(t, err)

	_, err = NewConsumer(brokers, WithConsumerRetry(3, time.Second, time.Millisecond))
	assert.ErrorContains(t, err, "backoff")

	c, err := NewConsumer(brokers, WithConsumerWorkers(0), WithConsumerDLQ("dlq"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.cfg.WorkerCount)
	assert.NotNil(t, c.dlq)
}
