package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishBatchEncodes(t *testing.T) {
	w := &stubWriter{}
	p := newProducer(w, "snappy")

	err := p.PublishBatch(context.Background(), "out", []Message{
		{Key: []byte("1"), Value: map[string]int{"a": 1}, Headers: map[string]string{"summary": "x"}},
		{Key: []byte("1"), Value: "raw"},
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "out", w.msgs[0].Topic)
	assert.JSONEq(t, `{"a":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "summary", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "raw", string(w.msgs[1].Value))
}

func TestProducer_PublishMessage(t *testing.T) {
	w := &stubWriter{}
	p := newProducer(w, "none")

	require.NoError(t, p.PublishMessage(context.Background(), "logs", []string{"a"}))
	require.Len(t, w.msgs, 1)
	assert.Nil(t, w.msgs[0].Key)

	assert.NoError(t, p.PublishBatch(context.Background(), "logs", nil))
	assert.Len(t, w.msgs, 1)
}
