package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), "trip.created", []byte("17"), []byte(`{"trip_id":17}`)))
	require.Len(t, fw.last, 1)
	require.Equal(t, "trip.created", fw.last[0].Topic)
	require.Equal(t, []byte("17"), fw.last[0].Key)
	require.Equal(t, []byte(`{"trip_id":17}`), fw.last[0].Value)
}

func TestProducer_Publish_WrapsError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := newProducerWithWriter(fw)
	require.Error(t, p.Publish(context.Background(), "trip.created", nil, nil))
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}
