package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// --- Event ---

func TestNewEvent_Fields(t *testing.T) {
	type sessionData struct {
		UserID string `json:"user_id"`
	}

	event, err := NewEvent("session.started", "user-1", "user", "videotube-auth", sessionData{UserID: "user-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "session.started", event.EventType)
	assert.Equal(t, "user-1", event.AggregateID)
	assert.Equal(t, "user", event.AggregateType)
	assert.Equal(t, "videotube-auth", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var got sessionData
	require.NoError(t, event.UnmarshalData(&got))
	assert.Equal(t, "user-1", got.UserID)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("user.registered", "u", "user", "svc", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user.registered")
}

func TestEvent_Chaining(t *testing.T) {
	event, err := NewEvent("session.ended", "u", "user", "svc", nil)
	require.NoError(t, err)

	assert.Same(t, event, event.WithCorrelationID("corr-1").WithMetadata("reason", "logout"))
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, "logout", event.Metadata["reason"])

	event.Metadata = nil
	event.WithMetadata("k", "v")
	assert.Equal(t, "v", event.Metadata["k"])
}

func TestUnmarshalEvent_InvalidJSON(t *testing.T) {
	_, err := UnmarshalEvent([]byte("{not json"))
	assert.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "videotube.session.started", Topic("session", "started"))
	assert.Equal(t, "videotube.user.registered", Topic("user", "registered"))
}

// --- Producer ---

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"kafka:9092"})
	assert.Equal(t, []string{"kafka:9092"}, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.False(t, cfg.Async)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, []string{"kafka:9092"}, testLogger())

	event, err := NewEvent("session.started", "user-1", "user", "videotube-auth", map[string]string{"user_id": "user-1"})
	require.NoError(t, err)
	event.WithCorrelationID("corr-9")

	require.NoError(t, p.Publish(context.Background(), Topic("session", "started"), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "videotube.session.started", msg.Topic)
	assert.Equal(t, "user-1", string(msg.Key))
	assert.Equal(t, "session.started", headerValue(msg, "event_type"))
	assert.Equal(t, "videotube-auth", headerValue(msg, "source"))
	assert.Equal(t, "corr-9", headerValue(msg, "correlation_id"))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, nil, testLogger())

	event, err := NewEvent("session.ended", "user-1", "user", "svc", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "videotube.session.ended", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to videotube.session.ended")
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewProducerWithWriter(w, nil, testLogger()).Close())
	assert.True(t, w.closed)
}

func TestNewProducer_CreatesInstance(t *testing.T) {
	p := NewProducer(DefaultProducerConfig([]string{"localhost:9092"}), testLogger())
	require.NotNil(t, p)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}
