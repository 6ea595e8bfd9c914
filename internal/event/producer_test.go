package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/VideoTubeGo/internal/domain"
	pkgkafka "github.com/utafrali/VideoTubeGo/pkg/kafka"
	"github.com/utafrali/VideoTubeGo/pkg/logger"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestProducer(w *fakeWriter) *Producer {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProducer(pkgkafka.NewProducerWithWriter(w, []string{"localhost:9092"}, l), l)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "videotube.user.registered", TopicUserRegistered)
	assert.Equal(t, "videotube.session.started", TopicSessionStarted)
	assert.Equal(t, "videotube.session.ended", TopicSessionEnded)
	assert.Equal(t, "videotube.session.reuse_detected", TopicSessionReuseDetected)
}

func TestPublishUserRegistered(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	err := p.PublishUserRegistered(ctx, &domain.User{
		ID: "user-1", Username: "ana", Email: "ana@x.com", FullName: "Ana Lima", PasswordHash: "hash",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, TopicUserRegistered, msg.Topic)
	assert.Equal(t, "user-1", string(msg.Key))
	assert.NotContains(t, string(msg.Value), "hash")

	event, err := pkgkafka.UnmarshalEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, SourceAuthService, event.Source)

	var data UserRegisteredData
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, "ana", data.Username)
	assert.Equal(t, "ana@x.com", data.Email)
}

func TestPublishSessionEvents(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	ctx := context.Background()

	require.NoError(t, p.PublishSessionStarted(ctx, "user-1", ReasonLogin))
	require.NoError(t, p.PublishSessionEnded(ctx, "user-1", ReasonLogout))
	require.NoError(t, p.PublishReuseDetected(ctx, "user-1"))
	require.Len(t, w.msgs, 3)

	topics := []string{w.msgs[0].Topic, w.msgs[1].Topic, w.msgs[2].Topic}
	assert.Equal(t, []string{TopicSessionStarted, TopicSessionEnded, TopicSessionReuseDetected}, topics)

	event, err := pkgkafka.UnmarshalEvent(w.msgs[1].Value)
	require.NoError(t, err)
	var data SessionData
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, SessionData{UserID: "user-1", Reason: ReasonLogout}, data)
}

func TestPublish_WriterError(t *testing.T) {
	p := newTestProducer(&fakeWriter{err: errors.New("broker down")})

	err := p.PublishSessionStarted(context.Background(), "user-1", ReasonRefresh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicSessionStarted)
}

func TestDiscard(t *testing.T) {
	var d Discard
	ctx := context.Background()
	assert.NoError(t, d.PublishUserRegistered(ctx, &domain.User{}))
	assert.NoError(t, d.PublishSessionStarted(ctx, "u", ReasonLogin))
	assert.NoError(t, d.PublishSessionEnded(ctx, "u", ReasonLogout))
	assert.NoError(t, d.PublishReuseDetected(ctx, "u"))
}
