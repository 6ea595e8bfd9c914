package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/VideoTubeGo/internal/domain"
	pkgkafka "github.com/utafrali/VideoTubeGo/pkg/kafka"
	"github.com/utafrali/VideoTubeGo/pkg/logger"
)

// Kafka topics for account and session events.
var (
	TopicUserRegistered       = pkgkafka.Topic("user", "registered")
	TopicSessionStarted       = pkgkafka.Topic("session", "started")
	TopicSessionEnded         = pkgkafka.Topic("session", "ended")
	TopicSessionReuseDetected = pkgkafka.Topic("session", "reuse_detected")
)

// AggregateTypeUser is the aggregate every event here belongs to.
const AggregateTypeUser = "user"

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "videotube-auth"

// Session start and end reasons.
const (
	ReasonLogin          = "login"
	ReasonRefresh        = "refresh"
	ReasonLogout         = "logout"
	ReasonPasswordChange = "password_change"
)

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// SessionData is the payload for session events.
type SessionData struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Publisher is the Kafka side of a Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes account and session events.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user.ID, UserRegisteredData{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
	})
}

// PublishSessionStarted publishes a session.started event.
func (p *Producer) PublishSessionStarted(ctx context.Context, userID, reason string) error {
	return p.publish(ctx, TopicSessionStarted, userID, SessionData{UserID: userID, Reason: reason})
}

// PublishSessionEnded publishes a session.ended event.
func (p *Producer) PublishSessionEnded(ctx context.Context, userID, reason string) error {
	return p.publish(ctx, TopicSessionEnded, userID, SessionData{UserID: userID, Reason: reason})
}

// PublishReuseDetected publishes a session.reuse_detected event for a
// refresh token presented after it was rotated or cleared.
func (p *Producer) PublishReuseDetected(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicSessionReuseDetected, userID, SessionData{UserID: userID, Reason: ReasonRefresh})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, userID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("user_id", userID),
	)
	return nil
}

// Discard drops every event. It is used when Kafka is disabled.
type Discard struct{}

// PublishUserRegistered does nothing.
func (Discard) PublishUserRegistered(context.Context, *domain.User) error { return nil }

// PublishSessionStarted does nothing.
func (Discard) PublishSessionStarted(context.Context, string, string) error { return nil }

// PublishSessionEnded does nothing.
func (Discard) PublishSessionEnded(context.Context, string, string) error { return nil }

// PublishReuseDetected does nothing.
func (Discard) PublishReuseDetected(context.Context, string) error { return nil }
