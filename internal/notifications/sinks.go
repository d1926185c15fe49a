package notifications

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

// Sink delivers a rendered notification to one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, notification domain.Notification) error
}

// StoreSink persists notifications for the in-app inbox.
type StoreSink struct {
	repo repositories.NotificationRepository
}

// NewStoreSink wraps the notification repository.
func NewStoreSink(repo repositories.NotificationRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, notification domain.Notification) error {
	if s == nil || s.repo == nil {
		return errors.New("notifications: store sink not configured")
	}
	return s.repo.Insert(ctx, notification)
}

// NotificationPublisher is satisfied by jobs.PubSubPublisher.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, notification domain.Notification) (string, error)
}

// TopicSink forwards notifications to the fan-out topic read by push and email workers.
type TopicSink struct {
	publisher NotificationPublisher
}

// NewTopicSink wraps a notification publisher.
func NewTopicSink(publisher NotificationPublisher) *TopicSink {
	return &TopicSink{publisher: publisher}
}

func (s *TopicSink) Name() string { return "pubsub" }

func (s *TopicSink) Deliver(ctx context.Context, notification domain.Notification) error {
	if s == nil || s.publisher == nil {
		return errors.New("notifications: topic sink not configured")
	}
	_, err := s.publisher.PublishNotification(ctx, notification)
	return err
}

// LogSink writes each notification as a structured log entry.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink logs through logger; nil disables output.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, notification domain.Notification) error {
	audience := "user"
	if notification.UserID == "" {
		audience = "admin"
	}
	s.logger.Info("notification delivered",
		zap.String("notificationId", notification.ID),
		zap.String("audience", audience),
		zap.String("userId", notification.UserID),
		zap.String("type", string(notification.Type)),
		zap.String("level", string(notification.Level)),
		zap.String("locale", notification.Locale),
		zap.String("title", notification.Title),
		zap.String("message", notification.Message),
		zap.Any("metadata", notification.Metadata),
	)
	return nil
}
