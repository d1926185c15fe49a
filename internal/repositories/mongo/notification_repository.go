package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	domain "github.com/pawmart/api/internal/domain"
	pmongo "github.com/pawmart/api/internal/platform/mongo"
	"github.com/pawmart/api/internal/repositories"
)

const (
	audienceUser  = "user"
	audienceAdmin = "admin"
)

// NotificationRepository appends delivered notifications to the inbox collection.
type NotificationRepository struct {
	coll *mongo.Collection
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository constructs a Mongo-backed notification inbox.
func NewNotificationRepository(provider *pmongo.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires mongo provider")
	}
	return &NotificationRepository{coll: provider.Collection(notificationCollection)}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		return errors.New("notification repository: id is required")
	}
	audience := audienceUser
	if n.UserID == "" {
		audience = audienceAdmin
	}
	doc := notificationDocument{
		ID:        n.ID,
		UserID:    n.UserID,
		Audience:  audience,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Level:     string(n.Level),
		Locale:    n.Locale,
		Metadata:  n.Metadata,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC(),
	}
	_, err := r.coll.InsertOne(ctx, doc)
	return pmongo.WrapError("notifications.insert", err)
}
