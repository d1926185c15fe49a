package firestore

import (
	"context"
	"errors"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

// NotificationRepository appends delivered notifications to the inbox collection.
type NotificationRepository struct {
	base *pfirestore.BaseRepository[notificationDocument]
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository constructs a Firestore-backed notification inbox.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{base: pfirestore.NewBaseRepository[notificationDocument](provider, notificationCollection)}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		return errors.New("notification repository: id is required")
	}
	audience := "user"
	if n.UserID == "" {
		audience = "admin"
	}
	return r.base.Create(ctx, n.ID, notificationDocument{
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
	})
}
