package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

// CartRepository persists carts using the user ID as document identifier.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)}, nil
}

func (r *CartRepository) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := domain.Cart{
		ID:        doc.Data.CartID,
		UserID:    doc.ID,
		Lines:     make([]domain.CartLine, 0, len(doc.Data.Lines)),
		CreatedAt: doc.Data.CreatedAt,
		UpdatedAt: doc.Data.UpdatedAt,
	}
	if cart.ID == "" {
		cart.ID = doc.ID
	}
	for _, line := range doc.Data.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine(line))
	}
	return cart, nil
}

// Save overwrites the whole cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	doc := cartDocument{
		CartID:     cart.ID,
		Lines:      make([]cartLineDocument, 0, len(cart.Lines)),
		ItemsCount: len(cart.Lines),
		CreatedAt:  cart.CreatedAt.UTC(),
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
	for _, line := range cart.Lines {
		line.AddedAt = line.AddedAt.UTC()
		doc.Lines = append(doc.Lines, cartLineDocument(line))
	}
	return r.base.Set(ctx, uid, doc)
}

func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(userID))
}
