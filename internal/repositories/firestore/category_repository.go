package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

// CategoryRepository reads product categories.
type CategoryRepository struct {
	base *pfirestore.BaseRepository[categoryDocument]
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)

// NewCategoryRepository constructs a Firestore-backed category repository.
func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires firestore provider")
	}
	return &CategoryRepository{base: pfirestore.NewBaseRepository[categoryDocument](provider, categoryCollection)}, nil
}

func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(categoryID))
	if err != nil {
		return domain.Category{}, err
	}
	return domain.Category{
		ID:   doc.ID,
		Name: doc.Data.Name,
		Kind: domain.ProductKind(strings.ToLower(strings.TrimSpace(doc.Data.Kind))),
	}, nil
}
