package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	domain "github.com/pawmart/api/internal/domain"
	pmongo "github.com/pawmart/api/internal/platform/mongo"
	"github.com/pawmart/api/internal/repositories"
)

// CategoryRepository reads product categories.
type CategoryRepository struct {
	provider *pmongo.Provider
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)

// NewCategoryRepository constructs a Mongo-backed category repository.
func NewCategoryRepository(provider *pmongo.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires mongo provider")
	}
	return &CategoryRepository{provider: provider}, nil
}

// FindByID loads a category. An unknown kind is returned as-is for the caller to judge.
func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return domain.Category{}, pmongo.NotFound("categories.find", errors.New("category id is required"))
	}
	var doc categoryDocument
	err := r.provider.Collection(categoryCollection).FindOne(ctx, bson.M{"_id": categoryID}).Decode(&doc)
	if err != nil {
		return domain.Category{}, pmongo.WrapError("categories.find", err)
	}
	return domain.Category{
		ID:   doc.ID,
		Name: doc.Name,
		Kind: domain.ProductKind(strings.ToLower(strings.TrimSpace(doc.Kind))),
	}, nil
}
