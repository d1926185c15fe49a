package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	Clock         func() time.Time
	ExtraChecks   []repositories.DependencyCheck
	HealthOptions []repositories.DependencyHealthOption
	TxOptions     []pfirestore.TxOption
}

// Registry wires every Firestore repository over one provider.
type Registry struct {
	provider      *pfirestore.Provider
	uow           *pfirestore.UnitOfWork
	products      *ProductRepository
	categories    *CategoryRepository
	orders        *OrderRepository
	carts         *CartRepository
	notifications *NotificationRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repository set. The provider is closed by Registry.Close.
func NewRegistry(provider *pfirestore.Provider, opts RegistryOptions) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}

	products, err := NewProductRepository(provider, opts.Clock)
	if err != nil {
		return nil, err
	}
	categories, err := NewCategoryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, opts.ExtraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks, opts.HealthOptions...)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider:      provider,
		uow:           pfirestore.NewUnitOfWork(provider, opts.TxOptions...),
		products:      products,
		categories:    categories,
		orders:        orders,
		carts:         carts,
		notifications: notifications,
		health:        health,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Categories() repositories.CategoryRepository { return r.categories }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn in one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

func (r *Registry) Transactional() bool { return r.uow.Transactional() }

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
