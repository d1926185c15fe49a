package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

const servicesMeterName = "github.com/pawmart/api/internal/services"

var (
	// ErrStockInvalidInput indicates a missing product id or non-positive quantity.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockProductNotFound indicates the product exists in neither collection.
	ErrStockProductNotFound = errors.New("stock: product not found")
	// ErrStockOutOfStock indicates nothing is available.
	ErrStockOutOfStock = errors.New("stock: out of stock")
	// ErrStockInsufficient indicates fewer units are available than requested.
	ErrStockInsufficient = errors.New("stock: insufficient stock")
)

// StockShortageError reports a rejected reservation check together with the exact
// remaining count.
type StockShortageError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockShortageError) Error() string {
	if e.Available <= 0 {
		return "out of stock"
	}
	return fmt.Sprintf("only %d left", e.Available)
}

// Unwrap maps the shortage onto ErrStockOutOfStock or ErrStockInsufficient.
func (e *StockShortageError) Unwrap() error {
	if e.Available <= 0 {
		return ErrStockOutOfStock
	}
	return ErrStockInsufficient
}

// AsStockShortage extracts a StockShortageError from the chain.
func AsStockShortage(err error) (*StockShortageError, bool) {
	var shortage *StockShortageError
	if errors.As(err, &shortage) {
		return shortage, true
	}
	return nil, false
}

// StockServiceDeps bundles collaborators required to construct the stock service.
type StockServiceDeps struct {
	Products repositories.ProductRepository
	Meter    metric.Meter
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	products repositories.ProductRepository
	checks   metric.Int64Counter
	logger   func(context.Context, string, map[string]any)
}

var _ StockService = (*stockService)(nil)

// NewStockService constructs the availability checker.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}
	checks, err := meter.Int64Counter("stock.reservation.checks",
		metric.WithDescription("Cart reservation checks by outcome"))
	if err != nil {
		return nil, fmt.Errorf("stock service: register metric: %w", err)
	}
	return &stockService{products: deps.Products, checks: checks, logger: logger}, nil
}

func (s *stockService) Lookup(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	return lookupProduct(ctx, s.products, productID)
}

func (s *stockService) CheckReserve(ctx context.Context, productID string, qty int) (StockCheck, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockCheck{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if qty <= 0 {
		return StockCheck{}, fmt.Errorf("%w: quantity must be positive", ErrStockInvalidInput)
	}

	product, err := lookupProduct(ctx, s.products, productID)
	if err != nil {
		s.record(ctx, "error")
		return StockCheck{}, err
	}

	available := product.Available()
	if qty > available {
		outcome := "insufficient"
		if available <= 0 {
			outcome = "out_of_stock"
		}
		s.record(ctx, outcome)
		return StockCheck{}, &StockShortageError{ProductID: productID, Requested: qty, Available: available}
	}

	s.record(ctx, "accepted")
	return StockCheck{
		ProductID: productID,
		Kind:      product.Kind,
		Requested: qty,
		Available: available,
		Product:   product,
	}, nil
}

func (s *stockService) ReleaseStock(context.Context, string, int) error {
	return nil
}

func (s *stockService) record(ctx context.Context, outcome string) {
	s.checks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// lookupProduct probes the consumable collection first, then durable. The first hit wins.
func lookupProduct(ctx context.Context, products repositories.ProductRepository, productID string) (Product, error) {
	for _, kind := range domain.ProductKinds {
		product, err := products.FindByID(ctx, kind, productID)
		if err == nil {
			return product, nil
		}
		if !isRepoNotFound(err) {
			return Product{}, fmt.Errorf("stock: lookup %s in %s: %w", productID, kind, err)
		}
	}
	return Product{}, fmt.Errorf("%w: %s", ErrStockProductNotFound, productID)
}
