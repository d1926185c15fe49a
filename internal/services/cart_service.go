package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pawmart/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates a missing identifier or a quantity below one.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartNotFound indicates the cart or the addressed line does not exist.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartUnavailable indicates the cart store could not be reached.
	ErrCartUnavailable = errors.New("cart: repository unavailable")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
// Locks serialises mutations per user; share it with the order service so checkout and cart
// edits for one user never interleave.
type CartServiceDeps struct {
	Carts  repositories.CartRepository
	Stock  StockService
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
	Locks  *KeyedLocker
}

type cartService struct {
	carts  repositories.CartRepository
	stock  StockService
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
	locks  *KeyedLocker
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs the cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("cart service: stock service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewKeyedLocker()
	}
	return &cartService{
		carts: deps.Carts,
		stock: deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		locks:  locks,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return emptyCart(userID), nil
		}
		return Cart{}, s.mapRepositoryError(err)
	}
	return cart, nil
}

func (s *cartService) AddToCart(ctx context.Context, cmd AddToCartCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	idx := findLine(cart.Lines, productID)
	total := cmd.Quantity
	if idx >= 0 {
		total += cart.Lines[idx].Quantity
	}
	check, err := s.stock.CheckReserve(ctx, productID, total)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	product := check.Product
	discount := clampPercent(cmd.DiscountPercent)
	line := CartLine{
		ProductID:          productID,
		CategoryID:         product.CategoryID,
		Name:               product.Name,
		Quantity:           total,
		PriceOriginal:      product.Price,
		DiscountPercent:    discount,
		PriceAfterDiscount: discountedPrice(product.Price, discount),
		Selected:           true,
		AddedAt:            now,
	}
	if idx >= 0 {
		line.AddedAt = cart.Lines[idx].AddedAt
		line.Selected = cart.Lines[idx].Selected
	}
	if cmd.Selected != nil {
		line.Selected = *cmd.Selected
	}

	if idx >= 0 {
		cart.Lines[idx] = line
	} else {
		cart.Lines = append(cart.Lines, line)
	}
	return s.save(ctx, cart, now)
}

func (s *cartService) UpdateCartQuantity(ctx context.Context, cmd UpdateCartQuantityCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	cart, idx, err := s.loadLine(ctx, userID, productID)
	if err != nil {
		return Cart{}, err
	}

	// Only the increase needs stock; lowering a quantity always succeeds.
	if delta := cmd.Quantity - cart.Lines[idx].Quantity; delta > 0 {
		if _, err := s.stock.CheckReserve(ctx, productID, delta); err != nil {
			return Cart{}, err
		}
	}
	cart.Lines[idx].Quantity = cmd.Quantity
	return s.save(ctx, cart, s.now())
}

func (s *cartService) RemoveCartItem(ctx context.Context, userID, productID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	productID = strings.TrimSpace(productID)
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	cart, idx, err := s.loadLine(ctx, userID, productID)
	if err != nil {
		return Cart{}, err
	}
	removed := cart.Lines[idx]
	cart.Lines = slices.Delete(cart.Lines, idx, idx+1)
	if err := s.stock.ReleaseStock(ctx, productID, removed.Quantity); err != nil {
		s.logger(ctx, "cart.release.failed", map[string]any{"userId": userID, "productId": productID, "error": err.Error()})
	}

	if len(cart.Lines) == 0 {
		if err := s.carts.Delete(ctx, userID); err != nil {
			return Cart{}, s.mapRepositoryError(err)
		}
		return emptyCart(userID), nil
	}
	return s.save(ctx, cart, s.now())
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.carts.Delete(ctx, userID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *cartService) loadLine(ctx context.Context, userID, productID string) (Cart, int, error) {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return Cart{}, -1, s.mapRepositoryError(err)
	}
	idx := findLine(cart.Lines, productID)
	if idx < 0 {
		return Cart{}, -1, fmt.Errorf("%w: product %s is not in the cart", ErrCartNotFound, productID)
	}
	return cart, idx, nil
}

func (s *cartService) save(ctx context.Context, cart Cart, now time.Time) (Cart, error) {
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	if err := s.carts.Save(ctx, cart); err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return cart, nil
}

func (s *cartService) mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrCartNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return err
}

func (s *cartService) now() time.Time {
	return s.clock()
}

func findLine(lines []CartLine, productID string) int {
	return slices.IndexFunc(lines, func(line CartLine) bool {
		return line.ProductID == productID
	})
}

func emptyCart(userID string) Cart {
	return Cart{ID: userID, UserID: userID, Lines: []CartLine{}}
}
