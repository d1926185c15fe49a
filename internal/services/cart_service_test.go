package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/pawmart/api/internal/domain"
)

var cartTestNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestCartService(t *testing.T, products *memoryProducts, carts *memoryCarts) CartService {
	t.Helper()
	stock, err := NewStockService(StockServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("NewStockService: %v", err)
	}
	svc, err := NewCartService(CartServiceDeps{
		Carts: carts,
		Stock: stock,
		Clock: fixedClock(cartTestNow),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func cartProducts() *memoryProducts {
	return newMemoryProducts(
		domain.Product{ID: "p-food", Kind: domain.ProductKindConsumable, CategoryID: "cat-food", Name: "Kibble", Quantity: 10, SoldCount: 7, Price: 1000},
		domain.Product{ID: "p-toy", Kind: domain.ProductKindDurable, CategoryID: "cat-toy", Name: "Rope toy", Quantity: 5, SoldCount: 0, Price: 800},
	)
}

func TestNewCartServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{}); err == nil {
		t.Fatal("expected error without repositories")
	}
	if _, err := NewCartService(CartServiceDeps{Carts: newMemoryCarts()}); err == nil {
		t.Fatal("expected error without stock service")
	}
}

func TestCartServiceGetCartReturnsEmptyCart(t *testing.T) {
	svc := newTestCartService(t, cartProducts(), newMemoryCarts())
	cart, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.UserID != "user-1" || cart.Lines == nil || len(cart.Lines) != 0 {
		t.Fatalf("unexpected empty cart %+v", cart)
	}
	if _, err := svc.GetCart(context.Background(), ""); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCartServiceAddToCartMergesLines(t *testing.T) {
	carts := newMemoryCarts()
	svc := newTestCartService(t, cartProducts(), carts)
	ctx := context.Background()

	cart, err := svc.AddToCart(ctx, AddToCartCommand{UserID: "user-1", ProductID: "p-toy", Quantity: 2, DiscountPercent: 25})
	if err != nil {
		t.Fatalf("AddToCart: %v", err)
	}
	line := cart.Lines[0]
	if line.Quantity != 2 || line.PriceOriginal != 800 || line.PriceAfterDiscount != 600 || !line.Selected {
		t.Fatalf("unexpected line %+v", line)
	}
	if !line.AddedAt.Equal(cartTestNow) || !cart.CreatedAt.Equal(cartTestNow) {
		t.Fatalf("expected timestamps from clock, got %+v", cart)
	}

	selected := false
	cart, err = svc.AddToCart(ctx, AddToCartCommand{UserID: "user-1", ProductID: "p-toy", Quantity: 3, Selected: &selected})
	if err != nil {
		t.Fatalf("AddToCart merge: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 5 || cart.Lines[0].Selected {
		t.Fatalf("expected merged unselected line of 5, got %+v", cart.Lines)
	}

	_, err = svc.AddToCart(ctx, AddToCartCommand{UserID: "user-1", ProductID: "p-toy", Quantity: 1})
	if !errors.Is(err, ErrStockOutOfStock) && !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected merged total checked against stock, got %v", err)
	}
	if got := carts.items["user-1"].Lines[0].Quantity; got != 5 {
		t.Fatalf("rejected add must not change the cart, got %d", got)
	}
}

func TestCartServiceAddToCartChecksMergedQuantity(t *testing.T) {
	carts := newMemoryCarts(domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Lines:  []domain.CartLine{{ProductID: "p-food", CategoryID: "cat-food", Quantity: 2, Selected: true}},
	})
	svc := newTestCartService(t, cartProducts(), carts)

	_, err := svc.AddToCart(context.Background(), AddToCartCommand{UserID: "user-1", ProductID: "p-food", Quantity: 2})
	shortage, ok := AsStockShortage(err)
	if !ok || shortage.Requested != 4 || shortage.Available != 3 {
		t.Fatalf("expected the merged 4 checked against 3 available, got %v", err)
	}
	if got := carts.items["user-1"].Lines[0].Quantity; got != 2 {
		t.Fatalf("rejected add must keep the existing line, got %d", got)
	}

	cart, err := svc.AddToCart(context.Background(), AddToCartCommand{UserID: "user-1", ProductID: "p-food", Quantity: 1})
	if err != nil {
		t.Fatalf("AddToCart within stock: %v", err)
	}
	if cart.Lines[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", cart.Lines[0].Quantity)
	}
}

func TestCartServiceAddToCartRejectsShortage(t *testing.T) {
	svc := newTestCartService(t, cartProducts(), newMemoryCarts())
	_, err := svc.AddToCart(context.Background(), AddToCartCommand{UserID: "user-1", ProductID: "p-food", Quantity: 5})
	shortage, ok := AsStockShortage(err)
	if !ok || shortage.Available != 3 {
		t.Fatalf("expected only 3 left, got %v", err)
	}
}

func TestCartServiceUpdateQuantityChecksOnlyIncrease(t *testing.T) {
	carts := newMemoryCarts(domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Lines:  []domain.CartLine{{ProductID: "p-food", Quantity: 2, Selected: true}},
	})
	svc := newTestCartService(t, cartProducts(), carts)
	ctx := context.Background()

	// Three available; raising 2 -> 5 asks for a delta of 3.
	cart, err := svc.UpdateCartQuantity(ctx, UpdateCartQuantityCommand{UserID: "user-1", ProductID: "p-food", Quantity: 5})
	if err != nil {
		t.Fatalf("UpdateCartQuantity increase: %v", err)
	}
	if cart.Lines[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", cart.Lines[0].Quantity)
	}

	if _, err := svc.UpdateCartQuantity(ctx, UpdateCartQuantityCommand{UserID: "user-1", ProductID: "p-food", Quantity: 9}); !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected delta of 4 rejected, got %v", err)
	}

	cart, err = svc.UpdateCartQuantity(ctx, UpdateCartQuantityCommand{UserID: "user-1", ProductID: "p-food", Quantity: 1})
	if err != nil {
		t.Fatalf("UpdateCartQuantity decrease: %v", err)
	}
	if cart.Lines[0].Quantity != 1 {
		t.Fatalf("expected quantity 1, got %d", cart.Lines[0].Quantity)
	}

	if _, err := svc.UpdateCartQuantity(ctx, UpdateCartQuantityCommand{UserID: "user-1", ProductID: "p-toy", Quantity: 1}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected missing line, got %v", err)
	}
	if _, err := svc.UpdateCartQuantity(ctx, UpdateCartQuantityCommand{UserID: "user-1", ProductID: "p-food", Quantity: 0}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
}

func TestCartServiceRemoveLastItemDeletesCart(t *testing.T) {
	carts := newMemoryCarts(domain.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Lines: []domain.CartLine{
			{ProductID: "p-food", Quantity: 1},
			{ProductID: "p-toy", Quantity: 1},
		},
	})
	svc := newTestCartService(t, cartProducts(), carts)
	ctx := context.Background()

	cart, err := svc.RemoveCartItem(ctx, "user-1", "p-food")
	if err != nil {
		t.Fatalf("RemoveCartItem: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "p-toy" {
		t.Fatalf("unexpected remaining lines %+v", cart.Lines)
	}

	cart, err = svc.RemoveCartItem(ctx, "user-1", "p-toy")
	if err != nil {
		t.Fatalf("RemoveCartItem last: %v", err)
	}
	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart.Lines)
	}
	if _, ok := carts.items["user-1"]; ok || carts.deletes != 1 {
		t.Fatal("expected cart document deleted")
	}
	if _, err := svc.RemoveCartItem(ctx, "user-1", "p-toy"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found after deletion, got %v", err)
	}
}

func TestCartServiceClearCart(t *testing.T) {
	carts := newMemoryCarts(domain.Cart{ID: "user-1", UserID: "user-1", Lines: []domain.CartLine{{ProductID: "p-food", Quantity: 1}}})
	svc := newTestCartService(t, cartProducts(), carts)
	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if len(carts.items) != 0 {
		t.Fatal("expected cart removed")
	}
}

func TestCartServiceSaveFailureMapsUnavailable(t *testing.T) {
	carts := newMemoryCarts()
	carts.saveErr = stubRepoError{op: "carts.save", unavailable: true}
	svc := newTestCartService(t, cartProducts(), carts)
	_, err := svc.AddToCart(context.Background(), AddToCartCommand{UserID: "user-1", ProductID: "p-toy", Quantity: 1})
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
