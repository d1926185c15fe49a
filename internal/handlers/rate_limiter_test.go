package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pawmart/api/internal/services"
)

func TestSimpleRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("user-1") || !limiter.Allow("user-1") {
		t.Fatalf("expected first two calls to pass")
	}
	if limiter.Allow("user-1") {
		t.Fatalf("expected third call inside window to be rejected")
	}
	if !limiter.Allow("user-2") {
		t.Fatalf("expected other keys to have their own budget")
	}

	now = now.Add(time.Minute + time.Second)
	if !limiter.Allow("user-1") {
		t.Fatalf("expected budget to reset after the window")
	}
}

func TestNewSimpleRateLimiterDisabled(t *testing.T) {
	if newSimpleRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected zero limit to disable the limiter")
	}
	if newSimpleRateLimiter(5, 0, nil) != nil {
		t.Fatalf("expected zero window to disable the limiter")
	}
}

func TestCheckoutThrottleLimitsPlaceOrder(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubOrderService{
		placeFn: func(_ context.Context, _ services.PlaceOrderCommand) (services.Order, error) {
			return sampleHandlerOrder(), nil
		},
		getFn: func(context.Context, string, services.OrderReadOptions) (services.Order, error) {
			return sampleHandlerOrder(), nil
		},
	}
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, svc, CheckoutThrottle(1, time.Minute, func() time.Time { return now })).Routes)

	place := func() int {
		req := withUID(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"shipping_id":"ship-1"}`)), "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := place(); code != http.StatusCreated {
		t.Fatalf("expected first checkout to pass, got %d", code)
	}
	if code := place(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second checkout to be throttled, got %d", code)
	}

	req := withUID(httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected reads to bypass the throttle, got %d", rr.Code)
	}
}
