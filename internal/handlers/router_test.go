package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/services"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"mongo": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	t.Run("healthz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	for _, path := range []string{"/api/v1/cart", "/api/v1/orders/ord-1", "/api/v1/admin/orders"} {
		t.Run("not implemented "+path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusNotImplemented {
				t.Fatalf("expected status 501, got %d", rr.Code)
			}

			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON body: %v", err)
			}
			if body["error"] != "not_implemented" {
				t.Fatalf("expected not_implemented error, got %v", body["error"])
			}
		})
	}
}

func TestNewRouter_WithRegistrars(t *testing.T) {
	registrar := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	router := NewRouter(WithCartRoutes(registrar), WithOrderRoutes(registrar), WithAdminRoutes(registrar))

	for _, path := range []string{"/api/v1/cart", "/api/v1/orders", "/api/v1/admin"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected status 204, got %d", path, rr.Code)
		}
	}
}

func TestNewRouter_NotFound(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/does/not/exist", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found error, got %v", body["error"])
	}
}

func TestNewRouter_GlobalMiddleware(t *testing.T) {
	header := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test-Middleware", "global")
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(WithMiddlewares(header))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Header().Get("X-Test-Middleware") != "global" {
		t.Fatalf("expected global middleware to set header")
	}
}

func TestHandlerGuardsRunInsideGroup(t *testing.T) {
	var guarded int
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guarded++
			next.ServeHTTP(w, r)
		})
	}

	cartHandlers := NewCartHandlers(nil, &stubCartService{}, guard)
	router := NewRouter(WithCartRoutes(cartHandlers.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req = withUID(req, "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if guarded != 1 {
		t.Fatalf("expected guard to run once, ran %d times", guarded)
	}
}

func TestNewRouter_APIResponsesAreNotCached(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store on API routes, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Cache-Control"); got != "" {
		t.Fatalf("expected probes without cache header, got %q", got)
	}
}

func TestNewRouter_WithBasePath(t *testing.T) {
	registrar := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	router := NewRouter(WithBasePath("shop/v2/"), WithOrderRoutes(registrar))

	req := httptest.NewRequest(http.MethodGet, "/shop/v2/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 under custom base path, got %d", rr.Code)
	}
}

func TestRouteTable(t *testing.T) {
	orderHandlers := NewOrderHandlers(nil, &stubOrderService{})
	router := NewRouter(WithOrderRoutes(orderHandlers.Routes))

	routes, err := RouteTable(router)
	if err != nil {
		t.Fatalf("RouteTable: %v", err)
	}

	want := map[string]bool{
		"GET /healthz":                 false,
		"POST /api/v1/orders/":         false,
		"GET /api/v1/orders/{orderID}": false,
	}
	for _, route := range routes {
		if _, ok := want[route]; ok {
			want[route] = true
		}
	}
	for route, seen := range want {
		if !seen {
			t.Fatalf("expected %q in route table %v", route, routes)
		}
	}
}
