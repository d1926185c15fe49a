package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pawmart/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	cart   RouteRegistrar
	orders RouteRegistrar
	admin  RouteRegistrar
}

// apiGroup is one mounted prefix below the base path.
type apiGroup struct {
	path      string
	name      string
	registrar RouteRegistrar
}

func (cfg routerConfig) groups() []apiGroup {
	return []apiGroup{
		{path: "/cart", name: "cart", registrar: cfg.cart},
		{path: "/orders", name: "orders", registrar: cfg.orders},
		{path: "/admin", name: "admin", registrar: cfg.admin},
	}
}

// NewRouter constructs the chi router. Health probes live at the root; cart, order and admin
// groups mount below the base path and answer 501 until a registrar is supplied. Every API
// response is sent with Cache-Control: no-store.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if cfg.timeout > 0 {
		r.Use(middleware.Timeout(cfg.timeout))
	}
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		api.Use(middleware.SetHeader("Cache-Control", "no-store"))
		for _, group := range cfg.groups() {
			api.Route(group.path, func(sub chi.Router) {
				if group.registrar == nil {
					registerNotImplemented(sub, group.name)
					return
				}
				group.registrar(sub)
			})
		}
	})

	return r
}

// WithBasePath mounts the API groups under prefix instead of /api/v1.
func WithBasePath(prefix string) Option {
	return func(cfg *routerConfig) {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "/" {
			cfg.basePath = prefix
		}
	}
}

// WithRequestTimeout bounds each request's context. Zero disables the timeout middleware.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d >= 0 {
			cfg.timeout = d
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCartRoutes mounts the shopper cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.cart = reg }
}

// WithOrderRoutes mounts checkout and owner order reads.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.orders = reg }
}

// WithAdminRoutes mounts the staff order management endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.admin = reg }
}

// RouteTable lists every registered "METHOD pattern" pair in sorted order, for startup logs.
func RouteTable(r chi.Routes) ([]string, error) {
	var out []string
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, method+" "+strings.Replace(route, "/*/", "/", -1))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func routeNotFound(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
