package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sokomart/api/internal/platform/httpx"
)

// RouteRegistrar registers a feature's endpoints on a router group.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// The API mounts one group per feature area. Checkout, orders, stores,
// and payments face buyers and merchants; webhooks receives logistics
// partner callbacks and internal receives Cloud Tasks deliveries, each
// behind its own verification middleware.
type routeGroup struct {
	path        string
	name        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	global []func(http.Handler) http.Handler
	health *HealthHandlers
	groups map[string]*routeGroup
}

// Option customises the router before construction.
type Option func(*routerConfig)

func newRouterConfig() *routerConfig {
	cfg := &routerConfig{
		global: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: make(map[string]*routeGroup),
	}
	for _, name := range []string{"checkout", "orders", "stores", "payments", "webhooks", "internal"} {
		cfg.groups[name] = &routeGroup{path: "/" + name, name: name}
	}
	return cfg
}

// NewRouter assembles the chi router: health probes at the root,
// feature groups under /api/v1, and JSON envelopes for every miss.
func NewRouter(opts ...Option) chi.Router {
	cfg := newRouterConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range []string{"checkout", "orders", "stores", "payments", "webhooks", "internal"} {
			mountGroup(api, cfg.groups[name])
		}
	})

	return r
}

func mountGroup(api chi.Router, group *routeGroup) {
	api.Route(group.path, func(r chi.Router) {
		for _, mw := range group.middlewares {
			if mw != nil {
				r.Use(mw)
			}
		}
		if group.registrar != nil {
			group.registrar(r)
			return
		}

		// A group without a registrar answers 501 instead of leaking a
		// bare 404, so a half-wired deployment is easy to spot.
		stub := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", group.name), http.StatusNotImplemented))
		}
		r.HandleFunc("/", stub)
		r.HandleFunc("/*", stub)
		r.NotFound(stub)
		r.MethodNotAllowed(stub)
	})
}

// WithMiddlewares appends global middleware applied to every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.global = append(cfg.global, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCheckoutRoutes wires the checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["checkout"].registrar = reg }
}

// WithOrderRoutes wires the order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["orders"].registrar = reg }
}

// WithStoreRoutes wires the store and logistics endpoints.
func WithStoreRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["stores"].registrar = reg }
}

// WithPaymentRoutes wires the payment endpoints.
func WithPaymentRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["payments"].registrar = reg }
}

// WithWebhookRoutes wires the partner callback endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["webhooks"].registrar = reg }
}

// WithWebhookMiddlewares guards /webhooks, typically with callback
// signature verification.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		group := cfg.groups["webhooks"]
		group.middlewares = append(group.middlewares, mw...)
	}
}

// WithInternalRoutes wires the Cloud Tasks worker endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["internal"].registrar = reg }
}

// WithInternalMiddlewares guards /internal, typically with Google OIDC
// token verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		group := cfg.groups["internal"]
		group.middlewares = append(group.middlewares, mw...)
	}
}
