// Package api exposes the session manager over HTTP: login, logout, status,
// message sending and a live lifecycle event stream per tenant.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/txn2/session-gateway/pkg/events"
	"github.com/txn2/session-gateway/pkg/session"
)

// slogKeyError is the slog attribute key for error values.
const slogKeyError = "error"

const (
	defaultRequestTimeout = 30 * time.Second
	defaultSendInterval   = 100 * time.Millisecond
)

// Sessions is the subset of the session manager used by the handlers.
type Sessions interface {
	AcquireOrCreate(ctx context.Context, tenantID string) (session.Result, error)
	Remove(ctx context.Context, tenantID string) error
	Status(tenantID string) session.Status
	Sessions() []session.Status
}

// Subscriber provides live event subscriptions.
type Subscriber interface {
	Subscribe(tenantID string) (<-chan events.Event, func())
}

// Config configures the HTTP handler.
type Config struct {
	// AllowedOrigins lists the browser origins accepted on tenant routes.
	// Requests without an Origin header are always accepted.
	AllowedOrigins []string

	// RequestTimeout bounds login and send requests.
	RequestTimeout time.Duration

	// SendInterval paces consecutive sends for one tenant.
	SendInterval time.Duration

	// JWTSecret enables HS256 bearer authentication when non-empty.
	JWTSecret string

	// TenantClaim, when set, must hold the tenant named in the path.
	TenantClaim string
}

// Handler serves the gateway HTTP API.
type Handler struct {
	mux      *http.ServeMux
	sessions Sessions
	events   Subscriber
	cfg      Config

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Option configures a Handler.
type Option func(*Handler)

// WithHealth mounts liveness and readiness handlers at /healthz and /readyz.
func WithHealth(liveness, readiness http.Handler) Option {
	return func(h *Handler) {
		h.mux.Handle("GET /healthz", liveness)
		h.mux.Handle("GET /readyz", readiness)
	}
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(metrics http.Handler) Option {
	return func(h *Handler) {
		h.mux.Handle("GET /metrics", metrics)
	}
}

// NewHandler creates the API handler. A nil Subscriber disables /events.
func NewHandler(sessions Sessions, sub Subscriber, cfg Config, opts ...Option) *Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = defaultSendInterval
	}
	h := &Handler{
		mux:      http.NewServeMux(),
		sessions: sessions,
		events:   sub,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
	h.registerRoutes()
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.route(http.MethodGet, "/login/{tenant}", h.login)
	h.route(http.MethodGet, "/logout/{tenant}", h.logout)
	h.route(http.MethodGet, "/status/{tenant}", h.status)
	h.route(http.MethodPost, "/send/{tenant}", h.send)
	if h.events != nil {
		h.route(http.MethodGet, "/events/{tenant}", h.stream)
	}
	h.route(http.MethodGet, "/sessions", h.list)
}

// route registers fn behind CORS and authentication, plus a CORS preflight
// handler for the same path.
func (h *Handler) route(method, path string, fn http.HandlerFunc) {
	h.mux.Handle(method+" "+path, h.cors(h.authenticate(fn)))
	h.mux.Handle(http.MethodOptions+" "+path, h.cors(http.HandlerFunc(preflight)))
}

// limiter returns the send pacing limiter for tenantID.
func (h *Handler) limiter(tenantID string) *rate.Limiter {
	h.limitersMu.Lock()
	defer h.limitersMu.Unlock()
	l, ok := h.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Every(h.cfg.SendInterval), 1)
		h.limiters[tenantID] = l
	}
	return l
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
