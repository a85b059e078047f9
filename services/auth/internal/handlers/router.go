// Package handlers exposes the session service over HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"outsy/services/auth/internal/session"
	"outsy/services/auth/internal/users"
)

const defaultAuthRateLimit = 20

// RouterOptions configures Router.
type RouterOptions struct {
	Service        *session.Service
	Logger         zerolog.Logger
	AllowedOrigins []string
	// AuthRateLimit is the number of /auth requests allowed per client IP per minute.
	AuthRateLimit int
	Production    bool
	// Registry receives the service metrics and backs /metrics. A fresh
	// registry with Go and process collectors is used when nil.
	Registry *prometheus.Registry
	// Middleware wraps the whole router, outermost first.
	Middleware []func(http.Handler) http.Handler
	// ReadyChecks run after the storage ping on /readyz, keyed by dependency name.
	ReadyChecks map[string]func(context.Context) error
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	svc        *session.Service
	log        zerolog.Logger
	production bool
	metrics    *metrics
	checks     map[string]func(context.Context) error
}

// Router builds the chi router with the auth, health, readiness and metrics routes.
func Router(opts RouterOptions) (http.Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("handlers: session service is required")
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	h := &Handler{
		svc:        opts.Service,
		log:        opts.Logger,
		production: opts.Production,
		metrics:    newMetrics(reg),
		checks:     opts.ReadyChecks,
	}

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	limit := opts.AuthRateLimit
	if limit <= 0 {
		limit = defaultAuthRateLimit
	}

	r := chi.NewRouter()
	for _, mw := range opts.Middleware {
		r.Use(mw)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	m := h.metrics
	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(limit, time.Minute))
		r.Use(captureBody)

		r.With(m.instrument("signup")).Post("/signup", h.handleSignup)
		r.With(m.instrument("login")).Post("/login", h.handleLogin)
		r.With(m.instrument("refresh")).Post("/refresh-token", h.handleRefresh)
		r.With(m.instrument("logout")).Post("/logout", h.handleLogout)

		r.With(m.instrument("logout_all"), h.Authenticate).Post("/logout-all", h.handleLogoutAll)
		r.With(m.instrument("verify"), h.Authenticate).Get("/verify", h.handleVerify)
		r.With(m.instrument("update_role"), h.Authenticate, h.RequireRole(users.RoleAdmin)).
			Patch("/users/{userId}/role", h.handleUpdateRole)
	})

	return r, nil
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	err := h.svc.Ready(ctx)
	for name, check := range h.checks {
		if err != nil {
			break
		}
		if cerr := check(ctx); cerr != nil {
			err = fmt.Errorf("%s: %w", name, cerr)
		}
	}
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("not ready")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
