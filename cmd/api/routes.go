package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tikiti/tikiti/internal/config"
	"github.com/tikiti/tikiti/internal/handler"
	"github.com/tikiti/tikiti/internal/middleware"
)

// routes bundles the handlers mounted by setupRouter.
type routes struct {
	root     *handler.Handler
	health   *handler.HealthHandler
	metrics  *handler.MetricsHandler
	lottery  *handler.LotteryHandler
	payments *handler.PaymentHandler
	accounts *handler.AccountHandler
	auth     middleware.Authenticator
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(h routes, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	if origins := cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		corsCfg.AllowedOrigins = origins
	}

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Probes and metrics
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Get("/metrics", h.metrics.Metrics)
	r.Get("/", h.root.Root)

	authCfg := middleware.AuthConfig{
		Logger:        logger,
		Authenticator: h.auth,
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.IdempotencyKey)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.accounts.Register)
			r.Post("/login", h.accounts.Login)
			r.Post("/logout", h.accounts.Logout)
			r.With(middleware.OptionalAuth(authCfg)).Get("/status", h.accounts.Status)
		})

		r.Route("/lottery", func(r chi.Router) {
			r.With(middleware.OptionalAuth(authCfg)).Get("/status", h.lottery.Status)
			r.Get("/winners", h.lottery.Winners)
			r.Get("/rounds/{id}/settlement", h.lottery.Settlement)
			r.With(middleware.RequireAuth(authCfg)).Post("/buy", h.lottery.Buy)
		})

		r.Route("/payments", func(r chi.Router) {
			// Signed by the provider, not a user session.
			r.Post("/callback", h.payments.Callback)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(authCfg))
				r.Post("/deposit", h.payments.Deposit)
				r.Post("/withdraw", h.payments.Withdraw)
				r.Get("/transactions", h.payments.Transactions)
			})
		})
	})

	// 404 and 405 handlers
	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r
}
