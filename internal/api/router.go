/**
 * @description
 * HTTP router for the banking API. Public health check, then an authenticated
 * group for the Plaid, Dwolla, customer and dashboard endpoints.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Router and standard middleware.
 * - github.com/go-chi/cors: Browser CORS policy.
 * - pkg/middleware: JWT authentication and Redis-backed rate limiting.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/pkg/middleware"
)

const (
	requestTimeout  = 60 * time.Second
	rateLimitWindow = time.Minute
)

// RouterConfig carries the cross-cutting HTTP settings.
type RouterConfig struct {
	Auth              middleware.AuthConfig
	AllowedOrigins    []string
	Limiter           middleware.Limiter
	LinkRateLimit     int
	TransferRateLimit int
}

// NewRouter creates the chi router and registers all routes.
func NewRouter(h *Handlers, cfg RouterConfig, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Link-token and exchange share one rate-limit key.
	linkLimit := middleware.RateLimit(cfg.Limiter, "plaid_link", cfg.LinkRateLimit, rateLimitWindow, logger)
	transferLimit := middleware.RateLimit(cfg.Limiter, "dwolla_transfer", cfg.TransferRateLimit, rateLimitWindow, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth))

		r.With(linkLimit).Post("/plaid/link-token", h.CreateLinkTokenHandler)
		r.With(linkLimit).Post("/plaid/exchange-public-token", h.ExchangePublicTokenHandler)
		r.With(transferLimit).Post("/dwolla/transfer", h.TransferHandler)

		r.Post("/customers", h.CreateCustomerHandler)
		r.Get("/dashboard", h.DashboardHandler)
	})

	return r
}
