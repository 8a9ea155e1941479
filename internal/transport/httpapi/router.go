package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/barbosaigor/investrack/internal/transport/httpapi/handler"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/middleware"
	"github.com/barbosaigor/investrack/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger             *logger.Logger
	AllowedOrigins     []string
	AssetHandler       *handler.AssetHandler
	TransactionHandler *handler.TransactionHandler
	IncomeHandler      *handler.IncomeHandler
	TaskHandler        *handler.TaskHandler
	PriceHandler       *handler.PriceHandler
	WebhookHandler     *handler.WebhookHandler
	HealthHandler      *handler.HealthHandler
	JWTMiddleware      func(http.Handler) http.Handler
	// SubscriptionMiddleware gates the portfolio surface; webhooks and
	// health stay outside it.
	SubscriptionMiddleware func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit()) // Rate limiting: 100 req/s with burst of 20

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// Signed ingress: authenticated by HMAC signatures, not JWT.
	if cfg.WebhookHandler != nil {
		r.Post("/qstash/{job}", cfg.WebhookHandler.RunJob)
		r.Post("/subscription/webhook", cfg.WebhookHandler.PaymentEvent)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTMiddleware == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(cfg.JWTMiddleware)
			if cfg.SubscriptionMiddleware != nil {
				r.Use(cfg.SubscriptionMiddleware)
			}

			// Asset routes
			if cfg.AssetHandler != nil {
				r.Route("/assets", func(r chi.Router) {
					r.Get("/", cfg.AssetHandler.ListAssets)
					r.Post("/", cfg.AssetHandler.CreateAsset)
					r.Get("/indicators", cfg.AssetHandler.GetIndicators)
					r.Get("/{id}/operation_periods", cfg.AssetHandler.GetOperationPeriods)

					if cfg.TransactionHandler != nil {
						r.Post("/{id}/transactions", cfg.TransactionHandler.CreateTransaction)
						r.Patch("/{id}/transactions/{tid}", cfg.TransactionHandler.UpdateTransaction)
						r.Delete("/{id}/transactions/{tid}", cfg.TransactionHandler.DeleteTransaction)
					}
				})
			}

			// Income routes
			if cfg.IncomeHandler != nil {
				r.Post("/incomes", cfg.IncomeHandler.CreateIncome)
				r.Patch("/incomes/{id}", cfg.IncomeHandler.UpdateIncome)
				r.Delete("/incomes/{id}", cfg.IncomeHandler.DeleteIncome)
			}

			// Task history routes
			if cfg.TaskHandler != nil {
				r.Get("/tasks", cfg.TaskHandler.ListTasks)
				r.Post("/tasks/notified", cfg.TaskHandler.MarkNotified)
			}

			// Manual price refresh
			if cfg.PriceHandler != nil {
				r.Post("/prices/refresh", cfg.PriceHandler.RefreshPrices)
			}
		})
	})

	return r
}
