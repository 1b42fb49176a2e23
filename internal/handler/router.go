package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaya7oast/FSDP-sub000/internal/middleware"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
)

// RouterConfig carries the handlers and HTTP policies of the API.
type RouterConfig struct {
	Logger        *logger.Logger
	Health        *HealthHandler
	Providers     *ProvidersHandler
	Chat          *ChatHandler
	Conversations *ConversationHandler

	AuthEnabled       bool
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
}

// NewRouter builds the chi router for the API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/providers", cfg.Providers.List)

	r.Group(func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Post("/agents/{agentId}/chat", cfg.Chat.Chat)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/user/{userId}", cfg.Conversations.ListByUser)

			r.Route("/{conversationId}", func(r chi.Router) {
				r.Get("/", cfg.Conversations.Get)
				r.Post("/delete", cfg.Conversations.Delete)
				r.Post("/summarize", cfg.Conversations.Summarize)
				r.Post("/provider", cfg.Conversations.SetProvider)
				r.Get("/events", cfg.Conversations.Events)
			})
		})
	})

	return r
}
