package controller

import (
	"time"

	"github.com/cassiomorais/transfers/internal/application/transfer"
	"github.com/cassiomorais/transfers/internal/domain/ledger"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/cassiomorais/transfers/internal/idempotency"
	"github.com/cassiomorais/transfers/internal/infrastructure/config"
	"github.com/cassiomorais/transfers/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/transfers/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool         *pgxpool.Pool
	RedisClient  *redis.Client
	Orchestrator *transfer.Orchestrator
	TxRepo       transaction.Repository
	Ledger       ledger.Store
	SubRepo      webhook.SubscriptionRepository
	JobRepo      webhook.JobRepository
	IdemCache    *idempotency.Cache
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
	CORSConfig   config.CORSConfig
	JWTSecret    string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "X-Idempotency-Replayed"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.SecurityHeaders())
	r.Use(customMW.RateLimit(300))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	transferH := NewTransferController(deps.Orchestrator, deps.TxRepo, deps.Ledger)
	webhookH := NewWebhookController(deps.SubRepo, deps.JobRepo)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RequireAuth(deps.JWTSecret))

		idempotencyMW := customMW.Idempotency(deps.IdemCache, deps.RedisClient, deps.Logger)

		// Transfers
		r.With(idempotencyMW).Post("/transfers", transferH.Create)
		r.Get("/transfers/{id}", transferH.Get)
		r.Get("/transfers", transferH.List)
		r.Get("/wallet/balance", transferH.Balance)

		// Webhook subscriptions
		r.With(idempotencyMW).Post("/webhooks", webhookH.Create)
		r.Get("/webhooks", webhookH.List)
		r.Get("/webhooks/{id}", webhookH.Get)
		r.Delete("/webhooks/{id}", webhookH.Delete)
		r.Get("/webhooks/{id}/deliveries", webhookH.ListDeliveries)
		r.Get("/webhooks/{id}/deliveries/{jobID}/logs", webhookH.ListDeliveryLogs)
	})

	return r
}
