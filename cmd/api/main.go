package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/transfers/internal/application/ledgerops"
	"github.com/cassiomorais/transfers/internal/application/transfer"
	webhookApp "github.com/cassiomorais/transfers/internal/application/webhook"
	"github.com/cassiomorais/transfers/internal/bootstrap"
	"github.com/cassiomorais/transfers/internal/controller"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/eventbus"
	"github.com/cassiomorais/transfers/internal/idempotency"
	infraRedis "github.com/cassiomorais/transfers/internal/infrastructure/redis"
	"github.com/cassiomorais/transfers/internal/repository/postgres"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "transfers-api", "transfers")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	txRepo := postgres.NewTransactionRepository(app.Pool)
	ledgerStore := postgres.NewLedgerStore(app.Pool)
	subRepo := postgres.NewSubscriptionRepository(app.Pool)
	jobRepo := postgres.NewJobRepository(app.Pool)

	// --- Event bus and saga wiring ---
	// Registration order matters: the orchestrator must be listening for
	// credit outcomes before the credit handler can produce them, and the
	// webhook dispatcher only consumes terminal events.
	bus := eventbus.New(app.Logger, app.Config.Saga.EventBufferSize,
		eventbus.WithPublishHook(func(t event.Type) {
			app.Metrics.EventsPublished.WithLabelValues(string(t)).Inc()
		}),
	)

	orchestrator := transfer.NewOrchestrator(txRepo, ledgerStore, bus, app.Metrics, app.Logger)
	orchestrator.Register()

	creditHandler := ledgerops.NewCreditHandler(ledgerStore, bus, app.Logger)
	creditHandler.Register()

	streamProducer := infraRedis.NewStreamProducer(app.Redis)
	dispatcher := webhookApp.NewDispatcher(subRepo, jobRepo, streamProducer, bus, app.Logger)
	dispatcher.Register()

	idemCache := idempotency.NewCache(app.Redis, app.Config.Worker.IdempotencyTTL)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:         app.Pool,
		RedisClient:  app.Redis,
		Orchestrator: orchestrator,
		TxRepo:       txRepo,
		Ledger:       ledgerStore,
		SubRepo:      subRepo,
		JobRepo:      jobRepo,
		IdemCache:    idemCache,
		Metrics:      app.Metrics,
		Logger:       app.Logger,
		CORSConfig:   app.Config.Server.CORS,
		JWTSecret:    app.Config.Auth.JWTSecret,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain in-flight saga events before the pool and redis close.
	bus.Close()
	app.Logger.Info().Msg("Server exited")
}
