package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/transfers/internal/application/ledgerops"
	"github.com/cassiomorais/transfers/internal/application/transfer"
	webhookApp "github.com/cassiomorais/transfers/internal/application/webhook"
	"github.com/cassiomorais/transfers/internal/bootstrap"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/eventbus"
	infraRedis "github.com/cassiomorais/transfers/internal/infrastructure/redis"
	"github.com/cassiomorais/transfers/internal/repository/postgres"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "transfers-worker", "transfers_worker")
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

	// --- Saga wiring for reconciliation ---
	// The reconciler re-drives stuck transactions through the same saga
	// handlers the API uses, so the worker carries its own bus with the full
	// subscription set.
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

	sagaCfg := app.Config.Saga
	reconciler := transfer.NewReconciler(
		txRepo, orchestrator, bus, app.Metrics, app.Logger,
		sagaCfg.StuckAfter, sagaCfg.ReconcileBatch,
	)

	// --- Webhook delivery pool ---
	webhookCfg := app.Config.Webhook
	deliverer := webhookApp.NewDeliverer(subRepo, jobRepo, webhookApp.DelivererConfig{
		MaxAttempts:       webhookCfg.MaxAttempts,
		InitialBackoff:    webhookCfg.InitialBackoff,
		MaxBackoff:        webhookCfg.MaxBackoff,
		Timeout:           webhookCfg.Timeout,
		MaxFailureCount:   webhookCfg.MaxFailureCount,
		ResponseBodyLimit: webhookCfg.ResponseBodyLimit,
	}, app.Metrics, app.Logger)

	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.WebhookStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	pool := webhookApp.NewWorkerPool(deliverer, consumer, streamProducer, webhookCfg.Workers, app.Metrics, app.Logger)

	if err := pool.Start(ctx); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to start webhook worker pool")
	}

	app.Logger.Info().
		Str("stream", infraRedis.WebhookStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Int("workers", webhookCfg.Workers).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Reconciliation sweeps for stuck transactions.
	g.Go(func() error {
		return reconciler.RunLoop(gCtx, sagaCfg.ReconcileInterval)
	})

	// 2. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}

	pool.Stop()
	bus.Close()
	app.Logger.Info().Msg("Worker exited")
}
