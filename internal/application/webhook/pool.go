package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/transfers/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/transfers/internal/infrastructure/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Consumer reads delivery job messages from the durable queue.
type Consumer interface {
	CreateGroup(ctx context.Context) error
	Read(ctx context.Context) ([]redis.XStream, error)
	Ack(ctx context.Context, messageID string) error
}

// DeadLetter parks unprocessable jobs.
type DeadLetter interface {
	PublishToDLQ(ctx context.Context, jobID string, reason string) error
}

// WorkerPool runs a fixed number of delivery workers against the webhook
// queue. It is an owned object with an explicit lifecycle: Start, Stop
// (drain), IsRunning — multiple independent pools can coexist in tests.
type WorkerPool struct {
	deliverer  *Deliverer
	consumer   Consumer
	deadLetter DeadLetter
	workers    int
	metrics    *observability.Metrics
	logger     zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewWorkerPool creates a pool of delivery workers; workers <= 0 defaults
// to 4.
func NewWorkerPool(
	deliverer *Deliverer,
	consumer Consumer,
	deadLetter DeadLetter,
	workers int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	return &WorkerPool{
		deliverer:  deliverer,
		consumer:   consumer,
		deadLetter: deadLetter,
		workers:    workers,
		metrics:    metrics,
		logger:     logger.With().Str("component", "webhook_pool").Logger(),
	}
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	if err := p.consumer.CreateGroup(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to create consumer group (may already exist)")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(runCtx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.run(gCtx)
		})
	}

	p.cancel = cancel
	p.group = g
	p.running = true
	p.logger.Info().Int("workers", p.workers).Msg("Webhook worker pool started")
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to drain.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	group := p.group
	p.mu.Unlock()

	cancel()
	_ = group.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.logger.Info().Msg("Webhook worker pool stopped")
}

// IsRunning reports whether the pool is started.
func (p *WorkerPool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *WorkerPool) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := p.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).Msg("Failed to read from delivery stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				p.process(ctx, msg.ID, msg.Values)
			}
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, messageID string, values map[string]any) {
	start := time.Now()

	jobIDStr, _ := values["job_id"].(string)
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		p.logger.Error().Str("raw", jobIDStr).Msg("Invalid job ID in stream message")
		if p.deadLetter != nil {
			_ = p.deadLetter.PublishToDLQ(ctx, jobIDStr, "invalid job id")
		}
		_ = p.consumer.Ack(ctx, messageID)
		return
	}

	if err := p.deliverer.Deliver(ctx, jobID); err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to process delivery job")
		p.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.WebhookStream, "error").Inc()
		if p.deadLetter != nil {
			_ = p.deadLetter.PublishToDLQ(ctx, jobID.String(), err.Error())
		}
	} else {
		p.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.WebhookStream, "success").Inc()
	}

	p.metrics.WorkerProcessingDuration.WithLabelValues(infraRedis.WebhookStream).Observe(time.Since(start).Seconds())
	_ = p.consumer.Ack(ctx, messageID)
}
