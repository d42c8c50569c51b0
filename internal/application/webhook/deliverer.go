package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	domainWebhook "github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/cassiomorais/transfers/internal/infrastructure/observability"
	pkgretry "github.com/cassiomorais/transfers/pkg/retry"
	"github.com/cassiomorais/transfers/pkg/signature"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// DelivererConfig bounds the delivery algorithm.
type DelivererConfig struct {
	MaxAttempts       uint
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	Timeout           time.Duration
	MaxFailureCount   int
	ResponseBodyLimit int
}

// DefaultDelivererConfig returns the default delivery bounds.
func DefaultDelivererConfig() DelivererConfig {
	return DelivererConfig{
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		Timeout:           10 * time.Second,
		MaxFailureCount:   10,
		ResponseBodyLimit: 1024,
	}
}

// Deliverer executes webhook delivery jobs: sign, POST, bounded retries with
// exponential backoff, and circuit-breaking of chronically failing
// subscriptions.
type Deliverer struct {
	subRepo    domainWebhook.SubscriptionRepository
	jobRepo    domainWebhook.JobRepository
	httpClient *http.Client
	cfg        DelivererConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger

	mu       sync.Mutex
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker[int]
}

// NewDeliverer creates a deliverer.
func NewDeliverer(
	subRepo domainWebhook.SubscriptionRepository,
	jobRepo domainWebhook.JobRepository,
	cfg DelivererConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Deliverer {
	return &Deliverer{
		subRepo:    subRepo,
		jobRepo:    jobRepo,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With().Str("component", "webhook_deliverer").Logger(),
		breakers:   make(map[uuid.UUID]*gobreaker.CircuitBreaker[int]),
	}
}

// Deliver runs the delivery algorithm for one job. Jobs already in a
// terminal state are no-op successes, so redelivered queue messages are safe.
func (d *Deliverer) Deliver(ctx context.Context, jobID uuid.UUID) error {
	job, err := d.jobRepo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load delivery job: %w", err)
	}
	if job == nil {
		return domainErrors.ErrDeliveryJobNotFound
	}
	if job.Status == domainWebhook.JobSuccess || job.Status == domainWebhook.JobFailed {
		return nil
	}

	sub, err := d.subRepo.GetByID(ctx, job.SubscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil || !sub.Active {
		job.MarkFailed("subscription missing or inactive")
		if err := d.jobRepo.UpdateJob(ctx, job); err != nil {
			return err
		}
		d.metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	payload := map[string]any{
		"event":     string(job.EventType),
		"data":      job.Payload,
		"timestamp": job.CreatedAt.UTC().Format(time.RFC3339),
	}
	body, sig, err := signature.SignPayload(sub.Secret, payload)
	if err != nil {
		job.MarkFailed(err.Error())
		if uerr := d.jobRepo.UpdateJob(ctx, job); uerr != nil {
			return uerr
		}
		return nil
	}

	start := time.Now()
	attemptErr := pkgretry.Do(ctx, pkgretry.Config{
		MaxAttempts:  d.cfg.MaxAttempts,
		InitialDelay: d.cfg.InitialBackoff,
		MaxDelay:     d.cfg.MaxBackoff,
		Multiplier:   2.0,
	}, func() error {
		err := d.attempt(ctx, job, sub, body, sig)
		if err != nil {
			job.MarkRetrying(err.Error())
			if uerr := d.jobRepo.UpdateJob(ctx, job); uerr != nil {
				d.logger.Error().Err(uerr).Str("job_id", job.ID.String()).Msg("Failed to persist retry state")
			}
			d.metrics.WebhookRetriesTotal.Inc()
		}
		return err
	})
	duration := time.Since(start).Seconds()

	if attemptErr == nil {
		job.MarkSuccess()
		if err := d.jobRepo.UpdateJob(ctx, job); err != nil {
			return err
		}
		sub.RecordSuccess()
		if err := d.subRepo.UpdateDeliveryState(ctx, sub); err != nil {
			return err
		}
		d.metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		d.metrics.WebhookDeliveryDuration.WithLabelValues("success").Observe(duration)
		return nil
	}

	job.MarkFailed("delivery attempts exhausted: " + attemptErr.Error())
	if err := d.jobRepo.UpdateJob(ctx, job); err != nil {
		return err
	}

	broken := sub.RecordFailure(d.cfg.MaxFailureCount)
	if err := d.subRepo.UpdateDeliveryState(ctx, sub); err != nil {
		return err
	}
	if broken {
		d.metrics.SubscriptionsDisabled.Inc()
		d.logger.Warn().
			Str("subscription_id", sub.ID.String()).
			Str("url", sub.URL).
			Int("consecutive_failures", sub.ConsecutiveFailures).
			Msg("Subscription circuit-broken after sustained delivery failure")
	}

	d.metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	d.metrics.WebhookDeliveryDuration.WithLabelValues("failed").Observe(duration)

	d.logger.Warn().
		Str("job_id", job.ID.String()).
		Str("subscription_id", sub.ID.String()).
		Int("attempts", job.Attempts).
		Err(attemptErr).
		Msg("Webhook delivery failed")
	return nil
}

// attempt performs one signed POST through the subscription's circuit
// breaker and records a delivery log row for it.
func (d *Deliverer) attempt(
	ctx context.Context,
	job *domainWebhook.DeliveryJob,
	sub *domainWebhook.Subscription,
	body []byte,
	sig string,
) error {
	breaker := d.breakerFor(sub.ID)

	_, err := breaker.Execute(func() (int, error) {
		reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(signature.Header, sig)

		resp, err := d.httpClient.Do(req)
		if err != nil {
			d.addLog(ctx, job, sub, nil, "", err)
			return 0, err
		}
		defer resp.Body.Close()

		respBody := readTruncated(resp.Body, d.cfg.ResponseBodyLimit)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := fmt.Errorf("endpoint returned status %d", resp.StatusCode)
			d.addLog(ctx, job, sub, &resp.StatusCode, respBody, statusErr)
			return resp.StatusCode, statusErr
		}

		d.addLog(ctx, job, sub, &resp.StatusCode, respBody, nil)
		return resp.StatusCode, nil
	})
	return err
}

func (d *Deliverer) addLog(
	ctx context.Context,
	job *domainWebhook.DeliveryJob,
	sub *domainWebhook.Subscription,
	httpStatus *int,
	respBody string,
	attemptErr error,
) {
	l := &domainWebhook.DeliveryLog{
		ID:             uuid.New(),
		JobID:          job.ID,
		SubscriptionID: sub.ID,
		EventType:      job.EventType,
		Attempt:        job.Attempts + 1,
		HTTPStatus:     httpStatus,
		ResponseBody:   respBody,
		CreatedAt:      time.Now(),
	}
	if attemptErr != nil {
		msg := attemptErr.Error()
		l.Error = &msg
	}
	if err := d.jobRepo.AddLog(ctx, l); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to write delivery log")
	}
}

// breakerFor lazily creates the per-subscription circuit breaker. The
// durable consecutive-failure counter is the authoritative deactivation
// rule; the breaker just stops a dead endpoint from burning full retry
// cycles in the meantime.
func (d *Deliverer) breakerFor(subID uuid.UUID) *gobreaker.CircuitBreaker[int] {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.breakers[subID]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        subID.String(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	d.breakers[subID] = b
	return b
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func readTruncated(r io.Reader, limit int) string {
	if limit <= 0 {
		limit = 1024
	}
	b, _ := io.ReadAll(io.LimitReader(r, int64(limit)))
	return string(b)
}
