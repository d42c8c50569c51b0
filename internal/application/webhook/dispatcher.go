package webhook

import (
	"context"

	"github.com/cassiomorais/transfers/internal/domain/event"
	domainWebhook "github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/cassiomorais/transfers/internal/eventbus"
	"github.com/rs/zerolog"
)

// Bus is the event fabric the dispatcher consumes terminal events from.
type Bus interface {
	Subscribe(t event.Type, handler eventbus.Handler) eventbus.Token
}

// Producer enqueues delivery job ids onto the durable delivery queue.
type Producer interface {
	PublishDeliveryJob(ctx context.Context, jobID string) error
}

// Dispatcher fans terminal domain events out into delivery jobs: one job per
// (active matching subscription, event) pair. The job row is persisted before
// the id is enqueued, so a crash between the two leaves a PENDING row that
// can be re-enqueued rather than a lost notification.
type Dispatcher struct {
	subRepo  domainWebhook.SubscriptionRepository
	jobRepo  domainWebhook.JobRepository
	producer Producer
	bus      Bus
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	subRepo domainWebhook.SubscriptionRepository,
	jobRepo domainWebhook.JobRepository,
	producer Producer,
	bus Bus,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		subRepo:  subRepo,
		jobRepo:  jobRepo,
		producer: producer,
		bus:      bus,
		logger:   logger.With().Str("component", "webhook_dispatcher").Logger(),
	}
}

// Register subscribes the dispatcher to every terminal event type.
func (d *Dispatcher) Register() {
	for _, t := range event.TerminalTypes() {
		d.bus.Subscribe(t, d.HandleEvent)
	}
}

// HandleEvent enqueues one delivery job per active subscription whose
// event-type set includes the event's type. Inactive subscriptions are
// filtered at the query, which is what stops enqueuing for circuit-broken
// endpoints.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt event.Event) error {
	subs, err := d.subRepo.ListActiveForEvent(ctx, evt.Type)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		job := domainWebhook.NewDeliveryJob(sub.ID, evt)

		inserted, err := d.jobRepo.CreateJob(ctx, job)
		if err != nil {
			d.logger.Error().Err(err).
				Str("subscription_id", sub.ID.String()).
				Str("transaction_id", evt.TransactionID.String()).
				Msg("Failed to persist delivery job")
			continue
		}
		if !inserted {
			// Redelivered event; the job already exists.
			continue
		}

		if err := d.producer.PublishDeliveryJob(ctx, job.ID.String()); err != nil {
			// The PENDING row survives; a later sweep can re-enqueue it.
			d.logger.Error().Err(err).
				Str("job_id", job.ID.String()).
				Msg("Failed to enqueue delivery job")
			continue
		}

		d.logger.Debug().
			Str("job_id", job.ID.String()).
			Str("subscription_id", sub.ID.String()).
			Str("event_type", string(evt.Type)).
			Msg("Delivery job enqueued")
	}

	return nil
}
