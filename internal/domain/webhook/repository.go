package webhook

import (
	"context"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/google/uuid"
)

// SubscriptionRepository defines persistence for webhook subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, s *Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)

	// ListActiveForEvent returns active subscriptions whose event-type set
	// includes t.
	ListActiveForEvent(ctx context.Context, t event.Type) ([]*Subscription, error)

	// UpdateDeliveryState persists Active and ConsecutiveFailures.
	UpdateDeliveryState(ctx context.Context, s *Subscription) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// JobRepository defines persistence for delivery jobs and attempt logs.
type JobRepository interface {
	// CreateJob inserts j unless a job for the same (subscription,
	// transaction, event type) already exists. Returns false when the job
	// was deduplicated.
	CreateJob(ctx context.Context, j *DeliveryJob) (bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*DeliveryJob, error)
	UpdateJob(ctx context.Context, j *DeliveryJob) error
	ListJobsBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*DeliveryJob, error)

	AddLog(ctx context.Context, l *DeliveryLog) error
	ListLogsByJob(ctx context.Context, jobID uuid.UUID) ([]*DeliveryLog, error)
}
