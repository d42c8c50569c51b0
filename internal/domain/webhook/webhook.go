package webhook

import (
	"time"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/google/uuid"
)

// JobStatus represents the delivery state of a webhook job.
type JobStatus string

const (
	JobPending  JobStatus = "PENDING"
	JobRetrying JobStatus = "RETRYING"
	JobSuccess  JobStatus = "SUCCESS"
	JobFailed   JobStatus = "FAILED"
)

// Subscription is a third-party endpoint registered to receive terminal
// transaction events. The delivery subsystem owns ConsecutiveFailures and
// Active; subscription management owns the rest.
type Subscription struct {
	ID                  uuid.UUID
	OwnerID             string
	URL                 string
	EventTypes          []event.Type
	Secret              string
	Active              bool
	ConsecutiveFailures int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewSubscription creates an active subscription.
func NewSubscription(ownerID, url, secret string, eventTypes []event.Type) (*Subscription, error) {
	if ownerID == "" {
		return nil, errors.NewValidationError("owner_id", "cannot be empty")
	}
	if url == "" {
		return nil, errors.NewValidationError("url", "cannot be empty")
	}
	if secret == "" {
		return nil, errors.NewValidationError("secret", "cannot be empty")
	}
	if len(eventTypes) == 0 {
		return nil, errors.NewValidationError("event_types", "at least one event type required")
	}
	valid := make(map[event.Type]bool)
	for _, t := range event.TerminalTypes() {
		valid[t] = true
	}
	for _, t := range eventTypes {
		if !valid[t] {
			return nil, errors.NewValidationError("event_types", "unknown or non-terminal event type: "+string(t))
		}
	}

	now := time.Now()
	return &Subscription{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		URL:        url,
		EventTypes: eventTypes,
		Secret:     secret,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Matches reports whether the subscription wants events of type t.
func (s *Subscription) Matches(t event.Type) bool {
	for _, et := range s.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// RecordFailure increments the consecutive-failure counter and deactivates
// the subscription once the counter reaches maxFailures. Returns true when
// the subscription was circuit-broken by this call.
func (s *Subscription) RecordFailure(maxFailures int) bool {
	s.ConsecutiveFailures++
	s.UpdatedAt = time.Now()
	if maxFailures > 0 && s.ConsecutiveFailures >= maxFailures && s.Active {
		s.Active = false
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure counter.
func (s *Subscription) RecordSuccess() {
	s.ConsecutiveFailures = 0
	s.UpdatedAt = time.Now()
}

// DeliveryJob is one outbound notification for one (subscription, event)
// pair. The payload is snapshotted at enqueue time so the delivered body does
// not depend on later state.
type DeliveryJob struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	TransactionID  uuid.UUID
	EventType      event.Type
	Payload        map[string]any
	Status         JobStatus
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewDeliveryJob creates a pending job for the given subscription and event.
func NewDeliveryJob(subscriptionID uuid.UUID, evt event.Event) *DeliveryJob {
	now := time.Now()
	return &DeliveryJob{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		TransactionID:  evt.TransactionID,
		EventType:      evt.Type,
		Payload:        evt.Data(),
		Status:         JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MarkRetrying records a failed attempt that will be retried.
func (j *DeliveryJob) MarkRetrying(attemptErr string) {
	j.Attempts++
	j.Status = JobRetrying
	j.LastError = &attemptErr
	j.UpdatedAt = time.Now()
}

// MarkSuccess records a delivered job.
func (j *DeliveryJob) MarkSuccess() {
	j.Attempts++
	j.Status = JobSuccess
	j.LastError = nil
	j.UpdatedAt = time.Now()
}

// MarkFailed records terminal failure (attempts exhausted, or the
// subscription disappeared before delivery).
func (j *DeliveryJob) MarkFailed(reason string) {
	j.Status = JobFailed
	j.LastError = &reason
	j.UpdatedAt = time.Now()
}

// DeliveryLog records a single delivery attempt. ResponseBody is truncated
// before persistence so delivery logs cannot grow without bound.
type DeliveryLog struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	SubscriptionID uuid.UUID
	EventType      event.Type
	Attempt        int
	HTTPStatus     *int
	ResponseBody   string
	Error          *string
	CreatedAt      time.Time
}
