package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository implements webhook.SubscriptionRepository using
// PostgreSQL.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

const subscriptionColumns = `id, owner_id, url, event_types, secret, active,
        consecutive_failures, created_at, updated_at`

// Create inserts a new subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, s *webhook.Subscription) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_subscriptions
		 (id, owner_id, url, event_types, secret, active, consecutive_failures, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.OwnerID, s.URL, eventTypesToStrings(s.EventTypes), s.Secret,
		s.Active, s.ConsecutiveFailures, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription. Returns (nil, nil) when absent.
func (r *SubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Subscription, error) {
	return r.scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id))
}

// ListByOwner retrieves all subscriptions for an owner.
func (r *SubscriptionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*webhook.Subscription, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM webhook_subscriptions WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListActiveForEvent retrieves active subscriptions whose event-type set
// includes t.
func (r *SubscriptionRepository) ListActiveForEvent(ctx context.Context, t event.Type) ([]*webhook.Subscription, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM webhook_subscriptions
		 WHERE active = TRUE AND $1 = ANY(event_types)
		 ORDER BY created_at ASC`, string(t))
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

// UpdateDeliveryState persists the fields the delivery subsystem owns.
func (r *SubscriptionRepository) UpdateDeliveryState(ctx context.Context, s *webhook.Subscription) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_subscriptions
		 SET active = $1, consecutive_failures = $2, updated_at = $3
		 WHERE id = $4`,
		s.Active, s.ConsecutiveFailures, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription delivery state: %w", err)
	}
	return nil
}

// Delete removes a subscription.
func (r *SubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) collect(rows pgx.Rows) ([]*webhook.Subscription, error) {
	var result []*webhook.Subscription
	for rows.Next() {
		s, err := r.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *SubscriptionRepository) scanSubscription(row scanner) (*webhook.Subscription, error) {
	s := &webhook.Subscription{}
	var types []string
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.URL, &types, &s.Secret, &s.Active,
		&s.ConsecutiveFailures, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	s.EventTypes = make([]event.Type, len(types))
	for i, t := range types {
		s.EventTypes[i] = event.Type(t)
	}
	return s, nil
}

func eventTypesToStrings(types []event.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// JobRepository implements webhook.JobRepository using PostgreSQL.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

const jobColumns = `id, subscription_id, transaction_id, event_type, payload,
        status, attempts, last_error, created_at, updated_at`

// CreateJob inserts a job unless one already exists for the same
// (subscription, transaction, event type). Returns false on dedup.
func (r *JobRepository) CreateJob(ctx context.Context, j *webhook.DeliveryJob) (bool, error) {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_delivery_jobs
		 (id, subscription_id, transaction_id, event_type, payload, status, attempts, last_error, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (subscription_id, transaction_id, event_type) DO NOTHING`,
		j.ID, j.SubscriptionID, j.TransactionID, string(j.EventType), payload,
		string(j.Status), j.Attempts, j.LastError, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert delivery job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetJob retrieves a job. Returns (nil, nil) when absent.
func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*webhook.DeliveryJob, error) {
	return r.scanJob(r.db(ctx).QueryRow(ctx,
		`SELECT `+jobColumns+` FROM webhook_delivery_jobs WHERE id = $1`, id))
}

// UpdateJob persists job state after a delivery attempt.
func (r *JobRepository) UpdateJob(ctx context.Context, j *webhook.DeliveryJob) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_delivery_jobs
		 SET status = $1, attempts = $2, last_error = $3, updated_at = $4
		 WHERE id = $5`,
		string(j.Status), j.Attempts, j.LastError, j.UpdatedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery job: %w", err)
	}
	return nil
}

// ListJobsBySubscription retrieves recent jobs for a subscription.
func (r *JobRepository) ListJobsBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*webhook.DeliveryJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+jobColumns+`
		 FROM webhook_delivery_jobs
		 WHERE subscription_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery jobs: %w", err)
	}
	defer rows.Close()

	var result []*webhook.DeliveryJob
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// AddLog records one delivery attempt.
func (r *JobRepository) AddLog(ctx context.Context, l *webhook.DeliveryLog) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_delivery_logs
		 (id, job_id, subscription_id, event_type, attempt, http_status, response_body, error, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		l.ID, l.JobID, l.SubscriptionID, string(l.EventType), l.Attempt,
		l.HTTPStatus, l.ResponseBody, l.Error, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// ListLogsByJob retrieves the attempt log for a job, oldest first.
func (r *JobRepository) ListLogsByJob(ctx context.Context, jobID uuid.UUID) ([]*webhook.DeliveryLog, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, job_id, subscription_id, event_type, attempt, http_status, response_body, error, created_at
		 FROM webhook_delivery_logs
		 WHERE job_id = $1
		 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	var result []*webhook.DeliveryLog
	for rows.Next() {
		l := &webhook.DeliveryLog{}
		var eventType string
		err := rows.Scan(
			&l.ID, &l.JobID, &l.SubscriptionID, &eventType, &l.Attempt,
			&l.HTTPStatus, &l.ResponseBody, &l.Error, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		l.EventType = event.Type(eventType)
		result = append(result, l)
	}
	return result, rows.Err()
}

func (r *JobRepository) scanJob(row scanner) (*webhook.DeliveryJob, error) {
	j := &webhook.DeliveryJob{}
	var (
		eventType string
		status    string
		payload   []byte
	)
	err := row.Scan(
		&j.ID, &j.SubscriptionID, &j.TransactionID, &eventType, &payload,
		&status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan delivery job: %w", err)
	}
	j.EventType = event.Type(eventType)
	j.Status = webhook.JobStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal job payload: %w", err)
		}
	}
	return j, nil
}
