package transaction

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows List results.
type ListFilter struct {
	SenderID   string
	ReceiverID string
	Status     Status
	Limit      int
	Offset     int
}

// Repository defines persistence for transactions.
//
// UpdateStatus is a compare-and-swap: the write only happens when the stored
// status equals expected, so concurrent re-delivery of the same event cannot
// move a transaction along the same edge twice.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]*Transaction, error)

	// UpdateStatus transitions id from expected to next. When reason is
	// non-nil it is stored as the failure reason. Returns
	// errors.ErrStateConflict if the stored status is not expected.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next Status, reason *string) error

	// ListStuck returns transactions that have been sitting in status for
	// longer than olderThan, oldest first.
	ListStuck(ctx context.Context, status Status, olderThan time.Duration, limit int) ([]*Transaction, error)
}
