package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Store is the atomic balance mutation primitive backing the saga. It is an
// external collaborator from the orchestrator's point of view: both operations
// must be atomic (no partial update visible) and idempotent per
// (transactionID, accountID, direction) so that crash-and-retry of the same
// saga step never double-applies.
type Store interface {
	// Debit removes amountCents from accountID and returns the new balance.
	// Returns errors.ErrInsufficientBalance when the balance would go
	// negative, errors.ErrWalletNotFound when the account has no wallet.
	Debit(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error)

	// Credit adds amountCents to accountID and returns the new balance.
	Credit(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error)

	// Balance returns the current balance for accountID.
	Balance(ctx context.Context, accountID string) (int64, error)
}
