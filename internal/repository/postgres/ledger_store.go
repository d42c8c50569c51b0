package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerStore implements ledger.Store using PostgreSQL.
//
// Every debit/credit writes a ledger entry keyed by (transaction, account,
// direction) before touching the balance, inside one database transaction.
// Re-applying the same operation hits the entry's unique key, skips the
// balance mutation, and returns the current balance — which is the
// idempotency the saga relies on when it retries after a crash.
type LedgerStore struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool, tx: NewTxManager(pool)}
}

// Debit removes amountCents from accountID's wallet with a balance check.
func (s *LedgerStore) Debit(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error) {
	var newBalance int64
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		db := ConnFromCtx(txCtx, s.pool)

		tag, err := db.Exec(txCtx,
			`INSERT INTO ledger_entries (transaction_id, account_id, direction, amount_cents, created_at)
			 VALUES ($1, $2, 'debit', $3, NOW())
			 ON CONFLICT (transaction_id, account_id, direction) DO NOTHING`,
			transactionID, accountID, amountCents,
		)
		if err != nil {
			return fmt.Errorf("insert debit entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Already applied for this transaction.
			return s.readBalance(txCtx, db, accountID, &newBalance)
		}

		err = db.QueryRow(txCtx,
			`UPDATE wallets
			 SET balance_cents = balance_cents - $1, updated_at = NOW()
			 WHERE owner_id = $2 AND balance_cents >= $1
			 RETURNING balance_cents`,
			amountCents, accountID,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Rolling back also discards the entry insert.
				var exists bool
				if err := db.QueryRow(txCtx,
					`SELECT EXISTS(SELECT 1 FROM wallets WHERE owner_id = $1)`, accountID,
				).Scan(&exists); err != nil {
					return fmt.Errorf("check wallet exists: %w", err)
				}
				if !exists {
					return domainErrors.ErrWalletNotFound
				}
				return domainErrors.ErrInsufficientBalance
			}
			return fmt.Errorf("debit wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Credit adds amountCents to accountID's wallet, creating it when absent.
func (s *LedgerStore) Credit(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error) {
	var newBalance int64
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		db := ConnFromCtx(txCtx, s.pool)

		tag, err := db.Exec(txCtx,
			`INSERT INTO ledger_entries (transaction_id, account_id, direction, amount_cents, created_at)
			 VALUES ($1, $2, 'credit', $3, NOW())
			 ON CONFLICT (transaction_id, account_id, direction) DO NOTHING`,
			transactionID, accountID, amountCents,
		)
		if err != nil {
			return fmt.Errorf("insert credit entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.readBalance(txCtx, db, accountID, &newBalance)
		}

		err = db.QueryRow(txCtx,
			`INSERT INTO wallets (owner_id, balance_cents, updated_at)
			 VALUES ($1, $2, NOW())
			 ON CONFLICT (owner_id) DO UPDATE
			 SET balance_cents = wallets.balance_cents + EXCLUDED.balance_cents, updated_at = NOW()
			 RETURNING balance_cents`,
			accountID, amountCents,
		).Scan(&newBalance)
		if err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Balance returns the current balance for accountID.
func (s *LedgerStore) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	db := ConnFromCtx(ctx, s.pool)
	if err := s.readBalance(ctx, db, accountID, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *LedgerStore) readBalance(ctx context.Context, db DBTX, accountID string, dst *int64) error {
	err := db.QueryRow(ctx,
		`SELECT balance_cents FROM wallets WHERE owner_id = $1`, accountID,
	).Scan(dst)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainErrors.ErrWalletNotFound
		}
		return fmt.Errorf("read balance: %w", err)
	}
	return nil
}
