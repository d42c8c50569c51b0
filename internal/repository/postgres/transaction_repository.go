package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionRepository implements transaction.Repository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id, sender_id, receiver_id, amount_cents, currency,
        description, status, failure_reason, created_at, updated_at`

// Create inserts a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO transactions
		 (id, sender_id, receiver_id, amount_cents, currency, description, status, failure_reason, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.SenderID, t.ReceiverID, t.Amount.ValueCents, t.Amount.Currency,
		t.Description, string(t.Status), t.FailureReason, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID. Returns (nil, nil) when absent.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// List retrieves transactions matching the filter, newest first.
func (r *TransactionRepository) List(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.SenderID != "" {
		add("sender_id = $%d", filter.SenderID)
	}
	if filter.ReceiverID != "" {
		add("receiver_id = $%d", filter.ReceiverID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var result []*transaction.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// UpdateStatus performs a compare-and-swap status transition. A transition
// whose precondition no longer holds affects zero rows and surfaces as
// ErrStateConflict, which is how concurrent re-delivery of the same event
// stays a safe no-op.
func (r *TransactionRepository) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next transaction.Status,
	reason *string,
) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE transactions
		 SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		string(next), reason, id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a precondition miss.
		var exists bool
		err := r.db(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, id,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check transaction exists: %w", err)
		}
		if !exists {
			return domainErrors.ErrTransactionNotFound
		}
		return domainErrors.ErrStateConflict
	}
	return nil
}

// ListStuck returns transactions sitting in status longer than olderThan,
// oldest first.
func (r *TransactionRepository) ListStuck(
	ctx context.Context,
	status transaction.Status,
	olderThan time.Duration,
	limit int,
) ([]*transaction.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().Add(-olderThan)

	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		string(status), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck transactions: %w", err)
	}
	defer rows.Close()

	var result []*transaction.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *TransactionRepository) scanTransaction(row scanner) (*transaction.Transaction, error) {
	t := &transaction.Transaction{}
	var status string
	err := row.Scan(
		&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount.ValueCents, &t.Amount.Currency,
		&t.Description, &status, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Status = transaction.Status(status)
	return t, nil
}
