package transfer

import (
	"context"
	goerrors "errors"
	"fmt"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/google/uuid"
)

// Debit executes the first saga step: take amount from the sender's wallet
// and durably record DEBITED before any credit-triggering event is emitted.
//
// The call tolerates at-least-once delivery of transaction.initiated: a
// transaction that already left INITIATED is a no-op success. No lock is held
// across the ledger call and the status write; the ledger is idempotent per
// (transaction, account, direction), so a crash between the two is repaired
// by re-running Debit from the reconciler.
func (o *Orchestrator) Debit(ctx context.Context, txID uuid.UUID) error {
	tx, err := o.txRepo.GetByID(ctx, txID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if tx == nil {
		return domainErrors.ErrTransactionNotFound
	}
	if tx.Status != transaction.StatusInitiated {
		return nil // already debited or terminal
	}

	newBalance, err := o.ledger.Debit(ctx, tx.SenderID, tx.ID, tx.Amount.ValueCents)
	if err != nil {
		return o.failDebit(ctx, tx, err)
	}

	err = o.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusInitiated, transaction.StatusDebited, nil)
	if err != nil {
		if goerrors.Is(err, domainErrors.ErrStateConflict) {
			// A concurrent delivery won the race; its ledger debit and ours
			// were the same idempotent operation.
			return nil
		}
		// Ledger debit is recorded but the status write failed. The
		// reconciler re-runs Debit for stuck INITIATED transactions; the
		// ledger call then no-ops and only the status write repeats.
		return fmt.Errorf("record debit: %w", err)
	}

	o.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Int64("new_balance_cents", newBalance).
		Msg("Sender debited")

	o.bus.Publish(ctx, o.eventFor(tx, event.DebitSuccess, &newBalance, ""))
	return nil
}

// failDebit records a business failure of the debit step. Nothing was moved,
// so no compensation is needed and the receiver is never touched.
func (o *Orchestrator) failDebit(ctx context.Context, tx *transaction.Transaction, cause error) error {
	reason := cause.Error()

	err := o.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusInitiated, transaction.StatusFailed, &reason)
	if err != nil {
		if goerrors.Is(err, domainErrors.ErrStateConflict) {
			return nil
		}
		return fmt.Errorf("record debit failure: %w", err)
	}

	o.logger.Warn().
		Str("transaction_id", tx.ID.String()).
		Str("reason", reason).
		Msg("Debit failed")

	o.observeTerminal(tx, "failed")
	o.bus.Publish(ctx, o.eventFor(tx, event.DebitFailed, nil, reason))
	o.bus.Publish(ctx, o.eventFor(tx, event.TransactionFailed, nil, reason))

	if goerrors.Is(cause, domainErrors.ErrInsufficientBalance) {
		return nil // business outcome, not a handler error
	}
	return cause
}
