package transfer

import (
	"context"
	goerrors "errors"
	"fmt"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
)

// HandleCreditOutcome is the subscriber for credit.success and credit.failed.
// Every transition it performs is a compare-and-swap on the current status,
// so redelivered outcome events are safe no-ops.
func (o *Orchestrator) HandleCreditOutcome(ctx context.Context, evt event.Event) error {
	tx, err := o.txRepo.GetByID(ctx, evt.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if tx == nil {
		return domainErrors.ErrTransactionNotFound
	}

	switch evt.Type {
	case event.CreditSuccess:
		return o.complete(ctx, tx)
	case event.CreditFailed:
		return o.compensate(ctx, tx, evt.Reason)
	default:
		return fmt.Errorf("unexpected event type %q", evt.Type)
	}
}

// complete finalizes a transfer whose receiver credit succeeded.
func (o *Orchestrator) complete(ctx context.Context, tx *transaction.Transaction) error {
	err := o.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusDebited, transaction.StatusCredited, nil)
	if err != nil {
		if goerrors.Is(err, domainErrors.ErrStateConflict) {
			return nil // redelivery, already past DEBITED
		}
		return fmt.Errorf("record credit: %w", err)
	}

	err = o.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusCredited, transaction.StatusCompleted, nil)
	if err != nil && !goerrors.Is(err, domainErrors.ErrStateConflict) {
		return fmt.Errorf("record completion: %w", err)
	}

	o.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Msg("Transfer completed")

	o.observeTerminal(tx, "completed")
	o.bus.Publish(ctx, o.eventFor(tx, event.TransactionCompleted, nil, ""))
	return nil
}

// compensate refunds the sender after a failed receiver credit. A refund
// failure is a fatal inconsistency: money left the sender and could not be
// returned. It is escalated for manual reconciliation, never blindly retried,
// because re-running a money movement risks double effects.
func (o *Orchestrator) compensate(ctx context.Context, tx *transaction.Transaction, creditReason string) error {
	err := o.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusDebited, transaction.StatusRefunding, nil)
	if err != nil {
		if goerrors.Is(err, domainErrors.ErrStateConflict) {
			return nil // redelivery, compensation already in progress or done
		}
		return fmt.Errorf("record refunding: %w", err)
	}

	newBalance, refundErr := o.ledger.Credit(ctx, tx.SenderID, tx.ID, tx.Amount.ValueCents)
	if refundErr != nil {
		reason := fmt.Sprintf("refund after failed credit: %v", refundErr)
		if err := o.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusRefunding, transaction.StatusFailed, &reason); err != nil &&
			!goerrors.Is(err, domainErrors.ErrStateConflict) {
			return fmt.Errorf("record refund failure: %w", err)
		}

		o.logger.Error().
			Str("transaction_id", tx.ID.String()).
			Str("credit_failure", creditReason).
			Err(refundErr).
			Msg("Refund failed: sender funds not returned, manual reconciliation required")

		o.metrics.RefundsTotal.WithLabelValues("failed").Inc()
		o.observeTerminal(tx, "failed")
		o.bus.Publish(ctx, o.eventFor(tx, event.RefundFailed, nil, reason))
		return domainErrors.ErrRefundFailed
	}

	reason := "credit failed: " + creditReason
	if err := o.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusRefunding, transaction.StatusRefunded, &reason); err != nil &&
		!goerrors.Is(err, domainErrors.ErrStateConflict) {
		return fmt.Errorf("record refund: %w", err)
	}

	o.logger.Warn().
		Str("transaction_id", tx.ID.String()).
		Str("credit_failure", creditReason).
		Int64("sender_balance_cents", newBalance).
		Msg("Transfer refunded")

	o.metrics.RefundsTotal.WithLabelValues("success").Inc()
	o.observeTerminal(tx, "refunded")
	o.bus.Publish(ctx, o.eventFor(tx, event.RefundCompleted, &newBalance, reason))
	o.bus.Publish(ctx, o.eventFor(tx, event.TransactionFailed, nil, reason))
	return nil
}
