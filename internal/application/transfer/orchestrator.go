package transfer

import (
	"context"
	"time"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/ledger"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Orchestrator owns the transfer saga state machine. It drives a transaction
// through debit, awaits the credit outcome from the ledger credit handler,
// and issues compensation when the credit fails. All cross-component
// communication goes through the event bus; the orchestrator never calls the
// credit handler directly.
type Orchestrator struct {
	txRepo  transaction.Repository
	ledger  ledger.Store
	bus     Bus
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewOrchestrator creates an orchestrator. Call Register before publishing
// any transaction events.
func NewOrchestrator(
	txRepo transaction.Repository,
	ledgerStore ledger.Store,
	bus Bus,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		txRepo:  txRepo,
		ledger:  ledgerStore,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
	}
}

// observeTerminal records the saga outcome metrics once a transaction reaches
// a terminal status.
func (o *Orchestrator) observeTerminal(tx *transaction.Transaction, status string) {
	o.metrics.TransfersTotal.WithLabelValues(status).Inc()
	o.metrics.TransferDuration.WithLabelValues(status).Observe(time.Since(tx.CreatedAt).Seconds())
}

// Register subscribes the orchestrator's handlers. This must happen before
// the ledger credit handler registers, so the orchestrator is guaranteed to
// see the credit outcome events the handler produces.
func (o *Orchestrator) Register() {
	o.bus.Subscribe(event.TransactionInitiated, func(ctx context.Context, evt event.Event) error {
		return o.Debit(ctx, evt.TransactionID)
	})
	o.bus.Subscribe(event.CreditSuccess, o.HandleCreditOutcome)
	o.bus.Subscribe(event.CreditFailed, o.HandleCreditOutcome)
}

// InitiateRequest holds the input for starting a transfer.
type InitiateRequest struct {
	SenderID    string
	ReceiverID  string
	AmountCents int64
	Currency    string
	Description string
}

// Initiate validates the request, persists a transaction in INITIATED and
// publishes transaction.initiated. Idempotency of the external call is the
// idempotency middleware's job, not the orchestrator's.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*transaction.Transaction, error) {
	tx, err := transaction.NewTransaction(
		req.SenderID,
		req.ReceiverID,
		transaction.Amount{ValueCents: req.AmountCents, Currency: req.Currency},
		req.Description,
	)
	if err != nil {
		return nil, err
	}

	if err := o.txRepo.Create(ctx, tx); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("sender_id", tx.SenderID).
		Str("receiver_id", tx.ReceiverID).
		Str("amount", tx.Amount.String()).
		Msg("Transfer initiated")

	o.bus.Publish(ctx, o.eventFor(tx, event.TransactionInitiated, nil, ""))
	return tx, nil
}

func (o *Orchestrator) eventFor(tx *transaction.Transaction, t event.Type, newBalance *int64, reason string) event.Event {
	return event.Event{
		Type:            t,
		TransactionID:   tx.ID,
		SenderID:        tx.SenderID,
		ReceiverID:      tx.ReceiverID,
		AmountCents:     tx.Amount.ValueCents,
		Currency:        tx.Amount.Currency,
		NewBalanceCents: newBalance,
		Reason:          reason,
	}
}
