package transfer

import (
	"context"
	goerrors "errors"
	"time"

	domainErrors "github.com/cassiomorais/transfers/internal/domain/errors"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Reconciler sweeps for transactions the saga lost track of: a crash between
// the ledger call and the status write leaves INITIATED behind, a crash
// before the credit outcome was consumed leaves DEBITED behind, and a crash
// between the two completion writes leaves CREDITED behind. All are repaired
// by re-driving the saga, which is safe because every ledger operation is
// idempotent per transaction and every transition is a CAS.
type Reconciler struct {
	txRepo       transaction.Repository
	orchestrator *Orchestrator
	bus          Bus
	metrics      *observability.Metrics
	logger       zerolog.Logger

	stuckAfter time.Duration
	batchSize  int
}

// NewReconciler creates a reconciler sweeping transactions stuck longer than
// stuckAfter, at most batchSize per status per sweep.
func NewReconciler(
	txRepo transaction.Repository,
	orchestrator *Orchestrator,
	bus Bus,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	stuckAfter time.Duration,
	batchSize int,
) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		txRepo:       txRepo,
		orchestrator: orchestrator,
		bus:          bus,
		metrics:      metrics,
		logger:       logger.With().Str("component", "reconciler").Logger(),
		stuckAfter:   stuckAfter,
		batchSize:    batchSize,
	}
}

// Run performs a single reconciliation sweep and returns the number of
// transactions it re-drove.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	recovered := 0

	// INITIATED past the threshold: the debit either never ran or its status
	// write was lost. Re-running Debit resolves both cases.
	initiated, err := r.txRepo.ListStuck(ctx, transaction.StatusInitiated, r.stuckAfter, r.batchSize)
	if err != nil {
		return recovered, err
	}
	for _, tx := range initiated {
		r.logger.Warn().
			Str("transaction_id", tx.ID.String()).
			Time("created_at", tx.CreatedAt).
			Msg("Re-driving stuck INITIATED transaction")
		if err := r.orchestrator.Debit(ctx, tx.ID); err != nil {
			r.logger.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Reconciliation debit failed")
			continue
		}
		r.metrics.StuckRecovered.Inc()
		recovered++
	}

	// DEBITED past the threshold: the credit outcome was never consumed.
	// Re-emitting debit.success re-triggers the credit handler; the ledger
	// no-ops if the receiver was in fact already credited.
	debited, err := r.txRepo.ListStuck(ctx, transaction.StatusDebited, r.stuckAfter, r.batchSize)
	if err != nil {
		return recovered, err
	}
	for _, tx := range debited {
		r.logger.Warn().
			Str("transaction_id", tx.ID.String()).
			Time("updated_at", tx.UpdatedAt).
			Msg("Re-emitting debit.success for stuck DEBITED transaction")
		evt := r.orchestrator.eventFor(tx, event.DebitSuccess, nil, "")
		r.bus.Publish(ctx, evt)
		r.metrics.StuckRecovered.Inc()
		recovered++
	}

	// CREDITED past the threshold: both ledger legs are done but the final
	// status write was lost, so no terminal event was ever published. A
	// redelivered credit.success cannot repair this (its CAS precondition is
	// DEBITED); finish the transition here and publish the terminal event.
	credited, err := r.txRepo.ListStuck(ctx, transaction.StatusCredited, r.stuckAfter, r.batchSize)
	if err != nil {
		return recovered, err
	}
	for _, tx := range credited {
		r.logger.Warn().
			Str("transaction_id", tx.ID.String()).
			Time("updated_at", tx.UpdatedAt).
			Msg("Completing stuck CREDITED transaction")
		err := r.txRepo.UpdateStatus(ctx, tx.ID, transaction.StatusCredited, transaction.StatusCompleted, nil)
		if err != nil {
			if goerrors.Is(err, domainErrors.ErrStateConflict) {
				continue // a concurrent sweep won the race
			}
			r.logger.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Reconciliation completion failed")
			continue
		}
		r.orchestrator.observeTerminal(tx, "completed")
		r.bus.Publish(ctx, r.orchestrator.eventFor(tx, event.TransactionCompleted, nil, ""))
		r.metrics.StuckRecovered.Inc()
		recovered++
	}

	// REFUNDING past the threshold means a refund died mid-flight. This is
	// the fatal-inconsistency class: surface it, do not retry the money
	// movement automatically.
	refunding, err := r.txRepo.ListStuck(ctx, transaction.StatusRefunding, r.stuckAfter, r.batchSize)
	if err != nil {
		return recovered, err
	}
	for _, tx := range refunding {
		r.logger.Error().
			Str("transaction_id", tx.ID.String()).
			Time("updated_at", tx.UpdatedAt).
			Msg("Transaction stuck in REFUNDING: manual reconciliation required")
	}

	return recovered, nil
}

// RunLoop runs sweeps on a fixed interval until ctx is cancelled.
func (r *Reconciler) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := r.Run(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("Reconciliation sweep failed")
			continue
		}
		if n > 0 {
			r.logger.Info().Int("recovered", n).Msg("Reconciliation sweep recovered transactions")
		}
	}
}
