package ledgerops

import (
	"context"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/ledger"
	"github.com/cassiomorais/transfers/internal/eventbus"
	"github.com/rs/zerolog"
)

// Bus is the event fabric the handler consumes from and reports back onto.
type Bus interface {
	Publish(ctx context.Context, evt event.Event)
	Subscribe(t event.Type, handler eventbus.Handler) eventbus.Token
}

// CreditHandler reacts to a successful debit by crediting the receiver and
// reporting the outcome back onto the bus. It never retries internally;
// retry and compensation are the orchestrator's responsibility.
type CreditHandler struct {
	ledger ledger.Store
	bus    Bus
	logger zerolog.Logger

	// FailCredit, when set, is consulted before the ledger call and turns a
	// non-nil return into a published credit failure. Tests use it to force
	// the compensation path.
	FailCredit func(evt event.Event) error
}

// NewCreditHandler creates a credit handler.
func NewCreditHandler(ledgerStore ledger.Store, bus Bus, logger zerolog.Logger) *CreditHandler {
	return &CreditHandler{
		ledger: ledgerStore,
		bus:    bus,
		logger: logger.With().Str("component", "credit_handler").Logger(),
	}
}

// Register subscribes the handler to debit.success. Call this only after the
// orchestrator's handlers are registered, so the orchestrator is listening
// for the outcome events this handler produces.
func (h *CreditHandler) Register() {
	h.bus.Subscribe(event.DebitSuccess, h.HandleDebitSuccess)
}

// HandleDebitSuccess credits the receiver for a debited transaction.
func (h *CreditHandler) HandleDebitSuccess(ctx context.Context, evt event.Event) error {
	if h.FailCredit != nil {
		if err := h.FailCredit(evt); err != nil {
			h.publishFailure(ctx, evt, err.Error())
			return nil
		}
	}

	newBalance, err := h.ledger.Credit(ctx, evt.ReceiverID, evt.TransactionID, evt.AmountCents)
	if err != nil {
		h.publishFailure(ctx, evt, err.Error())
		return nil
	}

	h.logger.Info().
		Str("transaction_id", evt.TransactionID.String()).
		Str("receiver_id", evt.ReceiverID).
		Int64("new_balance_cents", newBalance).
		Msg("Receiver credited")

	h.bus.Publish(ctx, event.Event{
		Type:            event.CreditSuccess,
		TransactionID:   evt.TransactionID,
		SenderID:        evt.SenderID,
		ReceiverID:      evt.ReceiverID,
		AmountCents:     evt.AmountCents,
		Currency:        evt.Currency,
		NewBalanceCents: &newBalance,
	})
	return nil
}

func (h *CreditHandler) publishFailure(ctx context.Context, evt event.Event, reason string) {
	h.logger.Warn().
		Str("transaction_id", evt.TransactionID.String()).
		Str("receiver_id", evt.ReceiverID).
		Str("reason", reason).
		Msg("Receiver credit failed")

	h.bus.Publish(ctx, event.Event{
		Type:          event.CreditFailed,
		TransactionID: evt.TransactionID,
		SenderID:      evt.SenderID,
		ReceiverID:    evt.ReceiverID,
		AmountCents:   evt.AmountCents,
		Currency:      evt.Currency,
		Reason:        reason,
	})
}
