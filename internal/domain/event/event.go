package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of domain event.
type Type string

const (
	TransactionInitiated Type = "transaction.initiated"
	DebitSuccess         Type = "debit.success"
	DebitFailed          Type = "debit.failed"
	CreditSuccess        Type = "credit.success"
	CreditFailed         Type = "credit.failed"
	TransactionCompleted Type = "transaction.completed"
	TransactionFailed    Type = "transaction.failed"
	RefundCompleted      Type = "refund.completed"
	RefundFailed         Type = "refund.failed"
)

// Types lists every defined event type.
func Types() []Type {
	return []Type{
		TransactionInitiated,
		DebitSuccess,
		DebitFailed,
		CreditSuccess,
		CreditFailed,
		TransactionCompleted,
		TransactionFailed,
		RefundCompleted,
		RefundFailed,
	}
}

// TerminalTypes lists the event types that end a saga and are fanned out to
// webhook subscribers.
func TerminalTypes() []Type {
	return []Type{TransactionCompleted, TransactionFailed, RefundCompleted, RefundFailed}
}

// Event is an immutable record of something that happened to a transaction.
// Events are the only channel between the orchestrator, the ledger credit
// handler, and the webhook dispatcher; none of them call each other directly.
type Event struct {
	Type            Type
	TransactionID   uuid.UUID
	SenderID        string
	ReceiverID      string
	AmountCents     int64
	Currency        string
	NewBalanceCents *int64
	Reason          string
	EmittedAt       time.Time
}

// Terminal reports whether the event type ends the saga.
func (e Event) Terminal() bool {
	switch e.Type {
	case TransactionCompleted, TransactionFailed, RefundCompleted, RefundFailed:
		return true
	}
	return false
}

// Data returns the webhook payload body for the event. Map values keep the
// serialization deterministic: encoding/json writes map keys in sorted order,
// so sender and receiver compute identical signatures over the same payload.
func (e Event) Data() map[string]any {
	data := map[string]any{
		"transaction_id": e.TransactionID.String(),
		"sender_id":      e.SenderID,
		"receiver_id":    e.ReceiverID,
		"amount_cents":   e.AmountCents,
		"currency":       e.Currency,
	}
	if e.NewBalanceCents != nil {
		data["new_balance_cents"] = *e.NewBalanceCents
	}
	if e.Reason != "" {
		data["reason"] = e.Reason
	}
	return data
}
