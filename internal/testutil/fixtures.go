package testutil

import (
	"time"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/domain/webhook"
	"github.com/google/uuid"
)

func NewTestTransaction(senderID, receiverID string, amountCents int64, status transaction.Status) *transaction.Transaction {
	now := time.Now()
	return &transaction.Transaction{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     transaction.Amount{ValueCents: amountCents, Currency: "USD"},
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewTestSubscription(ownerID, url string, eventTypes ...event.Type) *webhook.Subscription {
	if len(eventTypes) == 0 {
		eventTypes = event.TerminalTypes()
	}
	now := time.Now()
	return &webhook.Subscription{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		URL:        url,
		EventTypes: eventTypes,
		Secret:     "test-webhook-secret-0123456789",
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewTestEvent(t event.Type, tx *transaction.Transaction) event.Event {
	return event.Event{
		Type:          t,
		TransactionID: tx.ID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		AmountCents:   tx.Amount.ValueCents,
		Currency:      tx.Amount.Currency,
		EmittedAt:     time.Now(),
	}
}

func Int64Ptr(v int64) *int64 {
	return &v
}
