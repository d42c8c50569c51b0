package ledgerops_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cassiomorais/transfers/internal/application/ledgerops"
	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/domain/transaction"
	"github.com/cassiomorais/transfers/internal/eventbus"
	"github.com/cassiomorais/transfers/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *captureBus) Publish(ctx context.Context, evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *captureBus) Subscribe(t event.Type, handler eventbus.Handler) eventbus.Token {
	return eventbus.Token{}
}

func (b *captureBus) last(t *testing.T) event.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.events)
	return b.events[len(b.events)-1]
}

func TestHandleDebitSuccess_CreditsReceiver(t *testing.T) {
	ledgerStore := testutil.NewMockLedgerStore()
	bus := &captureBus{}
	h := ledgerops.NewCreditHandler(ledgerStore, bus, zerolog.Nop())

	tx := testutil.NewTestTransaction("alice", "bob", 3000, transaction.StatusDebited)
	evt := testutil.NewTestEvent(event.DebitSuccess, tx)

	require.NoError(t, h.HandleDebitSuccess(context.Background(), evt))

	balance, err := ledgerStore.Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance)

	out := bus.last(t)
	assert.Equal(t, event.CreditSuccess, out.Type)
	assert.Equal(t, tx.ID, out.TransactionID)
	require.NotNil(t, out.NewBalanceCents)
	assert.Equal(t, int64(3000), *out.NewBalanceCents)
}

func TestHandleDebitSuccess_RedeliveryCreditsOnce(t *testing.T) {
	ledgerStore := testutil.NewMockLedgerStore()
	bus := &captureBus{}
	h := ledgerops.NewCreditHandler(ledgerStore, bus, zerolog.Nop())

	tx := testutil.NewTestTransaction("alice", "bob", 3000, transaction.StatusDebited)
	evt := testutil.NewTestEvent(event.DebitSuccess, tx)

	require.NoError(t, h.HandleDebitSuccess(context.Background(), evt))
	require.NoError(t, h.HandleDebitSuccess(context.Background(), evt))

	balance, err := ledgerStore.Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance)
}

func TestHandleDebitSuccess_LedgerErrorPublishesFailure(t *testing.T) {
	ledgerStore := testutil.NewMockLedgerStore()
	ledgerStore.CreditFunc = func(ctx context.Context, accountID string, transactionID uuid.UUID, amountCents int64) (int64, error) {
		return 0, errors.New("wallet store unavailable")
	}
	bus := &captureBus{}
	h := ledgerops.NewCreditHandler(ledgerStore, bus, zerolog.Nop())

	tx := testutil.NewTestTransaction("alice", "bob", 3000, transaction.StatusDebited)
	evt := testutil.NewTestEvent(event.DebitSuccess, tx)

	// Failure is reported on the bus, not returned: the orchestrator owns
	// what happens next.
	require.NoError(t, h.HandleDebitSuccess(context.Background(), evt))

	out := bus.last(t)
	assert.Equal(t, event.CreditFailed, out.Type)
	assert.Equal(t, tx.ID, out.TransactionID)
	assert.Equal(t, "wallet store unavailable", out.Reason)
}

func TestHandleDebitSuccess_FailCreditHook(t *testing.T) {
	ledgerStore := testutil.NewMockLedgerStore()
	bus := &captureBus{}
	h := ledgerops.NewCreditHandler(ledgerStore, bus, zerolog.Nop())
	h.FailCredit = func(evt event.Event) error {
		return errors.New("forced failure")
	}

	tx := testutil.NewTestTransaction("alice", "bob", 3000, transaction.StatusDebited)
	evt := testutil.NewTestEvent(event.DebitSuccess, tx)

	require.NoError(t, h.HandleDebitSuccess(context.Background(), evt))

	// The ledger was never touched.
	_, err := ledgerStore.Balance(context.Background(), "bob")
	assert.Error(t, err)
	assert.Equal(t, event.CreditFailed, bus.last(t).Type)
}
