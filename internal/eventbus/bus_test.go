package eventbus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/eventbus"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus(opts ...eventbus.Option) *eventbus.Bus {
	return eventbus.New(zerolog.Nop(), 16, opts...)
}

func TestBus_DeliversToSubscriber(t *testing.T) {
	bus := testBus()
	defer bus.Close()

	received := make(chan event.Event, 1)
	bus.Subscribe(event.TransactionInitiated, func(ctx context.Context, evt event.Event) error {
		received <- evt
		return nil
	})

	txID := uuid.New()
	bus.Publish(context.Background(), event.Event{Type: event.TransactionInitiated, TransactionID: txID})

	select {
	case evt := <-received:
		assert.Equal(t, txID, evt.TransactionID)
		assert.False(t, evt.EmittedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_OnlyMatchingTypeDelivered(t *testing.T) {
	bus := testBus()

	var mu sync.Mutex
	var got []event.Type
	bus.Subscribe(event.DebitSuccess, func(ctx context.Context, evt event.Event) error {
		mu.Lock()
		got = append(got, evt.Type)
		mu.Unlock()
		return nil
	})

	bus.Publish(context.Background(), event.Event{Type: event.DebitSuccess, TransactionID: uuid.New()})
	bus.Publish(context.Background(), event.Event{Type: event.DebitFailed, TransactionID: uuid.New()})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, event.DebitSuccess, got[0])
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	bus := testBus()

	var mu sync.Mutex
	var order []int64
	bus.Subscribe(event.TransactionCompleted, func(ctx context.Context, evt event.Event) error {
		mu.Lock()
		order = append(order, evt.AmountCents)
		mu.Unlock()
		return nil
	})

	for i := int64(1); i <= 10; i++ {
		bus.Publish(context.Background(), event.Event{
			Type:          event.TransactionCompleted,
			TransactionID: uuid.New(),
			AmountCents:   i,
		})
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i := int64(1); i <= 10; i++ {
		assert.Equal(t, i, order[i-1])
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := testBus()

	var count sync.WaitGroup
	count.Add(3)
	for i := 0; i < 3; i++ {
		bus.Subscribe(event.RefundCompleted, func(ctx context.Context, evt event.Event) error {
			count.Done()
			return nil
		})
	}

	bus.Publish(context.Background(), event.Event{Type: event.RefundCompleted, TransactionID: uuid.New()})

	done := make(chan struct{})
	go func() {
		count.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all subscribers received the event")
	}
	bus.Close()
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := testBus()

	received := 0
	var mu sync.Mutex
	bus.Subscribe(event.TransactionFailed, func(ctx context.Context, evt event.Event) error {
		mu.Lock()
		received++
		mu.Unlock()
		return errors.New("handler failure")
	})

	bus.Publish(context.Background(), event.Event{Type: event.TransactionFailed, TransactionID: uuid.New()})
	bus.Publish(context.Background(), event.Event{Type: event.TransactionFailed, TransactionID: uuid.New()})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, received)
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := testBus()

	received := make(chan struct{}, 1)
	bus.Subscribe(event.TransactionCompleted, func(ctx context.Context, evt event.Event) error {
		panic("boom")
	})
	bus.Subscribe(event.TransactionCompleted, func(ctx context.Context, evt event.Event) error {
		received <- struct{}{}
		return nil
	})

	bus.Publish(context.Background(), event.Event{Type: event.TransactionCompleted, TransactionID: uuid.New()})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking subscriber blocked the healthy one")
	}
	bus.Close()
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := testBus()

	var mu sync.Mutex
	received := 0
	token := bus.Subscribe(event.DebitSuccess, func(ctx context.Context, evt event.Event) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	})
	bus.Unsubscribe(token)

	bus.Publish(context.Background(), event.Event{Type: event.DebitSuccess, TransactionID: uuid.New()})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, received)
}

func TestBus_PublishAfterCloseDropsEvent(t *testing.T) {
	bus := testBus()

	received := make(chan struct{}, 1)
	bus.Subscribe(event.DebitSuccess, func(ctx context.Context, evt event.Event) error {
		received <- struct{}{}
		return nil
	})
	bus.Close()

	bus.Publish(context.Background(), event.Event{Type: event.DebitSuccess, TransactionID: uuid.New()})

	select {
	case <-received:
		t.Fatal("event delivered after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_PublishHook(t *testing.T) {
	var mu sync.Mutex
	var hooked []event.Type
	bus := testBus(eventbus.WithPublishHook(func(tp event.Type) {
		mu.Lock()
		hooked = append(hooked, tp)
		mu.Unlock()
	}))

	bus.Publish(context.Background(), event.Event{Type: event.CreditSuccess, TransactionID: uuid.New()})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hooked, 1)
	assert.Equal(t, event.CreditSuccess, hooked[0])
}
