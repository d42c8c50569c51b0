package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/rs/zerolog"
)

// Handler processes one event. Returned errors are logged by the bus; the
// event is not redelivered, so handler owners must surface stuck state via
// reconciliation rather than relying on bus retries.
type Handler func(ctx context.Context, evt event.Event) error

// Token identifies an active subscription for Unsubscribe.
type Token struct {
	eventType event.Type
	id        int
}

type subscriber struct {
	ch chan event.Event
}

// Bus is an in-process publish/subscribe fabric for domain events.
//
// Each subscriber gets its own buffered channel drained by a dedicated
// goroutine, so events publish in FIFO order per subscriber, handlers run
// asynchronously relative to the publisher, and a slow or failing handler
// never blocks delivery to other subscribers.
type Bus struct {
	logger    zerolog.Logger
	bufSize   int
	onPublish func(event.Type)

	mu     sync.RWMutex
	subs   map[event.Type]map[int]*subscriber
	nextID int
	closed bool

	wg sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithPublishHook installs fn to be called once per accepted publish, before
// fan-out. Used to feed publish counters.
func WithPublishHook(fn func(event.Type)) Option {
	return func(b *Bus) { b.onPublish = fn }
}

// New creates a bus. bufSize is the per-subscriber queue depth; values <= 0
// fall back to 64.
func New(logger zerolog.Logger, bufSize int, opts ...Option) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	b := &Bus{
		logger:  logger.With().Str("component", "eventbus").Logger(),
		bufSize: bufSize,
		subs:    make(map[event.Type]map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events of type t and returns a token for
// Unsubscribe. The handler runs on its own goroutine.
func (b *Bus) Subscribe(t event.Type, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{ch: make(chan event.Event, b.bufSize)}

	if b.subs[t] == nil {
		b.subs[t] = make(map[int]*subscriber)
	}
	b.subs[t][id] = sub

	b.wg.Add(1)
	go b.run(t, id, sub, handler)

	return Token{eventType: t, id: id}
}

// Unsubscribe removes the subscription identified by token. In-flight events
// already queued for the subscriber are still delivered.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[token.eventType]
	if !ok {
		return
	}
	if sub, ok := subs[token.id]; ok {
		delete(subs, token.id)
		close(sub.ch)
	}
}

// Publish delivers evt to every active subscriber for its type. It returns
// once the event is queued; handler execution is asynchronous. Publishing on
// a closed bus drops the event with a warning.
func (b *Bus) Publish(ctx context.Context, evt event.Event) {
	if evt.EmittedAt.IsZero() {
		evt.EmittedAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn().
			Str("event_type", string(evt.Type)).
			Str("transaction_id", evt.TransactionID.String()).
			Msg("Publish on closed bus, event dropped")
		return
	}

	if b.onPublish != nil {
		b.onPublish(evt.Type)
	}

	for _, sub := range b.subs[evt.Type] {
		select {
		case sub.ch <- evt:
		case <-ctx.Done():
			b.logger.Warn().
				Str("event_type", string(evt.Type)).
				Str("transaction_id", evt.TransactionID.String()).
				Msg("Publish cancelled while subscriber queue full")
			return
		}
	}
}

// Close stops accepting publishes, then drains every subscriber queue and
// waits for all handlers to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for id, sub := range subs {
			delete(subs, id)
			close(sub.ch)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) run(t event.Type, id int, sub *subscriber, handler Handler) {
	defer b.wg.Done()
	for evt := range sub.ch {
		b.dispatch(t, id, handler, evt)
	}
}

// dispatch invokes the handler, converting panics into logged errors so one
// bad handler cannot take down the delivery loop.
func (b *Bus) dispatch(t event.Type, id int, handler Handler, evt event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event_type", string(t)).
				Int("subscriber", id).
				Str("transaction_id", evt.TransactionID.String()).
				Msg(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	if err := handler(context.Background(), evt); err != nil {
		b.logger.Error().
			Err(err).
			Str("event_type", string(t)).
			Int("subscriber", id).
			Str("transaction_id", evt.TransactionID.String()).
			Msg("Event handler failed")
	}
}
