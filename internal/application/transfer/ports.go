package transfer

import (
	"context"

	"github.com/cassiomorais/transfers/internal/domain/event"
	"github.com/cassiomorais/transfers/internal/eventbus"
)

// Bus is the event fabric the orchestrator publishes to and subscribes on.
// This is an application-layer port; the concrete bus lives in
// internal/eventbus.
type Bus interface {
	Publish(ctx context.Context, evt event.Event)
	Subscribe(t event.Type, handler eventbus.Handler) eventbus.Token
}
