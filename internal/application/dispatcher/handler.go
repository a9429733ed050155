package dispatcher

import (
	"context"

	"github.com/portal-idjuv/casework/internal/domain/event"
)

// Handler reacts to a committed case event. Handlers never influence the
// outcome of the engine operation that produced the event.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a subscription.
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// AnyType subscribes a handler to every event type.
const AnyType event.Type = "*"
