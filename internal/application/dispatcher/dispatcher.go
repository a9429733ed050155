package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portal-idjuv/casework/internal/domain/event"
)

var (
	// ErrClosed is returned when dispatching after Close.
	ErrClosed = errors.New("dispatcher is closed")

	// ErrUnknownEventType is returned for events outside the case event set.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Dispatcher fans case events out to subscribed handlers.
type Dispatcher interface {
	// Subscribe registers a handler with a generated name
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler under name; AnyType matches every event
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs matching handlers in order and joins their errors
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs matching handlers in background goroutines
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns the subscriptions for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close waits for in-flight async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	seq      int
	logger   Logger
	timeout  time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithHandlerTimeout bounds each async handler invocation.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *eventDispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.Lock()
	d.seq++
	name := fmt.Sprintf("%s#%d", eventType, d.seq)
	d.mu.Unlock()

	d.SubscribeNamed(eventType, name, handler)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.mu.Unlock()

	d.info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.handlers[eventType][:0:0]
	for _, h := range d.handlers[eventType] {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	d.handlers[eventType] = kept
}

// matching returns the type-specific handlers followed by the wildcard ones.
func (d *eventDispatcher) matching(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.matchingLocked(eventType)
}

func (d *eventDispatcher) matchingLocked(eventType event.Type) []HandlerInfo {
	out := make([]HandlerInfo, 0, len(d.handlers[eventType])+len(d.handlers[AnyType]))
	out = append(out, d.handlers[eventType]...)
	if eventType != AnyType {
		out = append(out, d.handlers[AnyType]...)
	}
	return out
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if !evt.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, evt.Type)
	}

	var errs []error
	for _, info := range d.matching(evt.Type) {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			d.error("Handler error", "event_type", evt.Type, "case_id", evt.CaseID, "handler_name", info.Name, "error", err)
			errs = append(errs, fmt.Errorf("handler %s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

// DispatchAsync detaches handlers from the caller's cancellation so a
// finished request does not abort its own notifications.
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if !evt.Type.IsValid() {
		d.error("Cannot dispatch async event of unknown type", "event_type", evt.Type, "event_id", evt.ID)
		return
	}

	// wg.Add happens under the read lock so it cannot interleave with
	// Close marking the dispatcher closed and waiting.
	d.mu.RLock()
	if d.closed.Load() {
		d.mu.RUnlock()
		d.error("Cannot dispatch async event, dispatcher is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}
	handlers := d.matchingLocked(evt.Type)
	d.wg.Add(len(handlers))
	d.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, info := range handlers {
		go func(h HandlerInfo) {
			defer d.wg.Done()

			hctx := base
			if d.timeout > 0 {
				var cancel context.CancelFunc
				hctx, cancel = context.WithTimeout(base, d.timeout)
				defer cancel()
			}

			if err := d.safeExecute(hctx, evt, h); err != nil {
				d.error("Async handler error", "event_type", evt.Type, "case_id", evt.CaseID, "handler_name", h.Name, "error", err)
			}
		}(info)
	}
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]HandlerInfo, len(d.handlers[eventType]))
	for i, h := range d.handlers[eventType] {
		result[i] = HandlerInfo{Name: h.Name, EventType: h.EventType}
	}
	return result
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if !d.closed.CompareAndSwap(false, true) {
		d.mu.Unlock()
		return ErrClosed
	}
	d.mu.Unlock()

	d.info("Closing dispatcher, waiting for async handlers")
	d.wg.Wait()
	return nil
}

func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return info.Handler(ctx, evt)
}

func (d *eventDispatcher) info(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) error(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}
