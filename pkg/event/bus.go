package event

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Bus is a synchronous in-process publisher. Handlers run in subscription
// order on the publishing goroutine; their errors are returned to the caller.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus returns a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for events with the given discriminator.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Handle subscribes a handler typed on the concrete event.
func Handle[T Event](b *Bus, fn func(ctx context.Context, evt T) error) {
	var zero T
	b.Subscribe(zero.EventType(), func(ctx context.Context, evt Event) error {
		typed, ok := evt.(T)
		if !ok {
			return fmt.Errorf("event: %s delivered as %T", zero.EventType(), evt)
		}
		return fn(ctx, typed)
	})
}

// Publish runs every handler subscribed to evt's type. All handlers run even
// if one fails; failures are combined.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt == nil {
		return fmt.Errorf("event: publish nil event")
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.EventType()]...)
	b.mu.RUnlock()

	var errs error
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s handler: %w", evt.EventType(), err))
		}
	}
	return errs
}

var _ Publisher = (*Bus)(nil)
