// Package eventbus implements the bounded-name pub/sub discipline every
// stateful CLSP component is built on (§4.2): a component declares a
// closed set of event names up front, and the bus rejects subscriptions
// outside that set. Delivery follows registration order and a panicking
// handler never stops delivery to the remaining handlers, matching the
// teacher's poller.publish fan-out (internal/poller/poller.go), generalized
// from one fixed channel type to named, typed events.
package eventbus

import (
	"fmt"
	"log"
	"sync"

	"clspiov/internal/clsperrors"
)

// Event is a single delivered occurrence: Name identifies it against the
// bus's whitelist, Payload carries whatever data that name's emitters
// attach (callers type-assert to the shape documented for that name).
type Event struct {
	Name    string
	Payload any
}

// Handler receives one delivered Event. A Handler must not block the bus
// for long; the bus invokes handlers synchronously, in registration order.
type Handler func(Event)

// Bus is a named-event pub/sub restricted to a fixed whitelist of event
// names, supplied at construction. Subscribing to a name outside the
// whitelist fails with clsperrors.ErrUnknownEvent; subscribing with a nil
// handler fails with clsperrors.ErrMissingHandler.
type Bus struct {
	mu        sync.Mutex
	allowed   map[string]struct{}
	handlers  map[string][]Handler
	destroyed bool
}

// New creates a Bus whose subscribe/emit surface is restricted to names.
func New(names ...string) *Bus {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return &Bus{
		allowed:  allowed,
		handlers: make(map[string][]Handler),
	}
}

// On registers handler for name. Returns clsperrors.ErrUnknownEvent if name
// was not declared at construction, or clsperrors.ErrMissingHandler if
// handler is nil.
func (b *Bus) On(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("eventbus: subscribing %q: %w", name, clsperrors.ErrMissingHandler)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.allowed[name]; !ok {
		return fmt.Errorf("eventbus: subscribing %q: %w", name, clsperrors.ErrUnknownEvent)
	}
	if b.destroyed {
		return fmt.Errorf("eventbus: subscribing %q: %w", name, clsperrors.ErrAlreadyDestroyed)
	}
	b.handlers[name] = append(b.handlers[name], handler)
	return nil
}

// Emit delivers an Event for name to every registered handler, in
// registration order. A handler that panics is recovered, logged, and
// delivery continues to the remaining handlers (§4.2: "a handler's
// throw does not abort delivery to the remaining handlers").
func (b *Bus) Emit(name string, payload any) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	destroyed := b.destroyed
	b.mu.Unlock()

	if destroyed {
		return
	}

	ev := Event{Name: name, Payload: payload}
	for _, h := range handlers {
		invoke(h, ev)
	}
}

func invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: handler for %q panicked: %v", ev.Name, r)
		}
	}()
	h(ev)
}

// RemoveAllListeners drops every registered handler for every name. Called
// exactly once during a component's destruction (§4.2).
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]Handler)
	b.destroyed = true
}
