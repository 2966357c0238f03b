package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-github-app/core"
)

// Handler consumes a routed event. The token is the installation-scoped
// credential for the event's tenant; it is zero when the payload carries no
// installation.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event Event, token core.InstallationToken) error
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, event Event, token core.InstallationToken) error
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, event Event, token core.InstallationToken) error {
	return h.fn(ctx, event, token)
}

// HandlerFunc adapts a function to the Handler interface under a stable name.
func HandlerFunc(name string, fn func(ctx context.Context, event Event, token core.InstallationToken) error) Handler {
	return handlerFunc{name: strings.TrimSpace(name), fn: fn}
}

// Registry maps routing keys to handlers. Registration happens at startup;
// lookups during dispatch take the read path only. A handler registered with
// an empty action receives every action of its event type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]Handler{}}
}

func (r *Registry) Register(eventType, action string, handler Handler) error {
	if r == nil {
		return dispatchInternal("dispatch: registry is nil", nil)
	}
	if handler == nil {
		return dispatchBadInput("dispatch: handler is nil", nil)
	}
	if strings.TrimSpace(handler.Name()) == "" {
		return dispatchBadInput("dispatch: handler name is required", nil)
	}
	eventType = strings.TrimSpace(strings.ToLower(eventType))
	if eventType == "" {
		return dispatchBadInput("dispatch: event type is required", nil)
	}
	key := eventType
	if action = strings.TrimSpace(strings.ToLower(action)); action != "" {
		key = eventType + "." + action
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.handlers[key] {
		if existing.Name() == handler.Name() {
			return dispatchBadInput(
				fmt.Sprintf("dispatch: handler %q already registered for %q", handler.Name(), key),
				map[string]any{"routing_key": key, "handler": handler.Name()},
			)
		}
	}
	r.handlers[key] = append(r.handlers[key], handler)
	return nil
}

// HandlersFor returns the handlers routed to an event: exact type.action
// matches first, then type-wide subscribers.
func (r *Registry) HandlersFor(event Event) []Handler {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []Handler
	if event.Action != "" {
		matched = append(matched, r.handlers[event.Key()]...)
	}
	matched = append(matched, r.handlers[event.Type]...)
	return matched
}
