package hook

import (
	"fmt"
	"slices"

	"github.com/Aman-CERP/entityidx/internal/errors"
)

// Type tags the context a pass runs in; each type has its own ordered
// handler list.
type Type string

const (
	// TypeECA is used by queue-driven passes (entity change events).
	TypeECA Type = "eca"
	// TypeManual is used by full reindex runs over a streaming source.
	TypeManual Type = "manual"
)

// Factory creates a fresh handler for one pass.
type Factory func() (Handler, error)

type registration struct {
	name    string
	factory Factory
}

// Registry maps a hook type to an ordered list of handler factories.
// It holds no global state: build one at startup and pass it to the indexer.
type Registry struct {
	byType map[Type][]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[Type][]registration)}
}

// Register appends a factory for hookType. Handlers run in registration
// order. Registering the same name twice for a type replaces the factory
// in place.
func (r *Registry) Register(hookType Type, name string, factory Factory) {
	regs := r.byType[hookType]
	if i := slices.IndexFunc(regs, func(reg registration) bool { return reg.name == name }); i >= 0 {
		regs[i].factory = factory
		return
	}
	r.byType[hookType] = append(regs, registration{name: name, factory: factory})
}

// Factories returns a copy of the factories registered for hookType.
func (r *Registry) Factories(hookType Type) []Factory {
	regs := r.byType[hookType]
	out := make([]Factory, len(regs))
	for i, reg := range regs {
		out[i] = reg.factory
	}
	return out
}

// Names returns the registered handler names for hookType, in order.
func (r *Registry) Names(hookType Type) []string {
	regs := r.byType[hookType]
	names := make([]string, len(regs))
	for i, reg := range regs {
		names[i] = reg.name
	}
	return names
}

// Handlers instantiates the handlers for hookType, in registration order.
func (r *Registry) Handlers(hookType Type) ([]Handler, error) {
	if r == nil {
		return nil, nil
	}
	regs := r.byType[hookType]
	handlers := make([]Handler, 0, len(regs))
	for _, reg := range regs {
		h, err := reg.factory()
		if err != nil {
			return nil, errors.New(errors.ErrCodeHookFailed,
				fmt.Sprintf("failed to create hook %s for type %s", reg.name, hookType), err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// Static wraps an existing handler as a factory that always returns it.
// Useful when the caller wants to inspect the handler after the pass.
func Static(h Handler) Factory {
	return func() (Handler, error) { return h, nil }
}
