package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// GuardHandler is a boolean predicate gating whether a transition may fire.
// Guards must be side-effect free; params come from the definition's guard
// bindings and are nil for directly registered guards.
type GuardHandler interface {
	Evaluate(ctx context.Context, run *Run, params map[string]any) bool
}

// GuardFunc adapts a function to GuardHandler.
type GuardFunc func(ctx context.Context, run *Run, params map[string]any) bool

func (f GuardFunc) Evaluate(ctx context.Context, run *Run, params map[string]any) bool {
	return f(ctx, run, params)
}

// GuardRegistry stores named guard handlers resolved at evaluation time.
// Registration and lookup are safe for concurrent use.
type GuardRegistry struct {
	mu         sync.RWMutex
	guards     map[string]GuardHandler
	namespacer func(string, string) string
}

// NewGuardRegistry creates an empty registry.
func NewGuardRegistry() *GuardRegistry {
	return &GuardRegistry{
		guards:     make(map[string]GuardHandler),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes how guard names are namespaced.
func (r *GuardRegistry) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		r.namespacer = fn
	}
}

// Register adds a handler by name.
func (r *GuardRegistry) Register(name string, handler GuardHandler) error {
	return r.RegisterNamespaced("", name, handler)
}

// RegisterFunc adds a plain predicate by name.
func (r *GuardRegistry) RegisterFunc(name string, fn func(context.Context, *Run, map[string]any) bool) error {
	if fn == nil {
		return nil
	}
	return r.Register(name, GuardFunc(fn))
}

// RegisterNamespaced adds a handler under namespace+name.
func (r *GuardRegistry) RegisterNamespaced(namespace, name string, handler GuardHandler) error {
	if name == "" || handler == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.guards == nil {
		r.guards = make(map[string]GuardHandler)
	}
	key := name
	if r.namespacer != nil {
		key = r.namespacer(namespace, name)
	}
	if _, exists := r.guards[key]; exists {
		return fmt.Errorf("guard %s already registered", key)
	}
	r.guards[key] = handler
	return nil
}

// Lookup retrieves a handler by name.
func (r *GuardRegistry) Lookup(name string) (GuardHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.guards[name]
	return handler, ok
}

// IDs returns sorted guard names for deterministic catalogs.
func (r *GuardRegistry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.guards) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.guards))
	for id := range r.guards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
