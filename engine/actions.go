package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ActionHandler is a side-effecting operation run on state entry or exit.
// Handlers read and write instance data through the Run and must honor ctx
// cancellation when they perform I/O.
type ActionHandler interface {
	Invoke(ctx context.Context, run *Run, params map[string]any) error
}

// ActionFunc adapts a function to ActionHandler.
type ActionFunc func(ctx context.Context, run *Run, params map[string]any) error

func (f ActionFunc) Invoke(ctx context.Context, run *Run, params map[string]any) error {
	return f(ctx, run, params)
}

// ActionRegistry stores named action handlers resolved at execution time.
// Registration and lookup are safe for concurrent use.
type ActionRegistry struct {
	mu         sync.RWMutex
	actions    map[string]ActionHandler
	namespacer func(string, string) string
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions:    make(map[string]ActionHandler),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes how action names are namespaced.
func (r *ActionRegistry) SetNamespacer(fn func(string, string) string) {
	if fn != nil {
		r.namespacer = fn
	}
}

// Register adds a handler by name.
func (r *ActionRegistry) Register(name string, handler ActionHandler) error {
	return r.RegisterNamespaced("", name, handler)
}

// RegisterFunc adds a plain function by name.
func (r *ActionRegistry) RegisterFunc(name string, fn func(context.Context, *Run, map[string]any) error) error {
	if fn == nil {
		return nil
	}
	return r.Register(name, ActionFunc(fn))
}

// RegisterNamespaced adds a handler under namespace+name.
func (r *ActionRegistry) RegisterNamespaced(namespace, name string, handler ActionHandler) error {
	if name == "" || handler == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions == nil {
		r.actions = make(map[string]ActionHandler)
	}
	key := name
	if r.namespacer != nil {
		key = r.namespacer(namespace, name)
	}
	if _, exists := r.actions[key]; exists {
		return fmt.Errorf("action %s already registered", key)
	}
	r.actions[key] = handler
	return nil
}

// Lookup retrieves a handler by name.
func (r *ActionRegistry) Lookup(name string) (ActionHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.actions[name]
	return handler, ok
}

// IDs returns sorted action names for deterministic catalogs.
func (r *ActionRegistry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.actions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// defaultNamespace concatenates namespace and id using ::, trimming whitespace.
func defaultNamespace(namespace, id string) string {
	ns := strings.TrimSpace(namespace)
	ident := strings.TrimSpace(id)
	if ns == "" {
		return ident
	}
	return ns + "::" + ident
}
