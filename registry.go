package workflow

import (
	"sort"
	"sync"
)

// Registry holds validated, immutable workflow definitions keyed by id and
// version. Multiple versions of the same id coexist so running instances
// stay bound to the version they were created against.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]map[int]*Definition
	latest map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]map[int]*Definition),
		latest: make(map[string]int),
	}
}

// Register normalizes and validates def, then stores a frozen copy under
// (id, version). Registering an already-present pair fails; publishing a
// changed process requires a new version.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return invalidDefinition("definition is nil", nil)
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}
	frozen := def.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.byID[frozen.ID]
	if !ok {
		versions = make(map[int]*Definition)
		r.byID[frozen.ID] = versions
	}
	if _, exists := versions[frozen.Version]; exists {
		return ErrDuplicateVersion.Clone().WithMetadata(map[string]any{
			"workflow_id": frozen.ID,
			"version":     frozen.Version,
		})
	}
	versions[frozen.Version] = frozen
	if frozen.Version > r.latest[frozen.ID] {
		r.latest[frozen.ID] = frozen.Version
	}
	return nil
}

// Get returns the definition registered under (id, version). The returned
// value is the registry's frozen copy and must be treated as read only.
func (r *Registry) Get(id string, version int) (*Definition, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byID[id][version]
	return def, ok
}

// Latest returns the highest registered version for id.
func (r *Registry) Latest(id string) (*Definition, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	version, ok := r.latest[id]
	if !ok {
		return nil, false
	}
	def, ok := r.byID[id][version]
	return def, ok
}

// Versions returns the sorted registered versions for id.
func (r *Registry) Versions(id string) []int {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.byID[id]))
	for v := range r.byID[id] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// IDs returns the sorted workflow ids with at least one registered version.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ByTrigger returns the latest version of every workflow whose trigger
// criteria match the event type and object name, sorted by id.
func (r *Registry) ByTrigger(event, object string) []*Definition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Definition
	for id, version := range r.latest {
		def := r.byID[id][version]
		if def != nil && def.Trigger.Matches(event, object) {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
