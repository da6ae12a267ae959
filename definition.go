package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Definition is an immutable template describing one workflow type: its
// states, guarded transitions between them, and the actions run on state
// entry and exit. Definitions are declarative documents (YAML or JSON)
// parsed into this model and validated once, at registration time.
type Definition struct {
	ID           string                  `json:"id" yaml:"id"`
	Name         string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Label        string                  `json:"label,omitempty" yaml:"label,omitempty"`
	Type         string                  `json:"type,omitempty" yaml:"type,omitempty"`
	Version      int                     `json:"version,omitempty" yaml:"version,omitempty"`
	InitialState string                  `json:"initialState,omitempty" yaml:"initialState,omitempty"`
	States       map[string]State        `json:"states" yaml:"states"`
	Trigger      *TriggerSpec            `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Guards       map[string]GuardBinding `json:"guards,omitempty" yaml:"guards,omitempty"`
}

// State is one named node in a definition's state chart. A state owns the
// transitions that leave it; entry and exit actions run in declared order.
type State struct {
	Name        string                    `json:"name,omitempty" yaml:"name,omitempty"`
	Label       string                    `json:"label,omitempty" yaml:"label,omitempty"`
	Initial     bool                      `json:"initial,omitempty" yaml:"initial,omitempty"`
	Final       bool                      `json:"final,omitempty" yaml:"final,omitempty"`
	OnEnter     []ActionInvocation        `json:"onEnter,omitempty" yaml:"onEnter,omitempty"`
	OnExit      []ActionInvocation        `json:"onExit,omitempty" yaml:"onExit,omitempty"`
	Transitions map[string]TransitionSpec `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// ActionInvocation names an action type and the parameters passed to it.
// Types resolve against the engine's action registry at execution time.
type ActionInvocation struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// TransitionSpec declares a guarded move to a target state. Guard names
// resolve against the definition's bindings first, then the engine's guard
// registry; multiple guards are ANDed.
type TransitionSpec struct {
	Target string   `json:"target" yaml:"target"`
	Guards []string `json:"guards,omitempty" yaml:"guards,omitempty"`
	Label  string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// TriggerSpec declares which external lifecycle events start instances of
// this workflow. Empty Events or Object act as wildcards.
type TriggerSpec struct {
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
	Object string   `json:"object,omitempty" yaml:"object,omitempty"`
}

// Matches reports whether an event type and object name satisfy the trigger
// criteria.
func (t *TriggerSpec) Matches(event, object string) bool {
	if t == nil {
		return false
	}
	if t.Object != "" && !strings.EqualFold(t.Object, object) {
		return false
	}
	if len(t.Events) == 0 {
		return true
	}
	for _, ev := range t.Events {
		if strings.EqualFold(ev, event) {
			return true
		}
	}
	return false
}

// GuardBinding attaches parameters to a guard name so transition specs can
// reference the binding by name alone.
type GuardBinding struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Normalize fills derived fields in place: state names from their map keys,
// the initialState pointer from the initial flag (and the reverse), and a
// default version of 1. Parsing calls it before Validate.
func (d *Definition) Normalize() {
	if d == nil {
		return
	}
	if d.Version == 0 {
		d.Version = 1
	}
	for name, st := range d.States {
		if strings.TrimSpace(st.Name) == "" {
			st.Name = name
			d.States[name] = st
		}
	}
	flagged := ""
	for name, st := range d.States {
		if st.Initial {
			flagged = name
			break
		}
	}
	switch {
	case d.InitialState == "" && flagged != "":
		d.InitialState = flagged
	case d.InitialState != "" && flagged == "":
		if st, ok := d.States[d.InitialState]; ok {
			st.Initial = true
			d.States[d.InitialState] = st
		}
	}
}

// Validate checks the structural invariants enforced at registration:
// exactly one initial state, at least one final state, and referential
// integrity of every transition target. It returns nil or an
// ErrInvalidDefinition clone describing the first problem found.
func (d *Definition) Validate() error {
	if d == nil {
		return invalidDefinition("definition is nil", nil)
	}
	if strings.TrimSpace(d.ID) == "" {
		return invalidDefinition("definition id is required", nil)
	}
	meta := map[string]any{"workflow_id": d.ID}
	if d.Version < 1 {
		return invalidDefinition(fmt.Sprintf("definition %s version must be positive", d.ID), meta)
	}
	if len(d.States) == 0 {
		return invalidDefinition(fmt.Sprintf("definition %s must declare at least one state", d.ID), meta)
	}

	names := d.stateNames()
	var initials []string
	finals := 0
	for _, name := range names {
		st := d.States[name]
		if strings.TrimSpace(name) == "" {
			return invalidDefinition(fmt.Sprintf("definition %s has an empty state name", d.ID), meta)
		}
		if st.Name != "" && st.Name != name {
			return invalidDefinition(fmt.Sprintf("definition %s state %s declares mismatched name %s", d.ID, name, st.Name), meta)
		}
		if st.Initial {
			initials = append(initials, name)
		}
		if st.Final {
			finals++
		}
	}
	if len(initials) == 0 {
		return invalidDefinition(fmt.Sprintf("definition %s must declare exactly one initial state", d.ID), meta)
	}
	if len(initials) > 1 {
		return invalidDefinition(fmt.Sprintf("definition %s declares multiple initial states: %s", d.ID, strings.Join(initials, ", ")), meta)
	}
	if d.InitialState != "" && d.InitialState != initials[0] {
		return invalidDefinition(fmt.Sprintf("definition %s initialState %s does not match initial flag on %s", d.ID, d.InitialState, initials[0]), meta)
	}
	if finals == 0 {
		return invalidDefinition(fmt.Sprintf("definition %s must declare at least one final state", d.ID), meta)
	}

	for _, name := range names {
		st := d.States[name]
		for _, trName := range sortedKeys(st.Transitions) {
			tr := st.Transitions[trName]
			if strings.TrimSpace(trName) == "" {
				return invalidDefinition(fmt.Sprintf("definition %s state %s has a transition with an empty name", d.ID, name), meta)
			}
			if strings.TrimSpace(tr.Target) == "" {
				return invalidDefinition(fmt.Sprintf("definition %s transition %s on state %s is missing a target", d.ID, trName, name), meta)
			}
			if _, ok := d.States[tr.Target]; !ok {
				return invalidDefinition(fmt.Sprintf("definition %s transition %s on state %s targets undeclared state %s", d.ID, trName, name, tr.Target), meta)
			}
			for _, guard := range tr.Guards {
				if strings.TrimSpace(guard) == "" {
					return invalidDefinition(fmt.Sprintf("definition %s transition %s on state %s has an empty guard name", d.ID, trName, name), meta)
				}
			}
		}
		for _, inv := range st.OnEnter {
			if strings.TrimSpace(inv.Type) == "" {
				return invalidDefinition(fmt.Sprintf("definition %s state %s has an onEnter action with an empty type", d.ID, name), meta)
			}
		}
		for _, inv := range st.OnExit {
			if strings.TrimSpace(inv.Type) == "" {
				return invalidDefinition(fmt.Sprintf("definition %s state %s has an onExit action with an empty type", d.ID, name), meta)
			}
		}
	}

	for _, name := range sortedKeys(d.Guards) {
		if strings.TrimSpace(name) == "" {
			return invalidDefinition(fmt.Sprintf("definition %s has a guard binding with an empty name", d.ID), meta)
		}
		if strings.TrimSpace(d.Guards[name].Type) == "" {
			return invalidDefinition(fmt.Sprintf("definition %s guard binding %s is missing a type", d.ID, name), meta)
		}
	}
	if d.Trigger != nil {
		for _, ev := range d.Trigger.Events {
			if strings.TrimSpace(ev) == "" {
				return invalidDefinition(fmt.Sprintf("definition %s trigger declares an empty event type", d.ID), meta)
			}
		}
	}
	return nil
}

// State returns the named state.
func (d *Definition) State(name string) (State, bool) {
	st, ok := d.States[name]
	return st, ok
}

// FinalStates returns the sorted names of all final states.
func (d *Definition) FinalStates() []string {
	var finals []string
	for name, st := range d.States {
		if st.Final {
			finals = append(finals, name)
		}
	}
	sort.Strings(finals)
	return finals
}

// Clone produces a deep copy so registered definitions stay isolated from
// later mutation by the caller.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := *d
	if d.States != nil {
		out.States = make(map[string]State, len(d.States))
		for name, st := range d.States {
			out.States[name] = st.clone()
		}
	}
	if d.Trigger != nil {
		trig := *d.Trigger
		trig.Events = append([]string(nil), d.Trigger.Events...)
		out.Trigger = &trig
	}
	if d.Guards != nil {
		out.Guards = make(map[string]GuardBinding, len(d.Guards))
		for name, b := range d.Guards {
			out.Guards[name] = GuardBinding{Type: b.Type, Params: deepCopyMap(b.Params)}
		}
	}
	return &out
}

func (s State) clone() State {
	out := s
	out.OnEnter = cloneInvocations(s.OnEnter)
	out.OnExit = cloneInvocations(s.OnExit)
	if s.Transitions != nil {
		out.Transitions = make(map[string]TransitionSpec, len(s.Transitions))
		for name, tr := range s.Transitions {
			cp := tr
			cp.Guards = append([]string(nil), tr.Guards...)
			out.Transitions[name] = cp
		}
	}
	return out
}

func cloneInvocations(src []ActionInvocation) []ActionInvocation {
	if src == nil {
		return nil
	}
	out := make([]ActionInvocation, len(src))
	for i, inv := range src {
		out[i] = ActionInvocation{Type: inv.Type, Params: deepCopyMap(inv.Params)}
	}
	return out
}

func (d *Definition) stateNames() []string {
	return sortedKeys(d.States)
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return v
	}
}
