// Package flow holds the node/edge graph view of a workflow definition.
// Visual editors exchange this shape as JSON; it has no runtime semantics
// of its own and converts losslessly to and from the definition model.
package flow

import (
	"fmt"
	"sort"
	"strings"

	workflow "github.com/objectql/objectos-workflow"
)

// Node types understood by editors.
const (
	NodeStart = "start"
	NodeState = "state"
	NodeEnd   = "end"
)

// guardSeparator joins multiple guard names into one edge condition.
const guardSeparator = " && "

// Flow is the graph representation of one workflow definition.
type Flow struct {
	Name    string `json:"name" yaml:"name"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Version int    `json:"version" yaml:"version"`
	Nodes   []Node `json:"nodes" yaml:"nodes"`
	Edges   []Edge `json:"edges" yaml:"edges"`
}

// Node is one state drawn on the canvas. Final marks completion states
// independently of Type so a start node that is also final survives a
// round trip through the editor.
type Node struct {
	ID      string                      `json:"id" yaml:"id"`
	Label   string                      `json:"label,omitempty" yaml:"label,omitempty"`
	Type    string                      `json:"type" yaml:"type"`
	Final   bool                        `json:"final,omitempty" yaml:"final,omitempty"`
	OnEnter []workflow.ActionInvocation `json:"onEnter,omitempty" yaml:"onEnter,omitempty"`
	OnExit  []workflow.ActionInvocation `json:"onExit,omitempty" yaml:"onExit,omitempty"`
}

// Edge is one transition. Label carries the transition name; Condition
// carries the guard names joined by " && ".
type Edge struct {
	ID        string `json:"id" yaml:"id"`
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// FromDefinition renders a definition as a graph. Nodes and edges come out
// sorted by state and transition name so repeated conversions of the same
// definition are byte-identical.
func FromDefinition(def *workflow.Definition) *Flow {
	if def == nil {
		return nil
	}
	def = def.Clone()
	def.Normalize()
	name := def.Name
	if name == "" {
		name = def.ID
	}
	f := &Flow{
		Name:    name,
		Label:   def.Label,
		Type:    def.Type,
		Version: def.Version,
	}

	stateNames := make([]string, 0, len(def.States))
	for stateName := range def.States {
		stateNames = append(stateNames, stateName)
	}
	sort.Strings(stateNames)

	for _, stateName := range stateNames {
		state := def.States[stateName]
		f.Nodes = append(f.Nodes, Node{
			ID:      stateName,
			Label:   state.Label,
			Type:    nodeType(def, state),
			Final:   state.Final,
			OnEnter: cloneInvocations(state.OnEnter),
			OnExit:  cloneInvocations(state.OnExit),
		})

		transitionNames := make([]string, 0, len(state.Transitions))
		for transitionName := range state.Transitions {
			transitionNames = append(transitionNames, transitionName)
		}
		sort.Strings(transitionNames)

		for _, transitionName := range transitionNames {
			spec := state.Transitions[transitionName]
			f.Edges = append(f.Edges, Edge{
				ID:        stateName + "-" + transitionName,
				Source:    stateName,
				Target:    spec.Target,
				Label:     transitionName,
				Condition: strings.Join(spec.Guards, guardSeparator),
			})
		}
	}
	return f
}

// ConvertOptions supplies the definition fields a flow does not carry.
type ConvertOptions struct {
	ID   string
	Type string
}

// ToDefinition rebuilds a definition from a graph. The flow must pass
// Validate, edge labels must be unique per source node, and the resulting
// definition must pass registration validation; otherwise the conversion
// fails with InvalidDefinition.
func ToDefinition(f *Flow, opts ConvertOptions) (*workflow.Definition, error) {
	if problems := Validate(f); len(problems) > 0 {
		return nil, invalidFlow(
			fmt.Sprintf("flow is not convertible: %s", strings.Join(problems, "; ")),
			f,
			map[string]any{"problems": problems},
		)
	}

	id := opts.ID
	if id == "" {
		id = f.Name
	}
	defType := opts.Type
	if defType == "" {
		defType = f.Type
	}
	def := &workflow.Definition{
		ID:      id,
		Name:    f.Name,
		Label:   f.Label,
		Type:    defType,
		Version: f.Version,
		States:  make(map[string]workflow.State, len(f.Nodes)),
	}

	for _, node := range f.Nodes {
		def.States[node.ID] = workflow.State{
			Name:        node.ID,
			Label:       node.Label,
			Initial:     node.Type == NodeStart,
			Final:       node.Final || node.Type == NodeEnd,
			OnEnter:     cloneInvocations(node.OnEnter),
			OnExit:      cloneInvocations(node.OnExit),
			Transitions: map[string]workflow.TransitionSpec{},
		}
	}

	for _, edge := range f.Edges {
		name := strings.TrimSpace(edge.Label)
		if name == "" {
			name = edge.ID
		}
		state := def.States[edge.Source]
		if _, exists := state.Transitions[name]; exists {
			return nil, invalidFlow(
				fmt.Sprintf("duplicate transition %s from node %s", name, edge.Source),
				f,
				map[string]any{"edge": edge.ID},
			)
		}
		state.Transitions[name] = workflow.TransitionSpec{
			Target: edge.Target,
			Guards: splitCondition(edge.Condition),
		}
		def.States[edge.Source] = state
	}

	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate reports graph problems as human-readable strings for inline
// editor diagnostics. It never rejects; an empty slice means the flow is
// well-formed.
func Validate(f *Flow) []string {
	var problems []string
	if f == nil {
		f = &Flow{}
	}
	if strings.TrimSpace(f.Name) == "" {
		problems = append(problems, "Flow name is required")
	}
	if len(f.Nodes) == 0 {
		problems = append(problems, "Flow must have at least one node")
	}

	ids := make(map[string]bool, len(f.Nodes))
	hasStart := false
	hasEnd := false
	for _, node := range f.Nodes {
		if ids[node.ID] {
			problems = append(problems, fmt.Sprintf("Duplicate node id %s", node.ID))
		}
		ids[node.ID] = true
		switch node.Type {
		case NodeStart:
			hasStart = true
		case NodeEnd:
			hasEnd = true
		}
		if node.Final {
			hasEnd = true
		}
	}
	if !hasStart {
		problems = append(problems, "Flow must have at least one start node")
	}
	if !hasEnd {
		problems = append(problems, "Flow must have at least one end node")
	}

	for _, edge := range f.Edges {
		if !ids[edge.Source] {
			problems = append(problems, fmt.Sprintf("Edge %s references unknown source node %s", edge.ID, edge.Source))
		}
		if !ids[edge.Target] {
			problems = append(problems, fmt.Sprintf("Edge %s references unknown target node %s", edge.ID, edge.Target))
		}
	}
	return problems
}

func nodeType(def *workflow.Definition, state workflow.State) string {
	switch {
	case state.Initial || state.Name == def.InitialState:
		return NodeStart
	case state.Final:
		return NodeEnd
	default:
		return NodeState
	}
}

func splitCondition(condition string) []string {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil
	}
	parts := strings.Split(condition, guardSeparator)
	guards := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			guards = append(guards, part)
		}
	}
	return guards
}

func cloneInvocations(src []workflow.ActionInvocation) []workflow.ActionInvocation {
	if len(src) == 0 {
		return nil
	}
	out := make([]workflow.ActionInvocation, len(src))
	copy(out, src)
	return out
}

func invalidFlow(message string, f *Flow, metadata map[string]any) error {
	err := workflow.ErrInvalidDefinition.Clone()
	err.Message = message
	meta := map[string]any{"flow": ""}
	if f != nil {
		meta["flow"] = f.Name
	}
	for k, v := range metadata {
		meta[k] = v
	}
	return err.WithMetadata(meta)
}
