package flow

import (
	"reflect"
	"strings"
	"testing"

	workflow "github.com/objectql/objectos-workflow"
)

func approvalDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID:      "approval",
		Name:    "Approval",
		Version: 1,
		Guards: map[string]workflow.GuardBinding{
			"hasAmount": {Type: "greaterThan", Params: map[string]any{"field": "amount", "value": 100}},
		},
		States: map[string]workflow.State{
			"draft": {
				Initial: true,
				OnEnter: []workflow.ActionInvocation{
					{Type: "log", Params: map[string]any{"message": "opened"}},
				},
				Transitions: map[string]workflow.TransitionSpec{
					"submit": {Target: "pending_approval", Guards: []string{"hasAmount"}},
				},
			},
			"pending_approval": {
				Transitions: map[string]workflow.TransitionSpec{
					"approve": {Target: "approved"},
					"reject":  {Target: "rejected"},
				},
			},
			"approved": {Final: true},
			"rejected": {Final: true},
		},
	}
}

func TestFromDefinition(t *testing.T) {
	def := approvalDefinition()
	f := FromDefinition(def)
	if f == nil {
		t.Fatal("nil flow")
	}

	if f.Name != "Approval" || f.Version != 1 {
		t.Errorf("flow = %s v%d", f.Name, f.Version)
	}

	if len(f.Nodes) != 4 {
		t.Fatalf("nodes = %d", len(f.Nodes))
	}
	// nodes sorted by state name
	wantNodes := []struct {
		id, typ string
		final   bool
	}{
		{"approved", NodeEnd, true},
		{"draft", NodeStart, false},
		{"pending_approval", NodeState, false},
		{"rejected", NodeEnd, true},
	}
	for i, want := range wantNodes {
		node := f.Nodes[i]
		if node.ID != want.id || node.Type != want.typ || node.Final != want.final {
			t.Errorf("nodes[%d] = {%s %s final=%v}, want %+v", i, node.ID, node.Type, node.Final, want)
		}
	}
	if len(f.Nodes[1].OnEnter) != 1 || f.Nodes[1].OnEnter[0].Type != "log" {
		t.Errorf("draft onEnter = %+v", f.Nodes[1].OnEnter)
	}

	if len(f.Edges) != 3 {
		t.Fatalf("edges = %d", len(f.Edges))
	}
	wantEdges := []Edge{
		{ID: "draft-submit", Source: "draft", Target: "pending_approval", Label: "submit", Condition: "hasAmount"},
		{ID: "pending_approval-approve", Source: "pending_approval", Target: "approved", Label: "approve"},
		{ID: "pending_approval-reject", Source: "pending_approval", Target: "rejected", Label: "reject"},
	}
	for i, want := range wantEdges {
		if f.Edges[i] != want {
			t.Errorf("edges[%d] = %+v, want %+v", i, f.Edges[i], want)
		}
	}

	t.Run("nil definition", func(t *testing.T) {
		if FromDefinition(nil) != nil {
			t.Error("nil definition should render no flow")
		}
	})

	t.Run("repeat conversions agree", func(t *testing.T) {
		again := FromDefinition(approvalDefinition())
		if !reflect.DeepEqual(f, again) {
			t.Error("conversion is not deterministic")
		}
	})

	t.Run("source definition untouched", func(t *testing.T) {
		fresh := approvalDefinition()
		flow := FromDefinition(fresh)
		flow.Nodes[1].OnEnter[0].Params["message"] = "mutated"
		if fresh.States["draft"].OnEnter[0].Params["message"] != "opened" {
			t.Error("conversion shares action params with the definition")
		}
	})
}

func TestRoundTrip(t *testing.T) {
	original := approvalDefinition()
	f := FromDefinition(original)

	rebuilt, err := ToDefinition(f, ConvertOptions{ID: original.ID})
	if err != nil {
		t.Fatalf("to definition: %v", err)
	}

	if rebuilt.ID != "approval" || rebuilt.InitialState != "draft" {
		t.Errorf("rebuilt = %s initial %s", rebuilt.ID, rebuilt.InitialState)
	}
	if len(rebuilt.States) != 4 {
		t.Fatalf("states = %d", len(rebuilt.States))
	}
	if !reflect.DeepEqual(rebuilt.FinalStates(), []string{"approved", "rejected"}) {
		t.Errorf("final states = %v", rebuilt.FinalStates())
	}

	submit := rebuilt.States["draft"].Transitions["submit"]
	if submit.Target != "pending_approval" || !reflect.DeepEqual(submit.Guards, []string{"hasAmount"}) {
		t.Errorf("submit = %+v", submit)
	}
	if len(rebuilt.States["draft"].OnEnter) != 1 {
		t.Errorf("draft onEnter lost in round trip")
	}
	for name, st := range original.States {
		if len(rebuilt.States[name].Transitions) != len(st.Transitions) {
			t.Errorf("state %s transition count changed", name)
		}
	}
}

func TestRoundTripInitialFinalState(t *testing.T) {
	// a one-state workflow: the initial state is also final
	def := &workflow.Definition{
		ID: "oneshot",
		States: map[string]workflow.State{
			"done": {Initial: true, Final: true},
		},
	}
	f := FromDefinition(def)
	if f.Nodes[0].Type != NodeStart || !f.Nodes[0].Final {
		t.Fatalf("node = %+v", f.Nodes[0])
	}

	rebuilt, err := ToDefinition(f, ConvertOptions{})
	if err != nil {
		t.Fatalf("to definition: %v", err)
	}
	st := rebuilt.States["done"]
	if !st.Initial || !st.Final {
		t.Errorf("round trip dropped a flag: %+v", st)
	}
}

func TestMultiGuardCondition(t *testing.T) {
	def := approvalDefinition()
	st := def.States["draft"]
	st.Transitions["submit"] = workflow.TransitionSpec{
		Target: "pending_approval",
		Guards: []string{"hasAmount", "isOwner"},
	}
	def.States["draft"] = st

	f := FromDefinition(def)
	var submitEdge Edge
	for _, edge := range f.Edges {
		if edge.Label == "submit" {
			submitEdge = edge
		}
	}
	if submitEdge.Condition != "hasAmount && isOwner" {
		t.Errorf("condition = %q", submitEdge.Condition)
	}

	rebuilt, err := ToDefinition(f, ConvertOptions{ID: "approval"})
	if err != nil {
		t.Fatalf("to definition: %v", err)
	}
	guards := rebuilt.States["draft"].Transitions["submit"].Guards
	if !reflect.DeepEqual(guards, []string{"hasAmount", "isOwner"}) {
		t.Errorf("guards = %v", guards)
	}
}

func TestToDefinition(t *testing.T) {
	t.Run("id and type fallbacks", func(t *testing.T) {
		f := FromDefinition(approvalDefinition())
		f.Type = "expense"

		def, err := ToDefinition(f, ConvertOptions{})
		if err != nil {
			t.Fatalf("to definition: %v", err)
		}
		if def.ID != "Approval" {
			t.Errorf("id fallback = %q", def.ID)
		}
		if def.Type != "expense" {
			t.Errorf("type fallback = %q", def.Type)
		}

		def, err = ToDefinition(f, ConvertOptions{ID: "custom", Type: "other"})
		if err != nil {
			t.Fatalf("to definition: %v", err)
		}
		if def.ID != "custom" || def.Type != "other" {
			t.Errorf("overrides = %s/%s", def.ID, def.Type)
		}
	})

	t.Run("edge label falls back to edge id", func(t *testing.T) {
		f := &Flow{
			Name: "wf",
			Nodes: []Node{
				{ID: "a", Type: NodeStart},
				{ID: "b", Type: NodeEnd},
			},
			Edges: []Edge{{ID: "a-go", Source: "a", Target: "b"}},
		}
		def, err := ToDefinition(f, ConvertOptions{})
		if err != nil {
			t.Fatalf("to definition: %v", err)
		}
		if _, ok := def.States["a"].Transitions["a-go"]; !ok {
			t.Errorf("transitions = %+v", def.States["a"].Transitions)
		}
	})

	t.Run("duplicate labels from one node", func(t *testing.T) {
		f := &Flow{
			Name: "wf",
			Nodes: []Node{
				{ID: "a", Type: NodeStart},
				{ID: "b", Type: NodeEnd},
				{ID: "c", Type: NodeEnd},
			},
			Edges: []Edge{
				{ID: "e1", Source: "a", Target: "b", Label: "go"},
				{ID: "e2", Source: "a", Target: "c", Label: "go"},
			},
		}
		_, err := ToDefinition(f, ConvertOptions{})
		if err == nil || !strings.Contains(err.Error(), "duplicate transition go") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("unconvertible flow lists problems", func(t *testing.T) {
		_, err := ToDefinition(&Flow{Name: "broken", Nodes: []Node{{ID: "a", Type: NodeState}}}, ConvertOptions{})
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "flow is not convertible") {
			t.Errorf("err = %v", err)
		}
		if !workflow.IsInvalidDefinition(err) {
			t.Errorf("err should carry the invalid definition code: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		flow *Flow
		want []string
	}{
		{
			name: "nil flow",
			flow: nil,
			want: []string{
				"Flow name is required",
				"Flow must have at least one node",
				"Flow must have at least one start node",
				"Flow must have at least one end node",
			},
		},
		{
			name: "plain node only",
			flow: &Flow{Name: "wf", Nodes: []Node{{ID: "a", Type: NodeState}}},
			want: []string{
				"Flow must have at least one start node",
				"Flow must have at least one end node",
			},
		},
		{
			name: "final flag suffices for end",
			flow: &Flow{Name: "wf", Nodes: []Node{
				{ID: "a", Type: NodeStart},
				{ID: "b", Type: NodeState, Final: true},
			}},
			want: nil,
		},
		{
			name: "duplicate node ids",
			flow: &Flow{Name: "wf", Nodes: []Node{
				{ID: "a", Type: NodeStart},
				{ID: "a", Type: NodeEnd},
			}},
			want: []string{"Duplicate node id a"},
		},
		{
			name: "dangling edges",
			flow: &Flow{
				Name: "wf",
				Nodes: []Node{
					{ID: "a", Type: NodeStart},
					{ID: "b", Type: NodeEnd},
				},
				Edges: []Edge{{ID: "e1", Source: "ghost", Target: "phantom"}},
			},
			want: []string{
				"Edge e1 references unknown source node ghost",
				"Edge e1 references unknown target node phantom",
			},
		},
		{
			name: "well formed",
			flow: &Flow{
				Name: "wf",
				Nodes: []Node{
					{ID: "a", Type: NodeStart},
					{ID: "b", Type: NodeEnd},
				},
				Edges: []Edge{{ID: "e1", Source: "a", Target: "b", Label: "go"}},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.flow)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}
