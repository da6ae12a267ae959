package engine

import (
	"time"
)

// Status is the lifecycle position of an instance. Completed, failed, and
// aborted are terminal.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// HistoryEntry records one committed transition. Note carries operator
// context for synthetic entries such as aborts.
type HistoryEntry struct {
	From       string    `json:"fromState"`
	To         string    `json:"toState"`
	Transition string    `json:"transition"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"timestamp"`
}

// Instance is one execution of a workflow definition against a business
// record. It stays bound to the definition version it was created with.
// Revision is the optimistic-lock counter checked by store updates.
type Instance struct {
	ID              string
	WorkflowID      string
	WorkflowVersion int
	CurrentState    string
	Status          Status
	Data            map[string]any
	History         []HistoryEntry
	LastError       string
	StartedBy       string
	Revision        int
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	AbortedAt       *time.Time
}

// Terminal reports whether the instance accepts no further operations.
func (in *Instance) Terminal() bool {
	return in != nil && in.Status.Terminal()
}

// Clone deep-copies the instance so stores and callers never share mutable
// state.
func (in *Instance) Clone() *Instance {
	if in == nil {
		return nil
	}
	out := *in
	out.Data = deepCopyMap(in.Data)
	if in.History != nil {
		out.History = append([]HistoryEntry(nil), in.History...)
	}
	out.StartedAt = copyTime(in.StartedAt)
	out.CompletedAt = copyTime(in.CompletedAt)
	out.FailedAt = copyTime(in.FailedAt)
	out.AbortedAt = copyTime(in.AbortedAt)
	return &out
}

// TaskStatus tracks a human work item spawned by an action.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskCompleted TaskStatus = "completed"
)

// Task is a unit of human work attached to an instance, created by the
// assignTask action and closed through Engine.CompleteTask.
type Task struct {
	ID          string
	InstanceID  string
	Name        string
	AssignedTo  string
	Status      TaskStatus
	Data        map[string]any
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Clone deep-copies the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Data = deepCopyMap(t.Data)
	out.CompletedAt = copyTime(t.CompletedAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
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
