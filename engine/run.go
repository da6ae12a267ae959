package engine

import (
	"time"

	"github.com/google/uuid"
)

// Run is the view of an in-flight operation handed to actions and guards.
// Data writes land in a draft overlay that only commits when every action of
// the operation succeeds, so a failed transition never leaves half-applied
// data behind.
type Run struct {
	inst   *Instance
	draft  map[string]any
	tasks  []*Task
	logger Logger
	now    func() time.Time
}

func newRun(inst *Instance, logger Logger) *Run {
	return &Run{
		inst:   inst,
		draft:  make(map[string]any),
		logger: normalizeLogger(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetData reads a field, preferring uncommitted writes from earlier actions
// in the same operation.
func (r *Run) GetData(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	if value, ok := r.draft[field]; ok {
		return value, true
	}
	if r.inst == nil || r.inst.Data == nil {
		return nil, false
	}
	value, ok := r.inst.Data[field]
	return value, ok
}

// SetData stages a field write. It becomes visible to later actions
// immediately and to everyone else once the operation commits.
func (r *Run) SetData(field string, value any) {
	if r == nil {
		return
	}
	if r.draft == nil {
		r.draft = make(map[string]any)
	}
	r.draft[field] = value
}

// Data returns a merged snapshot of committed data plus staged writes.
func (r *Run) Data() map[string]any {
	if r == nil {
		return nil
	}
	var out map[string]any
	if r.inst != nil {
		out = deepCopyMap(r.inst.Data)
	}
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range r.draft {
		out[k] = deepCopyValue(v)
	}
	return out
}

// Lookup resolves a possibly dotted field path for interpolation.
func (r *Run) Lookup(field string) (any, bool) {
	return PathLookup(r.GetData)(field)
}

// Instance returns a copy of the working instance.
func (r *Run) Instance() *Instance {
	if r == nil || r.inst == nil {
		return nil
	}
	return r.inst.Clone()
}

// SpawnTask stages a human work item attached to the instance. Like data
// writes, spawned tasks persist only when the operation commits.
func (r *Run) SpawnTask(name, assignedTo string, data map[string]any) *Task {
	if r == nil {
		return nil
	}
	task := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		AssignedTo: assignedTo,
		Status:     TaskOpen,
		Data:       deepCopyMap(data),
		CreatedAt:  r.now(),
	}
	if r.inst != nil {
		task.InstanceID = r.inst.ID
	}
	r.tasks = append(r.tasks, task)
	return task
}

// Logger exposes the operation-scoped logger.
func (r *Run) Logger() Logger {
	if r == nil {
		return NewFmtLogger(nil)
	}
	return normalizeLogger(r.logger)
}

// commit folds staged writes into the working instance and hands back the
// spawned tasks.
func (r *Run) commit() []*Task {
	if r == nil {
		return nil
	}
	if len(r.draft) > 0 {
		if r.inst.Data == nil {
			r.inst.Data = make(map[string]any, len(r.draft))
		}
		for k, v := range r.draft {
			r.inst.Data[k] = v
		}
		r.draft = make(map[string]any)
	}
	tasks := r.tasks
	r.tasks = nil
	return tasks
}
