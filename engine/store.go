package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrRevisionConflict is returned by stores when an optimistic revision
// check fails. The engine maps it to ErrConcurrentModification.
var ErrRevisionConflict = errors.New("instance revision conflict")

// ErrNotFound is returned by store updates targeting a missing record.
var ErrNotFound = errors.New("record not found")

// InstanceFilter narrows and pages QueryInstances results. Zero values mean
// no constraint. SortBy accepts id, workflowId, status, currentState,
// createdAt, startedAt, and completedAt; unknown fields fall back to
// createdAt.
type InstanceFilter struct {
	WorkflowID string
	Status     Status
	StartedBy  string
	Limit      int
	Skip       int
	SortBy     string
	SortOrder  string
}

// Store is the persistence boundary. The engine performs all external I/O
// through it, which keeps the state machine itself testable against the
// in-memory adapter. Implementations translate field names to their storage
// schema; the engine never sees column names.
//
// Get operations return (nil, nil) for missing records. SaveInstance is an
// insert and fails with ErrRevisionConflict when the id already exists.
// UpdateInstance performs a compare-and-swap on Revision and returns the new
// revision, or ErrRevisionConflict on mismatch.
type Store interface {
	SaveInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	UpdateInstance(ctx context.Context, inst *Instance, expectedRevision int) (int, error)
	QueryInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)

	SaveTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	GetInstanceTasks(ctx context.Context, instanceID string) ([]*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
}

// MemoryStore is the in-process Store used for tests and single-node hosts.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	tasks     map[string]*Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*Instance),
		tasks:     make(map[string]*Task),
	}
}

func (s *MemoryStore) SaveInstance(_ context.Context, inst *Instance) error {
	if inst == nil || inst.ID == "" {
		return errors.New("instance id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[inst.ID]; exists {
		return ErrRevisionConflict
	}
	rec := inst.Clone()
	rec.Revision = 1
	s.instances[inst.ID] = rec
	inst.Revision = rec.Revision
	return nil
}

func (s *MemoryStore) GetInstance(_ context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateInstance(_ context.Context, inst *Instance, expectedRevision int) (int, error) {
	if inst == nil || inst.ID == "" {
		return 0, errors.New("instance id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.instances[inst.ID]
	if !ok || current.Revision != expectedRevision {
		return 0, ErrRevisionConflict
	}
	rec := inst.Clone()
	rec.Revision = expectedRevision + 1
	s.instances[inst.ID] = rec
	return rec.Revision, nil
}

func (s *MemoryStore) QueryInstances(_ context.Context, filter InstanceFilter) ([]*Instance, error) {
	s.mu.RLock()
	matched := make([]*Instance, 0, len(s.instances))
	for _, rec := range s.instances {
		if matchesFilter(rec, filter) {
			matched = append(matched, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sortInstances(matched, filter.SortBy, filter.SortOrder)
	return pageInstances(matched, filter.Skip, filter.Limit), nil
}

func (s *MemoryStore) SaveTask(_ context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return errors.New("task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrRevisionConflict
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetInstanceTasks(_ context.Context, instanceID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, rec := range s.tasks {
		if rec.InstanceID == instanceID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return errors.New("task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func matchesFilter(rec *Instance, filter InstanceFilter) bool {
	if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	if filter.StartedBy != "" && rec.StartedBy != filter.StartedBy {
		return false
	}
	return true
}

func sortInstances(list []*Instance, sortBy, sortOrder string) {
	desc := strings.EqualFold(sortOrder, "desc")
	sort.Slice(list, func(i, j int) bool {
		if desc {
			return instanceLess(list[j], list[i], sortBy)
		}
		return instanceLess(list[i], list[j], sortBy)
	})
}

func instanceLess(a, b *Instance, field string) bool {
	switch field {
	case "id":
		return a.ID < b.ID
	case "workflowId":
		if a.WorkflowID != b.WorkflowID {
			return a.WorkflowID < b.WorkflowID
		}
	case "status":
		if a.Status != b.Status {
			return a.Status < b.Status
		}
	case "currentState":
		if a.CurrentState != b.CurrentState {
			return a.CurrentState < b.CurrentState
		}
	case "startedAt":
		return timePtrLess(a.StartedAt, b.StartedAt)
	case "completedAt":
		return timePtrLess(a.CompletedAt, b.CompletedAt)
	case "createdAt":
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	default:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	// stable tiebreak
	return a.ID < b.ID
}

func timePtrLess(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return true
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func pageInstances(list []*Instance, skip, limit int) []*Instance {
	if skip > 0 {
		if skip >= len(list) {
			return nil
		}
		list = list[skip:]
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
