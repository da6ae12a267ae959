package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

// RedisClient captures the minimal commands needed from a redis client.
// Get returns ("", nil) for missing keys; adapters over go-redis translate
// redis.Nil accordingly. Keys supports glob patterns and backs instance
// queries.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// RedisStore persists instances and tasks through a RedisClient. Optimistic
// locking uses read/compare/write under a process mutex, so cross-process
// writers still need the revision check to catch races.
type RedisStore struct {
	client    RedisClient
	ttl       time.Duration
	keyPrefix string
	mu        sync.Mutex
}

// NewRedisStore builds a store using the provided client and TTL. A zero
// TTL keeps records until deleted.
func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, keyPrefix: "wf:"}
}

func (s *RedisStore) instanceKey(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return s.keyPrefix + "instance:" + id
}

func (s *RedisStore) taskKey(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return s.keyPrefix + "task:" + id
}

func (s *RedisStore) taskIndexKey(instanceID string) string {
	return s.keyPrefix + "instance_tasks:" + strings.TrimSpace(instanceID)
}

func (s *RedisStore) SaveInstance(ctx context.Context, inst *Instance) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	if inst == nil {
		return errors.New("instance required")
	}
	key := s.instanceKey(inst.ID)
	if key == "" {
		return errors.New("instance id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.loadInstance(ctx, key)
	if err != nil {
		return err
	}
	if current != nil {
		return ErrRevisionConflict
	}
	rec := inst.Clone()
	rec.Revision = 1
	if err := s.writeInstance(ctx, key, rec); err != nil {
		return err
	}
	inst.Revision = rec.Revision
	return nil
}

func (s *RedisStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	key := s.instanceKey(id)
	if key == "" {
		return nil, nil
	}
	return s.loadInstance(ctx, key)
}

func (s *RedisStore) UpdateInstance(ctx context.Context, inst *Instance, expectedRevision int) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis store not configured")
	}
	if inst == nil {
		return 0, errors.New("instance required")
	}
	key := s.instanceKey(inst.ID)
	if key == "" {
		return 0, errors.New("instance id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.loadInstance(ctx, key)
	if err != nil {
		return 0, err
	}
	if current == nil || current.Revision != expectedRevision {
		return 0, ErrRevisionConflict
	}
	rec := inst.Clone()
	rec.Revision = expectedRevision + 1
	if err := s.writeInstance(ctx, key, rec); err != nil {
		return 0, err
	}
	return rec.Revision, nil
}

func (s *RedisStore) QueryInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	keys, err := s.client.Keys(ctx, s.keyPrefix+"instance:*")
	if err != nil {
		return nil, err
	}
	matched := make([]*Instance, 0, len(keys))
	for _, key := range keys {
		rec, err := s.loadInstance(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil && matchesFilter(rec, filter) {
			matched = append(matched, rec)
		}
	}
	sortInstances(matched, filter.SortBy, filter.SortOrder)
	return pageInstances(matched, filter.Skip, filter.Limit), nil
}

func (s *RedisStore) SaveTask(ctx context.Context, task *Task) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	if task == nil {
		return errors.New("task required")
	}
	key := s.taskKey(task.ID)
	if key == "" {
		return errors.New("task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.loadTask(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrRevisionConflict
	}
	if err := s.writeJSON(ctx, key, task.Clone()); err != nil {
		return err
	}
	return s.indexTask(ctx, task.InstanceID, task.ID)
}

func (s *RedisStore) GetTask(ctx context.Context, id string) (*Task, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	key := s.taskKey(id)
	if key == "" {
		return nil, nil
	}
	return s.loadTask(ctx, key)
}

func (s *RedisStore) GetInstanceTasks(ctx context.Context, instanceID string) ([]*Task, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	ids, err := s.taskIndex(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.loadTask(ctx, s.taskKey(id))
		if err != nil {
			return nil, err
		}
		if task != nil {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *RedisStore) UpdateTask(ctx context.Context, task *Task) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	if task == nil {
		return errors.New("task required")
	}
	key := s.taskKey(task.ID)
	if key == "" {
		return errors.New("task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.loadTask(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	return s.writeJSON(ctx, key, task.Clone())
}

func (s *RedisStore) loadInstance(ctx context.Context, key string) (*Instance, error) {
	value, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var rec Instance
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) loadTask(ctx context.Context, key string) (*Task, error) {
	value, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var rec Task
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) writeInstance(ctx context.Context, key string, rec *Instance) error {
	return s.writeJSON(ctx, key, rec)
}

func (s *RedisStore) writeJSON(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, string(payload), s.ttl)
}

func (s *RedisStore) taskIndex(ctx context.Context, instanceID string) ([]string, error) {
	value, err := s.client.Get(ctx, s.taskIndexKey(instanceID))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *RedisStore) indexTask(ctx context.Context, instanceID, taskID string) error {
	ids, err := s.taskIndex(ctx, instanceID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == taskID {
			return nil
		}
	}
	ids = append(ids, taskID)
	return s.writeJSON(ctx, s.taskIndexKey(instanceID), ids)
}
