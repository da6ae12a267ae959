package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore persists instances and tasks in SQLite. The caller opens the
// database and imports a driver, e.g.
//
//	import _ "modernc.org/sqlite"
//	db, err := sql.Open("sqlite", "workflows.db")
//	store := engine.NewSQLiteStore(db, "")
//
// Columns use snake_case; this store owns the translation from the model's
// field names (currentState becomes current_state and so on).
type SQLiteStore struct {
	db            *sql.DB
	instanceTable string
	taskTable     string
}

// NewSQLiteStore builds a store using the given DB and instance table name.
func NewSQLiteStore(db *sql.DB, table string) *SQLiteStore {
	if table == "" {
		table = "workflow_instances"
	}
	return &SQLiteStore{
		db:            db,
		instanceTable: table,
		taskTable:     table + "_tasks",
	}
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	instanceDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		workflow_version INTEGER NOT NULL,
		current_state TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT,
		history TEXT,
		last_error TEXT,
		started_by TEXT,
		revision INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		failed_at TEXT,
		aborted_at TEXT
	)`, s.instanceTable)
	if _, err := s.db.ExecContext(ctx, instanceDDL); err != nil {
		return err
	}
	taskDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		name TEXT,
		assigned_to TEXT,
		status TEXT NOT NULL,
		data TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT
	)`, s.taskTable)
	_, err := s.db.ExecContext(ctx, taskDDL)
	return err
}

func (s *SQLiteStore) SaveInstance(ctx context.Context, inst *Instance) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if inst == nil || strings.TrimSpace(inst.ID) == "" {
		return errors.New("instance id required")
	}
	dataJSON, historyJSON, err := marshalInstanceBlobs(inst)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT OR IGNORE INTO %s
		(id, workflow_id, workflow_version, current_state, status, data, history, last_error, started_by, revision, created_at, started_at, completed_at, failed_at, aborted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`, s.instanceTable)
	result, err := s.db.ExecContext(ctx, q,
		inst.ID,
		inst.WorkflowID,
		inst.WorkflowVersion,
		inst.CurrentState,
		string(inst.Status),
		dataJSON,
		historyJSON,
		inst.LastError,
		inst.StartedBy,
		timeToText(&inst.CreatedAt),
		timeToText(inst.StartedAt),
		timeToText(inst.CompletedAt),
		timeToText(inst.FailedAt),
		timeToText(inst.AbortedAt),
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrRevisionConflict
	}
	inst.Revision = 1
	return nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, instanceColumns, s.instanceTable)
	inst, err := scanInstance(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *Instance, expectedRevision int) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	if inst == nil || strings.TrimSpace(inst.ID) == "" {
		return 0, errors.New("instance id required")
	}
	dataJSON, historyJSON, err := marshalInstanceBlobs(inst)
	if err != nil {
		return 0, err
	}
	newRevision := expectedRevision + 1
	q := fmt.Sprintf(`UPDATE %s SET
		workflow_id=?, workflow_version=?, current_state=?, status=?, data=?, history=?, last_error=?, started_by=?, revision=?, created_at=?, started_at=?, completed_at=?, failed_at=?, aborted_at=?
		WHERE id=? AND revision=?`, s.instanceTable)
	result, err := s.db.ExecContext(ctx, q,
		inst.WorkflowID,
		inst.WorkflowVersion,
		inst.CurrentState,
		string(inst.Status),
		dataJSON,
		historyJSON,
		inst.LastError,
		inst.StartedBy,
		newRevision,
		timeToText(&inst.CreatedAt),
		timeToText(inst.StartedAt),
		timeToText(inst.CompletedAt),
		timeToText(inst.FailedAt),
		timeToText(inst.AbortedAt),
		inst.ID,
		expectedRevision,
	)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, ErrRevisionConflict
	}
	return newRevision, nil
}

func (s *SQLiteStore) QueryInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.StartedBy != "" {
		where = append(where, "started_by = ?")
		args = append(args, filter.StartedBy)
	}

	q := fmt.Sprintf(`SELECT %s FROM %s`, instanceColumns, s.instanceTable)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + sortColumn(filter.SortBy) + " " + sortDirection(filter.SortOrder) + ", id " + sortDirection(filter.SortOrder)
	switch {
	case filter.Limit > 0:
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	case filter.Skip > 0:
		q += " LIMIT -1"
	}
	if filter.Skip > 0 {
		q += " OFFSET ?"
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveTask(ctx context.Context, task *Task) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return errors.New("task id required")
	}
	dataJSON, err := marshalJSONText(task.Data)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT OR IGNORE INTO %s
		(id, instance_id, name, assigned_to, status, data, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.taskTable)
	result, err := s.db.ExecContext(ctx, q,
		task.ID,
		task.InstanceID,
		task.Name,
		task.AssignedTo,
		string(task.Status),
		dataJSON,
		timeToText(&task.CreatedAt),
		timeToText(task.CompletedAt),
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrRevisionConflict
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, taskColumns, s.taskTable)
	task, err := scanTask(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLiteStore) GetInstanceTasks(ctx context.Context, instanceID string) ([]*Task, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE instance_id = ? ORDER BY created_at ASC, id ASC`, taskColumns, s.taskTable)
	rows, err := s.db.QueryContext(ctx, q, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *Task) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return errors.New("task id required")
	}
	dataJSON, err := marshalJSONText(task.Data)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET instance_id=?, name=?, assigned_to=?, status=?, data=?, created_at=?, completed_at=? WHERE id=?`, s.taskTable)
	result, err := s.db.ExecContext(ctx, q,
		task.InstanceID,
		task.Name,
		task.AssignedTo,
		string(task.Status),
		dataJSON,
		timeToText(&task.CreatedAt),
		timeToText(task.CompletedAt),
		task.ID,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const instanceColumns = "id, workflow_id, workflow_version, current_state, status, data, history, last_error, started_by, revision, created_at, started_at, completed_at, failed_at, aborted_at"

const taskColumns = "id, instance_id, name, assigned_to, status, data, created_at, completed_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var inst Instance
	var status, dataJSON, historyJSON string
	var createdAt, startedAt, completedAt, failedAt, abortedAt string
	err := row.Scan(
		&inst.ID,
		&inst.WorkflowID,
		&inst.WorkflowVersion,
		&inst.CurrentState,
		&status,
		&dataJSON,
		&historyJSON,
		&inst.LastError,
		&inst.StartedBy,
		&inst.Revision,
		&createdAt,
		&startedAt,
		&completedAt,
		&failedAt,
		&abortedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = Status(status)
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &inst.Data); err != nil {
			return nil, err
		}
	}
	if historyJSON != "" {
		if err := json.Unmarshal([]byte(historyJSON), &inst.History); err != nil {
			return nil, err
		}
	}
	if ts := textToTime(createdAt); ts != nil {
		inst.CreatedAt = *ts
	}
	inst.StartedAt = textToTime(startedAt)
	inst.CompletedAt = textToTime(completedAt)
	inst.FailedAt = textToTime(failedAt)
	inst.AbortedAt = textToTime(abortedAt)
	return &inst, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var status, dataJSON, createdAt, completedAt string
	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.Name,
		&task.AssignedTo,
		&status,
		&dataJSON,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = TaskStatus(status)
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &task.Data); err != nil {
			return nil, err
		}
	}
	if ts := textToTime(createdAt); ts != nil {
		task.CreatedAt = *ts
	}
	task.CompletedAt = textToTime(completedAt)
	return &task, nil
}

func marshalInstanceBlobs(inst *Instance) (string, string, error) {
	dataJSON, err := marshalJSONText(inst.Data)
	if err != nil {
		return "", "", err
	}
	historyJSON := ""
	if len(inst.History) > 0 {
		raw, err := json.Marshal(inst.History)
		if err != nil {
			return "", "", err
		}
		historyJSON = string(raw)
	}
	return dataJSON, historyJSON, nil
}

func marshalJSONText(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func timeToText(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func textToTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &ts
}

var instanceSortColumns = map[string]string{
	"id":           "id",
	"workflowId":   "workflow_id",
	"status":       "status",
	"currentState": "current_state",
	"createdAt":    "created_at",
	"startedAt":    "started_at",
	"completedAt":  "completed_at",
}

func sortColumn(field string) string {
	if col, ok := instanceSortColumns[field]; ok {
		return col
	}
	return "created_at"
}

func sortDirection(order string) string {
	if strings.EqualFold(order, "desc") {
		return "DESC"
	}
	return "ASC"
}
