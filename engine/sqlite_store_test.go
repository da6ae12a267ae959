package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "workflows.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection so pooled writers never trip SQLITE_BUSY
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db, "")
}

func TestSQLiteStore(t *testing.T) {
	testStoreConformance(t, newSQLiteTestStore)
}

func TestSQLiteStoreSortColumns(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	a := fixtureInstance("inst-a", "approval", StatusRunning, storeEpoch.Add(2*time.Minute))
	a.CurrentState = "pending_approval"
	b := fixtureInstance("inst-b", "approval", StatusRunning, storeEpoch.Add(time.Minute))
	b.CurrentState = "approved"
	c := fixtureInstance("inst-c", "approval", StatusRunning, storeEpoch)
	c.CurrentState = "draft"
	for _, inst := range []*Instance{a, b, c} {
		if err := store.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("save %s: %v", inst.ID, err)
		}
	}

	t.Run("currentState maps to current_state", func(t *testing.T) {
		list, err := store.QueryInstances(ctx, InstanceFilter{SortBy: "currentState"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if list[0].ID != "inst-b" || list[1].ID != "inst-c" || list[2].ID != "inst-a" {
			t.Errorf("order = %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
		}
	})

	t.Run("unknown field falls back to createdAt", func(t *testing.T) {
		list, err := store.QueryInstances(ctx, InstanceFilter{SortBy: "nonsense; DROP TABLE"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if list[0].ID != "inst-c" || list[1].ID != "inst-b" || list[2].ID != "inst-a" {
			t.Errorf("order = %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
		}
	})
}

func TestSQLiteStoreCustomTable(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "custom.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLiteStore(db, "audit_flows")
	inst := fixtureInstance("inst-1", "approval", StatusCreated, storeEpoch)
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("save: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_flows").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d", count)
	}
}
