package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestFmtLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFmtLogger(&buf)

	logger.Info("hello %s", "world")
	logger.Warn("careful")

	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "hello world") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "careful") {
		t.Errorf("output = %q", out)
	}
}

func TestFmtLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFmtLogger(&buf).WithFields(map[string]any{
		"workflow_id": "approval",
		"instance_id": "inst-1",
	})

	logger.Info("transition committed")

	out := buf.String()
	if !strings.Contains(out, "workflow_id=approval") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "instance_id=inst-1") {
		t.Errorf("output = %q", out)
	}

	// fields render sorted by key
	if strings.Index(out, "instance_id=") > strings.Index(out, "workflow_id=") {
		t.Errorf("fields should be sorted: %q", out)
	}
}

func TestWithLoggerFieldsFallsBack(t *testing.T) {
	// a Logger without WithFields support passes through unchanged
	base := plainLogger{}
	if got := withLoggerFields(base, map[string]any{"k": "v"}); got != base {
		t.Errorf("got %T", got)
	}
	if got := withLoggerFields(nil, nil); got == nil {
		t.Error("nil logger should normalize")
	}
}

func TestMergeFields(t *testing.T) {
	merged := mergeFields(map[string]any{"a": 1, "b": 1}, map[string]any{"b": 2, "c": 3})
	if merged["a"] != 1 || merged["b"] != 2 || merged["c"] != 3 {
		t.Errorf("merged = %v", merged)
	}
	if mergeFields(nil, nil) != nil {
		t.Error("two empty maps should merge to nil")
	}
}

type plainLogger struct{}

func (plainLogger) Trace(string, ...any)               {}
func (plainLogger) Debug(string, ...any)               {}
func (plainLogger) Info(string, ...any)                {}
func (plainLogger) Warn(string, ...any)                {}
func (plainLogger) Error(string, ...any)               {}
func (plainLogger) Fatal(string, ...any)               {}
func (plainLogger) WithContext(context.Context) Logger { return plainLogger{} }
