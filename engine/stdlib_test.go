package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

type recordingMailer struct {
	to, subject, body string
	calls             int
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	m.calls++
	return nil
}

type recordingWebhook struct {
	method, url string
	payload     map[string]any
}

func (w *recordingWebhook) Do(_ context.Context, method, url string, payload map[string]any) error {
	w.method, w.url, w.payload = method, url, payload
	return nil
}

func testRun(data map[string]any, logger Logger) *Run {
	inst := &Instance{ID: "inst-1", WorkflowID: "approval", Data: data}
	return newRun(inst, logger)
}

func TestLogAction(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]any
		wantLevel string
		wantText  string
	}{
		{
			name:      "default level is info",
			params:    map[string]any{"message": "Sending email to {{email}}: Welcome"},
			wantLevel: "INFO",
			wantText:  "Sending email to test@example.com: Welcome",
		},
		{
			name:      "debug level",
			params:    map[string]any{"message": "checking {{email}}", "level": "debug"},
			wantLevel: "DEBUG",
			wantText:  "checking test@example.com",
		},
		{
			name:      "warn level",
			params:    map[string]any{"message": "slow", "level": "WARN"},
			wantLevel: "WARN",
			wantText:  "slow",
		},
		{
			name:      "error level",
			params:    map[string]any{"message": "boom", "level": "error"},
			wantLevel: "ERROR",
			wantText:  "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			run := testRun(map[string]any{"email": "test@example.com"}, NewFmtLogger(&buf))

			if err := LogAction().Invoke(context.Background(), run, tt.params); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log output %q missing level %s", out, tt.wantLevel)
			}
			if !strings.Contains(out, tt.wantText) {
				t.Errorf("log output %q missing text %q", out, tt.wantText)
			}
		})
	}
}

func TestSendEmailAction(t *testing.T) {
	mailer := &recordingMailer{}
	run := testRun(map[string]any{
		"approver": "boss@example.com",
		"title":    "Team offsite",
	}, nil)

	params := map[string]any{
		"to":      "{{approver}}",
		"subject": "Approval needed: {{title}}",
		"body":    "Please review {{title}}.",
	}
	if err := SendEmailAction(mailer).Invoke(context.Background(), run, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mailer.to != "boss@example.com" {
		t.Errorf("to = %q", mailer.to)
	}
	if mailer.subject != "Approval needed: Team offsite" {
		t.Errorf("subject = %q", mailer.subject)
	}
	if mailer.body != "Please review Team offsite." {
		t.Errorf("body = %q", mailer.body)
	}
}

func TestUpdateRecordAction(t *testing.T) {
	run := testRun(map[string]any{"status": "old"}, nil)

	params := map[string]any{"status": "approved", "reviewed": true}
	if err := UpdateRecordAction().Invoke(context.Background(), run, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// staged writes are visible inside the run
	if v, _ := run.GetData("status"); v != "approved" {
		t.Errorf("staged status = %v", v)
	}
	// but not committed to the instance yet
	if run.inst.Data["status"] != "old" {
		t.Errorf("instance data mutated before commit: %v", run.inst.Data["status"])
	}

	run.commit()
	if run.inst.Data["status"] != "approved" || run.inst.Data["reviewed"] != true {
		t.Errorf("commit did not fold draft: %v", run.inst.Data)
	}
}

func TestWebhookAction(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		hook := &recordingWebhook{}
		run := testRun(map[string]any{"id": "r-1", "host": "api.example.com"}, nil)

		params := map[string]any{"url": "https://{{host}}/notify"}
		if err := WebhookAction(hook).Invoke(context.Background(), run, params); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if hook.method != "POST" {
			t.Errorf("method = %q, want POST", hook.method)
		}
		if hook.url != "https://api.example.com/notify" {
			t.Errorf("url = %q", hook.url)
		}
		if hook.payload["id"] != "r-1" {
			t.Errorf("payload should default to instance data, got %v", hook.payload)
		}
	})

	t.Run("explicit method and payload", func(t *testing.T) {
		hook := &recordingWebhook{}
		run := testRun(nil, nil)

		params := map[string]any{
			"url":     "https://api.example.com/notify",
			"method":  "put",
			"payload": map[string]any{"custom": true},
		}
		if err := WebhookAction(hook).Invoke(context.Background(), run, params); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if hook.method != "PUT" {
			t.Errorf("method = %q, want PUT", hook.method)
		}
		if len(hook.payload) != 1 || hook.payload["custom"] != true {
			t.Errorf("payload = %v", hook.payload)
		}
	})
}

func TestAssignTaskAction(t *testing.T) {
	run := testRun(map[string]any{
		"title":    "Team offsite",
		"approver": "boss",
	}, nil)

	params := map[string]any{
		"name":       "Review {{title}}",
		"assignedTo": "{{approver}}",
		"data":       map[string]any{"priority": "high"},
	}
	if err := AssignTaskAction().Invoke(context.Background(), run, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tasks := run.commit()
	if len(tasks) != 1 {
		t.Fatalf("expected one spawned task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Name != "Review Team offsite" {
		t.Errorf("name = %q", task.Name)
	}
	if task.AssignedTo != "boss" {
		t.Errorf("assignedTo = %q", task.AssignedTo)
	}
	if task.Status != TaskOpen {
		t.Errorf("status = %q, want %q", task.Status, TaskOpen)
	}
	if task.InstanceID != "inst-1" {
		t.Errorf("instanceID = %q", task.InstanceID)
	}
	if task.ID == "" {
		t.Error("task id should be assigned")
	}
	if task.Data["priority"] != "high" {
		t.Errorf("data = %v", task.Data)
	}
}

func TestFieldEqualsGuard(t *testing.T) {
	guard := FieldEqualsGuard()

	tests := []struct {
		name   string
		data   map[string]any
		params map[string]any
		want   bool
	}{
		{
			name:   "string equality",
			data:   map[string]any{"status": "ready"},
			params: map[string]any{"field": "status", "value": "ready"},
			want:   true,
		},
		{
			name:   "string mismatch",
			data:   map[string]any{"status": "ready"},
			params: map[string]any{"field": "status", "value": "done"},
			want:   false,
		},
		{
			name:   "numbers compare across go types",
			data:   map[string]any{"count": 5},
			params: map[string]any{"field": "count", "value": 5.0},
			want:   true,
		},
		{
			name:   "no coercion between string and number",
			data:   map[string]any{"count": "5"},
			params: map[string]any{"field": "count", "value": 5},
			want:   false,
		},
		{
			name:   "number against string value",
			data:   map[string]any{"count": 5},
			params: map[string]any{"field": "count", "value": "5"},
			want:   false,
		},
		{
			name:   "bool equality",
			data:   map[string]any{"ready": true},
			params: map[string]any{"field": "ready", "value": true},
			want:   true,
		},
		{
			name:   "missing field",
			data:   map[string]any{},
			params: map[string]any{"field": "status", "value": "ready"},
			want:   false,
		},
		{
			name:   "missing value param",
			data:   map[string]any{"status": "ready"},
			params: map[string]any{"field": "status"},
			want:   false,
		},
		{
			name:   "missing field param",
			data:   map[string]any{"status": "ready"},
			params: map[string]any{"value": "ready"},
			want:   false,
		},
		{
			name:   "dotted path",
			data:   map[string]any{"record": map[string]any{"kind": "expense"}},
			params: map[string]any{"field": "record.kind", "value": "expense"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := testRun(tt.data, nil)
			if got := guard.Evaluate(context.Background(), run, tt.params); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGreaterThanGuard(t *testing.T) {
	guard := GreaterThanGuard()

	tests := []struct {
		name   string
		data   map[string]any
		params map[string]any
		want   bool
	}{
		{
			name:   "greater",
			data:   map[string]any{"amount": 1800.0},
			params: map[string]any{"field": "amount", "value": 1000},
			want:   true,
		},
		{
			name:   "equal is not greater",
			data:   map[string]any{"amount": 1000},
			params: map[string]any{"field": "amount", "value": 1000.0},
			want:   false,
		},
		{
			name:   "less",
			data:   map[string]any{"amount": 10},
			params: map[string]any{"field": "amount", "value": 1000},
			want:   false,
		},
		{
			name:   "non numeric field",
			data:   map[string]any{"amount": "plenty"},
			params: map[string]any{"field": "amount", "value": 1000},
			want:   false,
		},
		{
			name:   "non numeric threshold",
			data:   map[string]any{"amount": 1800},
			params: map[string]any{"field": "amount", "value": "low"},
			want:   false,
		},
		{
			name:   "missing field",
			data:   map[string]any{},
			params: map[string]any{"field": "amount", "value": 1000},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := testRun(tt.data, nil)
			if got := guard.Evaluate(context.Background(), run, tt.params); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAlwaysAndNeverGuards(t *testing.T) {
	run := testRun(nil, nil)
	if !AlwaysGuard().Evaluate(context.Background(), run, nil) {
		t.Error("always guard should admit")
	}
	if NeverGuard().Evaluate(context.Background(), run, nil) {
		t.Error("never guard should block")
	}
}

func TestRegisterStandardSets(t *testing.T) {
	actions := NewActionRegistry()
	if err := RegisterStandardActions(actions, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantActions := []string{ActionAssignTask, ActionLog, ActionSendEmail, ActionUpdateRecord, ActionWebhook}
	gotActions := actions.IDs()
	if len(gotActions) != len(wantActions) {
		t.Fatalf("action ids = %v", gotActions)
	}
	for i, want := range wantActions {
		if gotActions[i] != want {
			t.Errorf("action ids[%d] = %q, want %q", i, gotActions[i], want)
		}
	}

	guards := NewGuardRegistry()
	if err := RegisterStandardGuards(guards); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := guards.Lookup(GuardFieldEquals); !ok {
		t.Error("fieldEquals guard missing")
	}
	if _, ok := guards.Lookup(GuardGreaterThan); !ok {
		t.Error("greaterThan guard missing")
	}

	// registering the same name twice fails
	if err := actions.Register(ActionLog, LogAction()); err == nil {
		t.Error("duplicate registration should fail")
	}
}
