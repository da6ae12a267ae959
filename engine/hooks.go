package engine

import (
	"context"
	"time"
)

// EventType identifies instance lifecycle emission points.
type EventType string

const (
	EventCreated      EventType = "created"
	EventStarted      EventType = "started"
	EventTransitioned EventType = "transitioned"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
	EventAborted      EventType = "aborted"
)

// InstanceEvent captures auditable instance lifecycle metadata. Events are
// emitted after the state change has been persisted; hooks observe, they
// cannot veto.
type InstanceEvent struct {
	Type            EventType
	WorkflowID      string
	WorkflowVersion int
	InstanceID      string
	From            string
	To              string
	Transition      string
	Status          Status
	ErrorMessage    string
	OccurredAt      time.Time
}

// Hook receives instance lifecycle events.
type Hook interface {
	Notify(ctx context.Context, evt InstanceEvent) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, evt InstanceEvent) error

func (f HookFunc) Notify(ctx context.Context, evt InstanceEvent) error {
	return f(ctx, evt)
}

// Hooks is a fan-out collection.
type Hooks []Hook

func fanoutHooks(ctx context.Context, hooks Hooks, logger Logger, evt InstanceEvent) {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, evt); err != nil {
			withLoggerFields(logger, map[string]any{
				"event":       string(evt.Type),
				"instance_id": evt.InstanceID,
				"workflow_id": evt.WorkflowID,
			}).Warn("lifecycle hook failed: %v", err)
		}
	}
}
