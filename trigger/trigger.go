// Package trigger wires the event bus to the workflow engine. A Bridge
// turns record lifecycle events into generic trigger signals, a Matcher
// consumes those signals and starts matching workflows, and a Scheduler
// emits trigger signals on cron expressions. The bridge and matcher are
// deliberately separate bus hops so the engine never depends on the shape
// of the event source.
package trigger

import (
	"context"
	"time"

	"github.com/objectql/objectos-workflow/dispatcher"
	"github.com/objectql/objectos-workflow/engine"
)

const (
	// TopicTrigger carries workflow trigger intents between the bridge
	// and the matcher.
	TopicTrigger = "workflow.trigger"

	// TopicInstancePrefix prefixes instance lifecycle notifications
	// published back onto the bus, e.g. "workflow.instance.completed".
	TopicInstancePrefix = "workflow.instance."

	// DefaultScheduleEvent is the trigger event name used by cron
	// schedules that do not set one.
	DefaultScheduleEvent = "schedule"
)

// Envelope is the payload of a TopicTrigger event: the source event name,
// the object it concerns, and the record data used to seed instances.
type Envelope struct {
	Event  string
	Object string
	Record map[string]any
}

func (e Envelope) eventData() map[string]any {
	data := map[string]any{"event": e.Event}
	putString(data, "object", e.Object)
	if e.Record != nil {
		data["record"] = e.Record
	}
	return data
}

func envelopeFrom(data map[string]any) Envelope {
	env := Envelope{
		Event:  stringValue(data, "event"),
		Object: stringValue(data, "object"),
	}
	if record, ok := data["record"].(map[string]any); ok {
		env.Record = record
	}
	return env
}

// PublishHook adapts engine lifecycle notifications into bus events under
// TopicInstancePrefix so other services can react to instance progress.
func PublishHook(bus *dispatcher.Bus) engine.Hook {
	return engine.HookFunc(func(ctx context.Context, evt engine.InstanceEvent) error {
		data := map[string]any{
			"workflowId":      evt.WorkflowID,
			"workflowVersion": evt.WorkflowVersion,
			"instanceId":      evt.InstanceID,
			"status":          string(evt.Status),
			"occurredAt":      evt.OccurredAt.Format(time.RFC3339Nano),
		}
		putString(data, "from", evt.From)
		putString(data, "to", evt.To)
		putString(data, "transition", evt.Transition)
		putString(data, "error", evt.ErrorMessage)
		return bus.Publish(ctx, dispatcher.Event{
			Type: TopicInstancePrefix + string(evt.Type),
			Data: data,
		})
	})
}

func putString(dst map[string]any, key, value string) {
	if value != "" {
		dst[key] = value
	}
}

func stringValue(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}
