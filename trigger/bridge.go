package trigger

import (
	"context"
	"strings"

	"github.com/objectql/objectos-workflow/dispatcher"
	"github.com/objectql/objectos-workflow/engine"
)

// Bridge republishes record lifecycle events as TopicTrigger signals. It
// knows nothing about workflows; it only reshapes envelopes so the matcher
// downstream can stay ignorant of the event source.
type Bridge struct {
	bus    *dispatcher.Bus
	logger engine.Logger
	topics []string
	subs   []dispatcher.Subscription
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeTopics overrides the topics the bridge listens on. The default
// is "record.*".
func WithBridgeTopics(topics ...string) BridgeOption {
	return func(b *Bridge) {
		b.topics = topics
	}
}

// WithBridgeLogger sets the bridge logger.
func WithBridgeLogger(logger engine.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a bridge over bus. Call Start to begin listening.
func NewBridge(bus *dispatcher.Bus, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		bus:    bus,
		topics: []string{"record.*"},
		logger: engine.NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Start subscribes the bridge to its topics.
func (b *Bridge) Start() {
	if len(b.subs) > 0 {
		return
	}
	for _, topic := range b.topics {
		b.subs = append(b.subs, b.bus.Subscribe(topic, b))
	}
}

// Stop removes the bridge's subscriptions.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}

// Handle reshapes one source event into a trigger signal. Events already
// on the trigger topic are ignored so a wide subscription cannot loop.
func (b *Bridge) Handle(ctx context.Context, evt dispatcher.Event) error {
	if evt.Type == TopicTrigger || strings.HasPrefix(evt.Type, TopicInstancePrefix) {
		return nil
	}
	env := Envelope{
		Event:  evt.Type,
		Object: stringValue(evt.Data, "object"),
	}
	if record, ok := evt.Data["record"].(map[string]any); ok {
		env.Record = record
	} else if evt.Data != nil {
		env.Record = evt.Data
	}
	b.logger.Debug("bridging %s for object %s", env.Event, env.Object)
	return b.bus.Publish(ctx, dispatcher.Event{Type: TopicTrigger, Data: env.eventData()})
}
