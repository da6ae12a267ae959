package trigger

import (
	"context"
	"errors"

	"github.com/objectql/objectos-workflow/dispatcher"
	"github.com/objectql/objectos-workflow/engine"
)

// Matcher consumes TopicTrigger signals, matches them against registered
// definitions' trigger criteria, and creates plus starts one instance per
// match. Failures are joined and surfaced to the publisher; one workflow
// failing to start never blocks the others.
type Matcher struct {
	bus       *dispatcher.Bus
	engine    *engine.Engine
	logger    engine.Logger
	startedBy string
	sub       dispatcher.Subscription
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithMatcherLogger sets the matcher logger.
func WithMatcherLogger(logger engine.Logger) MatcherOption {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// WithStartedBy overrides the actor recorded on instances the matcher
// starts. The default is "trigger".
func WithStartedBy(startedBy string) MatcherOption {
	return func(m *Matcher) {
		m.startedBy = startedBy
	}
}

// NewMatcher creates a matcher over bus driving eng. Call Start to begin
// listening.
func NewMatcher(bus *dispatcher.Bus, eng *engine.Engine, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		bus:       bus,
		engine:    eng,
		logger:    engine.NewFmtLogger(nil),
		startedBy: "trigger",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start subscribes the matcher to the trigger topic.
func (m *Matcher) Start() {
	if m.sub == nil {
		m.sub = m.bus.Subscribe(TopicTrigger, m)
	}
}

// Stop removes the matcher's subscription.
func (m *Matcher) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
}

// Handle starts every workflow whose trigger criteria match the signal.
func (m *Matcher) Handle(ctx context.Context, evt dispatcher.Event) error {
	env := envelopeFrom(evt.Data)
	if env.Event == "" {
		return nil
	}

	defs := m.engine.Definitions().ByTrigger(env.Event, env.Object)
	if len(defs) == 0 {
		m.logger.Debug("no workflow matches event %s object %s", env.Event, env.Object)
		return nil
	}

	var errs error
	for _, def := range defs {
		inst, err := m.engine.CreateInstance(ctx, engine.CreateRequest{
			WorkflowID: def.ID,
			Version:    def.Version,
			Seed:       env.Record,
			StartedBy:  m.startedBy,
		})
		if err != nil {
			m.logger.Error("create instance of %s failed: %v", def.ID, err)
			errs = errors.Join(errs, err)
			continue
		}
		if _, err := m.engine.StartInstance(ctx, inst.ID); err != nil {
			m.logger.Error("start instance %s of %s failed: %v", inst.ID, def.ID, err)
			errs = errors.Join(errs, err)
			continue
		}
		m.logger.Info("workflow %s started by event %s", def.ID, env.Event)
	}
	return errs
}
