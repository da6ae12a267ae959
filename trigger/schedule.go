package trigger

import (
	"context"
	"fmt"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/objectql/objectos-workflow/dispatcher"
	"github.com/objectql/objectos-workflow/engine"
)

// CronTrigger describes one scheduled trigger signal. Event defaults to
// DefaultScheduleEvent; Object and Record travel in the envelope so a
// workflow can be triggered on a timer with fixed seed data.
type CronTrigger struct {
	Expression string
	Event      string
	Object     string
	Record     map[string]any
}

// Scheduler publishes trigger signals on cron expressions.
type Scheduler struct {
	bus          *dispatcher.Bus
	cron         *rcron.Cron
	logger       engine.Logger
	errorHandler func(error)
	location     *time.Location
	seconds      bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger engine.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithLocation sets the timezone the expressions are evaluated in.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithSecondsField enables six-field expressions with a leading seconds
// column.
func WithSecondsField() SchedulerOption {
	return func(s *Scheduler) {
		s.seconds = true
	}
}

// WithErrorHandler sets the callback invoked when publishing a scheduled
// trigger fails or a job panics.
func WithErrorHandler(handler func(error)) SchedulerOption {
	return func(s *Scheduler) {
		s.errorHandler = handler
	}
}

// NewScheduler creates a scheduler publishing on bus with the provided
// options.
func NewScheduler(bus *dispatcher.Bus, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		bus:      bus,
		location: time.Local,
		logger:   engine.NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Error("scheduled trigger failed: %v", err)
		}
	}
	s.cron = rcron.New(s.build()...)
	return s
}

// build converts scheduler settings to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}
	if s.seconds {
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}
	opts = append(opts, rcron.WithChain(
		rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
	))
	opts = append(opts, rcron.WithLogger(&cronLoggerAdapter{logger: s.logger}))
	return opts
}

// Add registers trig and returns its entry id for later removal.
func (s *Scheduler) Add(trig CronTrigger) (rcron.EntryID, error) {
	if trig.Expression == "" {
		return 0, fmt.Errorf("cron expression cannot be empty")
	}
	job := rcron.FuncJob(func() {
		s.fire(trig)
	})
	id, err := s.cron.AddJob(trig.Expression, job)
	if err != nil {
		return 0, fmt.Errorf("failed to add job: %w", err)
	}
	return id, nil
}

// Remove drops a scheduled trigger by entry id.
func (s *Scheduler) Remove(id rcron.EntryID) {
	s.cron.Remove(id)
}

// Start begins firing scheduled triggers.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops firing; jobs already running finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.cron.Stop()
	return nil
}

func (s *Scheduler) fire(trig CronTrigger) {
	event := trig.Event
	if event == "" {
		event = DefaultScheduleEvent
	}
	env := Envelope{Event: event, Object: trig.Object, Record: trig.Record}
	s.logger.Debug("firing scheduled trigger %s for object %s", event, trig.Object)
	if err := s.bus.Publish(context.Background(), dispatcher.Event{
		Type: TopicTrigger,
		Data: env.eventData(),
	}); err != nil {
		s.errorHandler(err)
	}
}

// cronLoggerAdapter adapts engine.Logger to robfig/cron's logger.
type cronLoggerAdapter struct {
	logger engine.Logger
}

func (l *cronLoggerAdapter) Info(msg string, args ...interface{}) {
	l.logger.Debug(msg, args...)
}

func (l *cronLoggerAdapter) Error(err error, msg string, args ...interface{}) {
	if err != nil {
		l.logger.Error(fmt.Sprintf("%s: %v", fmt.Sprintf(msg, args...), err))
		return
	}
	l.logger.Error(msg, args...)
}

// errorHandlerAdapter adapts a plain error handler to cron.Logger so it
// can receive recovered panics.
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(msg string, args ...interface{}) {}

func (e *errorHandlerAdapter) Error(err error, msg string, args ...interface{}) {
	if e.handler == nil {
		return
	}
	if err != nil {
		e.handler(err)
		return
	}
	e.handler(fmt.Errorf(msg, args...))
}
