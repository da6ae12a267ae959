package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/goliatone/go-errors"
)

// ErrCodeHandlerFailed tags handler errors surfaced by Publish.
const ErrCodeHandlerFailed = "EVENT_HANDLER_FAILED"

// Event is the opaque envelope exchanged on the bus. Producers and
// consumers share only this shape, never each other's types.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Handler consumes events published to a topic it subscribed to.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Bus is an in-process publish/subscribe hub keyed by event type. Topics
// ending in ".*" match every event type sharing the prefix, and "*"
// matches everything; publishing with no subscribers is a no-op.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[string][]*registration
	ExitOnErr bool
}

// Option defines the functional option signature.
type Option func(*Bus)

// WithExitOnError makes Publish stop at the first handler error instead
// of aggregating.
func WithExitOnError() Option {
	return func(b *Bus) {
		b.ExitOnErr = true
	}
}

// NewBus applies the given options to a new instance of the bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]*registration),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Default is the process-wide bus.
var Default = NewBus()

type registration struct {
	topic   string
	handler Handler
}

// Subscribe registers handler for topic and returns a Subscription that
// removes it.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	reg := &registration{topic: topic, handler: handler}
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], reg)
	b.mu.Unlock()
	return &subs{bus: b, reg: reg}
}

// SubscribeFunc registers a plain function for topic.
func (b *Bus) SubscribeFunc(topic string, fn func(ctx context.Context, evt Event) error) Subscription {
	return b.Subscribe(topic, HandlerFunc(fn))
}

// Publish delivers evt to every handler whose topic matches evt.Type.
// Handler errors are wrapped and joined so one failing consumer never
// hides another; with ExitOnErr the first failure returns immediately.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if strings.TrimSpace(evt.Type) == "" {
		return apperrors.New("event type is required", apperrors.CategoryBadInput)
	}
	if ctx.Err() != nil {
		return apperrors.Wrap(ctx.Err(), apperrors.CategoryOperation, "context canceled or deadline exceeded")
	}

	var errs error
	for _, reg := range b.matching(evt.Type) {
		if err := safeHandle(ctx, evt, reg.handler); err != nil {
			wrapped := apperrors.Wrap(
				err,
				apperrors.CategoryHandler,
				fmt.Sprintf("handler failed for event %s", evt.Type),
			).WithTextCode(ErrCodeHandlerFailed)

			if b.ExitOnErr {
				return wrapped
			}
			errs = errors.Join(errs, wrapped)
		}
	}
	return errs
}

// matching snapshots the handlers for an event type: exact topic first,
// then wildcard topics in registration order.
func (b *Bus) matching(eventType string) []*registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*registration
	out = append(out, b.handlers[eventType]...)
	for topic, regs := range b.handlers {
		if topic == eventType {
			continue
		}
		if topicMatches(topic, eventType) {
			out = append(out, regs...)
		}
	}
	return out
}

func topicMatches(topic, eventType string) bool {
	if topic == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(topic, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}

// Subscribe registers handler for topic on the Default bus.
func Subscribe(topic string, handler Handler) Subscription {
	return Default.Subscribe(topic, handler)
}

// SubscribeFunc registers a plain function for topic on the Default bus.
func SubscribeFunc(topic string, fn func(ctx context.Context, evt Event) error) Subscription {
	return Default.SubscribeFunc(topic, fn)
}

// Publish delivers evt on the Default bus.
func Publish(ctx context.Context, evt Event) error {
	return Default.Publish(ctx, evt)
}
