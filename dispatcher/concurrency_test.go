package dispatcher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	numGoroutines := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()

			sub := bus.SubscribeFunc("record.created", func(ctx context.Context, evt Event) error {
				return nil
			})
			time.Sleep(time.Millisecond)
			sub.Unsubscribe()
		}()
	}

	wg.Wait()

	if got := len(bus.matching("record.created")); got != 0 {
		t.Errorf("Expected every registration to be removed, %d remain", got)
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var counter atomic.Int32
	numHandlers := 10
	numPublishes := 100

	subs := make([]Subscription, numHandlers)
	for i := 0; i < numHandlers; i++ {
		subs[i] = bus.SubscribeFunc("record.created", func(ctx context.Context, evt Event) error {
			counter.Add(1)
			time.Sleep(time.Millisecond)
			return nil
		})
	}

	var wg sync.WaitGroup
	wg.Add(numPublishes)
	for i := 0; i < numPublishes; i++ {
		go func() {
			defer wg.Done()
			if err := bus.Publish(context.Background(), Event{Type: "record.created"}); err != nil {
				t.Errorf("publish: %v", err)
			}
		}()
	}

	wg.Wait()

	expected := int32(numHandlers * numPublishes)
	if counter.Load() != expected {
		t.Errorf("Expected %d handler executions, got %d", expected, counter.Load())
	}

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()

	var counter atomic.Int32
	var wg sync.WaitGroup
	numOperations := 100

	wg.Add(numOperations * 2)

	for i := 0; i < numOperations; i++ {
		go func() {
			defer wg.Done()

			sub := bus.SubscribeFunc("record.*", func(ctx context.Context, evt Event) error {
				counter.Add(1)
				time.Sleep(time.Millisecond)
				return nil
			})
			time.Sleep(time.Millisecond * 10)
			sub.Unsubscribe()
		}()
	}

	for i := 0; i < numOperations; i++ {
		go func() {
			defer wg.Done()
			if err := bus.Publish(context.Background(), Event{Type: "record.created"}); err != nil {
				t.Errorf("publish: %v", err)
			}
		}()
	}

	wg.Wait()
}

func TestRaceSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			default:
				sub := bus.SubscribeFunc("record.created", func(ctx context.Context, evt Event) error {
					return nil
				})
				time.Sleep(time.Microsecond)
				sub.Unsubscribe()
			}
		}
	}()

	go func() {
		for {
			select {
			case <-done:
				return
			default:
				_ = bus.Publish(context.Background(), Event{Type: "record.created"})
			}
		}
	}()

	// Run for a short duration
	time.Sleep(time.Second)
	close(done)
}

func TestHandlerPanic(t *testing.T) {
	bus := NewBus()

	panicMsg := "intentional panic"

	sub := bus.SubscribeFunc("record.created", func(ctx context.Context, evt Event) error {
		panic(panicMsg)
	})
	defer sub.Unsubscribe()

	survivor := &recordingHandler{}
	bus.Subscribe("record.created", survivor)

	err := bus.Publish(context.Background(), Event{Type: "record.created"})
	if err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
	if !strings.Contains(err.Error(), panicMsg) {
		t.Errorf("err = %v", err)
	}
	if survivor.count() != 1 {
		t.Errorf("remaining handlers should still run, deliveries = %d", survivor.count())
	}
}
