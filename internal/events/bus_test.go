package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/planexec/planexec/internal/types"
)

func TestEventBus_BasicPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, Filter{}, 10)
	defer cleanup()

	event := Event{
		Type:      EventPlanStarted,
		Timestamp: time.Now(),
		PlanID:    types.NewID(),
		StepID:    "fetch",
	}

	if err := bus.Publish(ctx, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case received := <-events:
		if received.Type != event.Type {
			t.Errorf("Expected event type %v, got %v", event.Type, received.Type)
		}
		if received.PlanID != event.PlanID {
			t.Errorf("Expected plan ID %v, got %v", event.PlanID, received.PlanID)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_FilterByEventType(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, Filter{
		Types: []EventType{EventStepFailed},
	}, 10)
	defer cleanup()

	bus.Publish(ctx, Event{Type: EventStepFailed, Timestamp: time.Now(), PlanID: types.NewID()})
	bus.Publish(ctx, Event{Type: EventStepCompleted, Timestamp: time.Now(), PlanID: types.NewID()})

	select {
	case received := <-events:
		if received.Type != EventStepFailed {
			t.Errorf("Expected step.failed, got %v", received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for step.failed event")
	}

	select {
	case received := <-events:
		t.Errorf("Received unexpected event: %v", received.Type)
	case <-time.After(100 * time.Millisecond):
		// Expected timeout
	}
}

func TestEventBus_FilterByPlanID(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx := context.Background()
	planID := types.NewID()

	events, cleanup := bus.Subscribe(ctx, Filter{PlanID: planID}, 10)
	defer cleanup()

	bus.Publish(ctx, Event{Type: EventStepStarted, Timestamp: time.Now(), PlanID: planID})
	bus.Publish(ctx, Event{Type: EventStepStarted, Timestamp: time.Now(), PlanID: types.NewID()})

	received := 0
	for {
		select {
		case ev := <-events:
			received++
			if ev.PlanID != planID {
				t.Errorf("Received event for wrong plan: %v", ev.PlanID)
			}
		case <-time.After(100 * time.Millisecond):
			if received != 1 {
				t.Errorf("Expected 1 event, got %d", received)
			}
			return
		}
	}
}

func TestEventBus_FilterByStepID(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, Filter{StepID: "verify"}, 10)
	defer cleanup()

	bus.Publish(ctx, Event{Type: EventStepCompleted, Timestamp: time.Now(), StepID: "verify"})
	bus.Publish(ctx, Event{Type: EventStepCompleted, Timestamp: time.Now(), StepID: "fetch"})

	select {
	case received := <-events:
		if received.StepID != "verify" {
			t.Errorf("Expected step verify, got %q", received.StepID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}

	select {
	case received := <-events:
		t.Errorf("Received unexpected event for step %q", received.StepID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBus_SlowSubscriberDrops(t *testing.T) {
	var drops atomic.Int64
	bus := NewEventBus(WithDropHandler(func(subscriberID string, event Event) {
		drops.Add(1)
	}))
	defer bus.Close()

	ctx := context.Background()

	// Buffer of 1 and nobody reading: second publish must drop, not block.
	_, cleanup := bus.Subscribe(ctx, Filter{}, 1)
	defer cleanup()

	bus.Publish(ctx, Event{Type: EventStepStarted, Timestamp: time.Now()})

	done := make(chan struct{})
	go func() {
		bus.Publish(ctx, Event{Type: EventStepStarted, Timestamp: time.Now()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}

	if drops.Load() != 1 {
		t.Errorf("Expected 1 dropped event, got %d", drops.Load())
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx := context.Background()

	const subscribers = 3
	channels := make([]<-chan Event, subscribers)
	for i := 0; i < subscribers; i++ {
		ch, cleanup := bus.Subscribe(ctx, Filter{}, 10)
		defer cleanup()
		channels[i] = ch
	}

	if got := bus.SubscriberCount(); got != subscribers {
		t.Fatalf("Expected %d subscribers, got %d", subscribers, got)
	}

	bus.Publish(ctx, Event{Type: EventPlanCompleted, Timestamp: time.Now()})

	for i, ch := range channels {
		select {
		case ev := <-ch:
			if ev.Type != EventPlanCompleted {
				t.Errorf("Subscriber %d: expected plan.completed, got %v", i, ev.Type)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("Subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, Filter{}, 10)
	cleanup()

	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("Expected 0 subscribers after cleanup, got %d", got)
	}

	// Channel is closed after unsubscribe.
	if _, ok := <-events; ok {
		t.Error("Expected closed channel after cleanup")
	}

	// Double cleanup is safe.
	cleanup()
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	err := bus.Publish(context.Background(), Event{Type: EventPlanStarted})
	if err == nil {
		t.Fatal("Expected error publishing to closed bus")
	}

	// Close is idempotent.
	if err := bus.Close(); err != nil {
		t.Errorf("Second Close returned error: %v", err)
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ctx := context.Background()

	events, cleanup := bus.Subscribe(ctx, Filter{}, 1024)
	defer cleanup()

	const publishers = 8
	const perPublisher = 50

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				bus.Publish(ctx, Event{Type: EventStepCompleted, Timestamp: time.Now()})
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		select {
		case <-events:
			received++
		case <-time.After(100 * time.Millisecond):
			if received != publishers*perPublisher {
				t.Errorf("Expected %d events, got %d", publishers*perPublisher, received)
			}
			return
		}
	}
}

func TestFilter_Matches(t *testing.T) {
	planID := types.NewID()

	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"empty filter matches all", Filter{}, Event{Type: EventStepStarted}, true},
		{"type match", Filter{Types: []EventType{EventStepStarted}}, Event{Type: EventStepStarted}, true},
		{"type mismatch", Filter{Types: []EventType{EventStepStarted}}, Event{Type: EventStepFailed}, false},
		{"plan match", Filter{PlanID: planID}, Event{PlanID: planID}, true},
		{"plan mismatch", Filter{PlanID: planID}, Event{PlanID: types.NewID()}, false},
		{"step match", Filter{StepID: "a"}, Event{StepID: "a"}, true},
		{"step mismatch", Filter{StepID: "a"}, Event{StepID: "b"}, false},
		{
			"all criteria AND",
			Filter{Types: []EventType{EventStepSkipped}, PlanID: planID, StepID: "a"},
			Event{Type: EventStepSkipped, PlanID: planID, StepID: "a"},
			true,
		},
		{
			"AND fails on one mismatch",
			Filter{Types: []EventType{EventStepSkipped}, PlanID: planID, StepID: "a"},
			Event{Type: EventStepSkipped, PlanID: planID, StepID: "b"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
