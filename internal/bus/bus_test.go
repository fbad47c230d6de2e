package bus

import (
	"sync"
	"testing"
	"time"
)

func TestEventBus_SubscribePublish(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	var received []Event
	b.Subscribe(EventTypeCommentQueued, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	b.PublishSync(EventTypeCommentQueued, map[string]any{"id": "c1"})
	b.PublishSync(EventTypeTurnCompleted, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventTypeCommentQueued {
		t.Errorf("unexpected type %q", received[0].Type)
	}
	if received[0].Data["id"] != "c1" {
		t.Errorf("unexpected data %+v", received[0].Data)
	}
	if received[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestEventBus_SubscribeAllSeesEveryEvent(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	count := 0
	b.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.PublishSync(EventTypeCommentQueued, nil)
	b.PublishSync(EventTypeTurnCompleted, nil)
	b.PublishSync(EventTypeStateChanged, nil)

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("expected 3 events, got %d", count)
	}
}

func TestEventBus_PublishDoesNotBlock(t *testing.T) {
	b := NewEventBus()

	release := make(chan struct{})
	done := make(chan struct{})
	b.Subscribe(EventTypeTurnCompleted, func(Event) {
		<-release
		close(done)
	})

	start := time.Now()
	b.Publish(EventTypeTurnCompleted, nil)
	if time.Since(start) > 100*time.Millisecond {
		t.Error("publish blocked on a slow handler")
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEventBus_Clear(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	count := 0
	b.Subscribe(EventTypeCommentQueued, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Clear()
	b.PublishSync(EventTypeCommentQueued, nil)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("expected no events after clear, got %d", count)
	}
}
