package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	h := NewHub(8)
	h.Publish(TypeLogLine, map[string]string{"line": "one"})
	h.Publish(TypeLogLine, map[string]string{"line": "two"})

	events := h.SnapshotSince(0)
	if len(events) != 2 {
		t.Fatalf("SnapshotSince(0) returned %d events, want 2", len(events))
	}
	if events[0].ID >= events[1].ID {
		t.Errorf("IDs not increasing: %d then %d", events[0].ID, events[1].ID)
	}

	var payload struct {
		Line string `json:"line"`
	}
	if err := json.Unmarshal(events[0].Data, &payload); err != nil || payload.Line != "one" {
		t.Errorf("event data = %s, err = %v", events[0].Data, err)
	}
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeStage, map[string]string{"stage": "building"})

	select {
	case ev := <-ch:
		if ev.Type != TypeStage {
			t.Errorf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the published event")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	cancel()

	// Publishing after cancel must not panic and the channel is closed.
	h.Publish(TypeLogLine, nil)
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
}

func TestRingEvictsOldestForLateSubscribers(t *testing.T) {
	h := NewHub(4)
	for i := 0; i < 10; i++ {
		h.Publish(TypeLogLine, map[string]int{"n": i})
	}

	events := h.SnapshotSince(0)
	if len(events) != 4 {
		t.Fatalf("buffer holds %d events, want capacity 4", len(events))
	}
	if events[0].ID != 7 || events[3].ID != 10 {
		t.Errorf("buffered IDs = %d..%d, want 7..10", events[0].ID, events[3].ID)
	}
}

func TestSnapshotSinceFiltersReplayed(t *testing.T) {
	h := NewHub(8)
	for i := 0; i < 5; i++ {
		h.Publish(TypeLogLine, nil)
	}

	events := h.SnapshotSince(3)
	if len(events) != 2 {
		t.Fatalf("SnapshotSince(3) returned %d events, want 2", len(events))
	}
	if events[0].ID != 4 {
		t.Errorf("first replayed ID = %d, want 4", events[0].ID)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe()
	defer cancel()

	// Never reading from the channel; publishing past its buffer must not
	// deadlock.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			h.Publish(TypeLogLine, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
