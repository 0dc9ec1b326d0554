package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/poiesic/corpus/core"
)

func testEvent(id string) core.Event {
	return core.Event{
		TaskId: id,
		Kind:   core.TaskIngest,
		State:  core.TaskSucceeded,
		Result: "done",
		At:     time.Now().UTC(),
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b, err := NewBroadcaster()
	if err != nil {
		t.Fatalf("Failed to create broadcaster: %v", err)
	}
	defer b.Close()

	first, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	second, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish(testEvent("task-1"))

	for _, sub := range []*Subscription{first, second} {
		select {
		case event := <-sub.C:
			if event.TaskId != "task-1" {
				t.Fatalf("Unexpected event: %+v", event)
			}
		default:
			t.Fatal("Expected event to be buffered")
		}
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b, err := NewBroadcaster()
	if err != nil {
		t.Fatalf("Failed to create broadcaster: %v", err)
	}
	defer b.Close()

	// Must not panic or block.
	b.Publish(testEvent("task-1"))
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b, err := NewBroadcaster(WithBuffer(1))
	if err != nil {
		t.Fatalf("Failed to create broadcaster: %v", err)
	}
	defer b.Close()

	slow, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	fast, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// The slow subscriber never drains, so its buffer fills after one event.
	b.Publish(testEvent("task-1"))
	b.Publish(testEvent("task-2"))

	// Drain the fast subscriber: both events arrived.
	var got []string
	for range 2 {
		select {
		case event := <-fast.C:
			got = append(got, event.TaskId)
		default:
		}
	}
	if len(got) != 2 {
		t.Fatalf("Expected fast subscriber to get 2 events, got %d", len(got))
	}

	// The slow subscriber kept the first and lost the second.
	event := <-slow.C
	if event.TaskId != "task-1" {
		t.Fatalf("Unexpected event for slow subscriber: %+v", event)
	}
	select {
	case event := <-slow.C:
		t.Fatalf("Expected dropped event, got %+v", event)
	default:
	}
}

func TestStalledSubscriberIsRemoved(t *testing.T) {
	b, err := NewBroadcaster(WithBuffer(1))
	if err != nil {
		t.Fatalf("Failed to create broadcaster: %v", err)
	}
	defer b.Close()

	stalled, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	healthy, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Fill the stalled subscriber's buffer, then exhaust its drop budget.
	// The healthy subscriber drains every event.
	for i := 0; i <= maxConsecutiveDrops; i++ {
		b.Publish(testEvent("task-1"))
		<-healthy.C
	}

	if got := b.Subscribers(); got != 1 {
		t.Fatalf("Expected the stalled subscriber to be removed, have %d subscribers", got)
	}

	// The buffered event is still readable, then the channel is closed.
	if event, ok := <-stalled.C; !ok || event.TaskId != "task-1" {
		t.Fatalf("Expected buffered event before close, got (%+v, %v)", event, ok)
	}
	if _, ok := <-stalled.C; ok {
		t.Fatal("Expected closed channel after removal")
	}

	// A drained subscriber's drop count resets on a successful send.
	b.Publish(testEvent("task-2"))
	if event := <-healthy.C; event.TaskId != "task-2" {
		t.Fatalf("Unexpected event: %+v", event)
	}

	// Unsubscribing the already removed subscription must not panic.
	b.Unsubscribe(stalled)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b, err := NewBroadcaster()
	if err != nil {
		t.Fatalf("Failed to create broadcaster: %v", err)
	}
	defer b.Close()

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Unsubscribe(sub)
	if _, ok := <-sub.C; ok {
		t.Fatal("Expected closed channel after unsubscribe")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Expected 0 subscribers, got %d", b.Subscribers())
	}

	// Double unsubscribe must not panic.
	b.Unsubscribe(sub)
}

func TestCloseStopsSubscriptions(t *testing.T) {
	b, err := NewBroadcaster()
	if err != nil {
		t.Fatalf("Failed to create broadcaster: %v", err)
	}

	sub, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := <-sub.C; ok {
		t.Fatal("Expected closed channel after Close")
	}

	if _, err := b.Subscribe(); !errors.Is(err, ErrBroadcasterClosed) {
		t.Fatalf("Expected ErrBroadcasterClosed, got %v", err)
	}

	// Publishing after close is a no-op.
	b.Publish(testEvent("task-1"))
}
