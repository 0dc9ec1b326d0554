package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/queue"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Now().UTC()}
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	q, err := New(opts...)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q, clock
}

func TestBrokerLifecycle(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskAnswerQuestion, core.TaskPayload{Query: "what is corpus?", Limit: 5})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	leased, err := q.Poll(ctx, 10)
	if err != nil || len(leased) != 1 {
		t.Fatalf("Poll failed: %v (%d tasks)", err, len(leased))
	}
	if leased[0].State != core.TaskStarted || leased[0].Attempts != 1 {
		t.Fatalf("Unexpected lease: %+v", leased[0])
	}

	if err := q.Ack(ctx, task.Id, "the answer"); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskSucceeded || status.Result != "the answer" {
		t.Fatalf("Unexpected status: %+v", status)
	}
}

func TestBrokerRejectsInvalidSubmission(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Submit(context.Background(), core.TaskIngest, core.TaskPayload{})
	if !errors.Is(err, core.ErrInvalidTask) {
		t.Fatalf("Expected ErrInvalidTask, got %v", err)
	}
}

func TestBrokerVisibilityTimeout(t *testing.T) {
	q, clock := newTestQueue(t, WithVisibilityTimeout(30*time.Second))
	ctx := context.Background()

	_, err := q.Submit(ctx, core.TaskIngest, core.TaskPayload{Filename: "a.txt", DocumentSet: "docs"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if leased, _ := q.Poll(ctx, 10); len(leased) != 1 {
		t.Fatalf("Expected 1 lease, got %d", len(leased))
	}

	clock.Advance(10 * time.Second)
	if leased, _ := q.Poll(ctx, 10); len(leased) != 0 {
		t.Fatalf("Expected no redelivery inside window, got %d", len(leased))
	}

	clock.Advance(21 * time.Second)
	leased, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(leased) != 1 || leased[0].Attempts != 2 {
		t.Fatalf("Expected redelivery with attempt 2, got %+v", leased)
	}
}

func TestBrokerFailureAfterMaxAttempts(t *testing.T) {
	q, clock := newTestQueue(t, WithMaxAttempts(2), WithRetryBase(time.Second))
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskSummarize, core.TaskPayload{Filename: "a.txt", DocumentSet: "docs"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		leased, err := q.Poll(ctx, 10)
		if err != nil || len(leased) != 1 {
			t.Fatalf("Poll attempt %d failed: %v (%d tasks)", attempt, err, len(leased))
		}
		if err := q.Fail(ctx, task.Id, errors.New("model unavailable")); err != nil {
			t.Fatalf("Fail attempt %d failed: %v", attempt, err)
		}
		clock.Advance(time.Minute)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskFailed || status.Error != "model unavailable" {
		t.Fatalf("Unexpected terminal status: %+v", status)
	}
}

func TestBrokerExtractionFailureIsTerminal(t *testing.T) {
	q, clock := newTestQueue(t, WithMaxAttempts(3), WithRetryBase(time.Second))
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskIngest, core.TaskPayload{Filename: "bad.pdf", DocumentSet: "docs"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if leased, err := q.Poll(ctx, 10); err != nil || len(leased) != 1 {
		t.Fatalf("Poll failed: %v (%d tasks)", err, len(leased))
	}

	// A malformed document does not improve on redelivery; the first
	// extraction failure must be terminal.
	if err := q.Fail(ctx, task.Id, fmt.Errorf("%w: truncated pdf", core.ErrExtraction)); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskFailed {
		t.Fatalf("Expected FAILURE after extraction error, got %s (attempts=%d)", status.State, status.Attempts)
	}
	if status.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", status.Attempts)
	}

	clock.Advance(time.Hour)
	leased, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("Expected no redelivery of a terminal task, got %d", len(leased))
	}
}

func TestBrokerPermanentFailureIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t, WithMaxAttempts(3))
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskSummarize, core.TaskPayload{Filename: "a.txt", DocumentSet: "docs"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := q.Poll(ctx, 10); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if err := q.Fail(ctx, task.Id, queue.Permanent(errors.New("document set was deleted"))); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskFailed || status.Attempts != 1 {
		t.Fatalf("Expected terminal FAILURE on first attempt, got %s (attempts=%d)", status.State, status.Attempts)
	}
}

func TestBrokerPollOrdersByEnqueueTime(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Submit(ctx, core.TaskIngest, core.TaskPayload{Filename: "first.txt", DocumentSet: "docs"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := q.Submit(ctx, core.TaskIngest, core.TaskPayload{Filename: "second.txt", DocumentSet: "docs"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	leased, err := q.Poll(ctx, 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("Poll failed: %v (%d tasks)", err, len(leased))
	}
	if leased[0].Id != first.Id {
		t.Fatal("Expected oldest task first")
	}
}

func TestBrokerClosedQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Close()

	_, err := q.Submit(context.Background(), core.TaskIngest, core.TaskPayload{Filename: "a.txt", DocumentSet: "docs"})
	if !errors.Is(err, queue.ErrQueueClosed) {
		t.Fatalf("Expected ErrQueueClosed, got %v", err)
	}
}
