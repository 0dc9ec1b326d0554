package durable

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/queue"
	storagebadger "github.com/poiesic/corpus/storage/badger"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *fakeClock) {
	t.Helper()

	chunkRepo, taskRepo, backend, err := storagebadger.NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	t.Cleanup(func() { taskRepo.Close(); chunkRepo.Close(); backend.Close() })

	clock := &fakeClock{now: time.Now().UTC()}
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	q, err := New(taskRepo, opts...)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	return q, clock
}

func ingestPayload() core.TaskPayload {
	return core.TaskPayload{Filename: "doc.txt", DocumentSet: "docs"}
}

func TestSubmitAndStatus(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskIngest, ingestPayload())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if task.Id == "" {
		t.Fatal("Expected generated task ID")
	}
	if task.State != core.TaskPending {
		t.Fatalf("Expected PENDING, got %s", task.State)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskPending {
		t.Fatalf("Expected PENDING, got %s", status.State)
	}

	_, err = q.Status(ctx, "no-such-task")
	if !errors.Is(err, queue.ErrUnknownTask) {
		t.Fatalf("Expected ErrUnknownTask, got %v", err)
	}
}

func TestPollAckLifecycle(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskIngest, ingestPayload())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	leased, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(leased) != 1 || leased[0].Id != task.Id {
		t.Fatalf("Expected the submitted task, got %+v", leased)
	}
	if leased[0].State != core.TaskStarted {
		t.Fatalf("Expected STARTED, got %s", leased[0].State)
	}

	if err := q.Ack(ctx, task.Id, "5 chunks indexed"); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskSucceeded {
		t.Fatalf("Expected SUCCESS, got %s", status.State)
	}
	if status.Result != "5 chunks indexed" {
		t.Fatalf("Unexpected result: %q", status.Result)
	}
	if status.CompletedAt.IsZero() {
		t.Fatal("Expected CompletedAt to be set")
	}
}

func TestUnackedTaskIsRedelivered(t *testing.T) {
	q, clock := newTestQueue(t, WithVisibilityTimeout(30*time.Second))
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskIngest, ingestPayload())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	first, err := q.Poll(ctx, 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("Poll failed: %v (%d tasks)", err, len(first))
	}

	// Within the visibility window the lease holds.
	clock.Advance(10 * time.Second)
	held, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(held) != 0 {
		t.Fatalf("Expected no redelivery inside window, got %d", len(held))
	}

	// Past the deadline the task comes back with the attempt counter advanced.
	clock.Advance(21 * time.Second)
	second, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(second) != 1 || second[0].Id != task.Id {
		t.Fatalf("Expected redelivery, got %+v", second)
	}
	if second[0].Attempts != 2 {
		t.Fatalf("Expected attempt 2, got %d", second[0].Attempts)
	}
}

func TestFailRetriesWithBackoff(t *testing.T) {
	q, clock := newTestQueue(t, WithRetryBase(time.Second))
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskIngest, ingestPayload())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	leased, err := q.Poll(ctx, 10)
	if err != nil || len(leased) != 1 {
		t.Fatalf("Poll failed: %v (%d tasks)", err, len(leased))
	}

	if err := q.Fail(ctx, task.Id, errors.New("extractor crashed")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskPending {
		t.Fatalf("Expected PENDING after retryable failure, got %s", status.State)
	}

	// The retry is delayed by the backoff, not immediate.
	immediate, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(immediate) != 0 {
		t.Fatalf("Expected backoff delay before retry, got %d tasks", len(immediate))
	}

	clock.Advance(2 * time.Second)
	retried, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(retried) != 1 || retried[0].Attempts != 2 {
		t.Fatalf("Expected retry with attempt 2, got %+v", retried)
	}
}

func TestFailExtractionErrorIsTerminal(t *testing.T) {
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
	if status.Error == "" {
		t.Error("Expected error summary on terminal task")
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

func TestFailPermanentErrorIsTerminal(t *testing.T) {
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

func TestFailMovesToFailureAfterMaxAttempts(t *testing.T) {
	q, clock := newTestQueue(t, WithMaxAttempts(3), WithRetryBase(time.Second))
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskIngest, ingestPayload())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		leased, err := q.Poll(ctx, 10)
		if err != nil || len(leased) != 1 {
			t.Fatalf("Poll attempt %d failed: %v (%d tasks)", attempt, err, len(leased))
		}
		if err := q.Fail(ctx, task.Id, errors.New("extractor crashed")); err != nil {
			t.Fatalf("Fail attempt %d failed: %v", attempt, err)
		}
		clock.Advance(time.Minute)
	}

	status, err := q.Status(ctx, task.Id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != core.TaskFailed {
		t.Fatalf("Expected FAILURE after max attempts, got %s", status.State)
	}
	if status.Error != "extractor crashed" {
		t.Fatalf("Unexpected error summary: %q", status.Error)
	}

	// Terminal tasks are never redelivered.
	leased, err := q.Poll(ctx, 10)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("Expected no delivery of failed task, got %d", len(leased))
	}
}

func TestAckRequiresLease(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.Submit(ctx, core.TaskIngest, ingestPayload())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Acking a task that was never polled is rejected.
	err = q.Ack(ctx, task.Id, "done")
	if !errors.Is(err, queue.ErrNotInFlight) {
		t.Fatalf("Expected ErrNotInFlight, got %v", err)
	}
}

func TestNewRequiresRepository(t *testing.T) {
	_, err := New(nil)
	if !errors.Is(err, ErrTaskRepositoryRequired) {
		t.Fatalf("Expected ErrTaskRepositoryRequired, got %v", err)
	}
}
