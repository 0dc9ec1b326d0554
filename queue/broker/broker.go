// Package broker implements queue.Queue in process memory. The backlog does
// not survive a restart; use queue/durable when that matters. Delivery
// semantics match the durable queue: leases with visibility timeouts,
// exponential retry, a bounded attempt limit.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/queue"
)

// Queue implements queue.Queue with an in-memory task table.
type Queue struct {
	visibility  time.Duration
	maxAttempts int
	retryBase   time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	tasks  map[string]*core.Task
	closed bool
}

var _ queue.Queue = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue) error

// WithVisibilityTimeout sets how long a lease is held before an unacked
// task becomes deliverable again.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) error {
		if d <= 0 {
			return errors.New("visibility timeout must be positive")
		}
		q.visibility = d
		return nil
	}
}

// WithMaxAttempts sets the delivery attempt limit before a task is marked
// FAILURE.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) error {
		if n < 1 {
			return queue.ErrInvalidMaxAttempts
		}
		q.maxAttempts = n
		return nil
	}
}

// WithRetryBase sets the base delay for the exponential retry backoff.
func WithRetryBase(d time.Duration) Option {
	return func(q *Queue) error {
		if d <= 0 {
			return errors.New("retry base must be positive")
		}
		q.retryBase = d
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) error {
		if logger == nil {
			logger = slog.Default()
		}
		q.logger = logger
		return nil
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		q.now = now
		return nil
	}
}

// New creates an in-memory queue.
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		visibility:  queue.DefaultVisibilityTimeout * time.Second,
		maxAttempts: queue.DefaultMaxAttempts,
		retryBase:   time.Second,
		logger:      slog.Default(),
		now:         time.Now,
		tasks:       make(map[string]*core.Task),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}

	q.logger = q.logger.With("component", "broker-queue")
	return q, nil
}

// Submit enqueues a task and returns a copy of its stored record.
func (q *Queue) Submit(ctx context.Context, kind core.TaskKind, payload core.TaskPayload) (*core.Task, error) {
	task := &core.Task{
		Id:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		State:      core.TaskPending,
		EnqueuedAt: q.now().UTC(),
	}
	if err := core.ValidateTask(task); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrQueueClosed
	}

	q.tasks[task.Id] = task
	q.logger.Info("task submitted", "task", task.Id, "kind", task.Kind)

	out := *task
	return &out, nil
}

// Poll leases up to max deliverable tasks, oldest due first.
func (q *Queue) Poll(ctx context.Context, max int) ([]*core.Task, error) {
	if max < 1 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrQueueClosed
	}

	now := q.now().UTC()

	var due []*core.Task
	for _, task := range q.tasks {
		if d, ok := dueAt(task); ok && !d.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		di, _ := dueAt(due[i])
		dj, _ := dueAt(due[j])
		return di.Before(dj)
	})
	if len(due) > max {
		due = due[:max]
	}

	leased := make([]*core.Task, 0, len(due))
	for _, task := range due {
		task.State = core.TaskStarted
		task.Attempts++
		task.StartedAt = now
		task.VisibilityDeadline = now.Add(q.visibility)

		if task.Attempts > 1 {
			q.logger.Warn("task redelivered", "task", task.Id, "attempt", task.Attempts)
		}

		out := *task
		leased = append(leased, &out)
	}
	return leased, nil
}

// Ack marks a leased task as succeeded.
func (q *Queue) Ack(ctx context.Context, id string, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.lookup(id)
	if err != nil {
		return err
	}
	if task.State != core.TaskStarted {
		return fmt.Errorf("%w: task %s is %s", queue.ErrNotInFlight, id, task.State)
	}

	task.State = core.TaskSucceeded
	task.Result = result
	task.CompletedAt = q.now().UTC()
	task.VisibilityDeadline = time.Time{}

	q.logger.Info("task succeeded", "task", task.Id, "kind", task.Kind, "attempts", task.Attempts)
	return nil
}

// Fail records a failed attempt, re-queueing with backoff until the attempt
// limit is reached. Permanent failures (queue.IsPermanent) move straight to
// FAILURE regardless of remaining attempts.
func (q *Queue) Fail(ctx context.Context, id string, taskErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.lookup(id)
	if err != nil {
		return err
	}
	if task.State != core.TaskStarted {
		return fmt.Errorf("%w: task %s is %s", queue.ErrNotInFlight, id, task.State)
	}

	now := q.now().UTC()

	if queue.IsPermanent(taskErr) || task.Attempts >= q.maxAttempts {
		task.State = core.TaskFailed
		if taskErr != nil {
			task.Error = taskErr.Error()
		} else {
			task.Error = "unknown error"
		}
		task.CompletedAt = now
		task.VisibilityDeadline = time.Time{}
		q.logger.Error("task failed permanently", "task", task.Id, "attempts", task.Attempts, "error", taskErr)
		return nil
	}

	task.State = core.TaskPending
	task.VisibilityDeadline = now.Add(queue.BackoffDelay(q.retryBase, task.Attempts))
	q.logger.Warn("task attempt failed, will retry", "task", task.Id, "attempt", task.Attempts, "error", taskErr)
	return nil
}

// Status returns a copy of the current record for a task.
func (q *Queue) Status(ctx context.Context, id string) (*core.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.lookup(id)
	if err != nil {
		return nil, err
	}
	out := *task
	return &out, nil
}

// Close marks the queue closed. Pending tasks are dropped.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.tasks = nil
	return nil
}

// lookup finds a task by ID. Caller holds q.mu.
func (q *Queue) lookup(id string) (*core.Task, error) {
	if q.closed {
		return nil, queue.ErrQueueClosed
	}
	task, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTask, id)
	}
	return task, nil
}

// dueAt returns the time a task becomes deliverable, or false for terminal
// tasks. Pending tasks with a visibility deadline are delayed retries.
func dueAt(task *core.Task) (time.Time, bool) {
	switch task.State {
	case core.TaskPending:
		if !task.VisibilityDeadline.IsZero() {
			return task.VisibilityDeadline, true
		}
		return task.EnqueuedAt, true
	case core.TaskStarted:
		return task.VisibilityDeadline, true
	default:
		return time.Time{}, false
	}
}
