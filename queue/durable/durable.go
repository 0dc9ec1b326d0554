// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package durable implements queue.Queue on top of a persistent task
// repository. Tasks survive process restarts; a lease held by a crashed
// worker is reclaimed after its visibility deadline.
package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/queue"
	"github.com/poiesic/corpus/storage"
)

// ErrTaskRepositoryRequired is returned when no task repository is provided.
var ErrTaskRepositoryRequired = errors.New("task repository is required")

// Queue implements queue.Queue backed by a storage.TaskRepository.
type Queue struct {
	tasks       storage.TaskRepository
	visibility  time.Duration
	maxAttempts int
	retryBase   time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

var _ queue.Queue = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue) error

// WithVisibilityTimeout sets how long a lease is held before an unacked
// task becomes deliverable again.
// Default is queue.DefaultVisibilityTimeout seconds.
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
// FAILURE. Default is queue.DefaultMaxAttempts.
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
// Default is one second.
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
// Default is slog.Default().
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

// New creates a durable queue over the given task repository.
func New(tasks storage.TaskRepository, opts ...Option) (*Queue, error) {
	if tasks == nil {
		return nil, ErrTaskRepositoryRequired
	}

	q := &Queue{
		tasks:       tasks,
		visibility:  queue.DefaultVisibilityTimeout * time.Second,
		maxAttempts: queue.DefaultMaxAttempts,
		retryBase:   time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}

	q.logger = q.logger.With("component", "durable-queue")
	return q, nil
}

// Submit enqueues a task and returns its stored record.
func (q *Queue) Submit(ctx context.Context, kind core.TaskKind, payload core.TaskPayload) (*core.Task, error) {
	task := &core.Task{
		Id:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		State:      core.TaskPending,
		EnqueuedAt: q.now().UTC().Truncate(time.Microsecond),
	}

	if err := q.tasks.AddTask(ctx, task); err != nil {
		return nil, err
	}

	q.logger.Info("task submitted", "task", task.Id, "kind", task.Kind)
	return task, nil
}

// Poll leases up to max deliverable tasks.
func (q *Queue) Poll(ctx context.Context, max int) ([]*core.Task, error) {
	claimed, err := q.tasks.ClaimDue(ctx, q.now(), q.visibility, max)
	if err != nil {
		return nil, err
	}

	for _, task := range claimed {
		if task.Attempts > 1 {
			q.logger.Warn("task redelivered", "task", task.Id, "attempt", task.Attempts)
		}
	}
	return claimed, nil
}

// Ack marks a leased task as succeeded.
func (q *Queue) Ack(ctx context.Context, id string, result string) error {
	task, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	if task.State != core.TaskStarted {
		return fmt.Errorf("%w: task %s is %s", queue.ErrNotInFlight, id, task.State)
	}

	task.State = core.TaskSucceeded
	task.Result = result
	task.CompletedAt = q.now().UTC().Truncate(time.Microsecond)
	task.VisibilityDeadline = time.Time{}

	if err := q.tasks.UpdateTask(ctx, task); err != nil {
		return err
	}

	q.logger.Info("task succeeded", "task", task.Id, "kind", task.Kind, "attempts", task.Attempts)
	return nil
}

// Fail records a failed attempt, re-queueing with backoff until the attempt
// limit is reached. Permanent failures (queue.IsPermanent) move straight to
// FAILURE regardless of remaining attempts.
func (q *Queue) Fail(ctx context.Context, id string, taskErr error) error {
	task, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	if task.State != core.TaskStarted {
		return fmt.Errorf("%w: task %s is %s", queue.ErrNotInFlight, id, task.State)
	}

	now := q.now().UTC().Truncate(time.Microsecond)

	if queue.IsPermanent(taskErr) || task.Attempts >= q.maxAttempts {
		task.State = core.TaskFailed
		task.Error = summarize(taskErr)
		task.CompletedAt = now
		task.VisibilityDeadline = time.Time{}

		if err := q.tasks.UpdateTask(ctx, task); err != nil {
			return err
		}
		q.logger.Error("task failed permanently", "task", task.Id, "kind", task.Kind, "attempts", task.Attempts, "error", taskErr)
		return nil
	}

	// Back off before the next delivery: the visibility deadline doubles as
	// the retry due time for pending tasks.
	task.State = core.TaskPending
	task.VisibilityDeadline = now.Add(queue.BackoffDelay(q.retryBase, task.Attempts))

	if err := q.tasks.UpdateTask(ctx, task); err != nil {
		return err
	}
	q.logger.Warn("task attempt failed, will retry", "task", task.Id, "attempt", task.Attempts, "error", taskErr)
	return nil
}

// Status returns the current record for a task.
func (q *Queue) Status(ctx context.Context, id string) (*core.Task, error) {
	return q.load(ctx, id)
}

// Close releases queue resources. The underlying repository is owned by the
// caller and stays open.
func (q *Queue) Close() error {
	return nil
}

func (q *Queue) load(ctx context.Context, id string) (*core.Task, error) {
	task, err := q.tasks.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownTask, id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// summarize produces the human-readable error stored on terminal failures.
func summarize(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
