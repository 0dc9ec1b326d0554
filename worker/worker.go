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


// Package worker runs the task processing loop: poll the queue, dispatch
// leased tasks to registered handlers on a bounded pool, ack or fail the
// outcome, and broadcast terminal events.
//
// One failing task never halts the loop. A handler that overruns its hard
// deadline is abandoned; the queue's visibility timeout then redelivers the
// task, so handlers must stay idempotent.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/notify"
	"github.com/poiesic/corpus/queue"
)

// DefaultPollInterval is the delay between queue polls when idle.
const DefaultPollInterval = 5 * time.Second

// Handler processes one leased task and returns the result recorded on ack.
type Handler func(ctx context.Context, task *core.Task) (string, error)

// Deadlines bounds a handler's run time. Past Soft the worker logs a
// warning; past Hard the handler's context is canceled and the task is
// failed.
type Deadlines struct {
	Soft time.Duration
	Hard time.Duration
}

// defaultDeadlines returns the per-kind limits applied unless overridden.
func defaultDeadlines() map[core.TaskKind]Deadlines {
	return map[core.TaskKind]Deadlines{
		core.TaskIngest:         {Soft: 60 * time.Second, Hard: 300 * time.Second},
		core.TaskIngestVLM:      {Soft: 300 * time.Second, Hard: 900 * time.Second},
		core.TaskSummarize:      {Soft: 60 * time.Second, Hard: 300 * time.Second},
		core.TaskAnswerQuestion: {Soft: 30 * time.Second, Hard: 120 * time.Second},
	}
}

// ErrQueueRequired is returned when a queue is not provided.
var ErrQueueRequired = errors.New("queue required")

// ErrNoHandler indicates a leased task of a kind with no registered handler.
var ErrNoHandler = errors.New("no handler for task kind")

// Worker polls a queue and dispatches tasks to handlers.
type Worker struct {
	queue       queue.Queue
	broadcaster *notify.Broadcaster // optional
	pool        *ants.Pool
	handlers    map[core.TaskKind]Handler
	deadlines   map[core.TaskKind]Deadlines

	pollInterval time.Duration
	maxMessages  int

	maintenance         func()
	maintenanceInterval time.Duration

	logger *slog.Logger
	wg     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker) error

// WithPoolSize sets the handler pool size.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(w *Worker) error {
		if size < 1 {
			size = 1
		}
		if w.pool != nil {
			w.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		w.pool = pool
		return nil
	}
}

// WithPollInterval sets the delay between queue polls.
// Default is DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		w.pollInterval = d
		return nil
	}
}

// WithMaxMessages sets how many tasks one poll may lease.
// Default is queue.DefaultMaxMessages.
func WithMaxMessages(n int) Option {
	return func(w *Worker) error {
		if n < 1 {
			return errors.New("max messages must be positive")
		}
		w.maxMessages = n
		return nil
	}
}

// WithBroadcaster publishes terminal task events to the broadcaster.
func WithBroadcaster(b *notify.Broadcaster) Option {
	return func(w *Worker) error {
		w.broadcaster = b
		return nil
	}
}

// WithMaintenance runs fn on the given interval while the worker runs,
// typically to release lazily built extraction pipelines.
func WithMaintenance(interval time.Duration, fn func()) Option {
	return func(w *Worker) error {
		if interval <= 0 {
			return errors.New("maintenance interval must be positive")
		}
		if fn == nil {
			return errors.New("maintenance function must not be nil")
		}
		w.maintenanceInterval = interval
		w.maintenance = fn
		return nil
	}
}

// WithDeadlines overrides the time limits for one task kind.
func WithDeadlines(kind core.TaskKind, d Deadlines) Option {
	return func(w *Worker) error {
		if d.Soft <= 0 || d.Hard <= 0 || d.Hard < d.Soft {
			return errors.New("invalid deadlines")
		}
		w.deadlines[kind] = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// New creates a Worker.
func New(q queue.Queue, opts ...Option) (*Worker, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		queue:        q,
		pool:         pool,
		handlers:     make(map[core.TaskKind]Handler),
		deadlines:    defaultDeadlines(),
		pollInterval: DefaultPollInterval,
		maxMessages:  queue.DefaultMaxMessages,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			w.pool.Release()
			return nil, err
		}
	}

	w.logger = w.logger.With("component", "worker")
	return w, nil
}

// Register installs the handler for a task kind, replacing any previous one.
func (w *Worker) Register(kind core.TaskKind, handler Handler) error {
	if err := core.ValidateTaskKind(kind); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler must not be nil")
	}
	w.handlers[kind] = handler
	return nil
}

// Run polls until ctx is canceled, then waits for in-flight handlers.
// Handlers must be registered before Run is called.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "pollInterval", w.pollInterval, "maxMessages", w.maxMessages)

	if w.maintenance != nil {
		w.wg.Add(1)
		go w.maintenanceLoop(ctx)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.pollOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping, waiting for in-flight tasks")
			w.wg.Wait()
			w.pool.Release()
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce leases due tasks and dispatches them to the pool.
func (w *Worker) pollOnce(ctx context.Context) {
	tasks, err := w.queue.Poll(ctx, w.maxMessages)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("poll failed", "error", err)
		}
		return
	}

	for _, task := range tasks {
		task := task
		w.wg.Add(1)
		submitErr := w.pool.Submit(func() {
			defer w.wg.Done()
			w.process(ctx, task)
		})
		if submitErr != nil {
			w.wg.Done()
			w.logger.Error("pool rejected task", "task", task.Id, "error", submitErr)
		}
	}
}

// process runs one task through its handler and records the outcome.
func (w *Worker) process(ctx context.Context, task *core.Task) {
	log := w.logger.With("task", task.Id, "kind", task.Kind, "attempt", task.Attempts)

	handler, ok := w.handlers[task.Kind]
	if !ok {
		// A kind with no handler can never succeed on this worker.
		log.Error("no handler registered")
		w.fail(ctx, task, queue.Permanent(fmt.Errorf("%w: %s", ErrNoHandler, task.Kind)))
		return
	}

	limits := w.deadlines[task.Kind]
	handlerCtx := ctx
	var cancel context.CancelFunc
	if limits.Hard > 0 {
		handlerCtx, cancel = context.WithTimeout(ctx, limits.Hard)
		defer cancel()
	}

	var softTimer *time.Timer
	if limits.Soft > 0 {
		softTimer = time.AfterFunc(limits.Soft, func() {
			log.Warn("task exceeded soft deadline", "soft", limits.Soft)
		})
		defer softTimer.Stop()
	}

	start := time.Now()
	result, err := handler(handlerCtx, task)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("task handler failed", "elapsed", elapsed, "error", err)
		w.fail(ctx, task, err)
		return
	}

	if ackErr := w.queue.Ack(ctx, task.Id, result); ackErr != nil {
		// The lease may have expired mid-run; redelivery will retry.
		log.Warn("ack failed", "error", ackErr)
		return
	}

	log.Info("task completed", "elapsed", elapsed)
	w.publish(ctx, task.Id)
}

// fail reports a failed attempt and publishes the terminal event if the
// task just exhausted its attempts.
func (w *Worker) fail(ctx context.Context, task *core.Task, taskErr error) {
	if failErr := w.queue.Fail(ctx, task.Id, taskErr); failErr != nil {
		w.logger.Warn("fail report rejected", "task", task.Id, "error", failErr)
		return
	}
	w.publish(ctx, task.Id)
}

// publish broadcasts the task's state if it is terminal.
func (w *Worker) publish(ctx context.Context, id string) {
	if w.broadcaster == nil {
		return
	}

	task, err := w.queue.Status(ctx, id)
	if err != nil || !task.State.Terminal() {
		return
	}

	w.broadcaster.Publish(core.Event{
		TaskId: task.Id,
		Kind:   task.Kind,
		State:  task.State,
		Result: task.Result,
		Error:  task.Error,
		At:     time.Now().UTC(),
	})
}

// maintenanceLoop runs the maintenance function on its interval.
func (w *Worker) maintenanceLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.logger.Debug("running maintenance")
			w.maintenance()
		}
	}
}
