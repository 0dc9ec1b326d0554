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


package badger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
)

// DefaultRetention bounds how long terminal task records stay readable.
const DefaultRetention = 24 * time.Hour

// TaskRepository implements storage.TaskRepository for BadgerDB.
//
// Deliverable tasks are tracked in a due index keyed by the time they become
// claimable: EnqueuedAt for fresh tasks, the visibility deadline for started
// or retrying ones. A prefix scan over the index yields due tasks in order
// without touching records that are not yet claimable.
type TaskRepository struct {
	backend   *Backend
	retention time.Duration
	logger    *slog.Logger
}

var _ storage.TaskRepository = (*TaskRepository)(nil)

// TaskRepositoryOption configures a TaskRepository.
type TaskRepositoryOption func(*TaskRepository) error

// WithRetention sets how long terminal task records are retained.
// Default is DefaultRetention.
func WithRetention(retention time.Duration) TaskRepositoryOption {
	return func(r *TaskRepository) error {
		if retention <= 0 {
			return errors.New("retention must be positive")
		}
		r.retention = retention
		return nil
	}
}

// WithTaskLogger sets a custom logger.
// Default is slog.Default().
func WithTaskLogger(logger *slog.Logger) TaskRepositoryOption {
	return func(r *TaskRepository) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(backend *Backend, opts ...TaskRepositoryOption) (*TaskRepository, error) {
	if backend == nil {
		return nil, storage.ErrStorageClosed
	}

	r := &TaskRepository{
		backend:   backend,
		retention: DefaultRetention,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Close releases repository resources.
func (r *TaskRepository) Close() error {
	return nil
}

// AddTask stores a new task record and indexes it as due at EnqueuedAt.
func (r *TaskRepository) AddTask(ctx context.Context, task *core.Task) error {
	if err := core.ValidateTask(task); err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		if task.EnqueuedAt.IsZero() {
			// Stored timestamps carry microsecond precision.
			task.EnqueuedAt = time.Now().UTC().Truncate(time.Microsecond)
		}

		if err := tx.Set(makeTaskKey(task.Id), storage.MarshalTask(task)); err != nil {
			return err
		}

		due := taskDue(task)
		if !due.IsZero() {
			if err := tx.Set(makeTaskDueKey(due, task.Id), []byte(task.Id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// UpdateTask replaces an existing task record and moves its due index entry.
// Terminal records are written with a TTL so they expire after retention.
func (r *TaskRepository) UpdateTask(ctx context.Context, task *core.Task) error {
	if err := core.ValidateTask(task); err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := r.readTask(tx, makeTaskKey(task.Id))
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}

		oldDue := taskDue(old)
		if !oldDue.IsZero() {
			if err := tx.Delete(makeTaskDueKey(oldDue, old.Id)); err != nil {
				return err
			}
		}

		if err := r.writeTask(tx, task); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetTask retrieves a task by ID.
func (r *TaskRepository) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task *core.Task
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		task, err = r.readTask(tx, makeTaskKey(id))
		if err != nil {
			return err
		}
		if task == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return task, err
}

// ClaimDue atomically claims up to max deliverable tasks.
func (r *TaskRepository) ClaimDue(ctx context.Context, now time.Time, visibility time.Duration, max int) ([]*core.Task, error) {
	if max < 1 {
		return nil, storage.ErrInvalidQuery
	}

	var claimed []*core.Task

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := []byte(taskDuePrefix + ":")

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		var dueKeys [][]byte

		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid() && len(dueKeys) < max; iter.Next() {
			key := iter.Item().Key()
			due, _, err := parseTaskDueKey(key)
			if err != nil {
				iter.Close()
				return err
			}
			// Index keys sort by due time, so the first future entry ends
			// the scan.
			if due.After(now) {
				break
			}
			dueKeys = append(dueKeys, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, dueKey := range dueKeys {
			_, id, err := parseTaskDueKey(dueKey)
			if err != nil {
				return err
			}

			task, err := r.readTask(tx, makeTaskKey(id))
			if err != nil {
				return err
			}
			if task == nil || task.State.Terminal() {
				// Stale index entry; drop it.
				if err := tx.Delete(dueKey); err != nil {
					return err
				}
				continue
			}

			task.State = core.TaskStarted
			task.Attempts++
			task.StartedAt = now.UTC().Truncate(time.Microsecond)
			task.VisibilityDeadline = now.Add(visibility).UTC().Truncate(time.Microsecond)

			if err := tx.Delete(dueKey); err != nil {
				return err
			}
			if err := r.writeTask(tx, task); err != nil {
				return err
			}
			claimed = append(claimed, task)
		}
		return tx.Commit()
	}, true)

	// A conflicting claim from another goroutine aborts this transaction;
	// the tasks stay deliverable and the next poll retries.
	if err == badger.ErrConflict {
		r.logger.Debug("claim conflict, will retry on next poll")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// writeTask stores the record and, for non-terminal states, its due index
// entry. Terminal records carry a TTL and leave no index entry.
func (r *TaskRepository) writeTask(tx *badger.Txn, task *core.Task) error {
	key := makeTaskKey(task.Id)
	value := storage.MarshalTask(task)

	if task.State.Terminal() {
		entry := badger.NewEntry(key, value).WithTTL(r.retention)
		return tx.SetEntry(entry)
	}

	if err := tx.Set(key, value); err != nil {
		return err
	}

	due := taskDue(task)
	if !due.IsZero() {
		return tx.Set(makeTaskDueKey(due, task.Id), []byte(task.Id))
	}
	return nil
}

// readTask reads a task record, returning nil if it doesn't exist.
func (r *TaskRepository) readTask(tx *badger.Txn, key []byte) (*core.Task, error) {
	item, err := tx.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var task *core.Task
	err = item.Value(func(val []byte) error {
		var err error
		task, err = storage.UnmarshalTask(val)
		return err
	})
	return task, err
}

// taskDue returns the time a task becomes deliverable, or zero for terminal
// tasks. Pending tasks with a visibility deadline are retries delayed until
// that deadline.
func taskDue(task *core.Task) time.Time {
	switch task.State {
	case core.TaskPending:
		if !task.VisibilityDeadline.IsZero() {
			return task.VisibilityDeadline
		}
		return task.EnqueuedAt
	case core.TaskStarted:
		return task.VisibilityDeadline
	default:
		return time.Time{}
	}
}
