package queue

import (
	"context"

	"github.com/poiesic/corpus/core"
)

// Default delivery parameters shared by queue implementations.
const (
	DefaultVisibilityTimeout = 30 // seconds
	DefaultMaxAttempts       = 3
	DefaultMaxMessages       = 10
)

// Queue accepts task submissions and leases them to workers.
// Implementations must be thread-safe.
type Queue interface {
	// Submit enqueues a task of the given kind and returns the stored
	// record with its generated ID, in PENDING state.
	Submit(ctx context.Context, kind core.TaskKind, payload core.TaskPayload) (*core.Task, error)

	// Poll leases up to max deliverable tasks. Leased tasks are STARTED
	// with a visibility deadline; a lease that is neither acked nor failed
	// before the deadline is delivered again. Returns an empty slice when
	// nothing is due.
	Poll(ctx context.Context, max int) ([]*core.Task, error)

	// Ack marks a leased task as succeeded and records its result.
	// Returns ErrNotInFlight if the task is not currently leased.
	Ack(ctx context.Context, id string, result string) error

	// Fail records a failed attempt. The task is re-queued with an
	// exponential delay until its attempt limit is reached, then moves to
	// FAILURE with a summary of the final error. Errors classified
	// permanent by IsPermanent skip retry and fail terminally at once.
	// Returns ErrNotInFlight if the task is not currently leased.
	Fail(ctx context.Context, id string, taskErr error) error

	// Status returns the current record for a task.
	// Returns ErrUnknownTask if no such task exists.
	Status(ctx context.Context, id string) (*core.Task, error)

	// Close releases queue resources.
	Close() error
}
