package storage

import (
	"context"
	"time"

	"github.com/poiesic/corpus/core"
)

// ChunkRepository provides operations for managing indexed document chunks.
// Implementations must be thread-safe and support concurrent access.
type ChunkRepository interface {
	// UpsertChunks inserts or replaces chunks by their content-derived IDs.
	// All chunks are written in a single transaction: either every chunk in
	// the batch is stored or none is. Sets InsertedAt on new chunks and
	// UpdatedAt always.
	UpsertChunks(ctx context.Context, chunks ...*core.DocumentChunk) error

	// FindSimilar finds chunks similar to the given vector.
	// Returns chunks with cosine similarity >= minScore, up to limit results,
	// ordered by score (highest first). A documentSet other than
	// core.DocumentSetAll restricts the search to that set.
	FindSimilar(ctx context.Context, vector []float32, minScore float32, limit int, documentSet string) ([]*core.ScoredChunk, error)

	// DeleteDocument removes all chunks stored under the given set and
	// filename. Returns the number of chunks removed; zero with a nil error
	// when the document was not indexed.
	DeleteDocument(ctx context.Context, documentSet, filename string) (int, error)

	// ListDocuments returns one entry per indexed document with its chunk
	// count. A documentSet other than core.DocumentSetAll restricts the
	// listing to that set. Ordered by set, then filename.
	ListDocuments(ctx context.Context, documentSet string) ([]*core.DocumentInfo, error)

	// Close releases repository resources.
	Close() error
}

// TaskRepository provides durable task records for the queue layer.
// Implementations must be thread-safe and support concurrent access.
type TaskRepository interface {
	// AddTask stores a new task record.
	AddTask(ctx context.Context, task *core.Task) error

	// UpdateTask replaces an existing task record.
	// Terminal records are retained for a bounded period and then expire.
	// Returns ErrNotFound if the task doesn't exist.
	UpdateTask(ctx context.Context, task *core.Task) error

	// GetTask retrieves a task by ID.
	// Returns ErrNotFound if the task doesn't exist or has expired.
	GetTask(ctx context.Context, id string) (*core.Task, error)

	// ClaimDue atomically claims up to max tasks that are deliverable at
	// now: pending tasks plus started tasks whose visibility deadline has
	// passed. Claimed tasks transition to STARTED with Attempts incremented
	// and VisibilityDeadline set to now+visibility. No task is returned to
	// two callers at once.
	ClaimDue(ctx context.Context, now time.Time, visibility time.Duration, max int) ([]*core.Task, error)

	// Close releases repository resources.
	Close() error
}
