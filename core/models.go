package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for stored chunks.
// It is derived deterministically from chunk coordinates so that
// re-ingesting the same document overwrites instead of duplicating.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// Identical content always produces the identical ID.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID derives the stable identifier for a chunk from its coordinates.
// The document set and filename are joined with the chunk index, so the same
// chunk of the same document always maps to the same storage key.
func ChunkID(documentSet, filename string, index int) ID {
	return IDFromContent(fmt.Sprintf("%s|%s|%d", documentSet, filename, index))
}

// DocumentSetAll is the reserved document set value meaning "no filter".
const DocumentSetAll = "all"

// TaskKind identifies the kind of asynchronous work a task carries.
type TaskKind string

const (
	// TaskIngest indexes a document with the standard extraction pipeline.
	TaskIngest TaskKind = "ingest"
	// TaskIngestVLM indexes a document with the vision-augmented pipeline.
	TaskIngestVLM TaskKind = "ingest_vlm"
	// TaskSummarize produces a summary of a stored document.
	TaskSummarize TaskKind = "summarize"
	// TaskAnswerQuestion runs retrieval-augmented answering off the request path.
	TaskAnswerQuestion TaskKind = "answer_question"
)

// TaskState tracks a task through its lifecycle.
// Transitions: Pending -> Started -> Succeeded | Failed.
// Terminal states are final; there is no transition out of them.
type TaskState int

const (
	// TaskPending means the task is enqueued and waiting for a worker.
	TaskPending TaskState = iota + 1
	// TaskStarted means a worker holds the visibility lease and is processing.
	TaskStarted
	// TaskSucceeded means the task completed and Result is populated.
	TaskSucceeded
	// TaskFailed means the task failed terminally and Error is populated.
	TaskFailed
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "PENDING"
	case TaskStarted:
		return "STARTED"
	case TaskSucceeded:
		return "SUCCESS"
	case TaskFailed:
		return "FAILURE"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// TaskPayload is the structured input of a task.
// Which fields are meaningful depends on the task kind: ingest and summarize
// tasks address a stored blob, answer_question tasks carry a query.
type TaskPayload struct {
	Filename    string
	DocumentSet string
	Query       string
	Limit       int
}

// Task is a unit of asynchronous work tracked by the queue.
type Task struct {
	Id      string
	Kind    TaskKind
	Payload TaskPayload
	State   TaskState

	// Result and Error are populated only in terminal states.
	// Error carries a human-readable summary, never a raw internal error.
	Result string
	Error  string

	// Attempts counts deliveries, including the one currently in flight.
	Attempts int

	EnqueuedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// VisibilityDeadline is set while a worker holds the lease. A started
	// task whose deadline has passed without an ack is reclaimable.
	VisibilityDeadline time.Time
}

// DocumentChunk is a unit of indexed content: a bounded slice of document
// text together with its embedding vector.
type DocumentChunk struct {
	Id          ID
	Filename    string
	DocumentSet string
	Index       int
	Content     string
	Vector      []float32
	Metadata    map[string]string
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

// ScoredChunk is a chunk returned from similarity search with its score.
type ScoredChunk struct {
	Chunk *DocumentChunk
	Score float32
}

// DocumentInfo summarizes one stored document: its grouping keys and the
// number of chunks currently stored under them.
type DocumentInfo struct {
	Filename    string
	DocumentSet string
	ChunkCount  int
}

// IngestResult reports the outcome of a completed ingestion.
type IngestResult struct {
	Filename    string
	DocumentSet string
	ChunkCount  int
}

// Answer is the result of retrieval-augmented answering: the synthesized
// text and the distinct source filenames it drew on, for citation.
type Answer struct {
	Text    string
	Sources []string
}

// Event reports a task reaching a terminal state. Events are advisory:
// a missed event is recoverable by polling task status, which is durable.
type Event struct {
	TaskId string
	Kind   TaskKind
	State  TaskState
	Result string
	Error  string
	At     time.Time
}
