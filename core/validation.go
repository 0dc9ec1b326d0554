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


package core

import "fmt"

// ValidateTask validates a Task according to domain rules.
//
// Validation rules:
//   - Id must not be empty
//   - Kind must be a known task kind
//   - State must be a valid state value
//   - Ingest and summarize kinds require filename and document set
//   - Answer kind requires a query
//
// NOT validated (populated during processing):
//   - Result / Error (empty until terminal)
//   - StartedAt / CompletedAt / VisibilityDeadline
func ValidateTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("%w: task is nil", ErrInvalidTask)
	}

	if task.Id == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidTask)
	}

	if err := ValidateTaskKind(task.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	if err := ValidateTaskState(task.State); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	switch task.Kind {
	case TaskIngest, TaskIngestVLM, TaskSummarize:
		if task.Payload.Filename == "" {
			return fmt.Errorf("%w: %w", ErrInvalidTask, ErrEmptyFilename)
		}
		if task.Payload.DocumentSet == "" {
			return fmt.Errorf("%w: %w", ErrInvalidTask, ErrEmptyDocumentSet)
		}
	case TaskAnswerQuestion:
		if task.Payload.Query == "" {
			return fmt.Errorf("%w: query is empty", ErrInvalidTask)
		}
	}

	return nil
}

// ValidateChunk validates a DocumentChunk according to domain rules.
//
// Validation rules:
//   - Filename and DocumentSet must not be empty
//   - Content must not be empty
//   - Index must not be negative
//
// NOT validated:
//   - Vector (can be empty until embedded)
//   - Id (recomputed from coordinates on store)
func ValidateChunk(chunk *DocumentChunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.Filename == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyFilename)
	}

	if chunk.DocumentSet == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyDocumentSet)
	}

	if chunk.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}

	if chunk.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidChunk, chunk.Index)
	}

	return nil
}

// ValidateTaskKind validates that a TaskKind is one of the known kinds.
func ValidateTaskKind(kind TaskKind) error {
	switch kind {
	case TaskIngest, TaskIngestVLM, TaskSummarize, TaskAnswerQuestion:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTaskKind, string(kind))
	}
}

// ValidateTaskState validates that a TaskState has a valid value.
func ValidateTaskState(state TaskState) error {
	switch state {
	case TaskPending, TaskStarted, TaskSucceeded, TaskFailed:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidTaskState, state)
	}
}
