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

import "errors"

// Error taxonomy for the ingestion and retrieval pipeline.
// Callers classify failures with errors.Is against these sentinels.
var (
	// ErrTransport indicates the queue or store transport is unreachable.
	// Retry is a higher-layer concern.
	ErrTransport = errors.New("transport unreachable")

	// ErrExtraction indicates a malformed or unsupported document.
	// Extraction failures are terminal and not retried.
	ErrExtraction = errors.New("extraction failed")

	// ErrEmbeddingProvider indicates a transient embedding provider failure.
	// Retried with backoff up to the attempt limit, then terminal.
	ErrEmbeddingProvider = errors.New("embedding provider failed")

	// ErrUpsert indicates a batch write to the vector store failed.
	// Retried attempts rely on idempotent chunk IDs.
	ErrUpsert = errors.New("vector upsert failed")

	// ErrGenerationUnavailable indicates answer synthesis is unavailable.
	// Retrieval results are still returned; this is distinct from "no matches".
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

// Domain validation errors
var (
	// ErrInvalidTask indicates a Task failed validation.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidChunk indicates a DocumentChunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidTaskKind indicates an unrecognized TaskKind value.
	ErrInvalidTaskKind = errors.New("invalid task kind")

	// ErrInvalidTaskState indicates an invalid TaskState value.
	ErrInvalidTaskState = errors.New("invalid task state")

	// ErrEmptyFilename indicates the Filename field is empty.
	ErrEmptyFilename = errors.New("filename cannot be empty")

	// ErrEmptyDocumentSet indicates the DocumentSet field is empty.
	ErrEmptyDocumentSet = errors.New("document set cannot be empty")

	// ErrEmptyContent indicates the Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")
)
