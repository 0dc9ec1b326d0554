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


// Package httpapi exposes the document pipeline over HTTP: uploads, task
// status, search, answering, summaries, document management, and a
// server-sent-events stream of task completions.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/poiesic/corpus/blob"
	"github.com/poiesic/corpus/ingest"
	"github.com/poiesic/corpus/notify"
	"github.com/poiesic/corpus/queue"
	"github.com/poiesic/corpus/search"
	"github.com/poiesic/corpus/storage"
)

var (
	// ErrQueueRequired is returned when a queue is not provided.
	ErrQueueRequired = errors.New("queue required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrRetrievalRequired is returned when a retrieval service is not provided.
	ErrRetrievalRequired = errors.New("retrieval service required")

	// ErrPipelineRequired is returned when an ingestion pipeline is not provided.
	ErrPipelineRequired = errors.New("ingestion pipeline required")

	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")
)

// Server wires the HTTP surface to the pipeline services.
type Server struct {
	queue       queue.Queue
	blobs       blob.Store
	retrieval   *search.Service
	pipeline    *ingest.Pipeline
	chunks      storage.ChunkRepository
	broadcaster *notify.Broadcaster // optional; /events 503s without it
	logger      *slog.Logger

	// inflight tracks the active ingestion task per (set, filename) so
	// repeated uploads of a document join the running task instead of
	// racing it.
	mu       sync.Mutex
	inflight map[string]string
}

// Option configures a Server.
type Option func(*Server) error

// WithBroadcaster enables the /events stream.
func WithBroadcaster(b *notify.Broadcaster) Option {
	return func(s *Server) error {
		s.broadcaster = b
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a Server.
func New(
	q queue.Queue,
	blobs blob.Store,
	retrieval *search.Service,
	pipeline *ingest.Pipeline,
	chunks storage.ChunkRepository,
	opts ...Option,
) (*Server, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if retrieval == nil {
		return nil, ErrRetrievalRequired
	}
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}

	s := &Server{
		queue:     q,
		blobs:     blobs,
		retrieval: retrieval,
		pipeline:  pipeline,
		chunks:    chunks,
		logger:    slog.Default(),
		inflight:  make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.logger = s.logger.With("component", "httpapi")
	return s, nil
}

// Routes returns the request multiplexer for the API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /tasks/{id}", s.handleTask)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /answer", s.handleAnswer)
	mux.HandleFunc("POST /summarize", s.handleSummarize)
	mux.HandleFunc("GET /documents", s.handleDocuments)
	mux.HandleFunc("DELETE /documents/{set}/{filename}", s.handleDeleteDocument)
	mux.HandleFunc("DELETE /documents/{set}", s.handleDeleteDocumentSet)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}
