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


// Package search provides similarity search and retrieval-augmented
// answering over the chunk index.
//
// Search degrades rather than fails: when the embedding provider or the
// vector store is unavailable, it returns empty results and logs the cause,
// so a degraded dependency turns into "nothing found" instead of an outage.
// Answer is different: synthesizing an answer without a generator is
// meaningless, so generation failures surface as ErrGenerationUnavailable.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/corpus/ai"
	"github.com/poiesic/corpus/cache"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
)

// Defaults for query parameters left unset by the caller.
const (
	DefaultLimit    = 10
	DefaultMinScore = 0
)

// Service answers similarity and RAG queries.
type Service struct {
	embedder ai.Embedder
	chunks   storage.ChunkRepository
	gen      ai.Generator

	embeddings *cache.Cache // optional
	minScore   float32
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithMinScore sets the similarity threshold below which chunks are
// excluded. Default is DefaultMinScore.
func WithMinScore(score float32) Option {
	return func(s *Service) error {
		s.minScore = score
		return nil
	}
}

// WithEmbeddingCache routes query embeddings through a cache. Repeated
// queries then skip the provider entirely.
func WithEmbeddingCache(c *cache.Cache) Option {
	return func(s *Service) error {
		s.embeddings = c
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewService creates a retrieval service.
func NewService(embedder ai.Embedder, chunks storage.ChunkRepository, gen ai.Generator, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if gen == nil {
		return nil, ErrGeneratorRequired
	}

	s := &Service{
		embedder: embedder,
		chunks:   chunks,
		gen:      gen,
		minScore: DefaultMinScore,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.logger = s.logger.With("component", "retrieval")
	return s, nil
}

// Search returns the chunks most similar to the query, best first. A
// documentSet other than core.DocumentSetAll restricts the search. A
// negative minScore falls back to the service's configured threshold.
// Failures of the embedder or the store degrade to empty results.
func (s *Service) Search(ctx context.Context, query, documentSet string, limit int, minScore float32) ([]*core.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if documentSet == "" {
		documentSet = core.DocumentSetAll
	}
	if minScore < 0 {
		minScore = s.minScore
	}

	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("embedding unavailable, returning no results", "error", err)
		return []*core.ScoredChunk{}, nil
	}

	results, err := s.chunks.FindSimilar(ctx, vector, minScore, limit, documentSet)
	if err != nil {
		s.logger.Warn("vector store unavailable, returning no results", "error", err)
		return []*core.ScoredChunk{}, nil
	}
	if results == nil {
		results = []*core.ScoredChunk{}
	}
	return results, nil
}

// Answer synthesizes an answer to the query from the most similar chunks.
// Sources lists the distinct filenames the answer drew on, in retrieval
// order. A negative minScore falls back to the configured threshold.
// Returns core.ErrGenerationUnavailable when the generator fails.
func (s *Service) Answer(ctx context.Context, query, documentSet string, limit int, minScore float32) (*core.Answer, error) {
	results, err := s.Search(ctx, query, documentSet, limit, minScore)
	if err != nil {
		return nil, err
	}

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Chunk.Content
	}

	text, err := s.gen.Generate(ctx, query, passages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrGenerationUnavailable, err)
	}

	return &core.Answer{
		Text:    text,
		Sources: distinctSources(results),
	}, nil
}

// embedQuery embeds the query text, through the cache when configured.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.embeddings == nil {
		return s.embedder.EmbedText(ctx, query)
	}
	return s.embeddings.GetOrCompute(ctx, query, func(ctx context.Context) ([]float32, error) {
		return s.embedder.EmbedText(ctx, query)
	})
}

// distinctSources returns the unique filenames in first-appearance order.
func distinctSources(results []*core.ScoredChunk) []string {
	var sources []string
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		name := r.Chunk.Filename
		if !seen[name] {
			seen[name] = true
			sources = append(sources, name)
		}
	}
	return sources
}
