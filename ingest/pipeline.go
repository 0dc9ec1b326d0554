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


package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/corpus/ai"
	"github.com/poiesic/corpus/blob"
	"github.com/poiesic/corpus/cache"
	"github.com/poiesic/corpus/chunk"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/extract"
	"github.com/poiesic/corpus/queue"
	"github.com/poiesic/corpus/storage"
)

// DefaultBatchSize bounds how many chunks are upserted per transaction.
const DefaultBatchSize = 64

// DefaultEmbedAttempts is the retry limit for embedding provider calls.
const DefaultEmbedAttempts = 3

// Pipeline orchestrates document ingestion: fetch, extract, chunk, embed,
// upsert.
type Pipeline struct {
	blobs      blob.Store
	extractors *extract.Registry
	chunker    *chunk.Chunker
	embedder   ai.Embedder
	chunks     storage.ChunkRepository

	embeddings     *cache.Cache // optional
	batchSize      int
	embedAttempts  int
	embedRetryBase time.Duration
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithBatchSize sets the upsert batch size.
// Default is DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return errors.New("batch size must be positive")
		}
		p.batchSize = n
		return nil
	}
}

// WithChunker overrides the text chunker.
func WithChunker(c *chunk.Chunker) Option {
	return func(p *Pipeline) error {
		if c == nil {
			return errors.New("chunker must not be nil")
		}
		p.chunker = c
		return nil
	}
}

// WithEmbeddingCache routes embedding lookups through a cache. Without a
// cache every chunk is embedded through the provider.
func WithEmbeddingCache(c *cache.Cache) Option {
	return func(p *Pipeline) error {
		p.embeddings = c
		return nil
	}
}

// WithEmbedRetry sets the retry policy for embedding provider calls.
// Defaults are DefaultEmbedAttempts attempts with a one second base delay.
func WithEmbedRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts < 1 {
			return queue.ErrInvalidMaxAttempts
		}
		if baseDelay <= 0 {
			return errors.New("base delay must be positive")
		}
		p.embedAttempts = attempts
		p.embedRetryBase = baseDelay
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(
	blobs blob.Store,
	extractors *extract.Registry,
	embedder ai.Embedder,
	chunks storage.ChunkRepository,
	opts ...Option,
) (*Pipeline, error) {
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if extractors == nil {
		return nil, ErrRegistryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}

	p := &Pipeline{
		blobs:          blobs,
		extractors:     extractors,
		chunker:        chunk.New(),
		embedder:       embedder,
		chunks:         chunks,
		batchSize:      DefaultBatchSize,
		embedAttempts:  DefaultEmbedAttempts,
		embedRetryBase: time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	p.logger = p.logger.With("component", "ingest-pipeline")
	return p, nil
}

// Ingest runs the full pipeline for one document. It is safe to call again
// for the same document: chunks land on the same IDs and are replaced.
func (p *Pipeline) Ingest(ctx context.Context, documentSet, filename string, pipeline extract.PipelineKind) (*core.IngestResult, error) {
	log := p.logger.With("set", documentSet, "filename", filename, "pipeline", pipeline)
	log.Info("ingesting document")

	chunks, err := p.extractChunks(ctx, documentSet, filename, pipeline)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		log.Warn("document produced no chunks")
		return &core.IngestResult{Filename: filename, DocumentSet: documentSet}, nil
	}

	if err := p.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))
		if err := p.chunks.UpsertChunks(ctx, chunks[start:end]...); err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %w", core.ErrUpsert, start, end, err)
		}
	}

	log.Info("document ingested", "chunks", len(chunks))
	return &core.IngestResult{
		Filename:    filename,
		DocumentSet: documentSet,
		ChunkCount:  len(chunks),
	}, nil
}

// Remove deletes a document's chunks and its stored blob.
func (p *Pipeline) Remove(ctx context.Context, documentSet, filename string) (int, error) {
	deleted, err := p.chunks.DeleteDocument(ctx, documentSet, filename)
	if err != nil {
		return 0, err
	}

	if err := p.blobs.Delete(ctx, documentSet, filename); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return deleted, err
	}

	p.logger.Info("document removed", "set", documentSet, "filename", filename, "chunks", deleted)
	return deleted, nil
}

// extractChunks fetches the document and turns it into unembedded chunks.
func (p *Pipeline) extractChunks(ctx context.Context, documentSet, filename string, pipeline extract.PipelineKind) ([]*core.DocumentChunk, error) {
	r, err := p.blobs.Get(ctx, documentSet, filename)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer r.Close()

	extractor, err := p.extractors.Get(pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	units, err := extractor.Extract(ctx, r, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrExtraction, filename, err)
	}

	var chunks []*core.DocumentChunk
	index := 0
	for _, unit := range units {
		for _, content := range p.chunker.Split(unit.Text) {
			chunks = append(chunks, &core.DocumentChunk{
				Id:          core.ChunkID(documentSet, filename, index),
				Filename:    filename,
				DocumentSet: documentSet,
				Index:       index,
				Content:     content,
				Metadata: map[string]string{
					"ref":      unit.Ref,
					"pipeline": pipeline.String(),
				},
			})
			index++
		}
	}
	return chunks, nil
}

// embedChunks fills in the vectors, through the cache when one is
// configured. Provider calls are retried with exponential backoff.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []*core.DocumentChunk) error {
	if p.embeddings == nil {
		return p.embedBatched(ctx, chunks)
	}

	for _, c := range chunks {
		vector, err := p.embeddings.GetOrCompute(ctx, c.Content, func(ctx context.Context) ([]float32, error) {
			var v []float32
			err := queue.RetryWithBackoff(ctx, func() error {
				var embedErr error
				v, embedErr = p.embedder.EmbedText(ctx, c.Content)
				return embedErr
			}, p.embedAttempts, p.embedRetryBase)
			return v, err
		})
		if err != nil {
			return fmt.Errorf("%w: chunk %d: %w", core.ErrEmbeddingProvider, c.Index, err)
		}
		c.Vector = vector
	}
	return nil
}

// embedBatched embeds chunks in provider batches of batchSize.
func (p *Pipeline) embedBatched(ctx context.Context, chunks []*core.DocumentChunk) error {
	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		var vectors [][]float32
		err := queue.RetryWithBackoff(ctx, func() error {
			var embedErr error
			vectors, embedErr = p.embedder.EmbedTexts(ctx, texts)
			return embedErr
		}, p.embedAttempts, p.embedRetryBase)
		if err != nil {
			return fmt.Errorf("%w: batch %d-%d: %w", core.ErrEmbeddingProvider, start, end, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("%w: expected %d vectors, received %d", core.ErrEmbeddingProvider, len(batch), len(vectors))
		}

		for i := range batch {
			batch[i].Vector = vectors[i]
		}
	}
	return nil
}
