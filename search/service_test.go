package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/corpus/ai/mock"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
	storagebadger "github.com/poiesic/corpus/storage/badger"
)

func newTestService(t *testing.T, opts ...Option) (*Service, storage.ChunkRepository, *mock.MockEmbedder, *mock.MockGenerator) {
	t.Helper()

	chunkRepo, taskRepo, backend, err := storagebadger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { taskRepo.Close(); chunkRepo.Close(); backend.Close() })

	embedder := mock.NewMockEmbedder()
	gen := mock.NewMockGenerator()

	svc, err := NewService(embedder, chunkRepo, gen, opts...)
	require.NoError(t, err)
	return svc, chunkRepo, embedder, gen
}

func indexChunk(t *testing.T, chunks storage.ChunkRepository, set, filename string, index int, content string, vector []float32) {
	t.Helper()
	err := chunks.UpsertChunks(context.Background(), &core.DocumentChunk{
		Id:          core.ChunkID(set, filename, index),
		Filename:    filename,
		DocumentSet: set,
		Index:       index,
		Content:     content,
		Vector:      vector,
	})
	require.NoError(t, err)
}

func TestSearchFiltersAndOrders(t *testing.T) {
	svc, chunks, embedder, _ := newTestService(t, WithMinScore(0.5))
	ctx := context.Background()

	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	indexChunk(t, chunks, "docs", "close.txt", 0, "close", []float32{1, 0})
	indexChunk(t, chunks, "docs", "mid.txt", 0, "mid", []float32{0.8, 0.6})
	indexChunk(t, chunks, "docs", "far.txt", 0, "far", []float32{0, 1})

	results, err := svc.Search(ctx, "anything", core.DocumentSetAll, 10, -1)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].Chunk.Content)
	assert.Equal(t, "mid", results[1].Chunk.Content)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchPerCallThresholdOverridesDefault(t *testing.T) {
	svc, chunks, embedder, _ := newTestService(t, WithMinScore(0.5))
	ctx := context.Background()

	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	indexChunk(t, chunks, "docs", "close.txt", 0, "close", []float32{1, 0})
	indexChunk(t, chunks, "docs", "mid.txt", 0, "mid", []float32{0.8, 0.6})
	indexChunk(t, chunks, "docs", "far.txt", 0, "far", []float32{0, 1})

	// A stricter per-call threshold narrows the result set.
	results, err := svc.Search(ctx, "anything", core.DocumentSetAll, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Chunk.Content)

	// A looser one widens it past the configured default.
	results, err = svc.Search(ctx, "anything", core.DocumentSetAll, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Negative falls back to the configured default.
	results, err = svc.Search(ctx, "anything", core.DocumentSetAll, 10, -1)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Search(context.Background(), "   ", core.DocumentSetAll, 10, -1)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchDegradesOnEmbedderFailure(t *testing.T) {
	svc, chunks, embedder, _ := newTestService(t)
	ctx := context.Background()

	indexChunk(t, chunks, "docs", "a.txt", 0, "content", []float32{1, 0})

	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("provider down")
	}

	results, err := svc.Search(ctx, "query", core.DocumentSetAll, 10, -1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchEmptyIndex(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	results, err := svc.Search(context.Background(), "query", core.DocumentSetAll, 10, -1)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestAnswerCitesDistinctSources(t *testing.T) {
	svc, chunks, embedder, _ := newTestService(t)
	ctx := context.Background()

	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	// Two chunks from the same file plus one from another: two sources.
	indexChunk(t, chunks, "docs", "guide.txt", 0, "part one", []float32{1, 0})
	indexChunk(t, chunks, "docs", "guide.txt", 1, "part two", []float32{0.9, 0.1})
	indexChunk(t, chunks, "docs", "notes.txt", 0, "aside", []float32{0.8, 0.2})

	answer, err := svc.Answer(ctx, "how does it work?", core.DocumentSetAll, 10, -1)
	require.NoError(t, err)

	assert.NotEmpty(t, answer.Text)
	assert.Equal(t, []string{"guide.txt", "notes.txt"}, answer.Sources)
}

func TestAnswerGenerationUnavailable(t *testing.T) {
	svc, chunks, _, gen := newTestService(t)
	ctx := context.Background()

	indexChunk(t, chunks, "docs", "a.txt", 0, "content", mock.DeterministicVector("content", 8))

	gen.GenerateFunc = func(ctx context.Context, prompt string, contextChunks []string) (string, error) {
		return "", errors.New("model offline")
	}

	_, err := svc.Answer(ctx, "query", core.DocumentSetAll, 10, -1)
	assert.ErrorIs(t, err, core.ErrGenerationUnavailable)
}

func TestAnswerWithNoMatches(t *testing.T) {
	svc, _, _, gen := newTestService(t)

	var gotPassages []string
	gen.GenerateFunc = func(ctx context.Context, prompt string, contextChunks []string) (string, error) {
		gotPassages = contextChunks
		return "I have no relevant documents for that.", nil
	}

	answer, err := svc.Answer(context.Background(), "query", core.DocumentSetAll, 10, -1)
	require.NoError(t, err)
	assert.Empty(t, gotPassages)
	assert.Empty(t, answer.Sources)
	assert.NotEmpty(t, answer.Text)
}

func TestNewServiceValidatesCollaborators(t *testing.T) {
	chunkRepo, taskRepo, backend, err := storagebadger.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() { taskRepo.Close(); chunkRepo.Close(); backend.Close() }()

	embedder := mock.NewMockEmbedder()
	gen := mock.NewMockGenerator()

	_, err = NewService(nil, chunkRepo, gen)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewService(embedder, nil, gen)
	assert.ErrorIs(t, err, ErrChunkRepositoryRequired)

	_, err = NewService(embedder, chunkRepo, nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)
}
