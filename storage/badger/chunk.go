package badger

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	if backend == nil {
		return nil, storage.ErrStorageClosed
	}
	return &ChunkRepository{backend: backend}, nil
}

// Close releases repository resources.
func (r *ChunkRepository) Close() error {
	return nil
}

// UpsertChunks inserts or replaces chunks by ID within one transaction.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks ...*core.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		// Stored timestamps carry microsecond precision.
		now := time.Now().UTC().Truncate(time.Microsecond)
		for _, chunk := range chunks {
			if err := core.ValidateChunk(chunk); err != nil {
				return err
			}

			// The ID derives from the chunk coordinates, so re-ingesting a
			// document lands on the same keys.
			chunk.Id = core.ChunkID(chunk.DocumentSet, chunk.Filename, chunk.Index)

			key := makeChunkKey(chunk.Id)
			old, err := r.readChunk(tx, key)
			if err != nil {
				return err
			}

			// Re-ingesting the same content keeps the original insert time.
			if old != nil {
				chunk.InsertedAt = old.InsertedAt
			} else if chunk.InsertedAt.IsZero() {
				chunk.InsertedAt = now
			}
			chunk.UpdatedAt = now

			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}

			docKey := makeChunkDocKey(chunk.DocumentSet, chunk.Filename, chunk.Id)
			if err := tx.Set(docKey, storage.MarshalID(chunk.Id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// FindSimilar finds chunks similar to the given vector.
func (r *ChunkRepository) FindSimilar(ctx context.Context, vector []float32, minScore float32, limit int, documentSet string) ([]*core.ScoredChunk, error) {
	if len(vector) == 0 || limit < 1 {
		return nil, storage.ErrInvalidQuery
	}

	var results []*core.ScoredChunk

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkRecordPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunk *core.DocumentChunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if chunk == nil || len(chunk.Vector) == 0 {
				continue
			}

			if documentSet != core.DocumentSetAll && chunk.DocumentSet != documentSet {
				continue
			}

			score := cosineSimilarity(vector, chunk.Vector)
			if score >= minScore {
				results = append(results, &core.ScoredChunk{
					Chunk: chunk,
					Score: score,
				})
			}
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}

	// Sort by score descending; ties break by insertion time, oldest first.
	// Chunks written in the same transaction share a timestamp, so the ID
	// keeps the ordering stable across runs.
	slices.SortFunc(results, func(a, b *core.ScoredChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.Chunk.InsertedAt.Before(b.Chunk.InsertedAt) {
			return -1
		}
		if b.Chunk.InsertedAt.Before(a.Chunk.InsertedAt) {
			return 1
		}
		if a.Chunk.Id < b.Chunk.Id {
			return -1
		}
		if a.Chunk.Id > b.Chunk.Id {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// DeleteDocument removes all chunks stored under the given set and filename.
func (r *ChunkRepository) DeleteDocument(ctx context.Context, documentSet, filename string) (int, error) {
	var count int

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialChunkDocKey(documentSet, filename)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		var indexKeys [][]byte
		var ids []core.ID

		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			key := item.KeyCopy(nil)

			var id core.ID
			err := item.Value(func(val []byte) error {
				var err error
				id, err = storage.UnmarshalID(val)
				return err
			})
			if err != nil {
				iter.Close()
				return err
			}

			indexKeys = append(indexKeys, key)
			ids = append(ids, id)
		}
		iter.Close()

		for i, key := range indexKeys {
			if err := tx.Delete(key); err != nil {
				return err
			}
			if err := tx.Delete(makeChunkKey(ids[i])); err != nil {
				return err
			}
		}

		count = len(ids)
		return tx.Commit()
	}, true)

	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListDocuments returns one entry per indexed document with its chunk count.
func (r *ChunkRepository) ListDocuments(ctx context.Context, documentSet string) ([]*core.DocumentInfo, error) {
	var infos []*core.DocumentInfo

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkDocumentPrefix)
		opts.PrefetchValues = false

		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Index keys sort by set then filename, so documents arrive grouped.
		for iter.Rewind(); iter.Valid(); iter.Next() {
			set, filename, err := parseChunkDocKey(iter.Item().Key())
			if err != nil {
				return err
			}

			if documentSet != core.DocumentSetAll && set != documentSet {
				continue
			}

			last := len(infos) - 1
			if last >= 0 && infos[last].DocumentSet == set && infos[last].Filename == filename {
				infos[last].ChunkCount++
				continue
			}
			infos = append(infos, &core.DocumentInfo{
				Filename:    filename,
				DocumentSet: set,
				ChunkCount:  1,
			})
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}
	return infos, nil
}

// readChunk reads a chunk record, returning nil if it doesn't exist.
func (r *ChunkRepository) readChunk(tx *badger.Txn, key []byte) (*core.DocumentChunk, error) {
	item, err := tx.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var chunk *core.DocumentChunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float32 {
	minLen := min(len(a), len(b))

	var dot, normA, normB float64
	for i := 0; i < minLen; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	for i := minLen; i < len(a); i++ {
		normA += float64(a[i]) * float64(a[i])
	}
	for i := minLen; i < len(b); i++ {
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
