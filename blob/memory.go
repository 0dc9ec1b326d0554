package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func blobKey(documentSet, filename string) string {
	return documentSet + "/" + filename
}

// Get returns a reader over the blob's bytes.
func (s *MemoryStore) Get(ctx context.Context, documentSet, filename string) (io.ReadCloser, error) {
	if documentSet == "" || filename == "" {
		return nil, ErrEmptyName
	}

	s.mu.RLock()
	data, ok := s.blobs[blobKey(documentSet, filename)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put stores the blob, overwriting any previous content.
func (s *MemoryStore) Put(ctx context.Context, documentSet, filename string, r io.Reader) error {
	if documentSet == "" || filename == "" {
		return ErrEmptyName
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.blobs[blobKey(documentSet, filename)] = data
	s.mu.Unlock()
	return nil
}

// Delete removes the blob.
func (s *MemoryStore) Delete(ctx context.Context, documentSet, filename string) error {
	if documentSet == "" || filename == "" {
		return ErrEmptyName
	}

	s.mu.Lock()
	delete(s.blobs, blobKey(documentSet, filename))
	s.mu.Unlock()
	return nil
}
