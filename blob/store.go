// Package blob abstracts the file storage backend that holds uploaded
// documents. The pipeline only needs get/put/delete by document set and
// filename; the physical backend is a collaborator.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound indicates the requested blob does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrEmptyName indicates an empty filename or document set.
	ErrEmptyName = errors.New("filename and document set required")
)

// Store provides access to raw document bytes, grouped by document set.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns a reader over the blob's bytes.
	// The caller must close the reader. Returns ErrNotFound if absent.
	Get(ctx context.Context, documentSet, filename string) (io.ReadCloser, error)

	// Put stores the blob, overwriting any previous content.
	Put(ctx context.Context, documentSet, filename string, r io.Reader) error

	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, documentSet, filename string) error
}
