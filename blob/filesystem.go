package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore stores blobs on local disk under <root>/<set>/<filename>.
type FilesystemStore struct {
	root string
}

var _ Store = (*FilesystemStore)(nil)

// NewFilesystemStore creates a store rooted at the given directory,
// creating it if necessary.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemStore{root: root}, nil
}

// path validates the name components and joins them under the root.
// Path separators and traversal in the components are rejected.
func (s *FilesystemStore) path(documentSet, filename string) (string, error) {
	if documentSet == "" || filename == "" {
		return "", ErrEmptyName
	}
	for _, part := range []string{documentSet, filename} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", fmt.Errorf("%w: invalid name %q", ErrEmptyName, part)
		}
	}
	return filepath.Join(s.root, documentSet, filename), nil
}

// Get returns a reader over the blob's bytes.
func (s *FilesystemStore) Get(ctx context.Context, documentSet, filename string) (io.ReadCloser, error) {
	p, err := s.path(documentSet, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Put stores the blob, overwriting any previous content.
func (s *FilesystemStore) Put(ctx context.Context, documentSet, filename string, r io.Reader) error {
	p, err := s.path(documentSet, filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Delete removes the blob.
func (s *FilesystemStore) Delete(ctx context.Context, documentSet, filename string) error {
	p, err := s.path(documentSet, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
