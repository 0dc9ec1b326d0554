// Package extract turns raw document bytes into text units ready for
// chunking. Parsers for rich formats are expensive collaborators; the
// Registry owns their lifecycle so a worker can construct them lazily and
// release them periodically.
package extract

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrUnsupportedFormat indicates the extractor cannot handle the file type.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrFactoryRequired is returned when a registry is built without a factory.
	ErrFactoryRequired = errors.New("pipeline factory required")

	// ErrUnknownPipeline indicates a pipeline kind with no registered factory.
	ErrUnknownPipeline = errors.New("unknown pipeline kind")
)

// Unit is one extracted text unit (a page, sheet, or section) with a
// reference identifying where in the source it came from.
type Unit struct {
	Ref  string
	Text string
}

// Extractor produces text units from a document's bytes.
// Implementations must be safe for concurrent use unless obtained through a
// Registry, which serializes access to non-reentrant pipelines.
type Extractor interface {
	// Extract parses the document and returns its text units in order.
	// The filename is used for format detection.
	Extract(ctx context.Context, r io.Reader, filename string) ([]Unit, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, r io.Reader, filename string) ([]Unit, error)

// Extract calls the wrapped function.
func (f Func) Extract(ctx context.Context, r io.Reader, filename string) ([]Unit, error) {
	return f(ctx, r, filename)
}
