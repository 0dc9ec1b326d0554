// Package chunk splits extracted document text into overlapping fixed-size
// chunks. The overlap guarantees that statements spanning a chunk boundary
// remain retrievable from at least one chunk.
package chunk

// DefaultSize is the default number of bytes per chunk.
const DefaultSize = 1000

// DefaultOverlap is the default number of overlapping bytes between adjacent chunks.
const DefaultOverlap = 100

// Chunker splits text into fixed-size chunks with configurable overlap.
type Chunker struct {
	Size    int // default 1000
	Overlap int // default 100
}

// New creates a Chunker with default settings.
func New() *Chunker {
	return &Chunker{
		Size:    DefaultSize,
		Overlap: DefaultOverlap,
	}
}

// Split divides text into chunks of Size bytes with Overlap bytes shared
// between adjacent chunks.
//
// Returns nil for empty text.
// Returns a single chunk if text fits within Size.
// The last chunk may be shorter than Size.
func (c *Chunker) Split(text string) []string {
	if len(text) == 0 {
		return nil
	}

	size := c.Size
	if size <= 0 {
		size = DefaultSize
	}

	overlap := c.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	step := size - overlap
	var chunks []string

	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}

		chunks = append(chunks, text[start:end])

		if end == len(text) {
			break
		}
	}

	return chunks
}
