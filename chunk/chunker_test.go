package chunk

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	c := New()
	if c.Size != DefaultSize {
		t.Errorf("expected Size %d, got %d", DefaultSize, c.Size)
	}
	if c.Overlap != DefaultOverlap {
		t.Errorf("expected Overlap %d, got %d", DefaultOverlap, c.Overlap)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	c := &Chunker{Size: 10, Overlap: 3}
	if chunks := c.Split(""); len(chunks) != 0 {
		t.Errorf("expected 0 chunks for empty text, got %d", len(chunks))
	}
}

func TestSplit_TextShorterThanSize(t *testing.T) {
	c := &Chunker{Size: 100, Overlap: 20}
	chunks := c.Split("hello")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "hello" {
		t.Errorf("expected chunk 'hello', got %q", chunks[0])
	}
}

func TestSplit_BasicChunking(t *testing.T) {
	c := &Chunker{Size: 5, Overlap: 2}
	// "abcdefghij" (10 chars), step = 5-2 = 3
	// chunk 0: [0:5] = "abcde"
	// chunk 1: [3:8] = "defgh"
	// chunk 2: [6:10] = "ghij"
	chunks := c.Split("abcdefghij")
	expected := []string{"abcde", "defgh", "ghij"}
	if len(chunks) != len(expected) {
		t.Fatalf("expected %d chunks, got %d", len(expected), len(chunks))
	}
	for i, exp := range expected {
		if chunks[i] != exp {
			t.Errorf("chunk %d: expected %q, got %q", i, exp, chunks[i])
		}
	}
}

func TestSplit_OverlapCarriesBoundarySpans(t *testing.T) {
	c := &Chunker{Size: 6, Overlap: 2}
	text := "0123456789abcdef"
	chunks := c.Split(text)

	// Every adjacent pair shares exactly Overlap characters.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-2:]
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with tail of chunk %d: %q vs %q", i, i-1, chunks[i], tail)
		}
	}

	// Last chunk ends exactly at end of text.
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last) {
		t.Errorf("last chunk %q is not a suffix of the text", last)
	}
}

func TestSplit_OverlapClamp(t *testing.T) {
	// Overlap >= Size would never advance; it is clamped to Size-1.
	c := &Chunker{Size: 4, Overlap: 10}
	chunks := c.Split("abcdefgh")
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if chunks[0] != "abcd" {
		t.Errorf("expected first chunk 'abcd', got %q", chunks[0])
	}
}

func TestSplit_MultiChunkUnit(t *testing.T) {
	// A 1200-char unit at size 500 / overlap 50 produces three chunks.
	c := &Chunker{Size: 500, Overlap: 50}
	unit := strings.Repeat("x", 1200)

	chunks := c.Split(unit)
	if len(chunks) != 3 {
		t.Errorf("expected 3 chunks for 1200 chars at 500/50, got %d", len(chunks))
	}
}
