package extract

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// PlainExtractor handles plain-text and markdown documents.
// Form feeds in the source are treated as page separators.
type PlainExtractor struct{}

var _ Extractor = (*PlainExtractor)(nil)

// NewPlainExtractor creates a plain-text extractor.
func NewPlainExtractor() *PlainExtractor {
	return &PlainExtractor{}
}

// Extract reads the document and splits it into page units on form feeds.
func (e *PlainExtractor) Extract(ctx context.Context, r io.Reader, filename string) ([]Unit, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".text", "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedFormat, filename)
	}

	var units []Unit
	for i, page := range strings.Split(string(data), "\f") {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		units = append(units, Unit{
			Ref:  fmt.Sprintf("page-%d", i+1),
			Text: page,
		})
	}

	return units, nil
}
