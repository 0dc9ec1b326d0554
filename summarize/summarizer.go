// Package summarize produces model-written summaries of stored documents.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/corpus/ai"
	"github.com/poiesic/corpus/blob"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/extract"
)

// DefaultMaxChars bounds how much document text is handed to the model.
const DefaultMaxChars = 24000

var (
	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrRegistryRequired is returned when an extractor registry is not provided.
	ErrRegistryRequired = errors.New("extractor registry required")

	// ErrGeneratorRequired is returned when a generator is not provided.
	ErrGeneratorRequired = errors.New("generator required")

	// ErrEmptyDocument is returned when the document contains no text.
	ErrEmptyDocument = errors.New("document contains no text")
)

const summaryPrompt = "Write a concise summary of the document excerpts provided as context. " +
	"Cover the main points and omit boilerplate."

// Summarizer generates document summaries.
type Summarizer struct {
	blobs      blob.Store
	extractors *extract.Registry
	gen        ai.Generator
	maxChars   int
	logger     *slog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer) error

// WithMaxChars bounds the document text passed to the model.
// Default is DefaultMaxChars.
func WithMaxChars(n int) Option {
	return func(s *Summarizer) error {
		if n < 1 {
			return errors.New("max chars must be positive")
		}
		s.maxChars = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Summarizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a Summarizer.
func New(blobs blob.Store, extractors *extract.Registry, gen ai.Generator, opts ...Option) (*Summarizer, error) {
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if extractors == nil {
		return nil, ErrRegistryRequired
	}
	if gen == nil {
		return nil, ErrGeneratorRequired
	}

	s := &Summarizer{
		blobs:      blobs,
		extractors: extractors,
		gen:        gen,
		maxChars:   DefaultMaxChars,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.logger = s.logger.With("component", "summarizer")
	return s, nil
}

// Summarize extracts the document's text and asks the model for a summary.
// Returns core.ErrGenerationUnavailable when the generator fails.
func (s *Summarizer) Summarize(ctx context.Context, documentSet, filename string) (string, error) {
	r, err := s.blobs.Get(ctx, documentSet, filename)
	if err != nil {
		return "", fmt.Errorf("fetch document: %w", err)
	}
	defer r.Close()

	extractor, err := s.extractors.Get(extract.PipelineStandard)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	units, err := extractor.Extract(ctx, r, filename)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", core.ErrExtraction, filename, err)
	}

	passages := s.collect(units)
	if len(passages) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyDocument, filename)
	}

	summary, err := s.gen.Generate(ctx, summaryPrompt, passages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrGenerationUnavailable, err)
	}

	s.logger.Info("document summarized", "set", documentSet, "filename", filename, "passages", len(passages))
	return summary, nil
}

// collect gathers unit texts until the character budget runs out. Long
// documents are summarized from their head.
func (s *Summarizer) collect(units []extract.Unit) []string {
	var passages []string
	remaining := s.maxChars
	for _, unit := range units {
		if unit.Text == "" {
			continue
		}
		text := unit.Text
		if len(text) > remaining {
			text = text[:remaining]
		}
		passages = append(passages, text)
		remaining -= len(text)
		if remaining <= 0 {
			break
		}
	}
	return passages
}
