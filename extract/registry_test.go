package extract

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory(count *int) Factory {
	return func() (Extractor, error) {
		*count++
		return Func(func(ctx context.Context, r io.Reader, filename string) ([]Unit, error) {
			return []Unit{{Ref: "page-1", Text: "hello"}}, nil
		}), nil
	}
}

func TestRegistryLazyConstruction(t *testing.T) {
	var built int
	registry, err := NewRegistry(noopFactory(&built), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, built, "factory must not run before first use")

	p1, err := registry.Get(PipelineStandard)
	require.NoError(t, err)
	assert.Equal(t, 1, built)

	p2, err := registry.Get(PipelineStandard)
	require.NoError(t, err)
	assert.Equal(t, 1, built, "pipeline must be reused, not rebuilt")
	assert.Equal(t, reflect.ValueOf(p1).Pointer(), reflect.ValueOf(p2).Pointer())
}

func TestRegistryRelease(t *testing.T) {
	var built int
	registry, err := NewRegistry(noopFactory(&built), nil)
	require.NoError(t, err)

	_, err = registry.Get(PipelineStandard)
	require.NoError(t, err)

	registry.Release()

	_, err = registry.Get(PipelineStandard)
	require.NoError(t, err)
	assert.Equal(t, 2, built, "Get after Release must construct a fresh pipeline")
	assert.Equal(t, 2, registry.Builds(PipelineStandard))
}

func TestRegistryUnknownPipeline(t *testing.T) {
	var built int
	registry, err := NewRegistry(noopFactory(&built), nil)
	require.NoError(t, err)

	_, err = registry.Get(PipelineVLM)
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestRegistryRequiresStandardFactory(t *testing.T) {
	_, err := NewRegistry(nil, nil)
	assert.ErrorIs(t, err, ErrFactoryRequired)
}

func TestPlainExtractor(t *testing.T) {
	e := NewPlainExtractor()
	ctx := context.Background()

	t.Run("single page", func(t *testing.T) {
		units, err := e.Extract(ctx, strings.NewReader("some document text"), "doc.txt")
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Equal(t, "page-1", units[0].Ref)
		assert.Equal(t, "some document text", units[0].Text)
	})

	t.Run("form feed separates pages", func(t *testing.T) {
		units, err := e.Extract(ctx, strings.NewReader("first\fsecond\f\fthird"), "doc.md")
		require.NoError(t, err)
		require.Len(t, units, 3)
		assert.Equal(t, "second", units[1].Text)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := e.Extract(ctx, strings.NewReader("x"), "doc.docx")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("binary content rejected", func(t *testing.T) {
		_, err := e.Extract(ctx, strings.NewReader("\xff\xfe\x00"), "doc.txt")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}
