package cache

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidCapacity(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(-5)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	calls := 0
	compute := func(context.Context) ([]float32, error) {
		calls++
		return []float32{1, 2, 3}, nil
	}

	ctx := context.Background()
	first, err := c.GetOrCompute(ctx, "hello world", compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, "hello world", compute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestNormalizationSharesEntries(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	calls := 0
	compute := func(context.Context) ([]float32, error) {
		calls++
		return []float32{42}, nil
	}

	ctx := context.Background()
	_, err = c.GetOrCompute(ctx, "Hello   World", compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "hello world", compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "  HELLO\tWORLD  ", compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)

	hits, _ := c.Stats()
	assert.Equal(t, uint64(2), hits)
}

func TestEvictsOldestEntry(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	ctx := context.Background()
	computes := make(map[string]int)
	track := func(text string, v float32) ComputeFunc {
		return func(context.Context) ([]float32, error) {
			computes[text]++
			return []float32{v}, nil
		}
	}

	_, err = c.GetOrCompute(ctx, "alpha", track("alpha", 1))
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "beta", track("beta", 2))
	require.NoError(t, err)

	// Third insert evicts the oldest entry (alpha).
	_, err = c.GetOrCompute(ctx, "gamma", track("gamma", 3))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	// beta and gamma still hit, alpha must recompute.
	_, err = c.GetOrCompute(ctx, "beta", track("beta", 2))
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "gamma", track("gamma", 3))
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "alpha", track("alpha", 1))
	require.NoError(t, err)

	assert.Equal(t, 2, computes["alpha"])
	assert.Equal(t, 1, computes["beta"])
	assert.Equal(t, 1, computes["gamma"])
}

func TestComputeErrorNotCached(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, assert.AnError
		}
		return []float32{7}, nil
	}

	_, err = c.GetOrCompute(ctx, "flaky", compute)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	vector, err := c.GetOrCompute(ctx, "flaky", compute)
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, vector)
	assert.Equal(t, 2, calls)
}

func TestConcurrentAccessSingleCompute(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func(context.Context) ([]float32, error) {
		calls.Add(1)
		<-release
		return []float32{9}, nil
	}

	ctx := context.Background()
	const goroutines = 16

	var wg sync.WaitGroup
	results := make([][]float32, goroutines)
	errs := make([]error, goroutines)
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(ctx, "shared", compute)
		}()
	}

	// Let the goroutines pile up on the in-flight call, then release it.
	for calls.Load() == 0 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	for i := range goroutines {
		require.NoError(t, errs[i])
		assert.Equal(t, []float32{9}, results[i])
	}
	assert.Equal(t, int64(1), calls.Load())
}
