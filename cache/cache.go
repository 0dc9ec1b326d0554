// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package cache provides a bounded in-process cache for text embeddings.
//
// The cache is a pure performance optimization: a miss recomputes through the
// provided function, so cache behavior can never change correctness, only
// latency. Keys are BLAKE2b hashes of normalized text, so repeated queries
// differing only in case or incidental whitespace share an entry.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/corpus/core"
)

// ErrInvalidCapacity is returned when a cache is created with capacity < 1.
var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// ComputeFunc produces an embedding for text on a cache miss.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// call tracks an in-flight computation so concurrent misses for the same key
// share one provider call (best-effort single flight).
type call struct {
	done   chan struct{}
	vector []float32
	err    error
}

// Cache is a bounded embedding cache with oldest-inserted-first eviction.
// Safe for concurrent use.
type Cache struct {
	capacity int
	logger   *slog.Logger

	mu       sync.Mutex
	entries  map[core.ID][]float32
	order    []core.ID // insertion order, oldest first
	inflight map[core.ID]*call

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a cache holding at most capacity entries. Inserting beyond the
// limit evicts exactly the oldest entry, so the cache never grows unbounded.
func New(capacity int, opts ...Option) (*Cache, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	c := &Cache{
		capacity: capacity,
		logger:   slog.Default(),
		entries:  make(map[core.ID][]float32, capacity),
		inflight: make(map[core.ID]*call),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.logger = c.logger.With("component", "embedding-cache")
	return c, nil
}

// Key derives the cache key from normalized text. Normalization lowercases
// and collapses whitespace; the same path serves both store and lookup.
func Key(text string) core.ID {
	return core.IDFromContent(normalize(text))
}

func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// GetOrCompute returns the cached embedding for text, computing and storing
// it on a miss. Compute errors are returned to the caller and nothing is
// cached, so a failing provider degrades to "always recompute".
func (c *Cache) GetOrCompute(ctx context.Context, text string, compute ComputeFunc) ([]float32, error) {
	key := Key(text)

	c.mu.Lock()
	if vector, ok := c.entries[key]; ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return vector, nil
	}

	// Join an in-flight computation for the same key if one exists.
	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.misses.Add(1)
		select {
		case <-inflight.done:
			return inflight.vector, inflight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	pending := &call{done: make(chan struct{})}
	c.inflight[key] = pending
	c.mu.Unlock()

	c.misses.Add(1)
	vector, err := compute(ctx)
	pending.vector = vector
	pending.err = err
	close(pending.done)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.insert(key, vector)
	}
	c.mu.Unlock()

	return vector, err
}

// insert stores the entry, evicting the oldest if the cache is full.
// Caller holds c.mu.
func (c *Cache) insert(key core.ID, vector []float32) {
	if _, ok := c.entries[key]; ok {
		c.entries[key] = vector
		return
	}

	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.logger.Debug("evicted cache entry", "key", uint64(oldest))
	}

	c.entries[key] = vector
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
