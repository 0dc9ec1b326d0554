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


package extract

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// PipelineKind selects an extraction pipeline.
type PipelineKind int

const (
	// PipelineStandard is the default extraction pipeline.
	PipelineStandard PipelineKind = iota + 1
	// PipelineVLM is the vision-augmented pipeline. Expensive to construct;
	// built lazily and released periodically to bound resident memory.
	PipelineVLM
)

func (k PipelineKind) String() string {
	switch k {
	case PipelineStandard:
		return "standard"
	case PipelineVLM:
		return "vlm"
	default:
		return fmt.Sprintf("PipelineKind(%d)", int(k))
	}
}

// Factory constructs an extraction pipeline.
type Factory func() (Extractor, error)

// Registry owns the extraction pipelines. A pipeline is constructed on first
// use, reused across tasks of the same kind, and dropped on Release. The
// registry is safe for concurrent use from multiple worker-local tasks.
type Registry struct {
	mu        sync.Mutex
	factories map[PipelineKind]Factory
	pipelines map[PipelineKind]Extractor
	builds    map[PipelineKind]int
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRegistry creates a registry with a factory per pipeline kind.
// The standard factory is required; the VLM factory may be nil, in which
// case VLM tasks fail with ErrUnknownPipeline.
func NewRegistry(standard, vlm Factory, opts ...RegistryOption) (*Registry, error) {
	if standard == nil {
		return nil, ErrFactoryRequired
	}

	r := &Registry{
		factories: map[PipelineKind]Factory{PipelineStandard: standard},
		pipelines: make(map[PipelineKind]Extractor),
		builds:    make(map[PipelineKind]int),
		logger:    slog.Default(),
	}
	if vlm != nil {
		r.factories[PipelineVLM] = vlm
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.logger = r.logger.With("component", "extract-registry")
	return r, nil
}

// Get returns the pipeline for the kind, constructing it on first use.
func (r *Registry) Get(kind PipelineKind) (Extractor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pipelines[kind]; ok {
		return p, nil
	}

	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, kind)
	}

	r.logger.Info("constructing extraction pipeline", "kind", kind.String())
	p, err := factory()
	if err != nil {
		return nil, err
	}

	r.pipelines[kind] = p
	r.builds[kind]++
	return p, nil
}

// Release drops all constructed pipelines so their memory can be reclaimed.
// Pipelines implementing io.Closer are closed; close errors are logged.
// The next Get constructs a fresh instance.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, p := range r.pipelines {
		if closer, ok := p.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				r.logger.Warn("error closing pipeline", "kind", kind.String(), "err", err)
			}
		}
		delete(r.pipelines, kind)
	}
}

// Builds returns how many times the given pipeline has been constructed.
func (r *Registry) Builds(kind PipelineKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds[kind]
}
