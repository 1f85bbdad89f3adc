// Package extractor implements the Extractor Registry: a tagged-variant
// dispatch table from source kind to the concrete extractor that knows
// how to normalize that kind of material into text fragments.
package extractor

import (
	"sync"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// Registry is a concurrency-safe map of source kind to extractor,
// populated once at startup and read on every job dispatch.
type Registry struct {
	mu         sync.RWMutex
	extractors map[ingest.SourceKind]ingest.Extractor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[ingest.SourceKind]ingest.Extractor)}
}

// Register implements ingest.ExtractorRegistry.
func (r *Registry) Register(e ingest.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Kind()] = e
}

// For implements ingest.ExtractorRegistry.
func (r *Registry) For(kind ingest.SourceKind) (ingest.Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[kind]
	return e, ok
}

var _ ingest.ExtractorRegistry = (*Registry)(nil)
