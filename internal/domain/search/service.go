// Package search implements the semantic Search Engine: embed a query,
// run a pgvector similarity lookup, and return ranked chunk hits.
package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
	apperrors "github.com/yanqian/ingest-engine/pkg/errors"
)

// Embedder is the subset of ingest.Embedder the search engine needs; kept
// as its own interface so search doesn't otherwise depend on the ingest
// package's wider surface.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SimilaritySearcher is the subset of ingest.EmbeddingRepository the
// search engine drives.
type SimilaritySearcher interface {
	SearchSimilar(ctx context.Context, vector []float32, modelName string, opts ingest.SearchOptions) ([]ingest.SearchResult, error)
}

// Query is one semantic search request.
type Query struct {
	Text                string
	Limit               int
	SimilarityThreshold *float64
	FileID              *uuid.UUID
}

// Result wraps the ranked hits plus timing, matching the spec's
// (results, total, elapsed) return shape.
type Result struct {
	Hits    []ingest.SearchResult
	Total   int
	Elapsed time.Duration
}

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Engine answers semantic queries against the embedding index.
type Engine struct {
	logger    *slog.Logger
	embedder  Embedder
	searcher  SimilaritySearcher
	modelName string
}

// NewEngine constructs a search Engine.
func NewEngine(logger *slog.Logger, embedder Embedder, searcher SimilaritySearcher, modelName string) *Engine {
	return &Engine{
		logger:    logger.With("component", "search.Engine"),
		embedder:  embedder,
		searcher:  searcher,
		modelName: modelName,
	}
}

// Search embeds the query text and returns ranked chunk hits.
func (e *Engine) Search(ctx context.Context, q Query) (Result, error) {
	start := time.Now()

	if strings.TrimSpace(q.Text) == "" {
		return Result{}, apperrors.Wrap("EMPTY_QUERY", "query text must not be empty", nil)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	vectors, err := e.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return Result{}, apperrors.Wrap("embedding_failed", "embedding query text", err)
	}
	if len(vectors) != 1 {
		return Result{}, apperrors.Wrap("embedding_failed", "embedder returned an unexpected vector count", nil)
	}

	opts := ingest.SearchOptions{
		Limit:               limit,
		SimilarityThreshold: q.SimilarityThreshold,
		FileID:              q.FileID,
	}
	hits, err := e.searcher.SearchSimilar(ctx, vectors[0], e.modelName, opts)
	if err != nil {
		return Result{}, apperrors.Wrap("search_failed", "similarity search", err)
	}

	return Result{Hits: hits, Total: len(hits), Elapsed: time.Since(start)}, nil
}

// SearchByVector runs a similarity search against a caller-supplied
// vector, bypassing the embedder — used by the raw-vector search endpoint.
func (e *Engine) SearchByVector(ctx context.Context, vector []float32, q Query) (Result, error) {
	start := time.Now()
	if len(vector) == 0 {
		return Result{}, apperrors.Wrap("EMPTY_QUERY", "vector must not be empty", nil)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	opts := ingest.SearchOptions{
		Limit:               limit,
		SimilarityThreshold: q.SimilarityThreshold,
		FileID:              q.FileID,
	}
	hits, err := e.searcher.SearchSimilar(ctx, vector, e.modelName, opts)
	if err != nil {
		return Result{}, apperrors.Wrap("search_failed", "similarity search", err)
	}
	return Result{Hits: hits, Total: len(hits), Elapsed: time.Since(start)}, nil
}
