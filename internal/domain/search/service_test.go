package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{f.vec}, nil
}

type fakeSearcher struct {
	results []ingest.SearchResult
	err     error
	lastOpt ingest.SearchOptions
	lastVec []float32
}

func (f *fakeSearcher) SearchSimilar(_ context.Context, vector []float32, _ string, opts ingest.SearchOptions) ([]ingest.SearchResult, error) {
	f.lastVec = vector
	f.lastOpt = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	e := NewEngine(testLogger(), fakeEmbedder{}, &fakeSearcher{}, "model-x")
	_, err := e.Search(context.Background(), Query{Text: "   "})
	if err == nil {
		t.Fatal("expected an error for empty query")
	}
}

func TestSearchEmbedsAndReturnsHits(t *testing.T) {
	searcher := &fakeSearcher{results: []ingest.SearchResult{
		{ChunkID: uuid.New(), Similarity: 0.9},
	}}
	e := NewEngine(testLogger(), fakeEmbedder{vec: []float32{0.1, 0.2}}, searcher, "model-x")

	res, err := e.Search(context.Background(), Query{Text: "what is go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 1 || len(res.Hits) != 1 {
		t.Fatalf("expected 1 hit, got %#v", res)
	}
	if len(searcher.lastVec) != 2 {
		t.Fatalf("expected query vector passed through, got %v", searcher.lastVec)
	}
}

func TestSearchClampsLimitToMax(t *testing.T) {
	searcher := &fakeSearcher{}
	e := NewEngine(testLogger(), fakeEmbedder{vec: []float32{0.1}}, searcher, "model-x")

	_, err := e.Search(context.Background(), Query{Text: "q", Limit: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.lastOpt.Limit != maxLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxLimit, searcher.lastOpt.Limit)
	}
}

func TestSearchPropagatesEmbedderError(t *testing.T) {
	e := NewEngine(testLogger(), fakeEmbedder{err: errors.New("boom")}, &fakeSearcher{}, "model-x")
	_, err := e.Search(context.Background(), Query{Text: "q"})
	if err == nil {
		t.Fatal("expected embedder error to propagate")
	}
}

func TestSearchByVectorRejectsEmptyVector(t *testing.T) {
	e := NewEngine(testLogger(), fakeEmbedder{}, &fakeSearcher{}, "model-x")
	_, err := e.SearchByVector(context.Background(), nil, Query{})
	if err == nil {
		t.Fatal("expected an error for empty vector")
	}
}
