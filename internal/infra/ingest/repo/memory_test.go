package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

func TestMemoryJobRepositoryClaimNextPicksOldestQueued(t *testing.T) {
	jobs := NewMemoryJobRepository()
	older := ingest.Job{ID: uuid.New(), Status: ingest.JobStatusQueued, CreatedAt: time.Unix(100, 0)}
	newer := ingest.Job{ID: uuid.New(), Status: ingest.JobStatusQueued, CreatedAt: time.Unix(200, 0)}
	_ = jobs.Create(context.Background(), newer)
	_ = jobs.Create(context.Background(), older)

	claimed, ok, err := jobs.ClaimNext(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a claim, err=%v ok=%v", err, ok)
	}
	if claimed.ID != older.ID {
		t.Fatalf("expected oldest job claimed, got %s", claimed.ID)
	}
	if claimed.Status != ingest.JobStatusProcessing {
		t.Fatalf("expected processing status, got %s", claimed.Status)
	}
}

func TestMemoryJobRepositoryClaimNextSkipsNonQueued(t *testing.T) {
	jobs := NewMemoryJobRepository()
	done := ingest.Job{ID: uuid.New(), Status: ingest.JobStatusCompleted, CreatedAt: time.Unix(1, 0)}
	_ = jobs.Create(context.Background(), done)

	_, ok, err := jobs.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no claimable job")
	}
}

func TestMemoryJobRepositoryVersionConflict(t *testing.T) {
	jobs := NewMemoryJobRepository()
	id := uuid.New()
	_ = jobs.Create(context.Background(), ingest.Job{ID: id, Status: ingest.JobStatusQueued})

	if err := jobs.Fail(context.Background(), id, 99, "failed:test"); err == nil {
		t.Fatal("expected version conflict error")
	}
}

func TestMemoryPersisterCommitsChunksAndCompletesJob(t *testing.T) {
	chunks := NewMemoryChunkRepository()
	embeds := NewMemoryEmbeddingRepository(chunks)
	jobs := NewMemoryJobRepository()
	persister := NewMemoryPersister(chunks, embeds, jobs)

	jobID := uuid.New()
	_ = jobs.Create(context.Background(), ingest.Job{ID: jobID, Status: ingest.JobStatusProcessing})
	j, _, _ := jobs.Get(context.Background(), jobID)

	fileID := uuid.New()
	chunkID := uuid.New()
	items := []ingest.PersistedChunk{
		{
			Chunk:     ingest.Chunk{ID: chunkID, FileID: fileID, ChunkIndex: 0, Text: "hello"},
			Embedding: ingest.Embedding{ID: uuid.New(), ChunkID: chunkID, Vector: []float32{1, 0, 0}, ModelName: "m"},
		},
	}

	if err := persister.PersistJobResult(context.Background(), jobID, j.Version, items, ingest.JobResult{ChunksCreated: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _, _ := jobs.Get(context.Background(), jobID)
	if got.Status != ingest.JobStatusCompleted || got.Result == nil || got.Result.ChunksCreated != 1 {
		t.Fatalf("unexpected job state: %#v", got)
	}

	count, _ := chunks.CountByFile(context.Background(), fileID)
	if count != 1 {
		t.Fatalf("expected 1 chunk persisted, got %d", count)
	}
}

func TestMemoryEmbeddingRepositorySearchSimilarFiltersByFileAndThreshold(t *testing.T) {
	chunks := NewMemoryChunkRepository()
	embeds := NewMemoryEmbeddingRepository(chunks)

	fileA, fileB := uuid.New(), uuid.New()
	chunkA := ingest.Chunk{ID: uuid.New(), FileID: fileA, Text: "a"}
	chunkB := ingest.Chunk{ID: uuid.New(), FileID: fileB, Text: "b"}
	chunks.put(chunkA)
	chunks.put(chunkB)
	embeds.put(ingest.Embedding{ID: uuid.New(), ChunkID: chunkA.ID, Vector: []float32{1, 0}, ModelName: "m"})
	embeds.put(ingest.Embedding{ID: uuid.New(), ChunkID: chunkB.ID, Vector: []float32{0, 1}, ModelName: "m"})

	results, err := embeds.SearchSimilar(context.Background(), []float32{1, 0}, "m", ingest.SearchOptions{FileID: &fileA, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].FileID != fileA {
		t.Fatalf("expected only fileA hit, got %#v", results)
	}

	threshold := 0.99
	results, err = embeds.SearchSimilar(context.Background(), []float32{1, 0}, "m", ingest.SearchOptions{SimilarityThreshold: &threshold, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exact match only above threshold, got %#v", results)
	}
}
