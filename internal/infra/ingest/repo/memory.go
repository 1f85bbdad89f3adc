package repo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// MemoryFileRepository is an in-memory implementation for local dev and
// tests; the application wiring always uses the Postgres repositories.
type MemoryFileRepository struct {
	mu    sync.RWMutex
	files map[uuid.UUID]ingest.File
}

// NewMemoryFileRepository constructs a file repository.
func NewMemoryFileRepository() *MemoryFileRepository {
	return &MemoryFileRepository{files: make(map[uuid.UUID]ingest.File)}
}

func (r *MemoryFileRepository) Create(_ context.Context, f ingest.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.ID] = f
	return nil
}

func (r *MemoryFileRepository) Get(_ context.Context, id uuid.UUID) (ingest.File, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	return f, ok, nil
}

func (r *MemoryFileRepository) List(_ context.Context, skip, limit int) ([]ingest.File, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]ingest.File, 0, len(r.files))
	for _, f := range r.files {
		all = append(all, f)
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].CreatedAt.After(all[i].CreatedAt) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	total := len(all)
	if skip >= total {
		return []ingest.File{}, total, nil
	}
	end := skip + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[skip:end], total, nil
}

func (r *MemoryFileRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[id]
	delete(r.files, id)
	return ok, nil
}

var _ ingest.FileRepository = (*MemoryFileRepository)(nil)

// MemoryChunkRepository stores chunks alongside their owning file.
type MemoryChunkRepository struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]ingest.Chunk
}

// NewMemoryChunkRepository constructs a chunk repository.
func NewMemoryChunkRepository() *MemoryChunkRepository {
	return &MemoryChunkRepository{chunks: make(map[uuid.UUID]ingest.Chunk)}
}

func (r *MemoryChunkRepository) Get(_ context.Context, id uuid.UUID) (ingest.Chunk, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chunks[id]
	return c, ok, nil
}

func (r *MemoryChunkRepository) ByFile(_ context.Context, fileID uuid.UUID) ([]ingest.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ingest.Chunk
	for _, c := range r.chunks {
		if c.FileID == fileID {
			out = append(out, c)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ChunkIndex < out[i].ChunkIndex {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *MemoryChunkRepository) CountByFile(_ context.Context, fileID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.chunks {
		if c.FileID == fileID {
			count++
		}
	}
	return count, nil
}

func (r *MemoryChunkRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.chunks[id]
	delete(r.chunks, id)
	return ok, nil
}

func (r *MemoryChunkRepository) put(c ingest.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks[c.ID] = c
}

var _ ingest.ChunkRepository = (*MemoryChunkRepository)(nil)

// MemoryEmbeddingRepository stores embeddings and runs a brute-force
// cosine similarity search over them.
type MemoryEmbeddingRepository struct {
	mu         sync.RWMutex
	embeddings map[uuid.UUID]ingest.Embedding
	chunks     *MemoryChunkRepository
}

// NewMemoryEmbeddingRepository constructs an embedding repository backed
// by the given chunk store (needed to join chunk text/file id into hits).
func NewMemoryEmbeddingRepository(chunks *MemoryChunkRepository) *MemoryEmbeddingRepository {
	return &MemoryEmbeddingRepository{embeddings: make(map[uuid.UUID]ingest.Embedding), chunks: chunks}
}

func (r *MemoryEmbeddingRepository) Get(_ context.Context, id uuid.UUID) (ingest.Embedding, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.embeddings[id]
	return e, ok, nil
}

func (r *MemoryEmbeddingRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.embeddings[id]
	delete(r.embeddings, id)
	return ok, nil
}

func (r *MemoryEmbeddingRepository) SearchSimilar(_ context.Context, vector []float32, modelName string, opts ingest.SearchOptions) ([]ingest.SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []ingest.SearchResult
	for _, e := range r.embeddings {
		if e.ModelName != modelName {
			continue
		}
		chunk, ok, _ := r.chunks.Get(context.Background(), e.ChunkID)
		if !ok {
			continue
		}
		if opts.FileID != nil && chunk.FileID != *opts.FileID {
			continue
		}
		score := cosineSimilarity(vector, e.Vector)
		if opts.SimilarityThreshold != nil && score < *opts.SimilarityThreshold {
			continue
		}
		results = append(results, ingest.SearchResult{
			ChunkID:     chunk.ID,
			FileID:      chunk.FileID,
			ChunkText:   chunk.Text,
			Similarity:  score,
			ChunkIndex:  chunk.ChunkIndex,
			PageNumber:  chunk.PageNumber,
			SectionPath: chunk.SectionPath,
		})
	}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	limit := opts.Limit
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *MemoryEmbeddingRepository) put(e ingest.Embedding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[e.ID] = e
}

var _ ingest.EmbeddingRepository = (*MemoryEmbeddingRepository)(nil)

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		magA += float64(a[i] * a[i])
		magB += float64(b[i] * b[i])
	}
	den := math.Sqrt(magA) * math.Sqrt(magB)
	if den == 0 {
		return 0
	}
	return dot / den
}

// MemoryPersister commits a job's chunks and embeddings into the
// in-memory stores and flips the job to completed, serialized under one
// lock. The job is completed first, so a version conflict leaves no chunks
// or embeddings behind; readers of the individual stores do not take this
// lock.
type MemoryPersister struct {
	mu     sync.Mutex
	chunks *MemoryChunkRepository
	embeds *MemoryEmbeddingRepository
	jobs   *MemoryJobRepository
}

// NewMemoryPersister constructs a persister over the in-memory stores.
func NewMemoryPersister(chunks *MemoryChunkRepository, embeds *MemoryEmbeddingRepository, jobs *MemoryJobRepository) *MemoryPersister {
	return &MemoryPersister{chunks: chunks, embeds: embeds, jobs: jobs}
}

func (p *MemoryPersister) PersistJobResult(_ context.Context, jobID uuid.UUID, version int64, items []ingest.PersistedChunk, result ingest.JobResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.jobs.complete(jobID, version, result); err != nil {
		return err
	}
	for _, item := range items {
		p.chunks.put(item.Chunk)
		p.embeds.put(item.Embedding)
	}
	return nil
}

var _ ingest.Persister = (*MemoryPersister)(nil)

// MemoryJobRepository is the in-memory job ledger.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]ingest.Job
}

// NewMemoryJobRepository constructs a job repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[uuid.UUID]ingest.Job)}
}

func (r *MemoryJobRepository) Create(_ context.Context, j ingest.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.Version = 1
	r.jobs[j.ID] = j
	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, id uuid.UUID) (ingest.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok, nil
}

func (r *MemoryJobRepository) ByFile(_ context.Context, fileID uuid.UUID) ([]ingest.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ingest.Job
	for _, j := range r.jobs {
		if j.FileID == fileID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *MemoryJobRepository) Active(_ context.Context) ([]ingest.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ingest.Job
	for _, j := range r.jobs {
		if !j.IsTerminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *MemoryJobRepository) ClaimNext(_ context.Context) (ingest.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var earliest *ingest.Job
	for id, j := range r.jobs {
		if j.Status != ingest.JobStatusQueued {
			continue
		}
		if earliest == nil || j.CreatedAt.Before(earliest.CreatedAt) {
			jCopy := j
			jCopy.ID = id
			earliest = &jCopy
		}
	}
	if earliest == nil {
		return ingest.Job{}, false, nil
	}
	now := time.Now().UTC()
	earliest.Status = ingest.JobStatusProcessing
	earliest.StartedAt = &now
	earliest.Version++
	r.jobs[earliest.ID] = *earliest
	return *earliest, true, nil
}

func (r *MemoryJobRepository) UpdateProgress(_ context.Context, id uuid.UUID, version int64, progress float64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Version != version {
		return version, fmt.Errorf("job %s version conflict updating progress", id)
	}
	j.Progress = progress
	j.Version++
	r.jobs[id] = j
	return j.Version, nil
}

func (r *MemoryJobRepository) Fail(_ context.Context, id uuid.UUID, version int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Version != version {
		return fmt.Errorf("job %s version conflict failing job", id)
	}
	now := time.Now().UTC()
	j.Status = reason
	j.CompletedAt = &now
	j.Error = &reason
	j.Version++
	r.jobs[id] = j
	return nil
}

func (r *MemoryJobRepository) CancelQueued(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != ingest.JobStatusQueued {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = ingest.JobStatusCancelled
	j.CompletedAt = &now
	j.Version++
	r.jobs[id] = j
	return true, nil
}

func (r *MemoryJobRepository) MarkCancelled(_ context.Context, id uuid.UUID, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Version != version {
		return fmt.Errorf("job %s version conflict cancelling job", id)
	}
	now := time.Now().UTC()
	j.Status = ingest.JobStatusCancelled
	j.CompletedAt = &now
	j.Version++
	r.jobs[id] = j
	return nil
}

// complete is called under the persister's lock and takes the job
// repository's own lock, which is a different mutex.
func (r *MemoryJobRepository) complete(id uuid.UUID, version int64, result ingest.JobResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Version != version {
		return fmt.Errorf("job %s version conflict completing job", id)
	}
	now := time.Now().UTC()
	j.Status = ingest.JobStatusCompleted
	j.Progress = 1.0
	j.CompletedAt = &now
	j.Result = &result
	j.Version++
	r.jobs[id] = j
	return nil
}

var _ ingest.JobRepository = (*MemoryJobRepository)(nil)
