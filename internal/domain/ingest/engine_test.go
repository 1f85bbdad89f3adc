package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job
}

func newMemJobRepo() *memJobRepo { return &memJobRepo{jobs: map[uuid.UUID]Job{}} }

func (r *memJobRepo) Create(_ context.Context, j Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}

func (r *memJobRepo) Get(_ context.Context, id uuid.UUID) (Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok, nil
}

func (r *memJobRepo) ByFile(_ context.Context, fileID uuid.UUID) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if j.FileID == fileID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *memJobRepo) Active(_ context.Context) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if !j.IsTerminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *memJobRepo) ClaimNext(_ context.Context) (Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, j := range r.jobs {
		if j.Status == JobStatusQueued {
			j.Status = JobStatusProcessing
			j.Version++
			r.jobs[id] = j
			return j, true, nil
		}
	}
	return Job{}, false, nil
}

func (r *memJobRepo) UpdateProgress(_ context.Context, id uuid.UUID, version int64, progress float64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Progress = progress
	j.Version = version + 1
	r.jobs[id] = j
	return j.Version, nil
}

func (r *memJobRepo) Fail(_ context.Context, id uuid.UUID, _ int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Status = reason
	r.jobs[id] = j
	return nil
}

func (r *memJobRepo) CancelQueued(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != JobStatusQueued {
		return false, nil
	}
	j.Status = JobStatusCancelled
	r.jobs[id] = j
	return true, nil
}

func (r *memJobRepo) MarkCancelled(_ context.Context, id uuid.UUID, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Status = JobStatusCancelled
	r.jobs[id] = j
	return nil
}

type memFileRepo struct {
	files map[uuid.UUID]File
}

func (r *memFileRepo) Create(_ context.Context, f File) error { r.files[f.ID] = f; return nil }
func (r *memFileRepo) Get(_ context.Context, id uuid.UUID) (File, bool, error) {
	f, ok := r.files[id]
	return f, ok, nil
}
func (r *memFileRepo) List(context.Context, int, int) ([]File, int, error) { return nil, 0, nil }
func (r *memFileRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := r.files[id]
	delete(r.files, id)
	return ok, nil
}

type memBlobStore struct {
	blobs map[string][]byte
}

func (b *memBlobStore) Put(_ context.Context, key string, data []byte, mimeType string) (StoredObject, error) {
	b.blobs[key] = data
	return StoredObject{Key: key, Size: int64(len(data)), MimeType: mimeType}, nil
}
func (b *memBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := b.blobs[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
func (b *memBlobStore) Delete(_ context.Context, key string) error { delete(b.blobs, key); return nil }
func (b *memBlobStore) ListKeys(context.Context, string) ([]string, error) { return nil, nil }

type fixedChunker struct {
	candidates []ChunkCandidate
}

func (c fixedChunker) Chunk(text string, _ []Annotation, _ ChunkPolicy) []ChunkCandidate {
	if text == "" {
		return nil
	}
	return c.candidates
}

type fixedEmbedder struct {
	dim int
	err error
}

func (e fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

type recordingPersister struct {
	mu      sync.Mutex
	calls   int
	lastN   int
	lastRes JobResult
}

func (p *recordingPersister) PersistJobResult(_ context.Context, _ uuid.UUID, _ int64, items []PersistedChunk, result JobResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastN = len(items)
	p.lastRes = result
	return nil
}

type fixedExtractor struct {
	kind      SourceKind
	fragments []TextFragment
	err       error
}

func (e fixedExtractor) Kind() SourceKind                      { return e.kind }
func (e fixedExtractor) IOBound() bool                         { return false }
func (e fixedExtractor) EstimatedTimePerByte() time.Duration   { return 0 }
func (e fixedExtractor) Run(context.Context, ExtractSource) (ExtractResult, error) {
	if e.err != nil {
		return ExtractResult{}, e.err
	}
	return ExtractResult{Fragments: e.fragments}, nil
}

type memRegistry struct {
	extractors map[SourceKind]Extractor
}

func newMemRegistry() *memRegistry { return &memRegistry{extractors: map[SourceKind]Extractor{}} }
func (r *memRegistry) Register(e Extractor)                     { r.extractors[e.Kind()] = e }
func (r *memRegistry) For(kind SourceKind) (Extractor, bool)     { e, ok := r.extractors[kind]; return e, ok }

type noopQueue struct{}

func (noopQueue) Enqueue(context.Context, uuid.UUID) error                       { return nil }
func (noopQueue) SetHandler(func(ctx context.Context, jobID uuid.UUID)) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T) (*Engine, *memJobRepo, *memFileRepo, *recordingPersister) {
	t.Helper()
	jobs := newMemJobRepo()
	files := &memFileRepo{files: map[uuid.UUID]File{}}
	blobs := &memBlobStore{blobs: map[string][]byte{}}
	persister := &recordingPersister{}
	registry := newMemRegistry()
	registry.Register(fixedExtractor{
		kind: SourceKindUpload,
		fragments: []TextFragment{
			{Text: "hello world"},
		},
	})
	chunker := fixedChunker{candidates: []ChunkCandidate{
		{Index: 0, Text: "hello world", TokenCount: 2},
	}}
	embedder := fixedEmbedder{dim: 3}
	bus := NewProgressBus()

	cfg := DefaultEngineConfig()
	cfg.WorkerCount = 1
	cfg.ClaimPollInterval = 10 * time.Millisecond

	e := NewEngine(cfg, testLogger(), jobs, files, blobs, chunker, embedder, persister, registry, bus, noopQueue{})
	return e, jobs, files, persister
}

func TestEngineProcessesUploadJobToCompletion(t *testing.T) {
	e, jobs, files, persister := newTestEngine(t)

	fileID := uuid.New()
	files.files[fileID] = File{ID: fileID, ContentHash: "hash1", MimeType: "text/plain"}
	e.blobs.(*memBlobStore).blobs["hash1"] = []byte("hello world")

	jobID := uuid.New()
	job := Job{ID: jobID, FileID: fileID, Kind: JobKindFileProcessing, Status: JobStatusQueued}
	_ = jobs.Create(context.Background(), job)

	sub := e.bus.SubscribeJob(jobID)
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	deadline := time.After(2 * time.Second)
	var final ProgressEvent
	for {
		select {
		case evt := <-sub.Events:
			final = evt
			if evt.Status == JobStatusCompleted {
				goto done
			}
		case <-deadline:
			t.Fatal("timed out waiting for job completion")
		}
	}
done:
	if final.Status != JobStatusCompleted {
		t.Fatalf("expected completed status, got %q", final.Status)
	}
	if persister.calls != 1 || persister.lastN != 1 {
		t.Fatalf("expected one persist call with 1 item, got calls=%d n=%d", persister.calls, persister.lastN)
	}
}

func TestEngineFailsJobOnEmbeddingError(t *testing.T) {
	e, jobs, files, persister := newTestEngine(t)
	e.embedder = fixedEmbedder{err: &EmbedError{Code: EmbedErrorClient, Err: errors.New("bad request")}}

	fileID := uuid.New()
	files.files[fileID] = File{ID: fileID, ContentHash: "hash1", MimeType: "text/plain"}
	e.blobs.(*memBlobStore).blobs["hash1"] = []byte("hello world")

	jobID := uuid.New()
	_ = jobs.Create(context.Background(), Job{ID: jobID, FileID: fileID, Kind: JobKindFileProcessing, Status: JobStatusQueued})

	sub := e.bus.SubscribeJob(jobID)
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-sub.Events:
			if evt.Status != JobStatusProcessing {
				kind, _ := (Job{Status: evt.Status}).Reason()
				if kind != JobStatusFailed {
					t.Fatalf("expected a failed:* status, got %q", evt.Status)
				}
				if persister.calls != 0 {
					t.Fatalf("expected no persist call on embedding failure, got %d", persister.calls)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for job failure")
		}
	}
}

func TestEngineRequestCancelOnQueuedJob(t *testing.T) {
	e, jobs, _, _ := newTestEngine(t)
	jobID := uuid.New()
	_ = jobs.Create(context.Background(), Job{ID: jobID, Status: JobStatusQueued})

	if err := e.RequestCancel(context.Background(), jobID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	j, _, _ := jobs.Get(context.Background(), jobID)
	if j.Status != JobStatusCancelled {
		t.Fatalf("expected cancelled, got %q", j.Status)
	}
}
