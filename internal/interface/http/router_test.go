package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
	"github.com/yanqian/ingest-engine/internal/domain/search"
	"github.com/yanqian/ingest-engine/internal/infra/config"
)

type memFiles struct {
	mu    sync.Mutex
	files map[uuid.UUID]ingest.File
}

func newMemFiles() *memFiles { return &memFiles{files: map[uuid.UUID]ingest.File{}} }

func (m *memFiles) Create(_ context.Context, f ingest.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

func (m *memFiles) Get(_ context.Context, id uuid.UUID) (ingest.File, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	return f, ok, nil
}

func (m *memFiles) List(_ context.Context, skip, limit int) ([]ingest.File, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ingest.File, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	return out, len(out), nil
}

func (m *memFiles) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return false, nil
	}
	delete(m.files, id)
	return true, nil
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]ingest.Job
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[uuid.UUID]ingest.Job{}} }

func (m *memJobs) Create(_ context.Context, j ingest.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *memJobs) Get(_ context.Context, id uuid.UUID) (ingest.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok, nil
}

func (m *memJobs) ByFile(_ context.Context, fileID uuid.UUID) ([]ingest.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ingest.Job
	for _, j := range m.jobs {
		if j.FileID == fileID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobs) Active(context.Context) ([]ingest.Job, error) { return nil, nil }

func (m *memJobs) ClaimNext(context.Context) (ingest.Job, bool, error) {
	return ingest.Job{}, false, nil
}

func (m *memJobs) UpdateProgress(context.Context, uuid.UUID, int64, float64) (int64, error) {
	return 0, nil
}

func (m *memJobs) Fail(context.Context, uuid.UUID, int64, string) error { return nil }

func (m *memJobs) CancelQueued(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	j.Status = ingest.JobStatusCancelled
	m.jobs[id] = j
	return true, nil
}

func (m *memJobs) MarkCancelled(context.Context, uuid.UUID, int64) error { return nil }

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, key string, data []byte, mimeType string) (ingest.StoredObject, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
	return ingest.StoredObject{Key: key, Size: int64(len(data)), MimeType: mimeType}, nil
}

func (b *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return io.NopCloser(bytes.NewReader(b.data[key])), nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *memBlobs) ListKeys(context.Context, string) ([]string, error) { return nil, nil }

type noopChunker struct{}

func (noopChunker) Chunk(text string, _ []ingest.Annotation, _ ingest.ChunkPolicy) []ingest.ChunkCandidate {
	if text == "" {
		return nil
	}
	return []ingest.ChunkCandidate{{Index: 0, Text: text, TokenCount: len(text)}}
}

type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type noopPersister struct{}

func (noopPersister) PersistJobResult(context.Context, uuid.UUID, int64, []ingest.PersistedChunk, ingest.JobResult) error {
	return nil
}

type noopRegistry struct{}

func (noopRegistry) Register(ingest.Extractor)                            {}
func (noopRegistry) For(ingest.SourceKind) (ingest.Extractor, bool)       { return nil, false }

type noopQueue struct{}

func (noopQueue) Enqueue(context.Context, uuid.UUID) error                    { return nil }
func (noopQueue) SetHandler(func(ctx context.Context, jobID uuid.UUID)) {}

type noopChunks struct{}

func (noopChunks) Get(context.Context, uuid.UUID) (ingest.Chunk, bool, error) { return ingest.Chunk{}, false, nil }
func (noopChunks) ByFile(context.Context, uuid.UUID) ([]ingest.Chunk, error)  { return nil, nil }
func (noopChunks) CountByFile(context.Context, uuid.UUID) (int, error)       { return 0, nil }
func (noopChunks) Delete(context.Context, uuid.UUID) (bool, error)           { return false, nil }

type noopEmbeddings struct{}

func (noopEmbeddings) Get(context.Context, uuid.UUID) (ingest.Embedding, bool, error) {
	return ingest.Embedding{}, false, nil
}
func (noopEmbeddings) Delete(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (noopEmbeddings) SearchSimilar(context.Context, []float32, string, ingest.SearchOptions) ([]ingest.SearchResult, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(t *testing.T) *http.Server {
	t.Helper()
	bus := ingest.NewProgressBus()
	engine := ingest.NewEngine(
		ingest.DefaultEngineConfig(),
		testLogger(),
		newMemJobs(),
		newMemFiles(),
		newMemBlobs(),
		noopChunker{},
		noopEmbedder{},
		noopPersister{},
		noopRegistry{},
		bus,
		noopQueue{},
	)
	searchEng := search.NewEngine(testLogger(), noopEmbedder{}, noopEmbeddings{}, "test-model")
	handler := NewHandler(engine, searchEng, newMemFiles(), newMemJobs(), noopChunks{}, noopEmbeddings{}, bus, 250, testLogger())

	cfg := &config.Config{HTTP: config.HTTPConfig{
		Address:        ":0",
		AllowedOrigins: []string{"*"},
	}}
	return NewRouter(cfg, handler)
}

func TestHealthReturnsOK(t *testing.T) {
	srv := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadRequiresFileField(t *testing.T) {
	srv := newTestRouter(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("name", "doc.txt")
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	srv := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFileNotFound(t *testing.T) {
	srv := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
