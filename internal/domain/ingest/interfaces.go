package ingest

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore abstracts content-addressed storage of uploaded bytes and
// extracted intermediate text (R2/S3/local/memory).
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (StoredObject, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// ListKeys enumerates stored keys under prefix; used by the orphan sweep.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// StoredObject captures persisted blob metadata.
type StoredObject struct {
	Key      string
	Size     int64
	MimeType string
	ETag     string
}

// FileRepository persists File rows.
type FileRepository interface {
	Create(ctx context.Context, f File) error
	Get(ctx context.Context, id uuid.UUID) (File, bool, error)
	List(ctx context.Context, skip, limit int) ([]File, int, error)
	// Delete removes the file row; FK cascades remove chunks/embeddings/jobs.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// SearchResult is one hit from a similarity query.
type SearchResult struct {
	ChunkID     uuid.UUID
	FileID      uuid.UUID
	ChunkText   string
	Similarity  float64
	ChunkIndex  int
	PageNumber  *int
	SectionPath *string
}

// SearchOptions scopes a similarity query.
type SearchOptions struct {
	Limit               int
	SimilarityThreshold *float64
	FileID              *uuid.UUID
}

// ChunkRepository reads and deletes stored chunks.
type ChunkRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Chunk, bool, error)
	ByFile(ctx context.Context, fileID uuid.UUID) ([]Chunk, error)
	CountByFile(ctx context.Context, fileID uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// EmbeddingRepository stores embeddings and performs similarity search.
type EmbeddingRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Embedding, bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	SearchSimilar(ctx context.Context, vector []float32, modelName string, opts SearchOptions) ([]SearchResult, error)
}

// PersistedChunk pairs a chunk with the embedding generated for it, ready
// for the single transactional write that closes out a job.
type PersistedChunk struct {
	Chunk     Chunk
	Embedding Embedding
}

// Persister commits one job's chunks, embeddings, and completion status in
// a single transaction — the invariant ruling out "chunks without
// embeddings" and "orphan embeddings".
type Persister interface {
	PersistJobResult(ctx context.Context, jobID uuid.UUID, version int64, items []PersistedChunk, result JobResult) error
}

// JobRepository is the durable queue and status ledger for ingestion jobs.
type JobRepository interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id uuid.UUID) (Job, bool, error)
	ByFile(ctx context.Context, fileID uuid.UUID) ([]Job, error)
	Active(ctx context.Context) ([]Job, error)

	// ClaimNext atomically claims the oldest queued job for processing.
	// Implemented as UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP
	// LOCKED) RETURNING * against the backing store.
	ClaimNext(ctx context.Context) (Job, bool, error)

	// UpdateProgress writes a new progress value, failing the optimistic
	// version check if another writer raced ahead.
	UpdateProgress(ctx context.Context, id uuid.UUID, version int64, progress float64) (int64, error)

	// Fail transitions a processing job to a terminal failed:<reason> state.
	Fail(ctx context.Context, id uuid.UUID, version int64, reason string) error

	// CancelQueued transitions a queued job straight to cancelled; returns
	// false if the job had already been claimed.
	CancelQueued(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkCancelled writes the terminal cancelled row for a job a worker
	// observed a cancellation signal for mid-processing.
	MarkCancelled(ctx context.Context, id uuid.UUID, version int64) error
}

// Embedder batches text into dense vectors via a remote provider. Input
// order must equal output order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedErrorCode classifies embedding-client failures for retry decisions.
type EmbedErrorCode string

const (
	EmbedErrorNetwork     EmbedErrorCode = "network"
	EmbedErrorTimeout     EmbedErrorCode = "timeout"
	EmbedErrorRateLimited EmbedErrorCode = "rate_limited"
	EmbedErrorServer      EmbedErrorCode = "server_error"
	EmbedErrorClient      EmbedErrorCode = "client_error"
)

// EmbedError is a typed embedding-client failure.
type EmbedError struct {
	Code       EmbedErrorCode
	RetryAfter time.Duration
	Err        error
}

func (e *EmbedError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *EmbedError) Unwrap() error { return e.Err }

// Retryable reports whether the embedding client should retry this batch.
func (e *EmbedError) Retryable() bool {
	switch e.Code {
	case EmbedErrorNetwork, EmbedErrorTimeout, EmbedErrorRateLimited, EmbedErrorServer:
		return true
	default:
		return false
	}
}

// Chunker is a pure function splitting normalized text into bounded chunks.
type Chunker interface {
	Chunk(text string, annotations []Annotation, policy ChunkPolicy) []ChunkCandidate
}

// ExtractErrorCode classifies extractor failures.
type ExtractErrorCode string

const (
	ExtractErrSourceUnavailable ExtractErrorCode = "source_unavailable"
	ExtractErrUnsupportedFormat ExtractErrorCode = "unsupported_format"
	ExtractErrCorruptSource     ExtractErrorCode = "corrupt_source"
	ExtractErrInternal          ExtractErrorCode = "extraction_internal"
)

// ExtractError is a typed extractor failure.
type ExtractError struct {
	Code ExtractErrorCode
	Err  error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ExtractSource is the uniform input contract offered to every extractor.
// Exactly one of Bytes/URL is populated depending on the extractor's kind.
type ExtractSource struct {
	Bytes    []byte
	URL      string
	MimeType string
}

// ExtractResult is the normalized output of running an extractor to
// completion: ordered text fragments with optional structural annotations.
type ExtractResult struct {
	Fragments []TextFragment
}

// Extractor converts one kind of source artifact into normalized text.
type Extractor interface {
	Kind() SourceKind
	// IOBound reports whether the engine should treat this extractor as a
	// network/disk bound step (suspends) versus CPU-bound (runs to
	// completion without yielding).
	IOBound() bool
	EstimatedTimePerByte() time.Duration
	Run(ctx context.Context, src ExtractSource) (ExtractResult, error)
}

// ExtractorRegistry maps source kind to its registered extractor.
type ExtractorRegistry interface {
	Register(e Extractor)
	For(kind SourceKind) (Extractor, bool)
}

// JobQueue signals workers that a job is ready to claim. It is a wakeup
// fabric, not the system of record — Postgres remains durable-of-record
// for job state regardless of which queue implementation is wired in.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	SetHandler(handler func(ctx context.Context, jobID uuid.UUID))
}
