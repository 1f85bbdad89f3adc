package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yanqian/ingest-engine/pkg/errors"
)

// Stage progress weights. Each stage's work is mapped onto the slice of
// [0,1] progress it owns; emitted progress only ever increases within it.
const (
	progressSourceStart  = 0.00
	progressSourceEnd    = 0.05
	progressExtractStart = 0.05
	progressExtractEnd   = 0.40
	progressChunkStart   = 0.40
	progressChunkEnd     = 0.50
	progressEmbedStart   = 0.50
	progressEmbedEnd     = 0.95
	progressPersistStart = 0.95
	progressPersistEnd   = 1.00
)

const (
	extractionTimeout     = 10 * time.Minute
	embeddingBatchTimeout = 60 * time.Second
	persistTimeout        = 30 * time.Second
)

// EngineConfig sizes the worker pool and embedding batching.
type EngineConfig struct {
	WorkerCount        int
	EmbedBatchSize     int
	EmbedBatchMaxTokens int
	EmbeddingModel     string
	ClaimPollInterval  time.Duration
}

// DefaultEngineConfig mirrors the worker-pool defaults described for the
// pipeline: one worker per CPU, modest embedding batches.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkerCount:         runtime.NumCPU(),
		EmbedBatchSize:      16,
		EmbedBatchMaxTokens: 200_000,
		EmbeddingModel:      "text-embedding-3-small",
		ClaimPollInterval:   2 * time.Second,
	}
}

// Engine is the Pipeline Engine: a fixed worker pool that claims queued
// jobs from the Job Store and runs them through source acquisition,
// extraction, chunking, embedding, and persistence.
type Engine struct {
	cfg       EngineConfig
	logger    *slog.Logger
	jobs      JobRepository
	files     FileRepository
	blobs     BlobStore
	chunker   Chunker
	embedder  Embedder
	persister Persister
	registry  ExtractorRegistry
	bus       *ProgressBus
	queue     JobQueue
	cancels   *cancelRegistry

	stop chan struct{}
	done chan struct{}
}

// NewEngine wires an Engine from its constructor-injected collaborators.
func NewEngine(
	cfg EngineConfig,
	logger *slog.Logger,
	jobs JobRepository,
	files FileRepository,
	blobs BlobStore,
	chunker Chunker,
	embedder Embedder,
	persister Persister,
	registry ExtractorRegistry,
	bus *ProgressBus,
	queue JobQueue,
) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "ingest.Engine"),
		jobs:      jobs,
		files:     files,
		blobs:     blobs,
		chunker:   chunker,
		embedder:  embedder,
		persister: persister,
		registry:  registry,
		bus:       bus,
		queue:     queue,
		cancels:   newCancelRegistry(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	queue.SetHandler(e.onSignal)
	return e
}

// Start launches the worker pool. It returns immediately; workers run
// until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	wake := make(chan struct{}, e.cfg.WorkerCount)
	for i := 0; i < e.cfg.WorkerCount; i++ {
		go e.workerLoop(ctx, i, wake)
	}
	go e.pollLoop(ctx, wake)
}

// Stop signals all workers to finish their current job and exit.
func (e *Engine) Stop() {
	close(e.stop)
}

func (e *Engine) onSignal(ctx context.Context, jobID uuid.UUID) {
	// The queue is an advisory signal and this handler does not wake any
	// worker: workers find new jobs only on their ClaimPollInterval poll
	// through the Job Store's SKIP LOCKED query, and jobID is unused.
	select {
	case <-e.stop:
	default:
	}
}

func (e *Engine) pollLoop(ctx context.Context, wake chan struct{}) {
	ticker := time.NewTicker(e.cfg.ClaimPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			for i := 0; i < e.cfg.WorkerCount; i++ {
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (e *Engine) workerLoop(ctx context.Context, id int, wake <-chan struct{}) {
	log := e.logger.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-wake:
		case <-time.After(e.cfg.ClaimPollInterval):
		}

		job, ok, err := e.jobs.ClaimNext(ctx)
		if err != nil {
			log.Error("claim failed", "error", err)
			continue
		}
		if !ok {
			continue
		}
		e.runJob(ctx, job)
	}
}

// runJob executes one job end to end, recovering from panics so a bad
// extractor or chunker cannot take the whole worker down.
func (e *Engine) runJob(parent context.Context, job Job) {
	log := e.logger.With("job_id", job.ID, "file_id", job.FileID, "kind", job.Kind)
	ctx, cancel := context.WithCancel(parent)
	e.cancels.register(job.ID, cancel)
	defer func() {
		e.cancels.unregister(job.ID)
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic recovered", "panic", r)
			e.fail(parent, job, "internal", fmt.Sprintf("panic: %v", r))
		}
	}()

	started := time.Now()
	e.emit(job.ID, JobStatusProcessing, progressSourceStart, nil, nil)

	file, found, err := e.files.Get(ctx, job.FileID)
	if err != nil || !found {
		e.fail(parent, job, "source", "file not found")
		return
	}

	src, err := e.acquireSource(ctx, job, file)
	if err != nil {
		e.failWithErr(parent, job, "source", err)
		return
	}
	e.emit(job.ID, JobStatusProcessing, progressSourceEnd, nil, nil)

	if ctx.Err() != nil {
		e.cancelled(parent, job)
		return
	}

	extractor, ok := e.registry.For(job.Kind.SourceKind())
	if !ok {
		e.fail(parent, job, "extraction", "no extractor registered for source kind")
		return
	}

	extractCtx, extractCancel := context.WithTimeout(ctx, extractionTimeout)
	result, err := extractor.Run(extractCtx, src)
	extractCancel()
	if err != nil {
		code := "extraction_internal"
		var extractErr *ExtractError
		if ok := asExtractError(err, &extractErr); ok {
			code = string(extractErr.Code)
		}
		e.fail(parent, job, "extraction", code)
		return
	}
	e.emit(job.ID, JobStatusProcessing, progressExtractEnd, nil, nil)

	if ctx.Err() != nil {
		e.cancelled(parent, job)
		return
	}

	text, annotations := flattenFragments(result.Fragments)
	candidates := e.chunker.Chunk(text, annotations, DefaultChunkPolicy())
	e.emit(job.ID, JobStatusProcessing, progressChunkEnd, nil, nil)

	if len(candidates) == 0 {
		res := JobResult{ProcessingTimeMs: time.Since(started).Milliseconds(), ExtractedTextLength: len(text)}
		if err := e.persister.PersistJobResult(ctx, job.ID, job.Version, nil, res); err != nil {
			e.failWithErr(parent, job, "persistence", err)
			return
		}
		e.emit(job.ID, JobStatusCompleted, 1.0, &res, nil)
		return
	}

	if ctx.Err() != nil {
		e.cancelled(parent, job)
		return
	}

	items, err := e.embedAll(ctx, job, candidates)
	if err != nil {
		if ctx.Err() != nil {
			e.cancelled(parent, job)
			return
		}
		e.failWithErr(parent, job, "embedding", err)
		return
	}
	e.emit(job.ID, JobStatusProcessing, progressEmbedEnd, nil, nil)

	if ctx.Err() != nil {
		e.cancelled(parent, job)
		return
	}

	persistCtx, persistCancel := context.WithTimeout(ctx, persistTimeout)
	res := JobResult{
		ChunksCreated:       len(items),
		EmbeddingsCreated:   len(items),
		ProcessingTimeMs:    time.Since(started).Milliseconds(),
		ExtractedTextLength: len(text),
	}
	err = e.persister.PersistJobResult(persistCtx, job.ID, job.Version, items, res)
	persistCancel()
	if err != nil {
		e.failWithErr(parent, job, "persistence", err)
		return
	}

	e.emit(job.ID, JobStatusCompleted, 1.0, &res, nil)
}

// acquireSource maps a job's kind+payload onto the extractor input
// contract: bytes read from the Blob Store for uploads, a bare URL for
// URL/YouTube jobs.
func (e *Engine) acquireSource(ctx context.Context, job Job, file File) (ExtractSource, error) {
	switch job.Kind.SourceKind() {
	case SourceKindUpload:
		rc, err := e.blobs.Get(ctx, file.ContentHash)
		if err != nil {
			return ExtractSource{}, apperrors.Wrap("source_unavailable", "reading blob", err)
		}
		defer rc.Close()
		data, err := readAll(rc)
		if err != nil {
			return ExtractSource{}, apperrors.Wrap("source_unavailable", "reading blob", err)
		}
		return ExtractSource{Bytes: data, MimeType: file.MimeType}, nil
	default:
		url, _ := job.Payload["url"].(string)
		if url == "" {
			return ExtractSource{}, apperrors.Wrap("source_unavailable", "missing url payload", nil)
		}
		return ExtractSource{URL: url, MimeType: file.MimeType}, nil
	}
}

// embedAll batches chunk candidates through the Embedder, checking for
// cancellation between batches, and pairs each embedding back to its chunk.
func (e *Engine) embedAll(ctx context.Context, job Job, candidates []ChunkCandidate) ([]PersistedChunk, error) {
	items := make([]PersistedChunk, 0, len(candidates))
	batches := batchCandidates(candidates, e.cfg.EmbedBatchSize, e.cfg.EmbedBatchMaxTokens)

	span := progressEmbedEnd - progressEmbedStart
	done := 0
	total := len(candidates)

	for _, batch := range batches {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		embedCtx, cancel := context.WithTimeout(ctx, embeddingBatchTimeout)
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := e.embedder.Embed(embedCtx, texts)
		cancel()
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, apperrors.Wrap("embedding_mismatch", "embedder returned a different count than requested", nil)
		}
		for i, c := range batch {
			items = append(items, PersistedChunk{
				Chunk: Chunk{
					ID:          uuid.New(),
					FileID:      job.FileID,
					ChunkIndex:  c.Index,
					Text:        c.Text,
					TokenCount:  c.TokenCount,
					PageNumber:  c.PageNumber,
					SectionPath: c.SectionPath,
				},
				Embedding: Embedding{
					ID:        uuid.New(),
					Vector:    vectors[i],
					ModelName: e.cfg.EmbeddingModel,
				},
			})
		}
		done += len(batch)
		progress := progressEmbedStart + span*float64(done)/float64(total)
		e.emit(job.ID, JobStatusProcessing, progress, nil, nil)
	}
	return items, nil
}

func (e *Engine) emit(jobID uuid.UUID, status string, progress float64, result *JobResult, errMsg *string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	e.bus.Publish(ProgressEvent{JobID: jobID, Status: status, Progress: progress, Result: result, Error: errMsg})
}

func (e *Engine) fail(ctx context.Context, job Job, stage, reason string) {
	e.failWithErr(ctx, job, stage, apperrors.Wrap(reason, reason, nil))
}

func (e *Engine) failWithErr(ctx context.Context, job Job, stage string, cause error) {
	reason := FailedStatus(stage, errorDetail(cause))
	if err := e.jobs.Fail(ctx, job.ID, job.Version, reason); err != nil {
		e.logger.Error("failed to persist job failure", "job_id", job.ID, "error", err)
	}
	msg := cause.Error()
	e.emit(job.ID, reason, 1.0, nil, &msg)
}

func (e *Engine) cancelled(ctx context.Context, job Job) {
	if err := e.jobs.MarkCancelled(ctx, job.ID, job.Version); err != nil {
		e.logger.Error("failed to persist cancellation", "job_id", job.ID, "error", err)
	}
	e.emit(job.ID, JobStatusCancelled, 1.0, nil, nil)
}

// RequestCancel cancels a running job's context, or marks a still-queued
// job cancelled directly if no worker has claimed it yet.
func (e *Engine) RequestCancel(ctx context.Context, jobID uuid.UUID) error {
	if e.cancels.request(jobID) {
		return nil
	}
	ok, err := e.jobs.CancelQueued(ctx, jobID)
	if err != nil {
		return err
	}
	if ok {
		e.emit(jobID, JobStatusCancelled, 1.0, nil, nil)
	}
	return nil
}
