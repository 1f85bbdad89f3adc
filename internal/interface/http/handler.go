package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
	"github.com/yanqian/ingest-engine/internal/domain/search"
	apperrors "github.com/yanqian/ingest-engine/pkg/errors"
)

const maxUploadFieldName = "file"

// heartbeatInterval governs how often SSE streams emit a keep-alive comment
// while no progress event is pending.
const heartbeatInterval = 15 * time.Second

// Handler wires the HTTP transport to the ingest and search domains.
type Handler struct {
	engine     *ingest.Engine
	searchEng  *search.Engine
	files      ingest.FileRepository
	jobs       ingest.JobRepository
	chunks     ingest.ChunkRepository
	embeddings ingest.EmbeddingRepository
	bus        *ingest.ProgressBus
	maxUpload  int64
	logger     *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(
	engine *ingest.Engine,
	searchEng *search.Engine,
	files ingest.FileRepository,
	jobs ingest.JobRepository,
	chunks ingest.ChunkRepository,
	embeddings ingest.EmbeddingRepository,
	bus *ingest.ProgressBus,
	maxUploadMB int,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		engine:     engine,
		searchEng:  searchEng,
		files:      files,
		jobs:       jobs,
		chunks:     chunks,
		embeddings: embeddings,
		bus:        bus,
		maxUpload:  int64(maxUploadMB) << 20,
		logger:     logger.With("component", "http.handler"),
	}
}

// envelope is the uniform response shape every route returns.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// mapIngestError turns a domain error into the HTTP status/code pairing
// described by the error taxonomy.
func mapIngestError(err error) *HTTPError {
	switch {
	case apperrors.IsCode(err, "EMPTY_QUERY"):
		return NewHTTPError(http.StatusBadRequest, "EMPTY_QUERY", errMessage(err), err)
	case apperrors.IsCode(err, "invalid_request"):
		return NewHTTPError(http.StatusBadRequest, "INVALID_REQUEST", errMessage(err), err)
	case apperrors.IsCode(err, "file_not_found"):
		return NewHTTPError(http.StatusNotFound, "FILE_NOT_FOUND", errMessage(err), err)
	case apperrors.IsCode(err, "job_not_found"):
		return NewHTTPError(http.StatusNotFound, "JOB_NOT_FOUND", errMessage(err), err)
	case apperrors.IsCode(err, "chunk_not_found"):
		return NewHTTPError(http.StatusNotFound, "CHUNK_NOT_FOUND", errMessage(err), err)
	case apperrors.IsCode(err, "embedding_not_found"):
		return NewHTTPError(http.StatusNotFound, "EMBEDDING_NOT_FOUND", errMessage(err), err)
	case apperrors.IsCode(err, "file_too_large"):
		return NewHTTPError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", errMessage(err), err)
	case apperrors.IsCode(err, "processing_failed"):
		return NewHTTPError(http.StatusUnprocessableEntity, "PROCESSING_FAILED", errMessage(err), err)
	case apperrors.IsCode(err, "rate_limited"):
		return NewHTTPError(http.StatusTooManyRequests, "RATE_LIMITED", errMessage(err), err)
	case apperrors.IsCode(err, "search_failed"):
		return NewHTTPError(http.StatusInternalServerError, "SEARCH_FAILED", errMessage(err), err)
	default:
		return NewHTTPError(http.StatusInternalServerError, "INTERNAL_ERROR", errMessage(err), err)
	}
}

// Upload stores the posted bytes and records a File row.
func (h *Handler) Upload(c *gin.Context) {
	f, err := h.storeUpload(c)
	if err != nil {
		return
	}
	ok(c, http.StatusCreated, f)
}

// UploadAndProcess stores the posted bytes and immediately enqueues
// file_processing against the new file.
func (h *Handler) UploadAndProcess(c *gin.Context) {
	f, err := h.storeUpload(c)
	if err != nil {
		return
	}
	job, err := h.engine.SubmitJob(c.Request.Context(), f.ID, ingest.JobKindFileProcessing, nil)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusAccepted, gin.H{"file": f, "job": job})
}

func (h *Handler) storeUpload(c *gin.Context) (ingest.File, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fileHeader, err := c.FormFile(maxUploadFieldName)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "INVALID_REQUEST", "file is required", err))
		return ingest.File{}, err
	}
	if fileHeader.Size > h.maxUpload {
		err := apperrors.Wrap("file_too_large", "upload exceeds the configured size limit", nil)
		abortWithError(c, mapIngestError(err))
		return ingest.File{}, err
	}
	src, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "INVALID_REQUEST", "failed to read upload", err))
		return ingest.File{}, err
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		abortWithError(c, mapIngestError(apperrors.Wrap("file_too_large", "upload exceeds the configured size limit", err)))
		return ingest.File{}, err
	}
	displayName := c.PostForm("name")
	if displayName == "" {
		displayName = fileHeader.Filename
	}
	f, err := h.engine.Upload(c.Request.Context(), displayName, fileHeader.Header.Get("Content-Type"), data, nil)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return ingest.File{}, err
	}
	return f, nil
}

// ListFiles returns a paged listing of files plus their derived status.
func (h *Handler) ListFiles(c *gin.Context) {
	skip := queryInt(c, "skip", 0)
	limit := queryInt(c, "limit", 50)

	files, total, err := h.files.List(c.Request.Context(), skip, limit)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	items := make([]gin.H, 0, len(files))
	for _, f := range files {
		jobs, err := h.jobs.ByFile(c.Request.Context(), f.ID)
		if err != nil {
			abortWithError(c, mapIngestError(err))
			return
		}
		items = append(items, gin.H{"file": f, "status": ingest.FileStatus(jobs)})
	}
	ok(c, http.StatusOK, gin.H{"items": items, "total": total, "skip": skip, "limit": limit})
}

// GetFile returns one file's metadata plus derived status.
func (h *Handler) GetFile(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	f, found, err := h.files.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	if !found {
		abortWithError(c, mapIngestError(apperrors.Wrap("file_not_found", "file not found", nil)))
		return
	}
	jobs, err := h.jobs.ByFile(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"file": f, "status": ingest.FileStatus(jobs)})
}

type updateFileRequest struct {
	DisplayName string         `json:"displayName"`
	Metadata    map[string]any `json:"metadata"`
}

// UpdateFile edits a file's display name/metadata.
func (h *Handler) UpdateFile(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	f, found, err := h.files.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	if !found {
		abortWithError(c, mapIngestError(apperrors.Wrap("file_not_found", "file not found", nil)))
		return
	}
	var req updateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "INVALID_REQUEST", errMessage(err), err))
		return
	}
	if req.DisplayName != "" {
		f.DisplayName = req.DisplayName
	}
	if req.Metadata != nil {
		f.Metadata = req.Metadata
	}
	f.UpdatedAt = time.Now()
	if err := h.files.Create(c.Request.Context(), f); err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, f)
}

// DeleteFile removes a file; FK cascades remove its jobs/chunks/embeddings.
func (h *Handler) DeleteFile(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	deleted, err := h.files.Delete(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	if !deleted {
		abortWithError(c, mapIngestError(apperrors.Wrap("file_not_found", "file not found", nil)))
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

// ProcessFile enqueues file_processing against an already-uploaded file.
func (h *Handler) ProcessFile(c *gin.Context) {
	fileID, err := parseUUIDParam(c, "file_id")
	if err != nil {
		return
	}
	job, err := h.engine.SubmitJob(c.Request.Context(), fileID, ingest.JobKindFileProcessing, nil)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusAccepted, job)
}

type urlPayload struct {
	URL string `json:"url"`
}

// ProcessURL enqueues url_extraction against a file row carrying a URL.
func (h *Handler) ProcessURL(c *gin.Context) {
	h.processWithURL(c, ingest.JobKindURLExtraction)
}

// ProcessYouTube enqueues youtube_extraction against a file row carrying a
// YouTube URL.
func (h *Handler) ProcessYouTube(c *gin.Context) {
	h.processWithURL(c, ingest.JobKindYouTubeExtraction)
}

func (h *Handler) processWithURL(c *gin.Context, kind ingest.JobKind) {
	fileID, err := parseUUIDParam(c, "file_id")
	if err != nil {
		return
	}
	var req urlPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "INVALID_REQUEST", errMessage(err), err))
		return
	}
	if req.URL == "" {
		abortWithError(c, mapIngestError(apperrors.Wrap("invalid_request", "url is required", nil)))
		return
	}
	job, err := h.engine.SubmitJob(c.Request.Context(), fileID, kind, map[string]any{"url": req.URL})
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusAccepted, job)
}

// GetJob returns one job's current snapshot.
func (h *Handler) GetJob(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	job, found, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	if !found {
		abortWithError(c, mapIngestError(apperrors.Wrap("job_not_found", "job not found", nil)))
		return
	}
	ok(c, http.StatusOK, job)
}

// CancelJob requests cancellation of a queued or running job.
func (h *Handler) CancelJob(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	if err := h.engine.RequestCancel(c.Request.Context(), id); err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"cancelled": true})
}

// JobsForFile lists every job ever run against one file.
func (h *Handler) JobsForFile(c *gin.Context) {
	fileID, err := parseUUIDParam(c, "file_id")
	if err != nil {
		return
	}
	jobs, err := h.jobs.ByFile(c.Request.Context(), fileID)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"items": jobs})
}

// ActiveJobs lists every job that has not reached a terminal state.
func (h *Handler) ActiveJobs(c *gin.Context) {
	jobs, err := h.jobs.Active(c.Request.Context())
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"items": jobs})
}

// StreamJob serves Server-Sent Events for one job's progress, replaying its
// last known state before switching to live updates.
func (h *Handler) StreamJob(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	sub := h.bus.SubscribeJob(id)
	h.streamEvents(c, sub)
}

// StreamAllJobs serves Server-Sent Events across every job's progress.
func (h *Handler) StreamAllJobs(c *gin.Context) {
	sub := h.bus.SubscribeAll()
	h.streamEvents(c, sub)
}

func (h *Handler) streamEvents(c *gin.Context, sub ingest.Subscription) {
	defer sub.Cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, supported := c.Writer.(http.Flusher)
	if !supported {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "STREAM_UNSUPPORTED", "streaming not supported", nil))
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-sub.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("marshal progress event failed", "error", err)
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// Search answers a semantic query over ingested chunks.
func (h *Handler) Search(c *gin.Context) {
	q := search.Query{
		Text:  c.Query("query"),
		Limit: queryInt(c, "limit", 0),
	}
	if raw := c.Query("similarity_threshold"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			q.SimilarityThreshold = &parsed
		}
	}
	if raw := c.Query("file_id"); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			q.FileID = &parsed
		}
	}
	res, err := h.searchEng.Search(c.Request.Context(), q)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"items": res.Hits, "total": res.Total, "elapsedMs": res.Elapsed.Milliseconds()})
}

type vectorSearchRequest struct {
	Vector              []float32  `json:"vector"`
	Limit               int        `json:"limit"`
	SimilarityThreshold *float64   `json:"similarityThreshold"`
	FileID              *uuid.UUID `json:"fileId"`
}

// SearchByVector answers a similarity query against a caller-supplied
// vector, bypassing the embedder.
func (h *Handler) SearchByVector(c *gin.Context) {
	var req vectorSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "INVALID_REQUEST", errMessage(err), err))
		return
	}
	res, err := h.searchEng.SearchByVector(c.Request.Context(), req.Vector, search.Query{
		Limit:               req.Limit,
		SimilarityThreshold: req.SimilarityThreshold,
		FileID:              req.FileID,
	})
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"items": res.Hits, "total": res.Total, "elapsedMs": res.Elapsed.Milliseconds()})
}

// FileChunks lists every chunk recorded against one file.
func (h *Handler) FileChunks(c *gin.Context) {
	fileID, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	chunks, err := h.chunks.ByFile(c.Request.Context(), fileID)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"items": chunks})
}

// ChunkCountForFile returns the number of chunks recorded against one file.
func (h *Handler) ChunkCountForFile(c *gin.Context) {
	fileID, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	count, err := h.chunks.CountByFile(c.Request.Context(), fileID)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	ok(c, http.StatusOK, gin.H{"count": count})
}

// DeleteChunk removes a chunk and its associated embedding row.
func (h *Handler) DeleteChunk(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	deleted, err := h.chunks.Delete(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	if !deleted {
		abortWithError(c, mapIngestError(apperrors.Wrap("chunk_not_found", "chunk not found", nil)))
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

// GetEmbedding returns one embedding row.
func (h *Handler) GetEmbedding(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	emb, found, err := h.embeddings.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	if !found {
		abortWithError(c, mapIngestError(apperrors.Wrap("embedding_not_found", "embedding not found", nil)))
		return
	}
	ok(c, http.StatusOK, emb)
}

// DeleteEmbedding removes an embedding row.
func (h *Handler) DeleteEmbedding(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}
	deleted, err := h.embeddings.Delete(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapIngestError(err))
		return
	}
	if !deleted {
		abortWithError(c, mapIngestError(apperrors.Wrap("embedding_not_found", "embedding not found", nil)))
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "INVALID_REQUEST", "invalid "+name, err))
		return uuid.UUID{}, err
	}
	return id, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
