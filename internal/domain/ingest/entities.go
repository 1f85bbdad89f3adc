package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies the shape of material a job ingests.
type SourceKind string

const (
	SourceKindUpload  SourceKind = "upload"
	SourceKindURL     SourceKind = "url"
	SourceKindYouTube SourceKind = "youtube"
)

// JobKind identifies the pipeline variant a job runs.
type JobKind string

const (
	JobKindFileProcessing   JobKind = "file_processing"
	JobKindURLExtraction    JobKind = "url_extraction"
	JobKindYouTubeExtraction JobKind = "youtube_extraction"
)

// SourceKind maps a job kind to the extractor it dispatches to.
func (k JobKind) SourceKind() SourceKind {
	switch k {
	case JobKindURLExtraction:
		return SourceKindURL
	case JobKindYouTubeExtraction:
		return SourceKindYouTube
	default:
		return SourceKindUpload
	}
}

// Job status constants. A terminal failure is stored as "failed:<reason>";
// use Job.Reason/Job.IsTerminal to inspect it rather than comparing strings.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
	JobStatusFailed     = "failed"
)

// File represents a named byte blob and its processing lineage.
// Processing status is derived from its jobs, never stored redundantly here.
type File struct {
	ID          uuid.UUID
	DisplayName string
	MimeType    string
	ByteSize    int64
	ContentHash string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is a contiguous span of a file's extracted text.
type Chunk struct {
	ID          uuid.UUID
	FileID      uuid.UUID
	ChunkIndex  int
	Text        string
	TokenCount  int
	PageNumber  *int
	SectionPath *string
	CreatedAt   time.Time
}

// Embedding is a dense vector produced by a named model for one chunk.
type Embedding struct {
	ID           uuid.UUID
	ChunkID      uuid.UUID
	Vector       []float32
	ModelName    string
	ModelVersion *string
	Parameters   map[string]any
	GeneratedAt  time.Time
}

// JobResult is the summary recorded when a job reaches "completed".
type JobResult struct {
	ChunksCreated       int   `json:"chunksCreated"`
	EmbeddingsCreated   int   `json:"embeddingsCreated"`
	ProcessingTimeMs    int64 `json:"processingTimeMs"`
	ExtractedTextLength int   `json:"extractedTextLength"`
}

// Job is a unit of ingestion work against one file.
type Job struct {
	ID          uuid.UUID
	FileID      uuid.UUID
	Kind        JobKind
	Payload     map[string]any
	Status      string
	Progress    float64
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
	Result      *JobResult
	Version     int64
}

// Reason splits a "failed:<reason>" status into its base kind and opaque tail.
func (j Job) Reason() (kind string, detail string) {
	parts := strings.SplitN(j.Status, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return j.Status, ""
}

// IsTerminal reports whether the job has reached a final state.
func (j Job) IsTerminal() bool {
	kind, _ := j.Reason()
	switch kind {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// FailedStatus builds the "failed:<stage>:<reason>" status string.
func FailedStatus(parts ...string) string {
	return JobStatusFailed + ":" + strings.Join(parts, ":")
}

// ProgressEvent is the transient message broadcast on the Progress Bus.
type ProgressEvent struct {
	JobID    uuid.UUID  `json:"jobId"`
	Status   string     `json:"status"`
	Progress float64    `json:"progress"`
	Result   *JobResult `json:"resultSummary,omitempty"`
	Error    *string    `json:"error,omitempty"`
}

// Annotation carries structural hints produced by an extractor.
type Annotation struct {
	Page        *int
	SectionPath *string
	Timestamp   *string
}

// TextFragment is one piece of an extractor's normalized output stream.
type TextFragment struct {
	Text       string
	Annotation *Annotation
}

// ChunkPolicy controls how the Chunker partitions normalized text.
type ChunkPolicy struct {
	TargetTokens  int
	OverlapTokens int
	MaxTokens     int
}

// DefaultChunkPolicy matches the spec's default sizing.
func DefaultChunkPolicy() ChunkPolicy {
	return ChunkPolicy{TargetTokens: 512, OverlapTokens: 64, MaxTokens: 1024}
}

// ChunkCandidate is produced by the Chunker before persistence/embedding.
type ChunkCandidate struct {
	Index       int
	Text        string
	TokenCount  int
	PageNumber  *int
	SectionPath *string
}

// DocumentFilter restricts a file listing or search to a scope.
type DocumentFilter struct {
	FileIDs []uuid.UUID
	Skip    int
	Limit   int
}

// FileStatus folds a file's jobs into one user-facing status string.
// Mirrors the "failed:<reason>" convention used by Job.Status.
func FileStatus(jobs []Job) string {
	if len(jobs) == 0 {
		return "uploaded"
	}
	for _, j := range jobs {
		if !j.IsTerminal() {
			return "processing"
		}
	}
	latest := jobs[0]
	for _, j := range jobs[1:] {
		if j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest.Status == JobStatusCompleted {
		return "processed"
	}
	return latest.Status
}
