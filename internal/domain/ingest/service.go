package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yanqian/ingest-engine/pkg/errors"
)

// Upload stores raw bytes in the Blob Store under their content hash and
// records a new File row. Re-uploading identical bytes reuses the same blob
// key; each upload still gets its own File row and id.
func (e *Engine) Upload(ctx context.Context, displayName, mimeType string, data []byte, metadata map[string]any) (File, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if _, err := e.blobs.Put(ctx, hash, data, mimeType); err != nil {
		return File{}, apperrors.Wrap("source_unavailable", "storing upload", err)
	}

	now := time.Now()
	f := File{
		ID:          uuid.New(),
		DisplayName: displayName,
		MimeType:    mimeType,
		ByteSize:    int64(len(data)),
		ContentHash: hash,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.files.Create(ctx, f); err != nil {
		return File{}, err
	}
	return f, nil
}

// SubmitJob records a new queued Job against an existing file and signals
// the job queue. The engine does not act on that signal; workers pick the
// job up from the Job Store on their next poll.
func (e *Engine) SubmitJob(ctx context.Context, fileID uuid.UUID, kind JobKind, payload map[string]any) (Job, error) {
	if _, found, err := e.files.Get(ctx, fileID); err != nil {
		return Job{}, err
	} else if !found {
		return Job{}, apperrors.Wrap("file_not_found", "file not found", nil)
	}

	job := Job{
		ID:        uuid.New(),
		FileID:    fileID,
		Kind:      kind,
		Payload:   payload,
		Status:    JobStatusQueued,
		Progress:  0,
		CreatedAt: time.Now(),
		Version:   1,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return Job{}, err
	}
	if err := e.queue.Enqueue(ctx, job.ID); err != nil {
		e.logger.Warn("failed to signal queue for new job", "job_id", job.ID, "error", err)
	}
	return job, nil
}
