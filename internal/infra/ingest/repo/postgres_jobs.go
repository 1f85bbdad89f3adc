package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// PostgresJobRepository is the durable job ledger. Claiming uses a
// SELECT ... FOR UPDATE SKIP LOCKED CTE so concurrent workers never block
// each other on the same row.
type PostgresJobRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresJobRepository constructs the repository.
func NewPostgresJobRepository(pool *pgxpool.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool}
}

func (r *PostgresJobRepository) Create(ctx context.Context, j ingest.Job) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO processing_jobs (id, file_id, kind, payload, status, progress, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
	`, j.ID, j.FileID, j.Kind, payload, j.Status, j.Progress, j.CreatedAt)
	return err
}

func (r *PostgresJobRepository) Get(ctx context.Context, id uuid.UUID) (ingest.Job, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, file_id, kind, payload, status, progress, created_at, started_at, completed_at, error, result, version
		FROM processing_jobs WHERE id = $1
	`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ingest.Job{}, false, nil
		}
		return ingest.Job{}, false, err
	}
	return j, true, nil
}

func (r *PostgresJobRepository) ByFile(ctx context.Context, fileID uuid.UUID) ([]ingest.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, file_id, kind, payload, status, progress, created_at, started_at, completed_at, error, result, version
		FROM processing_jobs WHERE file_id = $1 ORDER BY created_at DESC
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *PostgresJobRepository) Active(ctx context.Context) ([]ingest.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, file_id, kind, payload, status, progress, created_at, started_at, completed_at, error, result, version
		FROM processing_jobs WHERE status IN ('queued', 'processing') ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ClaimNext atomically claims the oldest queued job via a SKIP LOCKED CTE,
// mirroring the claim pattern used across the corpus's job-queue services.
func (r *PostgresJobRepository) ClaimNext(ctx context.Context) (ingest.Job, bool, error) {
	row := r.pool.QueryRow(ctx, `
		WITH next_job AS (
			SELECT id FROM processing_jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE processing_jobs j
		SET status = 'processing', started_at = NOW(), version = version + 1
		FROM next_job
		WHERE j.id = next_job.id
		RETURNING j.id, j.file_id, j.kind, j.payload, j.status, j.progress, j.created_at, j.started_at, j.completed_at, j.error, j.result, j.version
	`)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ingest.Job{}, false, nil
		}
		return ingest.Job{}, false, err
	}
	return j, true, nil
}

func (r *PostgresJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, version int64, progress float64) (int64, error) {
	var newVersion int64
	err := r.pool.QueryRow(ctx, `
		UPDATE processing_jobs
		SET progress = $1, version = version + 1
		WHERE id = $2 AND version = $3
		RETURNING version
	`, progress, id, version).Scan(&newVersion)
	if err == pgx.ErrNoRows {
		return version, fmt.Errorf("job %s version conflict updating progress", id)
	}
	return newVersion, err
}

func (r *PostgresJobRepository) Fail(ctx context.Context, id uuid.UUID, version int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = $1, error = $1, completed_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3
	`, reason, id, version)
	return err
}

func (r *PostgresJobRepository) CancelQueued(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'cancelled', completed_at = NOW(), version = version + 1
		WHERE id = $1 AND status = 'queued'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresJobRepository) MarkCancelled(ctx context.Context, id uuid.UUID, version int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'cancelled', completed_at = NOW(), version = version + 1
		WHERE id = $1 AND version = $2
	`, id, version)
	return err
}

var _ ingest.JobRepository = (*PostgresJobRepository)(nil)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (ingest.Job, error) {
	var (
		j          ingest.Job
		payload    []byte
		errText    *string
		resultJSON []byte
	)
	if err := row.Scan(&j.ID, &j.FileID, &j.Kind, &payload, &j.Status, &j.Progress, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &errText, &resultJSON, &j.Version); err != nil {
		return ingest.Job{}, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &j.Payload)
	}
	j.Error = errText
	if len(resultJSON) > 0 {
		var res ingest.JobResult
		if err := json.Unmarshal(resultJSON, &res); err == nil {
			j.Result = &res
		}
	}
	return j, nil
}

func scanJobs(rows pgx.Rows) ([]ingest.Job, error) {
	var jobs []ingest.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
