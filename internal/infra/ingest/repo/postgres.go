// Package repo holds Postgres-backed implementations of the ingest
// domain's repository interfaces, following the teacher's
// pool-per-repository, compile-time interface assertion style.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// PostgresFileRepository persists File rows.
type PostgresFileRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresFileRepository constructs the repository.
func NewPostgresFileRepository(pool *pgxpool.Pool) *PostgresFileRepository {
	return &PostgresFileRepository{pool: pool}
}

func (r *PostgresFileRepository) Create(ctx context.Context, f ingest.File) error {
	metadata, err := json.Marshal(f.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO files (id, display_name, mime_type, byte_size, content_hash, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.DisplayName, f.MimeType, f.ByteSize, f.ContentHash, metadata, f.CreatedAt, f.UpdatedAt)
	return err
}

func (r *PostgresFileRepository) Get(ctx context.Context, id uuid.UUID) (ingest.File, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, display_name, mime_type, byte_size, content_hash, metadata, created_at, updated_at
		FROM files WHERE id = $1
	`, id)
	var f ingest.File
	var metadata []byte
	if err := row.Scan(&f.ID, &f.DisplayName, &f.MimeType, &f.ByteSize, &f.ContentHash, &metadata, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return ingest.File{}, false, nil
		}
		return ingest.File{}, false, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
			return ingest.File{}, false, err
		}
	}
	return f, true, nil
}

func (r *PostgresFileRepository) List(ctx context.Context, skip, limit int) ([]ingest.File, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM files`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, mime_type, byte_size, content_hash, metadata, created_at, updated_at
		FROM files ORDER BY created_at DESC OFFSET $1 LIMIT $2
	`, skip, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var files []ingest.File
	for rows.Next() {
		var f ingest.File
		var metadata []byte
		if err := rows.Scan(&f.ID, &f.DisplayName, &f.MimeType, &f.ByteSize, &f.ContentHash, &metadata, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
				return nil, 0, err
			}
		}
		files = append(files, f)
	}
	return files, total, rows.Err()
}

func (r *PostgresFileRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

var _ ingest.FileRepository = (*PostgresFileRepository)(nil)

// PostgresChunkRepository persists chunk rows.
type PostgresChunkRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresChunkRepository constructs the repository.
func NewPostgresChunkRepository(pool *pgxpool.Pool) *PostgresChunkRepository {
	return &PostgresChunkRepository{pool: pool}
}

func (r *PostgresChunkRepository) Get(ctx context.Context, id uuid.UUID) (ingest.Chunk, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, file_id, chunk_index, content, token_count, page_number, section_path, created_at
		FROM content_chunks WHERE id = $1
	`, id)
	var c ingest.Chunk
	if err := row.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Text, &c.TokenCount, &c.PageNumber, &c.SectionPath, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return ingest.Chunk{}, false, nil
		}
		return ingest.Chunk{}, false, err
	}
	return c, true, nil
}

func (r *PostgresChunkRepository) ByFile(ctx context.Context, fileID uuid.UUID) ([]ingest.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, file_id, chunk_index, content, token_count, page_number, section_path, created_at
		FROM content_chunks WHERE file_id = $1 ORDER BY chunk_index ASC
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []ingest.Chunk
	for rows.Next() {
		var c ingest.Chunk
		if err := rows.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Text, &c.TokenCount, &c.PageNumber, &c.SectionPath, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresChunkRepository) CountByFile(ctx context.Context, fileID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content_chunks WHERE file_id = $1`, fileID).Scan(&count)
	return count, err
}

func (r *PostgresChunkRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM content_chunks WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

var _ ingest.ChunkRepository = (*PostgresChunkRepository)(nil)

// PostgresEmbeddingRepository stores embeddings and runs pgvector
// similarity search.
type PostgresEmbeddingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEmbeddingRepository constructs the repository.
func NewPostgresEmbeddingRepository(pool *pgxpool.Pool) *PostgresEmbeddingRepository {
	return &PostgresEmbeddingRepository{pool: pool}
}

func (r *PostgresEmbeddingRepository) Get(ctx context.Context, id uuid.UUID) (ingest.Embedding, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, content_chunk_id, model_name, model_version, parameters, embedding, created_at
		FROM embeddings WHERE id = $1
	`, id)
	var (
		e            ingest.Embedding
		parameters   []byte
		embeddingRaw any
	)
	if err := row.Scan(&e.ID, &e.ChunkID, &e.ModelName, &e.ModelVersion, &parameters, &embeddingRaw, &e.GeneratedAt); err != nil {
		if err == pgx.ErrNoRows {
			return ingest.Embedding{}, false, nil
		}
		return ingest.Embedding{}, false, err
	}
	vec, err := normalizeEmbedding(embeddingRaw)
	if err != nil {
		return ingest.Embedding{}, false, err
	}
	e.Vector = vec
	if len(parameters) > 0 {
		_ = json.Unmarshal(parameters, &e.Parameters)
	}
	return e, true, nil
}

func (r *PostgresEmbeddingRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM embeddings WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresEmbeddingRepository) SearchSimilar(ctx context.Context, vector []float32, modelName string, opts ingest.SearchOptions) ([]ingest.SearchResult, error) {
	query := `
		SELECT
			c.id, c.file_id, c.content, c.chunk_index, c.page_number, c.section_path,
			(1.0 / (1.0 + (e.embedding <-> $1))) AS score
		FROM embeddings e
		JOIN content_chunks c ON c.id = e.content_chunk_id
		WHERE e.model_name = $2
	`
	args := []any{pgvector.NewVector(vector), modelName}
	argPos := 3
	if opts.FileID != nil {
		query += ` AND c.file_id = $` + strconv.Itoa(argPos)
		args = append(args, *opts.FileID)
		argPos++
	}
	if opts.SimilarityThreshold != nil {
		query += ` AND (1.0 / (1.0 + (e.embedding <-> $1))) >= $` + strconv.Itoa(argPos)
		args = append(args, *opts.SimilarityThreshold)
		argPos++
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	query += ` ORDER BY (e.embedding <-> $1) ASC LIMIT $` + strconv.Itoa(argPos)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ingest.SearchResult
	for rows.Next() {
		var res ingest.SearchResult
		if err := rows.Scan(&res.ChunkID, &res.FileID, &res.ChunkText, &res.ChunkIndex, &res.PageNumber, &res.SectionPath, &res.Similarity); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

var _ ingest.EmbeddingRepository = (*PostgresEmbeddingRepository)(nil)

// PostgresPersister commits a job's chunks, embeddings, and completion
// status in one transaction.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// NewPostgresPersister constructs the persister.
func NewPostgresPersister(pool *pgxpool.Pool) *PostgresPersister {
	return &PostgresPersister{pool: pool}
}

func (p *PostgresPersister) PersistJobResult(ctx context.Context, jobID uuid.UUID, version int64, items []ingest.PersistedChunk, result ingest.JobResult) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO content_chunks (id, file_id, chunk_index, content, token_count, page_number, section_path, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.Chunk.ID, item.Chunk.FileID, item.Chunk.ChunkIndex, item.Chunk.Text, item.Chunk.TokenCount,
			item.Chunk.PageNumber, item.Chunk.SectionPath, time.Now().UTC())

		parameters, err := json.Marshal(item.Embedding.Parameters)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO embeddings (id, content_chunk_id, model_name, model_version, parameters, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (content_chunk_id, model_name) DO NOTHING
		`, item.Embedding.ID, item.Chunk.ID, item.Embedding.ModelName, item.Embedding.ModelVersion,
			parameters, pgvector.NewVector(item.Embedding.Vector), time.Now().UTC())
	}
	if len(items) > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'completed', progress = 1.0, completed_at = NOW(), result = $1, version = version + 1
		WHERE id = $2 AND version = $3
	`, resultJSON, jobID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s version conflict during completion", jobID)
	}

	return tx.Commit(ctx)
}

var _ ingest.Persister = (*PostgresPersister)(nil)

func normalizeEmbedding(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case pgvector.Vector:
		return append([]float32(nil), v.Slice()...), nil
	case []float32:
		return append([]float32(nil), v...), nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		trimmed = strings.TrimPrefix(trimmed, "[")
		trimmed = strings.TrimSuffix(trimmed, "]")
		if trimmed == "" {
			return nil, nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]float32, 0, len(parts))
		for _, p := range parts {
			numStr := strings.TrimSpace(p)
			if numStr == "" {
				continue
			}
			f, err := strconv.ParseFloat(numStr, 32)
			if err != nil {
				return nil, err
			}
			out = append(out, float32(f))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", raw)
	}
}
