package main

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
	"github.com/yanqian/ingest-engine/internal/domain/search"
	"github.com/yanqian/ingest-engine/internal/infra/config"
	"github.com/yanqian/ingest-engine/internal/infra/db"
	ingestembedder "github.com/yanqian/ingest-engine/internal/infra/ingest/embedder"
	ingestextractor "github.com/yanqian/ingest-engine/internal/infra/ingest/extractor"
	ingestqueue "github.com/yanqian/ingest-engine/internal/infra/ingest/queue"
	ingestrepo "github.com/yanqian/ingest-engine/internal/infra/ingest/repo"
	ingestchunker "github.com/yanqian/ingest-engine/internal/infra/ingest/chunker"
	ingeststorage "github.com/yanqian/ingest-engine/internal/infra/ingest/storage"
)

// providePostgresPool opens the single pool backing every Postgres
// repository, registering the pgvector codec on every new connection.
func providePostgresPool(cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Postgres.MinConns
	}
	registerPgVector(poolConfig, logger)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres pool ready")
	return pool, nil
}

func registerPgVector(poolConfig *pgxpool.Config, logger *slog.Logger) {
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var oid uint32
		if err := conn.QueryRow(ctx, "SELECT 'vector'::regtype::oid").Scan(&oid); err != nil {
			logger.Error("failed to lookup pgvector oid", "error", err)
			return err
		}
		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "vector",
			OID:   oid,
			Codec: pgtype.TextCodec{},
		})
		return nil
	}
}

func provideFileRepository(pool *pgxpool.Pool) ingest.FileRepository {
	return ingestrepo.NewPostgresFileRepository(pool)
}

func provideJobRepository(pool *pgxpool.Pool) ingest.JobRepository {
	return ingestrepo.NewPostgresJobRepository(pool)
}

func provideChunkRepository(pool *pgxpool.Pool) ingest.ChunkRepository {
	return ingestrepo.NewPostgresChunkRepository(pool)
}

func provideEmbeddingRepository(pool *pgxpool.Pool) ingest.EmbeddingRepository {
	return ingestrepo.NewPostgresEmbeddingRepository(pool)
}

func providePersister(pool *pgxpool.Pool) ingest.Persister {
	return ingestrepo.NewPostgresPersister(pool)
}

func provideBlobStore(cfg *config.Config, logger *slog.Logger) (ingest.BlobStore, error) {
	if cfg.Storage.Backend == "r2" {
		store, err := ingeststorage.NewR2BlobStore(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Bucket, cfg.Storage.Region, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("r2 blob store enabled", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
		return store, nil
	}
	logger.Info("using in-memory blob store")
	return ingeststorage.NewMemoryBlobStore(), nil
}

func provideChunker() ingest.Chunker {
	return ingestchunker.NewTokenChunker()
}

func provideEmbedder(cfg *config.Config) (ingest.Embedder, error) {
	return ingestembedder.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.RequestsPerSecond)
}

func provideExtractorRegistry() ingest.ExtractorRegistry {
	reg := ingestextractor.NewRegistry()
	reg.Register(ingestextractor.NewPlaintextExtractor())
	reg.Register(ingestextractor.NewHTMLExtractor())
	reg.Register(ingestextractor.NewYouTubeExtractor())
	return reg
}

func provideJobQueue(cfg *config.Config, logger *slog.Logger) (ingest.JobQueue, error) {
	if cfg.Queue.Backend == "valkey" {
		opt, err := buildValkeyOptions(cfg.Queue.Addr)
		if err != nil {
			return nil, err
		}
		client, err := valkey.NewClient(opt)
		if err != nil {
			return nil, err
		}
		logger.Info("valkey job queue enabled", "addr", cfg.Queue.Addr)
		return ingestqueue.NewValkeyQueue(client, cfg.Queue.QueueKey, logger), nil
	}
	logger.Info("using in-process immediate job queue")
	return ingestqueue.NewImmediateQueue(), nil
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		return valkey.ParseURL(addr)
	}
	return valkey.ClientOption{InitAddress: []string{addr}}, nil
}

func provideProgressBus() *ingest.ProgressBus {
	return ingest.NewProgressBus()
}

func provideEngineConfig(cfg *config.Config) ingest.EngineConfig {
	workers := cfg.Worker.Count
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return ingest.EngineConfig{
		WorkerCount:         workers,
		EmbedBatchSize:      cfg.Embedding.BatchMaxItems,
		EmbedBatchMaxTokens: cfg.Embedding.BatchMaxTokens,
		EmbeddingModel:      cfg.Embedding.Model,
		ClaimPollInterval:   cfg.Worker.ClaimPollInterval,
	}
}

func provideBlobGC(cfg *config.Config, logger *slog.Logger, files ingest.FileRepository, blobs ingest.BlobStore) *ingest.BlobGC {
	return ingest.NewBlobGC(logger, files, blobs, cfg.Ingest.GCInterval)
}

func provideSearchEngine(logger *slog.Logger, embedder ingest.Embedder, embeddings ingest.EmbeddingRepository, cfg *config.Config) *search.Engine {
	return search.NewEngine(logger, embedder, embeddings, cfg.Embedding.Model)
}

func provideMaxUploadMB(cfg *config.Config) int {
	return cfg.HTTP.MaxUploadMB
}
