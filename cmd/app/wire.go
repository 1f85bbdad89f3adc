//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/ingest-engine/internal/bootstrap"
	"github.com/yanqian/ingest-engine/internal/domain/ingest"
	"github.com/yanqian/ingest-engine/internal/infra/config"
	httpiface "github.com/yanqian/ingest-engine/internal/interface/http"
	"github.com/yanqian/ingest-engine/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		providePostgresPool,
		provideFileRepository,
		provideJobRepository,
		provideChunkRepository,
		provideEmbeddingRepository,
		providePersister,
		provideBlobStore,
		provideChunker,
		provideEmbedder,
		provideExtractorRegistry,
		provideJobQueue,
		provideProgressBus,
		provideEngineConfig,
		provideBlobGC,
		provideSearchEngine,
		provideMaxUploadMB,
		ingest.NewEngine,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
