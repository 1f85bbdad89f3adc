package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/ingest-engine/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		errorHandlingMiddleware(handler.logger),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.logger),
	)

	router.GET("/health", handler.Health)

	api := router.Group("/api/v1")
	{
		api.POST("/upload", handler.Upload)
		api.POST("/upload-and-process", handler.UploadAndProcess)

		api.GET("/files", handler.ListFiles)
		api.GET("/files/:id", handler.GetFile)
		api.PUT("/files/:id", handler.UpdateFile)
		api.DELETE("/files/:id", handler.DeleteFile)
		api.GET("/files/:id/chunks", handler.FileChunks)

		jobs := api.Group("/jobs")
		{
			jobs.POST("/process/file/:file_id", handler.ProcessFile)
			jobs.POST("/process/url/:file_id", handler.ProcessURL)
			jobs.POST("/process/youtube/:file_id", handler.ProcessYouTube)
			jobs.GET("/active", handler.ActiveJobs)
			jobs.GET("/stream", handler.StreamAllJobs)
			jobs.GET("/file/:file_id", handler.JobsForFile)
			jobs.GET("/:id", handler.GetJob)
			jobs.DELETE("/:id/cancel", handler.CancelJob)
			jobs.GET("/:id/stream", handler.StreamJob)
		}

		api.GET("/search", handler.Search)
		api.POST("/embeddings/search", handler.SearchByVector)
		api.GET("/embeddings/:id", handler.GetEmbedding)
		api.DELETE("/embeddings/:id", handler.DeleteEmbedding)

		api.GET("/chunks/file/:id/count", handler.ChunkCountForFile)
		api.DELETE("/chunks/:id", handler.DeleteChunk)
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, handler.logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}
