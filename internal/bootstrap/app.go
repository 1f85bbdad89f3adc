package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
	"github.com/yanqian/ingest-engine/internal/infra/config"
)

// App encapsulates the HTTP server and background worker lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	server *http.Server
	engine *ingest.Engine
	gc     *ingest.BlobGC
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, engine *ingest.Engine, gc *ingest.BlobGC) *App {
	return &App{cfg: cfg, logger: logger.With("component", "bootstrap"), server: server, engine: engine, gc: gc}
}

// Run starts the worker pool, the blob GC sweep, and the HTTP server, and
// blocks until ctx is cancelled or the server exits.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start(ctx)
	go a.gc.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		a.engine.Stop()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		a.engine.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
