package ingest

import (
	"context"
	"log/slog"
	"time"
)

// BlobGC periodically sweeps the Blob Store for objects that no longer
// have an owning File row — left behind by a file delete (which removes
// only the row), or by an upload whose file row never got created. This
// is best-effort and never blocks ingestion.
type BlobGC struct {
	logger   *slog.Logger
	files    FileRepository
	blobs    BlobStore
	interval time.Duration
}

// NewBlobGC constructs a sweeper running a full pass every interval.
func NewBlobGC(logger *slog.Logger, files FileRepository, blobs BlobStore, interval time.Duration) *BlobGC {
	return &BlobGC{
		logger:   logger.With("component", "ingest.BlobGC"),
		files:    files,
		blobs:    blobs,
		interval: interval,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (g *BlobGC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.sweepOnce(ctx); err != nil {
				g.logger.Error("blob gc sweep failed", "error", err)
			}
		}
	}
}

func (g *BlobGC) sweepOnce(ctx context.Context) error {
	keys, err := g.blobs.ListKeys(ctx, "")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	live := make(map[string]bool)
	skip, limit := 0, 500
	for {
		files, total, err := g.files.List(ctx, skip, limit)
		if err != nil {
			return err
		}
		for _, f := range files {
			live[f.ContentHash] = true
		}
		skip += limit
		if skip >= total || len(files) == 0 {
			break
		}
	}

	removed := 0
	for _, key := range keys {
		if live[key] {
			continue
		}
		if err := g.blobs.Delete(ctx, key); err != nil {
			g.logger.Warn("failed to delete orphaned blob", "key", key, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		g.logger.Info("swept orphaned blobs", "removed", removed)
	}
	return nil
}
