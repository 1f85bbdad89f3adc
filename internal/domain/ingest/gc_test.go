package ingest

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
)

type gcFileRepo struct {
	files []File
}

func (r *gcFileRepo) Create(context.Context, File) error { return nil }
func (r *gcFileRepo) Get(context.Context, uuid.UUID) (File, bool, error) {
	return File{}, false, nil
}
func (r *gcFileRepo) List(_ context.Context, skip, limit int) ([]File, int, error) {
	total := len(r.files)
	if skip >= total {
		return nil, total, nil
	}
	end := skip + limit
	if end > total {
		end = total
	}
	return r.files[skip:end], total, nil
}
func (r *gcFileRepo) Delete(context.Context, uuid.UUID) (bool, error) { return false, nil }

type gcBlobStore struct {
	blobs   map[string]bool
	deleted []string
}

func (b *gcBlobStore) Put(context.Context, string, []byte, string) (StoredObject, error) {
	return StoredObject{}, nil
}
func (b *gcBlobStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, nil
}
func (b *gcBlobStore) Delete(_ context.Context, key string) error {
	delete(b.blobs, key)
	b.deleted = append(b.deleted, key)
	return nil
}
func (b *gcBlobStore) ListKeys(context.Context, string) ([]string, error) {
	keys := make([]string, 0, len(b.blobs))
	for k := range b.blobs {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestBlobGCDeletesOnlyOrphans(t *testing.T) {
	files := &gcFileRepo{files: []File{{ContentHash: "keep-1"}}}
	blobs := &gcBlobStore{blobs: map[string]bool{"keep-1": true, "orphan-1": true}}

	gc := NewBlobGC(testLogger(), files, blobs, 0)
	if err := gc.sweepOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(blobs.blobs) != 1 || !blobs.blobs["keep-1"] {
		t.Fatalf("expected only keep-1 to survive, got %#v", blobs.blobs)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != "orphan-1" {
		t.Fatalf("expected orphan-1 deleted, got %#v", blobs.deleted)
	}
}
