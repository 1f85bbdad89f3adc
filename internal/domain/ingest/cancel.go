package ingest

import (
	"sync"

	"github.com/google/uuid"
)

// cancelRegistry tracks the context.CancelFunc for every job currently
// in flight so that a cancel request can reach a running worker without
// either side knowing about the other's goroutine.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]func()
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[uuid.UUID]func())}
}

func (r *cancelRegistry) register(jobID uuid.UUID, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

func (r *cancelRegistry) unregister(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

// request signals cancellation if the job is currently running, returning
// true if a running worker was found and asked to stop.
func (r *cancelRegistry) request(jobID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
