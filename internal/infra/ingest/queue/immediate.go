// Package queue implements the advisory wakeup fabric the Pipeline Engine
// uses to learn a job is ready to claim. Postgres remains the durable
// system of record regardless of which implementation is wired in here.
package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// Handler is invoked when a job becomes ready to claim.
type Handler func(ctx context.Context, jobID uuid.UUID)

// ImmediateQueue calls the handler in a new goroutine as soon as a job is
// enqueued. Suitable for single-process deployments and tests.
type ImmediateQueue struct {
	handler Handler
}

// NewImmediateQueue constructs the queue.
func NewImmediateQueue() *ImmediateQueue {
	return &ImmediateQueue{}
}

// SetHandler implements ingest.JobQueue.
func (q *ImmediateQueue) SetHandler(handler func(ctx context.Context, jobID uuid.UUID)) {
	q.handler = handler
}

// Enqueue implements ingest.JobQueue.
func (q *ImmediateQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if q.handler == nil {
		return nil
	}
	go q.handler(ctx, jobID)
	return nil
}

var _ ingest.JobQueue = (*ImmediateQueue)(nil)
