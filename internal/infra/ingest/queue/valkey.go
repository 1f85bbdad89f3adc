package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/ingest-engine/internal/domain/ingest"
)

// ValkeyQueue persists job-ready signals in Valkey and delivers them to a
// handler via a blocking-pop consumer loop. It is a wakeup fabric only:
// the worker that claims the job still reads job state from Postgres.
type ValkeyQueue struct {
	client      valkey.Client
	queueKey    string
	handler     func(ctx context.Context, jobID uuid.UUID)
	logger      *slog.Logger
	stop        chan struct{}
	pollTimeout time.Duration
}

// NewValkeyQueue constructs a Valkey-backed queue.
func NewValkeyQueue(client valkey.Client, queueKey string, logger *slog.Logger) *ValkeyQueue {
	if queueKey == "" {
		queueKey = "ingest:jobs:ready"
	}
	return &ValkeyQueue{
		client:      client,
		queueKey:    queueKey,
		logger:      logger.With("component", "ingest.queue.valkey"),
		stop:        make(chan struct{}),
		pollTimeout: 5 * time.Second,
	}
}

// SetHandler implements ingest.JobQueue and starts the consumer loop.
func (q *ValkeyQueue) SetHandler(handler func(ctx context.Context, jobID uuid.UUID)) {
	q.handler = handler
	if handler == nil {
		return
	}
	go q.consume()
}

// Enqueue implements ingest.JobQueue.
func (q *ValkeyQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	cmd := q.client.B().Lpush().Key(q.queueKey).Element(jobID.String()).Build()
	return q.client.Do(ctx, cmd).Error()
}

// Close stops the consumer loop.
func (q *ValkeyQueue) Close() {
	close(q.stop)
}

func (q *ValkeyQueue) consume() {
	ctx := context.Background()
	for {
		select {
		case <-q.stop:
			return
		default:
		}
		resp := q.client.Do(ctx, q.client.B().Brpop().Key(q.queueKey).Timeout(q.pollTimeout.Seconds()).Build())
		values, err := resp.ToArray()
		if err != nil {
			if !valkey.IsValkeyNil(err) {
				q.logger.Warn("valkey queue pop failed", "error", err)
			}
			continue
		}
		if len(values) < 2 || q.handler == nil {
			continue
		}
		raw, err := values[1].ToString()
		if err != nil {
			q.logger.Warn("valkey queue payload decode failed", "error", err)
			continue
		}
		jobID, err := uuid.Parse(raw)
		if err != nil {
			q.logger.Warn("valkey queue payload is not a job id", "error", err, "payload", raw)
			continue
		}
		q.handler(ctx, jobID)
	}
}

var _ ingest.JobQueue = (*ValkeyQueue)(nil)
