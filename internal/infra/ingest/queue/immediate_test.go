package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestImmediateQueueInvokesHandler(t *testing.T) {
	q := NewImmediateQueue()

	var mu sync.Mutex
	var seen uuid.UUID
	done := make(chan struct{})

	q.SetHandler(func(ctx context.Context, jobID uuid.UUID) {
		mu.Lock()
		seen = jobID
		mu.Unlock()
		close(done)
	})

	jobID := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), jobID))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked in time")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, jobID, seen)
}

func TestImmediateQueueEnqueueWithoutHandlerIsNoop(t *testing.T) {
	q := NewImmediateQueue()
	require.NoError(t, q.Enqueue(context.Background(), uuid.New()))
}
