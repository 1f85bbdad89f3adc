package ingest

import (
	"sync"

	"github.com/google/uuid"
)

// defaultSubscriberBuffer bounds how many events a slow subscriber can
// lag behind before the bus starts dropping its oldest unread event.
const defaultSubscriberBuffer = 64

// ProgressBus fans out ProgressEvents to per-job and all-jobs subscribers.
// Slow readers never block publishers: a full channel is drained of its
// oldest entry to make room, so slow subscribers lose history, not the
// publisher's throughput.
type ProgressBus struct {
	mu          sync.Mutex
	bufferSize  int
	perJob      map[uuid.UUID]map[int]chan ProgressEvent
	all         map[int]chan ProgressEvent
	lastByJob   map[uuid.UUID]ProgressEvent
	nextSubID   int
}

// NewProgressBus constructs a bus with the default per-subscriber buffer.
func NewProgressBus() *ProgressBus {
	return &ProgressBus{
		bufferSize: defaultSubscriberBuffer,
		perJob:     make(map[uuid.UUID]map[int]chan ProgressEvent),
		all:        make(map[int]chan ProgressEvent),
		lastByJob:  make(map[uuid.UUID]ProgressEvent),
	}
}

// Publish broadcasts an event to the job's subscribers and to all-jobs
// subscribers, and updates the last-known-state snapshot for that job.
func (b *ProgressBus) Publish(evt ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastByJob[evt.JobID] = evt

	for _, ch := range b.perJob[evt.JobID] {
		offerOrDropOldest(ch, evt)
	}
	for _, ch := range b.all {
		offerOrDropOldest(ch, evt)
	}
}

// offerOrDropOldest delivers evt to ch, discarding the channel's oldest
// buffered event first if it is full.
func offerOrDropOldest(ch chan ProgressEvent, evt ProgressEvent) {
	select {
	case ch <- evt:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- evt:
	default:
	}
}

// Subscription is a live feed of progress events plus its cleanup hook.
type Subscription struct {
	Events <-chan ProgressEvent
	Cancel func()
}

// SubscribeJob opens a feed scoped to one job, replaying its last known
// state first if one has been published already.
func (b *ProgressBus) SubscribeJob(jobID uuid.UUID) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan ProgressEvent, b.bufferSize)
	if last, ok := b.lastByJob[jobID]; ok {
		ch <- last
	}

	id := b.nextSubID
	b.nextSubID++
	if b.perJob[jobID] == nil {
		b.perJob[jobID] = make(map[int]chan ProgressEvent)
	}
	b.perJob[jobID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.perJob[jobID], id)
		if len(b.perJob[jobID]) == 0 {
			delete(b.perJob, jobID)
		}
		close(ch)
	}
	return Subscription{Events: ch, Cancel: cancel}
}

// SubscribeAll opens a feed spanning every job's events.
func (b *ProgressBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan ProgressEvent, b.bufferSize)
	id := b.nextSubID
	b.nextSubID++
	b.all[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
		close(ch)
	}
	return Subscription{Events: ch, Cancel: cancel}
}

// LastState returns the last event published for a job, if any.
func (b *ProgressBus) LastState(jobID uuid.UUID) (ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, ok := b.lastByJob[jobID]
	return evt, ok
}

// Forget drops the cached last-known-state for a job once it is terminal
// and no longer needs replay for new subscribers.
func (b *ProgressBus) Forget(jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lastByJob, jobID)
}
