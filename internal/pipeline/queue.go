// Package pipeline implements the real-time caption pipeline: a bounded
// drop-oldest frame queue between capture and inference, a window assembler,
// an ordered caption emitter, and the supervisor that owns the capture and
// inference goroutines and recovers from device or engine failures.
package pipeline

import (
	"sync"
	"time"

	"github.com/livecap-io/livecap/pkg/audio"
)

// defaultQueueCapacity bounds the buffered audio duration when no capacity
// is configured.
const defaultQueueCapacity = 5 * time.Second

// QueueState is a read-only snapshot of the queue for observability.
type QueueState struct {
	// Capacity is the configured maximum buffered duration.
	Capacity time.Duration

	// Buffered is the currently occupied duration.
	Buffered time.Duration

	// Dropped is the cumulative duration of audio evicted due to overflow.
	// It is never reset.
	Dropped time.Duration

	// Frames is the current number of buffered frames.
	Frames int
}

// Queue is the single hand-off point between the capture goroutine and the
// inference goroutine. Capacity is expressed as a maximum buffered duration
// rather than a frame count, since frame sizes may vary slightly.
//
// Push never blocks the producer: when a new frame would exceed capacity,
// the oldest buffered frames are evicted first (strict FIFO eviction) until
// it fits. This favours freshness over completeness — a caption system must
// stay near real time more than it must be exhaustive, and blocking the
// capture side risks losing samples at the driver level, which is worse
// than discarding already-stale buffered audio.
//
// Queue is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	frames   []audio.Frame
	buffered time.Duration
	capacity time.Duration
	dropped  time.Duration
	closed   bool
}

// NewQueue creates a queue holding at most capacity worth of audio.
// A non-positive capacity falls back to 5 s.
func NewQueue(capacity time.Duration) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push adds a frame to the back of the queue, evicting from the front until
// the frame fits. It never blocks. Pushing to a closed queue discards the
// frame, and a frame longer than the queue's whole capacity is dropped
// outright (counted in Dropped) so the buffered duration never exceeds the
// configured bound.
func (q *Queue) Push(frame audio.Frame) {
	d := frame.Duration()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	// A frame longer than the whole queue can never fit; evicting
	// everything for it would still leave the buffer over capacity.
	if d > q.capacity {
		q.dropped += d
		return
	}

	for q.buffered+d > q.capacity && len(q.frames) > 0 {
		evicted := q.frames[0]
		q.frames[0] = audio.Frame{} // release backing array reference
		q.frames = q.frames[1:]
		q.buffered -= evicted.Duration()
		q.dropped += evicted.Duration()
	}

	q.frames = append(q.frames, frame)
	q.buffered += d
	q.notEmpty.Signal()
}

// Pop removes and returns the oldest buffered frame, blocking until one is
// available or the queue is closed. The second return value is false once
// the queue is closed and fully drained — the end-of-stream sentinel.
func (q *Queue) Pop() (audio.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.frames) == 0 {
		return audio.Frame{}, false
	}

	frame := q.frames[0]
	q.frames[0] = audio.Frame{}
	q.frames = q.frames[1:]
	q.buffered -= frame.Duration()
	return frame, true
}

// Close marks the queue closed and unblocks any pending Pop. Already-queued
// frames remain poppable. Calling Close more than once is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

// Dropped returns the cumulative duration of audio evicted due to overflow.
func (q *Queue) Dropped() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// State returns a snapshot of the queue for the observability surface.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueState{
		Capacity: q.capacity,
		Buffered: q.buffered,
		Dropped:  q.dropped,
		Frames:   len(q.frames),
	}
}
