package pipeline

import (
	"log/slog"
	"sync"
)

// defaultLookahead is the number of out-of-order events the Emitter will
// hold back waiting for a missing predecessor before giving up on it.
const defaultLookahead = 8

// Emitter delivers caption events to a [Sink] in strictly increasing Seq
// order. The inference loop is a single sequential consumer, so events
// normally arrive already ordered; the Emitter defends the ordering contract
// anyway so the presentation layer never observes a regression if the
// processing side is ever parallelized.
//
// An event arriving ahead of its predecessors is held in a bounded lookahead
// buffer. Events that are stale (Seq already delivered) or too far ahead of
// the next expected Seq are dropped and logged instead of stalling delivery.
type Emitter struct {
	sink      Sink
	log       *slog.Logger
	lookahead uint64

	mu      sync.Mutex
	started bool
	next    uint64
	held    map[uint64]CaptionEvent
	dropped uint64
}

// NewEmitter wraps sink with ordering enforcement. A lookahead <= 0 selects
// the default bound.
func NewEmitter(sink Sink, log *slog.Logger, lookahead int) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	return &Emitter{
		sink:      sink,
		log:       log.With("component", "emitter"),
		lookahead: uint64(lookahead),
		held:      make(map[uint64]CaptionEvent),
	}
}

// Emit hands event to the sink, in Seq order. The first event observed fixes
// the starting sequence number.
func (e *Emitter) Emit(event CaptionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		e.started = true
		e.next = event.Seq
	}

	switch {
	case event.Seq < e.next:
		e.dropped++
		e.log.Warn("dropping stale caption event",
			"seq", event.Seq, "expected", e.next)
		return
	case event.Seq >= e.next+e.lookahead:
		e.dropped++
		e.log.Warn("dropping caption event beyond reorder bound",
			"seq", event.Seq, "expected", e.next, "lookahead", e.lookahead)
		return
	case event.Seq > e.next:
		e.held[event.Seq] = event
		return
	}

	e.sink.Publish(event)
	e.next++
	for {
		held, ok := e.held[e.next]
		if !ok {
			return
		}
		delete(e.held, e.next)
		e.sink.Publish(held)
		e.next++
	}
}

// Dropped reports the number of events discarded for violating the ordering
// bound.
func (e *Emitter) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}
