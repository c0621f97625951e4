// Package mock provides an in-memory mock implementation of the
// [transcribe.Engine] interface for use in unit tests.
//
// The mock replays scripted results in order and records every Transcribe
// call so tests can assert on call counts and inspect the windows received.
package mock

import (
	"context"
	"sync"

	"github.com/livecap-io/livecap/pkg/audio"
	"github.com/livecap-io/livecap/pkg/transcribe"
)

// Result is a single scripted Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// Engine is a mock implementation of [transcribe.Engine].
// Script results before use; inspect the Call* and Recorded fields after.
type Engine struct {
	mu      sync.Mutex
	results []Result
	last    Result

	// CallCountTranscribe records how many times Transcribe was called.
	CallCountTranscribe int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// RecordedWindows holds every window passed to Transcribe, in order.
	RecordedWindows []audio.Window
}

// Compile-time assertion that Engine satisfies transcribe.Engine.
var _ transcribe.Engine = (*Engine)(nil)

// Script appends results to the replay queue. When the queue is exhausted
// the last result is repeated.
func (e *Engine) Script(results ...Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, results...)
}

// Transcribe implements [transcribe.Engine].
func (e *Engine) Transcribe(ctx context.Context, window audio.Window) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountTranscribe++
	e.RecordedWindows = append(e.RecordedWindows, window)
	if len(e.results) > 0 {
		e.last = e.results[0]
		e.results = e.results[1:]
	}
	return e.last.Text, e.last.Err
}

// Close implements [transcribe.Engine].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountClose++
	return nil
}
