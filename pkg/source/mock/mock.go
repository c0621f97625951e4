// Package mock provides in-memory mock implementations of the
// [source.Device] and [source.Source] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts, and they expose exported fields the
// test sets to script return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	src.Script(mock.Frame(frameA), mock.Frame(frameB), mock.Err(source.ErrDeviceDisconnected))
//	dev := &mock.Device{}
//	dev.QueueOpen(src, nil)
package mock

import (
	"context"
	"sync"

	"github.com/livecap-io/livecap/pkg/audio"
	"github.com/livecap-io/livecap/pkg/source"
)

// Step is a single scripted NextFrame result.
type Step struct {
	Frame audio.Frame
	Err   error
}

// Frame wraps a frame into a successful [Step].
func Frame(f audio.Frame) Step { return Step{Frame: f} }

// Err wraps an error into a failing [Step].
func Err(err error) Step { return Step{Err: err} }

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [source.Source]. NextFrame replays the
// scripted steps in order; once the script is exhausted it blocks until the
// context is cancelled or Close is called.
type Source struct {
	mu     sync.Mutex
	steps  []Step
	closed chan struct{}
	once   sync.Once

	// CallCountNextFrame records how many times NextFrame was called.
	CallCountNextFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Compile-time assertion that Source satisfies source.Source.
var _ source.Source = (*Source)(nil)

// Script appends steps to the replay queue.
func (s *Source) Script(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// NextFrame implements [source.Source].
func (s *Source) NextFrame(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountNextFrame++
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	if len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return step.Frame, step.Err
	}
	closed := s.closed
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-closed:
		return audio.Frame{}, source.ErrSourceClosed
	}
}

// Close implements [source.Source]. It unblocks any pending NextFrame.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	closed := s.closed
	s.mu.Unlock()

	s.once.Do(func() { close(closed) })
	return nil
}

// ─── Device ───────────────────────────────────────────────────────────────────

// openResult pairs a scripted Source with the error Open should return.
type openResult struct {
	src source.Source
	err error
}

// Device is a mock implementation of [source.Device]. Open consumes the
// queued results in order; when the queue is empty the last queued result is
// repeated.
type Device struct {
	mu    sync.Mutex
	opens []openResult
	last  openResult

	// ListInputsResult is returned by [Device.ListInputs].
	ListInputsResult []string

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// RecordedSelectors holds the selector passed to each Open call.
	RecordedSelectors []string
}

// Compile-time assertion that Device satisfies source.Device.
var _ source.Device = (*Device)(nil)

// QueueOpen appends a scripted Open result.
func (d *Device) QueueOpen(src source.Source, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens = append(d.opens, openResult{src: src, err: err})
}

// Open implements [source.Device].
func (d *Device) Open(_ context.Context, selector string, _ source.Config) (source.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	d.RecordedSelectors = append(d.RecordedSelectors, selector)
	if len(d.opens) > 0 {
		d.last = d.opens[0]
		d.opens = d.opens[1:]
	}
	return d.last.src, d.last.err
}

// ListInputs implements [source.Device]. Returns ListInputsResult.
func (d *Device) ListInputs(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ListInputsResult, nil
}
