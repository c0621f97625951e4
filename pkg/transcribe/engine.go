// Package transcribe defines the Engine interface for speech-to-text
// inference backends.
//
// An Engine maps one assembled [audio.Window] to transcribed text. The call
// is blocking and possibly slow (sub-second to multi-second); the pipeline
// runs it on a dedicated inference goroutine so it never stalls capture.
// Engines report failures through two sentinel errors so the supervisor can
// tell a broken engine apart from a single bad window:
//
//   - [ErrUnavailable] — the engine cannot run at all (model failed to load,
//     accelerator initialisation failed). Worth switching compute mode over.
//   - [ErrOverloaded] — a transient per-window failure. The window is
//     dropped and processing continues.
//
// Implementations must be safe for sequential reuse; they do not need to
// support concurrent Transcribe calls.
package transcribe

import (
	"context"
	"errors"

	"github.com/livecap-io/livecap/pkg/audio"
)

// ErrUnavailable indicates the engine failed to initialise or permanently
// lost its compute backend.
var ErrUnavailable = errors.New("inference engine unavailable")

// ErrOverloaded indicates a transient failure transcribing a single window.
var ErrOverloaded = errors.New("inference engine overloaded")

// ComputeMode selects the execution path for an inference engine.
type ComputeMode string

const (
	// ComputeAccelerated prefers the hardware-assisted path (GPU offload
	// when the engine was built with it, otherwise full host parallelism).
	ComputeAccelerated ComputeMode = "accelerated"

	// ComputeFallback is the conservative CPU path used when the
	// accelerated mode fails to initialise.
	ComputeFallback ComputeMode = "fallback"
)

// IsValid reports whether m is a recognised compute mode.
func (m ComputeMode) IsValid() bool {
	return m == ComputeAccelerated || m == ComputeFallback
}

// Engine is the abstraction over any speech-to-text inference backend.
type Engine interface {
	// Transcribe runs inference over one audio window and returns the
	// transcribed text. An empty string with a nil error means the window
	// contained no recognisable speech — that is not an error.
	//
	// Errors wrapping [ErrUnavailable] mean the engine itself is broken;
	// errors wrapping [ErrOverloaded] mean only this window failed.
	Transcribe(ctx context.Context, window audio.Window) (string, error)

	// Close releases any resources held by the engine. Calling Close more
	// than once is safe and returns nil.
	Close() error
}
