// Package whisper implements [transcribe.Engine] using the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded lazily on the first Transcribe call so that a missing
// or broken model (or a failed accelerator initialisation) surfaces as
// [transcribe.ErrUnavailable] at call time, where the pipeline's fallback
// logic can react to it, rather than as a construction error.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/livecap-io/livecap/pkg/audio"
	"github.com/livecap-io/livecap/pkg/transcribe"
)

const (
	defaultLanguage = "en"

	// defaultPeakFloor is the normalised peak amplitude below which a window
	// is treated as silence and skipped without invoking the model.
	defaultPeakFloor = 0.001

	// fallbackThreads caps host parallelism in the conservative compute
	// mode. The accelerated mode leaves threading to whisper.cpp.
	fallbackThreads = 2
)

// Compile-time assertion that Engine satisfies transcribe.Engine.
var _ transcribe.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithComputeMode selects the execution path. Defaults to
// [transcribe.ComputeAccelerated].
func WithComputeMode(mode transcribe.ComputeMode) Option {
	return func(e *Engine) { e.mode = mode }
}

// WithPeakFloor sets the normalised peak amplitude below which a window is
// considered silent and skipped. Defaults to 0.001.
func WithPeakFloor(floor float64) Option {
	return func(e *Engine) { e.peakFloor = floor }
}

// Engine runs whisper.cpp inference over assembled audio windows. It is
// intended for sequential use by a single inference goroutine.
type Engine struct {
	modelPath string
	language  string
	mode      transcribe.ComputeMode
	peakFloor float64

	loadOnce sync.Once
	loadErr  error
	model    whisperlib.Model
}

// New creates an Engine that will load the whisper.cpp model from modelPath
// on first use. modelPath must be non-empty.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	e := &Engine{
		modelPath: modelPath,
		language:  defaultLanguage,
		mode:      transcribe.ComputeAccelerated,
		peakFloor: defaultPeakFloor,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Mode returns the engine's compute mode.
func (e *Engine) Mode() transcribe.ComputeMode {
	return e.mode
}

// load performs the one-time model load.
func (e *Engine) load() error {
	e.loadOnce.Do(func() {
		model, err := whisperlib.New(e.modelPath)
		if err != nil {
			e.loadErr = fmt.Errorf("whisper: load model %q (%s): %w",
				e.modelPath, e.mode, errors.Join(transcribe.ErrUnavailable, err))
			return
		}
		e.model = model
		slog.Info("whisper model loaded", "path", e.modelPath, "mode", e.mode)
	})
	return e.loadErr
}

// Transcribe implements [transcribe.Engine]. Near-silent windows are skipped
// without invoking the model and return an empty string.
func (e *Engine) Transcribe(ctx context.Context, window audio.Window) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := e.load(); err != nil {
		return "", err
	}
	if audio.Peak(window.Data) < e.peakFloor {
		return "", nil
	}

	samples := audio.PCMToFloat32Mono(window.Data, window.Channels)

	// Each inference uses a fresh whisper context. Contexts are not
	// thread-safe, but the model is shared safely across them.
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", errors.Join(transcribe.ErrUnavailable, err))
	}

	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", e.language, "error", err)
	}
	if e.mode == transcribe.ComputeFallback {
		wctx.SetThreads(fallbackThreads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process window [%v, %v]: %w",
			window.Start, window.End, errors.Join(transcribe.ErrOverloaded, err))
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", errors.Join(transcribe.ErrOverloaded, err))
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Close releases the whisper model if it was loaded.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
