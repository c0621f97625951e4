package resilience

import (
	"context"
	"errors"

	"github.com/livecap-io/livecap/pkg/audio"
	"github.com/livecap-io/livecap/pkg/transcribe"
)

// EngineFallback implements [transcribe.Engine] with automatic failover across
// multiple engine backends, typically an accelerated engine backed by a
// plain-CPU one. Each backend has its own circuit breaker, so a persistently
// unavailable accelerated engine is bypassed without probing it on every
// window, and is retried once its breaker goes half-open.
type EngineFallback struct {
	group   *FallbackGroup[transcribe.Engine]
	engines []transcribe.Engine
}

// Compile-time interface assertion.
var _ transcribe.Engine = (*EngineFallback)(nil)

// NewEngineFallback creates an [EngineFallback] with primary as the preferred
// backend.
func NewEngineFallback(primary transcribe.Engine, primaryName string, cfg FallbackConfig) *EngineFallback {
	return &EngineFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		engines: []transcribe.Engine{primary},
	}
}

// AddFallback registers an additional engine as a fallback.
func (f *EngineFallback) AddFallback(name string, engine transcribe.Engine) {
	f.group.AddFallback(name, engine)
	f.engines = append(f.engines, engine)
}

// Transcribe runs the window against the first healthy engine. If the primary
// fails or its breaker is open, subsequent fallbacks are tried in order.
func (f *EngineFallback) Transcribe(ctx context.Context, w audio.Window) (string, error) {
	return ExecuteWithResult(f.group, func(e transcribe.Engine) (string, error) {
		return e.Transcribe(ctx, w)
	})
}

// Close releases every registered engine.
func (f *EngineFallback) Close() error {
	var errs []error
	for _, e := range f.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
