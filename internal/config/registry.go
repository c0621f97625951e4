package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/livecap-io/livecap/pkg/source"
	"github.com/livecap-io/livecap/pkg/transcribe"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions. It decouples
// the config schema from concrete capture and engine implementations so main
// can register only the backends compiled into the binary. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	capture map[string]func(CaptureConfig) (source.Device, error)
	engine  map[string]func(EngineConfig) (transcribe.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture: make(map[string]func(CaptureConfig) (source.Device, error)),
		engine:  make(map[string]func(EngineConfig) (transcribe.Engine, error)),
	}
}

// RegisterCapture registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(CaptureConfig) (source.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterEngine registers a transcription engine factory under name.
func (r *Registry) RegisterEngine(name string, factory func(EngineConfig) (transcribe.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine[name] = factory
}

// CreateCapture instantiates a capture backend using the factory registered
// under cfg.Backend. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateCapture(cfg CaptureConfig) (source.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateEngine instantiates a transcription engine using the factory
// registered under cfg.Backend.
func (r *Registry) CreateEngine(cfg EngineConfig) (transcribe.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engine[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}
