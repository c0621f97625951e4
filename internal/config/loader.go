package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/livecap-io/livecap/pkg/transcribe"
)

// ValidBackendNames lists known backend names per kind. Used by [Validate]
// to warn about unrecognised backends before the registry lookup fails.
var ValidBackendNames = map[string][]string{
	"capture": {"miniaudio"},
	"engine":  {"whisper"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Backend name validation — warn for unknown names.
	validateBackendName("capture", cfg.Capture.Backend)
	validateBackendName("engine", cfg.Engine.Backend)

	// Capture
	if cfg.Capture.SampleRateHz < 8000 || cfg.Capture.SampleRateHz > 192000 {
		errs = append(errs, fmt.Errorf("capture.sample_rate_hz %d is out of range [8000, 192000]", cfg.Capture.SampleRateHz))
	}
	if cfg.Capture.Channels < 1 || cfg.Capture.Channels > 8 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 8]", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameMs < 10 || cfg.Capture.FrameMs > 2000 {
		errs = append(errs, fmt.Errorf("capture.frame_ms %d is out of range [10, 2000]", cfg.Capture.FrameMs))
	}
	if cfg.Capture.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("capture.reconnect.max_attempts %d is negative", cfg.Capture.Reconnect.MaxAttempts))
	}

	// Queue
	if cfg.Queue.MaxSeconds < 1 {
		errs = append(errs, fmt.Errorf("queue.max_seconds %d must be at least 1", cfg.Queue.MaxSeconds))
	}
	if cfg.Capture.FrameMs > cfg.Queue.MaxSeconds*1000 {
		errs = append(errs, fmt.Errorf("capture.frame_ms %d exceeds queue.max_seconds %d; a single frame must fit in the queue", cfg.Capture.FrameMs, cfg.Queue.MaxSeconds))
	}

	// Window
	if cfg.Window.TargetMs < cfg.Capture.FrameMs {
		errs = append(errs, fmt.Errorf("window.target_ms %d is below capture.frame_ms %d", cfg.Window.TargetMs, cfg.Capture.FrameMs))
	}
	if cfg.Window.MaxWaitMs < cfg.Window.TargetMs {
		errs = append(errs, fmt.Errorf("window.max_wait_ms %d is below window.target_ms %d", cfg.Window.MaxWaitMs, cfg.Window.TargetMs))
	}
	if cfg.Window.TargetMs > cfg.Queue.MaxSeconds*1000 {
		slog.Warn("window target exceeds queue capacity; windows will always span evictions under load",
			"target_ms", cfg.Window.TargetMs,
			"queue_max_seconds", cfg.Queue.MaxSeconds)
	}

	// Engine
	if cfg.Engine.ComputeMode != "" && !transcribe.ComputeMode(cfg.Engine.ComputeMode).IsValid() {
		errs = append(errs, fmt.Errorf("engine.compute_mode %q is invalid; valid values: accelerated, fallback", cfg.Engine.ComputeMode))
	}
	if cfg.Engine.ResolveModelPath() == "" {
		slog.Warn("no model path configured; set engine.model_path or the MODEL_PATH environment variable")
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name — may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
