// Package config provides the configuration schema, loader, backend registry,
// and hot-reload watcher for the livecap captioning service.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/livecap-io/livecap/internal/pipeline"
	"github.com/livecap-io/livecap/pkg/source"
	"github.com/livecap-io/livecap/pkg/transcribe"
)

// LogLevel controls log verbosity for the livecap service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to the corresponding [slog.Level]. Unknown values map to
// info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// modelPathEnv is consulted when engine.model_path is not set in the file.
const modelPathEnv = "MODEL_PATH"

// Config is the root configuration structure for livecap.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Queue   QueueConfig   `yaml:"queue"`
	Window  WindowConfig  `yaml:"window"`
	Engine  EngineConfig  `yaml:"engine"`
	Overlay OverlayConfig `yaml:"overlay"`
}

// ServerConfig holds network and logging settings for the status/overlay
// HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CaptureConfig selects and shapes the audio input.
type CaptureConfig struct {
	// Backend selects the registered capture backend (e.g., "miniaudio").
	Backend string `yaml:"backend"`

	// Device matches the input device by case-insensitive name substring.
	// The default targets a virtual-cable loopback device so system audio,
	// not the microphone, is captured.
	Device string `yaml:"device"`

	// SampleRateHz is the capture sample rate. Default: 16000, matching the
	// inference model's expected input.
	SampleRateHz int `yaml:"sample_rate_hz"`

	// Channels is the captured channel count. Default: 1.
	Channels int `yaml:"channels"`

	// FrameMs is the duration of a single capture frame in milliseconds.
	// Default: 500.
	FrameMs int `yaml:"frame_ms"`

	// Reconnect bounds the reopen loop entered after a device disconnect.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds device-reconnect behaviour.
type ReconnectConfig struct {
	// MaxAttempts is the number of reopen attempts before the pipeline
	// gives up. Default: 10.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoffMs is the delay before the first attempt; it doubles per
	// attempt up to MaxBackoffMs. Defaults: 250 and 5000.
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

// QueueConfig bounds the audio buffered between capture and inference.
type QueueConfig struct {
	// MaxSeconds is the queue capacity as a duration. When new audio would
	// exceed it, the oldest buffered audio is discarded. Default: 5.
	MaxSeconds int `yaml:"max_seconds"`
}

// WindowConfig tunes how captured frames are grouped into inference windows.
type WindowConfig struct {
	// TargetMs is the accumulated audio duration at which a window is cut.
	// Default: 3000.
	TargetMs int `yaml:"target_ms"`

	// MaxWaitMs caps the wall-clock age of a pending window, bounding
	// caption latency under sparse audio. Default: 5000.
	MaxWaitMs int `yaml:"max_wait_ms"`

	// SilenceSplit cuts windows early at natural speech breaks.
	// Default: true.
	SilenceSplit *bool `yaml:"silence_split"`

	// SilenceRMS is the 16-bit RMS energy below which audio counts as
	// silence. Default: 300.
	SilenceRMS float64 `yaml:"silence_rms"`

	// MinSilenceMs is the trailing-silence duration that triggers an early
	// cut. Default: 500.
	MinSilenceMs int `yaml:"min_silence_ms"`
}

// EngineConfig selects and shapes the transcription engine.
type EngineConfig struct {
	// Backend selects the registered engine backend (e.g., "whisper").
	Backend string `yaml:"backend"`

	// ModelPath is the filesystem path to locally cached model weights.
	// When empty, the MODEL_PATH environment variable is consulted.
	ModelPath string `yaml:"model_path"`

	// Language is the spoken language hint passed to the model (e.g., "en").
	// Empty enables auto-detection.
	Language string `yaml:"language"`

	// ComputeMode prefers "accelerated" or "fallback" compute. Empty means
	// accelerated with automatic fallback on initialization failure.
	ComputeMode string `yaml:"compute_mode"`
}

// OverlayConfig controls the WebSocket caption feed consumed by overlay
// windows and other presentation layers.
type OverlayConfig struct {
	// Enabled serves the caption WebSocket endpoint. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Path is the WebSocket endpoint path. Default: "/captions".
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is provided. The
// capture defaults target a VB-Audio virtual cable's loopback output, the
// conventional way to route system audio into a capture device.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Capture: CaptureConfig{
			Backend:      "miniaudio",
			Device:       "CABLE Output (VB-Audio Virtual Cable",
			SampleRateHz: 16000,
			Channels:     1,
			FrameMs:      500,
			Reconnect: ReconnectConfig{
				MaxAttempts:      10,
				InitialBackoffMs: 250,
				MaxBackoffMs:     5000,
			},
		},
		Queue:  QueueConfig{MaxSeconds: 5},
		Window: WindowConfig{TargetMs: 3000, MaxWaitMs: 5000, SilenceRMS: 300, MinSilenceMs: 500},
		Engine: EngineConfig{Backend: "whisper"},
		Overlay: OverlayConfig{
			Path: "/captions",
		},
	}
}

// applyDefaults fills zero-valued fields from [Default].
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = def.Server.ListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Capture.Backend == "" {
		cfg.Capture.Backend = def.Capture.Backend
	}
	if cfg.Capture.Device == "" {
		cfg.Capture.Device = def.Capture.Device
	}
	if cfg.Capture.SampleRateHz == 0 {
		cfg.Capture.SampleRateHz = def.Capture.SampleRateHz
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = def.Capture.Channels
	}
	if cfg.Capture.FrameMs == 0 {
		cfg.Capture.FrameMs = def.Capture.FrameMs
	}
	if cfg.Capture.Reconnect.MaxAttempts == 0 {
		cfg.Capture.Reconnect.MaxAttempts = def.Capture.Reconnect.MaxAttempts
	}
	if cfg.Capture.Reconnect.InitialBackoffMs == 0 {
		cfg.Capture.Reconnect.InitialBackoffMs = def.Capture.Reconnect.InitialBackoffMs
	}
	if cfg.Capture.Reconnect.MaxBackoffMs == 0 {
		cfg.Capture.Reconnect.MaxBackoffMs = def.Capture.Reconnect.MaxBackoffMs
	}
	if cfg.Queue.MaxSeconds == 0 {
		cfg.Queue.MaxSeconds = def.Queue.MaxSeconds
	}
	if cfg.Window.TargetMs == 0 {
		cfg.Window.TargetMs = def.Window.TargetMs
	}
	if cfg.Window.MaxWaitMs == 0 {
		cfg.Window.MaxWaitMs = def.Window.MaxWaitMs
	}
	if cfg.Window.SilenceRMS == 0 {
		cfg.Window.SilenceRMS = def.Window.SilenceRMS
	}
	if cfg.Window.MinSilenceMs == 0 {
		cfg.Window.MinSilenceMs = def.Window.MinSilenceMs
	}
	if cfg.Engine.Backend == "" {
		cfg.Engine.Backend = def.Engine.Backend
	}
	if cfg.Overlay.Path == "" {
		cfg.Overlay.Path = def.Overlay.Path
	}
}

// SilenceSplitEnabled resolves the optional silence_split flag; unset means
// enabled.
func (w WindowConfig) SilenceSplitEnabled() bool {
	return w.SilenceSplit == nil || *w.SilenceSplit
}

// OverlayEnabled resolves the optional overlay.enabled flag; unset means
// enabled.
func (o OverlayConfig) OverlayEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// ResolveModelPath returns the configured model path, falling back to the
// MODEL_PATH environment variable. Empty when neither is set.
func (e EngineConfig) ResolveModelPath() string {
	if e.ModelPath != "" {
		return e.ModelPath
	}
	return os.Getenv(modelPathEnv)
}

// SourceConfig converts the capture settings into the PCM format requested
// from the device backend.
func (c CaptureConfig) SourceConfig() source.Config {
	return source.Config{
		SampleRate:    c.SampleRateHz,
		Channels:      c.Channels,
		FrameDuration: time.Duration(c.FrameMs) * time.Millisecond,
	}
}

// ReconnectPolicy converts the reconnect settings into the pipeline's form.
func (c CaptureConfig) ReconnectPolicy() pipeline.ReconnectConfig {
	return pipeline.ReconnectConfig{
		MaxAttempts:    c.Reconnect.MaxAttempts,
		InitialBackoff: time.Duration(c.Reconnect.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.Reconnect.MaxBackoffMs) * time.Millisecond,
	}
}

// Capacity returns the queue bound as a duration.
func (q QueueConfig) Capacity() time.Duration {
	return time.Duration(q.MaxSeconds) * time.Second
}

// AssemblerConfig converts the window settings into the pipeline's form.
func (w WindowConfig) AssemblerConfig() pipeline.AssemblerConfig {
	return pipeline.AssemblerConfig{
		Target:       time.Duration(w.TargetMs) * time.Millisecond,
		MaxWait:      time.Duration(w.MaxWaitMs) * time.Millisecond,
		SilenceSplit: w.SilenceSplitEnabled(),
		SilenceRMS:   w.SilenceRMS,
		MinSilence:   time.Duration(w.MinSilenceMs) * time.Millisecond,
	}
}

// Mode returns the compute-mode preference as the transcribe package's type.
// Empty input maps to accelerated.
func (e EngineConfig) Mode() transcribe.ComputeMode {
	if e.ComputeMode == "" {
		return transcribe.ComputeAccelerated
	}
	return transcribe.ComputeMode(e.ComputeMode)
}
