package config_test

import (
	"strings"
	"testing"

	"github.com/livecap-io/livecap/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
capture:
  device: "CABLE Output"
  sample_rate_hz: 16000
  channels: 1
  frame_ms: 500
queue:
  max_seconds: 5
window:
  target_ms: 3000
  max_wait_ms: 5000
engine:
  backend: whisper
  model_path: /models/ggml-base.en.bin
  language: en
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Engine.ModelPath != "/models/ggml-base.en.bin" {
		t.Errorf("model_path = %q", cfg.Engine.ModelPath)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("engine:\n  model_path: /m.bin\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Capture.Device != def.Capture.Device {
		t.Errorf("capture.device = %q, want default %q", cfg.Capture.Device, def.Capture.Device)
	}
	if cfg.Capture.Backend != "miniaudio" {
		t.Errorf("capture.backend = %q, want miniaudio", cfg.Capture.Backend)
	}
	if cfg.Engine.Backend != "whisper" {
		t.Errorf("engine.backend = %q, want whisper", cfg.Engine.Backend)
	}
	if cfg.Overlay.Path != "/captions" {
		t.Errorf("overlay.path = %q, want /captions", cfg.Overlay.Path)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("capture:\n  devcie: oops\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Capture.SampleRateHz = 1
	cfg.Capture.Channels = 0
	cfg.Engine.ComputeMode = "gpu"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"log_level", "sample_rate_hz", "channels", "compute_mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidate_WindowBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "target below frame",
			mutate:  func(c *config.Config) { c.Window.TargetMs = 100 },
			wantErr: "target_ms",
		},
		{
			name:    "max wait below target",
			mutate:  func(c *config.Config) { c.Window.MaxWaitMs = 1000 },
			wantErr: "max_wait_ms",
		},
		{
			name:    "queue too small",
			mutate:  func(c *config.Config) { c.Queue.MaxSeconds = 0; c.Queue.MaxSeconds = -1 },
			wantErr: "max_seconds",
		},
		{
			name: "frame longer than queue",
			mutate: func(c *config.Config) {
				c.Capture.FrameMs = 2000
				c.Queue.MaxSeconds = 1
				c.Window.TargetMs = 2000
				c.Window.MaxWaitMs = 4000
			},
			wantErr: "must fit in the queue",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"}
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "key_file") {
		t.Errorf("Validate() = %v, want TLS error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/does/not/exist.yaml")
	if err == nil {
		t.Fatal("missing file accepted")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("error = %v, want open failure", err)
	}
}
