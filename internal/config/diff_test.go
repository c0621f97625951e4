package config_test

import (
	"testing"

	"github.com/livecap-io/livecap/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	old := config.Default()
	new := config.Default()

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("identical configs reported as changed: %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("log level change not detected")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require a restart")
	}
}

func TestDiff_WindowTuning(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Window.TargetMs = 2000

	d := config.Diff(old, new)
	if !d.WindowChanged {
		t.Error("window tuning change not detected")
	}
	if d.NewWindow.TargetMs != 2000 {
		t.Errorf("NewWindow.TargetMs = %d, want 2000", d.NewWindow.TargetMs)
	}
	if d.RestartRequired {
		t.Error("window tuning should not require a restart")
	}
}

func TestDiff_SilenceSplitUnsetEqualsTrue(t *testing.T) {
	old := config.Default()
	new := config.Default()
	on := true
	new.Window.SilenceSplit = &on

	if d := config.Diff(old, new); d.WindowChanged {
		t.Error("explicit silence_split: true treated as a change from unset")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"capture device", func(c *config.Config) { c.Capture.Device = "Microphone" }},
		{"queue bound", func(c *config.Config) { c.Queue.MaxSeconds = 10 }},
		{"engine model", func(c *config.Config) { c.Engine.ModelPath = "/other.bin" }},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }},
		{"overlay path", func(c *config.Config) { c.Overlay.Path = "/feed" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			old := config.Default()
			new := config.Default()
			tc.mutate(new)

			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Errorf("%s change did not set RestartRequired", tc.name)
			}
		})
	}
}
