package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (capture device, engine backend, listen address) requires a restart and is
// surfaced through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WindowChanged is true when any window-cut tuning changed. The new
	// settings apply from the next assembled window.
	WindowChanged bool
	NewWindow     WindowConfig

	// RestartRequired is true when a non-reloadable section changed.
	RestartRequired bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.WindowChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !windowEqual(old.Window, new.Window) {
		d.WindowChanged = true
		d.NewWindow = new.Window
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Capture != new.Capture ||
		old.Queue != new.Queue ||
		old.Engine != new.Engine ||
		old.Overlay.OverlayEnabled() != new.Overlay.OverlayEnabled() ||
		old.Overlay.Path != new.Overlay.Path {
		d.RestartRequired = true
	}

	return d
}

// windowEqual compares window configs, treating an unset silence_split the
// same as an explicit true.
func windowEqual(a, b WindowConfig) bool {
	return a.TargetMs == b.TargetMs &&
		a.MaxWaitMs == b.MaxWaitMs &&
		a.SilenceSplitEnabled() == b.SilenceSplitEnabled() &&
		a.SilenceRMS == b.SilenceRMS &&
		a.MinSilenceMs == b.MinSilenceMs
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
