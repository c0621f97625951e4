// Package source defines the interfaces and error taxonomy for system
// audio-input capture.
//
// The two primary abstractions are:
//
//   - [Device] — opens a capture stream on an input device selected by name.
//   - [Source] — an open capture stream delivering fixed-size PCM frames.
//
// Implementations are provided by backend-specific adapter packages (e.g.,
// source/malgo for a miniaudio backend). The interfaces are intentionally
// narrow so the pipeline supervisor stays decoupled from driver details: a
// Source is the sole temporal source of truth — it never duplicates or
// reorders frames.
//
// This package lives under pkg/ because external code (alternative capture
// backends) is expected to implement [Device] and [Source].
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livecap-io/livecap/pkg/audio"
)

// ErrDeviceBusy is returned by [Device.Open] when the matched device exists
// but is exclusively held by another process.
var ErrDeviceBusy = errors.New("audio device is busy")

// ErrDeviceDisconnected is returned by [Source.NextFrame] when the device
// signals runtime loss (unplugged, driver restart). The caller is expected
// to close the Source and reopen via [Device.Open].
var ErrDeviceDisconnected = errors.New("audio device disconnected")

// ErrSourceClosed is returned by [Source.NextFrame] after Close.
var ErrSourceClosed = errors.New("audio source is closed")

// DeviceNotFoundError is returned by [Device.Open] when no enumerated input
// device matches the selector. It carries the enumerated device names so the
// operator can be shown what is available.
type DeviceNotFoundError struct {
	// Selector is the name substring that failed to match.
	Selector string

	// Available lists the names of all enumerated input devices.
	Available []string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("no input device matching %q (available: %s)",
		e.Selector, strings.Join(e.Available, ", "))
}

// Config describes the capture format requested from a device.
type Config struct {
	// SampleRate in Hz. 16000 is the usual choice for STT input.
	SampleRate int

	// Channels is the number of capture channels. 1 = mono.
	Channels int

	// FrameDuration is the duration of each delivered [audio.Frame]. The
	// backend accumulates device callbacks into frames of exactly this
	// length.
	FrameDuration time.Duration
}

// Source is an open capture stream on an audio input device.
//
// A Source is single-consumer: NextFrame must not be called concurrently
// from multiple goroutines. Close may be called from any goroutine.
type Source interface {
	// NextFrame blocks until the next captured frame is available, the
	// context is cancelled, or the device disconnects. Frames are delivered
	// exactly once, in capture order, with Seq left zero — sequence numbers
	// are owned by the pipeline's capture loop.
	//
	// Returns [ErrDeviceDisconnected] on runtime device loss,
	// [ErrSourceClosed] after Close, or the context's error on cancellation.
	NextFrame(ctx context.Context) (audio.Frame, error)

	// Close stops capture and releases the device handle. Calling Close more
	// than once is safe and returns nil. After Close the device must be
	// reopenable via [Device.Open].
	Close() error
}

// Device is the entry point for a capture backend.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open enumerates input devices, selects the first whose name contains
	// selector (case-insensitive), and starts capturing with the given
	// format. Returns *[DeviceNotFoundError] when no device matches and
	// [ErrDeviceBusy] when the device cannot be acquired.
	Open(ctx context.Context, selector string, cfg Config) (Source, error)

	// ListInputs returns the names of the currently enumerated input
	// devices, for surfacing to the operator alongside a not-found error.
	ListInputs(ctx context.Context) ([]string, error)
}

// MatchDevice returns the index of the first name in names that contains
// selector, compared case-insensitively. Returns -1 when nothing matches.
// An empty selector matches the first device.
func MatchDevice(selector string, names []string) int {
	needle := strings.ToLower(selector)
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			return i
		}
	}
	return -1
}
