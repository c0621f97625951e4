// Package malgo implements the [source.Device] capture backend on top of
// miniaudio via the malgo CGO bindings. It works against WASAPI, ALSA,
// PulseAudio, and CoreAudio without any per-platform code, which matters
// here because the usual capture target is a virtual loopback device
// ("CABLE Output" and friends) whose driver differs per OS.
//
// The miniaudio data callback runs on a high-priority audio thread and must
// never block: captured bytes are accumulated into fixed-duration frames and
// handed off over a buffered channel. When the consumer falls behind and the
// channel is full the frame is dropped and counted as an overrun — the
// pipeline's bounded queue is the intended backpressure point, not this
// channel.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	malgolib "github.com/gen2brain/malgo"

	"github.com/livecap-io/livecap/pkg/audio"
	"github.com/livecap-io/livecap/pkg/source"
)

// frameChanDepth is the hand-off channel capacity between the audio thread
// and NextFrame. A handful of frames of slack absorbs scheduling jitter;
// anything beyond that is the queue's job.
const frameChanDepth = 8

// Compile-time assertion that Backend satisfies source.Device.
var _ source.Device = (*Backend)(nil)

// Backend opens capture streams through miniaudio. The zero value is not
// usable; create instances with [New].
type Backend struct{}

// New returns a miniaudio-backed capture backend.
func New() *Backend {
	return &Backend{}
}

// ListInputs enumerates the names of all capture devices currently known to
// the platform audio backend.
func (b *Backend) ListInputs(_ context.Context) ([]string, error) {
	mctx, err := malgolib.InitContext(nil, malgolib.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgolib.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: enumerate capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Open enumerates capture devices, picks the first whose name contains
// selector (case-insensitive), and starts capturing in the requested format.
func (b *Backend) Open(_ context.Context, selector string, cfg source.Config) (source.Source, error) {
	mctx, err := malgolib.InitContext(nil, malgolib.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	infos, err := mctx.Devices(malgolib.Capture)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgo: enumerate capture devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	idx := source.MatchDevice(selector, names)
	if idx < 0 {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, &source.DeviceNotFoundError{Selector: selector, Available: names}
	}

	s := &capSource{
		mctx:       mctx,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		frameBytes: frameSizeBytes(cfg),
		frames:     make(chan audio.Frame, frameChanDepth),
		closed:     make(chan struct{}),
		lost:       make(chan struct{}),
	}

	devCfg := malgolib.DefaultDeviceConfig(malgolib.Capture)
	devCfg.Capture.Format = malgolib.FormatS16
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.Capture.DeviceID = infos[idx].ID.Pointer()
	devCfg.SampleRate = uint32(cfg.SampleRate)

	callbacks := malgolib.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	}

	dev, err := malgolib.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgo: open %q: %w", names[idx], errors.Join(source.ErrDeviceBusy, err))
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgo: start %q: %w", names[idx], errors.Join(source.ErrDeviceBusy, err))
	}

	slog.Info("capture started", "device", names[idx], "sample_rate", cfg.SampleRate,
		"channels", cfg.Channels, "frame_ms", cfg.FrameDuration.Milliseconds())
	return s, nil
}

// frameSizeBytes is the size of one delivered frame: s16 samples across all
// channels for the configured frame duration.
func frameSizeBytes(cfg source.Config) int {
	return cfg.SampleRate * cfg.Channels * 2 * int(cfg.FrameDuration/time.Millisecond) / 1000
}

// capSource is a live miniaudio capture stream implementing [source.Source].
type capSource struct {
	mctx       *malgolib.AllocatedContext
	dev        *malgolib.Device
	sampleRate int
	channels   int
	frameBytes int

	frames chan audio.Frame
	closed chan struct{}
	lost   chan struct{}

	closeOnce sync.Once
	lostOnce  sync.Once
	overruns  atomic.Uint64

	// Accumulation state, touched only by the miniaudio audio thread.
	pending []byte
	elapsed time.Duration
}

// onData runs on the miniaudio audio thread. It accumulates raw capture
// bytes into frames of exactly frameBytes and hands them off without ever
// blocking.
func (s *capSource) onData(_, in []byte, _ uint32) {
	s.pending = append(s.pending, in...)
	for len(s.pending) >= s.frameBytes {
		data := make([]byte, s.frameBytes)
		copy(data, s.pending[:s.frameBytes])
		s.pending = s.pending[s.frameBytes:]

		frame := audio.Frame{
			Data:       data,
			SampleRate: s.sampleRate,
			Channels:   s.channels,
			Timestamp:  s.elapsed,
		}
		s.elapsed += frame.Duration()

		select {
		case s.frames <- frame:
		default:
			s.overruns.Add(1)
		}
	}
}

// onStop runs when miniaudio stops the device outside of Close — typically
// because the underlying device disappeared.
func (s *capSource) onStop() {
	select {
	case <-s.closed:
		return // deliberate stop via Close
	default:
	}
	s.lostOnce.Do(func() { close(s.lost) })
}

// NextFrame implements [source.Source].
func (s *capSource) NextFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	default:
	}
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-s.lost:
		return audio.Frame{}, source.ErrDeviceDisconnected
	case <-s.closed:
		return audio.Frame{}, source.ErrSourceClosed
	}
}

// Overruns returns how many frames were dropped because the consumer did not
// keep up with the audio thread.
func (s *capSource) Overruns() uint64 {
	return s.overruns.Load()
}

// Close implements [source.Source].
func (s *capSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.dev.Uninit()
		_ = s.mctx.Uninit()
		s.mctx.Free()
		if n := s.overruns.Load(); n > 0 {
			slog.Warn("capture overruns during session", "frames", n)
		}
	})
	return nil
}
