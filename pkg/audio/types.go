// Package audio defines the frame and window types that flow through the
// caption pipeline, plus the PCM conversion helpers shared by the capture
// and inference sides.
//
// Frames are the atomic unit of audio transport — produced by a capture
// source, buffered by the bounded queue, and assembled into windows for
// inference. A frame is immutable once produced and is owned exclusively by
// whichever pipeline stage currently holds it.
package audio

import "time"

// Frame is a short, fixed-duration chunk of captured PCM audio.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo sources.
	Channels int

	// Seq is the monotonically increasing capture sequence number. It is
	// assigned by the capture loop and continues across device reconnects,
	// so a gap in Seq always means audio was lost.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame derived from its
// sample count. Returns zero for malformed frames.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// End returns the capture timestamp just past the last sample of the frame.
func (f Frame) End() time.Duration {
	return f.Timestamp + f.Duration()
}

// Window is a contiguous span of audio assembled from frames — the unit of
// work handed to the inference engine. It is consumed exactly once and then
// discarded.
type Window struct {
	// Data is the concatenated PCM of all member frames.
	Data []byte

	// SampleRate and Channels describe the PCM format, inherited from the
	// member frames.
	SampleRate int
	Channels   int

	// Start and End delimit the capture-timestamp range the window covers.
	Start time.Duration
	End   time.Duration

	// FirstSeq and LastSeq are the capture sequence numbers of the first and
	// last member frames.
	FirstSeq uint64
	LastSeq  uint64

	// Discontinuity is set when the member frames are not temporally
	// contiguous (frames were evicted under backpressure or lost across a
	// device reconnect). Consumers must not assume gap-free audio when set.
	Discontinuity bool
}

// Duration returns the audio duration of the window derived from its sample
// count, not from the Start/End timestamp range — the two differ when the
// window spans a discontinuity.
func (w Window) Duration() time.Duration {
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return 0
	}
	samples := len(w.Data) / (2 * w.Channels)
	return time.Duration(samples) * time.Second / time.Duration(w.SampleRate)
}
