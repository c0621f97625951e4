package pipeline

import (
	"time"

	"github.com/livecap-io/livecap/pkg/audio"
)

// Assembler defaults. The silence parameters mirror the energy-based
// segmentation used on the inference side: 16-bit RMS below 300 is treated
// as near-silence.
const (
	defaultWindowTarget = 3 * time.Second
	defaultWindowWait   = 5 * time.Second
	defaultSilenceRMS   = 300.0
	defaultMinSilence   = 500 * time.Millisecond
)

// AssemblerConfig tunes the window-cut policy.
type AssemblerConfig struct {
	// Target is the accumulated audio duration at which a window is cut.
	// Default: 3 s.
	Target time.Duration

	// MaxWait caps the wall-clock time between the first frame entering a
	// pending window and that window being cut, bounding caption latency
	// even under sparse audio. Default: 5 s.
	MaxWait time.Duration

	// SilenceSplit enables cutting at natural speech breaks: once a pending
	// window has seen speech, MinSilence of trailing near-silence cuts it
	// early.
	SilenceSplit bool

	// SilenceRMS is the 16-bit RMS energy below which a frame counts as
	// silence. Default: 300.
	SilenceRMS float64

	// MinSilence is the trailing-silence duration that triggers an early
	// cut when SilenceSplit is enabled. Default: 500 ms.
	MinSilence time.Duration
}

// Assembler accumulates queued frames into inference-ready windows. A window
// is cut when enough audio has accumulated, when the pending window has been
// waiting too long, or — optionally — at a trailing-silence boundary.
//
// Frames that are not temporally contiguous (a capture sequence gap, caused
// by queue eviction or a device reconnect) mark the window containing the
// gap as discontinuous rather than being silently spliced.
//
// Assembler is not safe for concurrent use: it is owned by the single
// inference goroutine.
type Assembler struct {
	cfg AssemblerConfig
	now func() time.Time

	pending       []audio.Frame
	pendingDur    time.Duration
	firstAt       time.Time
	discontinuity bool

	haveLast bool
	lastSeq  uint64

	lastEnd time.Duration

	hadSpeech       bool
	trailingSilence time.Duration
}

// gapTolerance is the allowed deviation between one frame's end timestamp
// and the next frame's start before the pair counts as discontiguous.
// Covers rounding jitter from wall-clock timestamp rebasing after a device
// reconnect.
const gapTolerance = 50 * time.Millisecond

// NewAssembler creates an Assembler. Zero-value config fields are replaced
// with the package defaults.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	a := &Assembler{now: time.Now}
	a.SetConfig(cfg)
	return a
}

// SetConfig replaces the window-cut policy. Zero-value fields are replaced
// with the package defaults. The pending window is kept; the new thresholds
// apply from the next cut decision.
func (a *Assembler) SetConfig(cfg AssemblerConfig) {
	if cfg.Target <= 0 {
		cfg.Target = defaultWindowTarget
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultWindowWait
	}
	if cfg.SilenceRMS <= 0 {
		cfg.SilenceRMS = defaultSilenceRMS
	}
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = defaultMinSilence
	}
	a.cfg = cfg
}

// Feed adds a frame to the pending window. A capture sequence gap (queue
// eviction) or a timestamp jump (audio lost across a device reconnect)
// marks the pending window as discontinuous.
func (a *Assembler) Feed(frame audio.Frame) {
	if len(a.pending) == 0 {
		a.firstAt = a.now()
	}
	if a.haveLast && len(a.pending) > 0 {
		drift := frame.Timestamp - a.lastEnd
		if frame.Seq != a.lastSeq+1 || drift > gapTolerance || drift < -gapTolerance {
			a.discontinuity = true
		}
	}
	a.lastSeq = frame.Seq
	a.lastEnd = frame.End()
	a.haveLast = true

	a.pending = append(a.pending, frame)
	a.pendingDur += frame.Duration()

	if a.cfg.SilenceSplit {
		if audio.RMS(frame.Data) >= a.cfg.SilenceRMS {
			a.hadSpeech = true
			a.trailingSilence = 0
		} else if a.hadSpeech {
			a.trailingSilence += frame.Duration()
		}
	}
}

// TryTakeWindow returns the pending window if a cut condition holds:
// accumulated duration reached the target, the max-wait ceiling elapsed, or
// a trailing-silence boundary was detected. Returns false when no window is
// ready.
func (a *Assembler) TryTakeWindow() (audio.Window, bool) {
	if len(a.pending) == 0 {
		return audio.Window{}, false
	}
	switch {
	case a.pendingDur >= a.cfg.Target:
	case a.now().Sub(a.firstAt) >= a.cfg.MaxWait:
	case a.cfg.SilenceSplit && a.hadSpeech && a.trailingSilence >= a.cfg.MinSilence:
	default:
		return audio.Window{}, false
	}
	return a.take(), true
}

// Flush cuts and returns whatever is pending regardless of the cut policy.
// Used on shutdown so trailing audio still produces a caption.
func (a *Assembler) Flush() (audio.Window, bool) {
	if len(a.pending) == 0 {
		return audio.Window{}, false
	}
	return a.take(), true
}

// take builds the window from the pending frames and resets the pending
// state. Sequence tracking (lastSeq) survives the reset so a gap between
// consecutive windows is still detected.
func (a *Assembler) take() audio.Window {
	first := a.pending[0]
	last := a.pending[len(a.pending)-1]

	size := 0
	for _, f := range a.pending {
		size += len(f.Data)
	}
	data := make([]byte, 0, size)
	for _, f := range a.pending {
		data = append(data, f.Data...)
	}

	w := audio.Window{
		Data:          data,
		SampleRate:    first.SampleRate,
		Channels:      first.Channels,
		Start:         first.Timestamp,
		End:           last.End(),
		FirstSeq:      first.Seq,
		LastSeq:       last.Seq,
		Discontinuity: a.discontinuity,
	}

	a.pending = nil
	a.pendingDur = 0
	a.discontinuity = false
	a.hadSpeech = false
	a.trailingSilence = 0
	return w
}
