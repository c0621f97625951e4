package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livecap-io/livecap/internal/observe"
	"github.com/livecap-io/livecap/internal/resilience"
	"github.com/livecap-io/livecap/pkg/audio"
	"github.com/livecap-io/livecap/pkg/source"
	"github.com/livecap-io/livecap/pkg/transcribe"
)

// Reconnect defaults.
const (
	defaultReconnectAttempts = 10
	defaultInitialBackoff    = 250 * time.Millisecond
	defaultMaxBackoff        = 5 * time.Second
)

// Degradation reasons reported through [StatusChange].
const (
	reasonDeviceLost        = "capture device disconnected"
	reasonEngineUnavailable = "transcription engine unavailable"
)

// ReconnectConfig bounds the capture-device reopen loop entered after a
// disconnect.
type ReconnectConfig struct {
	// MaxAttempts is the number of reopen attempts before the pipeline gives
	// up and stops. Default: 10.
	MaxAttempts int

	// InitialBackoff is the delay before the first reopen attempt; it doubles
	// per attempt up to MaxBackoff. Defaults: 250 ms and 5 s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SupervisorConfig wires the pipeline stages together.
type SupervisorConfig struct {
	// Device opens capture sources. Required.
	Device source.Device

	// Selector chooses the input device by case-insensitive name substring.
	Selector string

	// Capture is the PCM format requested from the device.
	Capture source.Config

	// Engine transcribes assembled windows. Required. Wrap it in a
	// [resilience.EngineFallback] to get automatic compute-mode failover.
	Engine transcribe.Engine

	// Sink receives ordered caption events. Required.
	Sink Sink

	// QueueCapacity bounds the audio buffered between capture and inference,
	// as a duration. Zero selects the package default.
	QueueCapacity time.Duration

	// Assembler tunes the window-cut policy.
	Assembler AssemblerConfig

	// EmitLookahead bounds the emitter's reorder buffer. Zero selects the
	// package default.
	EmitLookahead int

	// Reconnect bounds device-reconnect behaviour.
	Reconnect ReconnectConfig

	// Metrics receives pipeline instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Log is the structured logger. Nil selects [slog.Default].
	Log *slog.Logger
}

// Supervisor owns the capture and inference goroutines, wires the stages of
// the caption pipeline together, and recovers from device and engine
// failures. Create one with [NewSupervisor], drive it with [Supervisor.Run],
// and stop it with [Supervisor.Stop]; a stopped Supervisor is not reusable.
type Supervisor struct {
	cfg     SupervisorConfig
	log     *slog.Logger
	metrics *observe.Metrics
	queue   *Queue
	emitter *Emitter

	now func() time.Time

	mu        sync.Mutex
	status    Status
	reason    string
	cancel    context.CancelFunc
	stopping  bool
	callbacks []func(StatusChange)

	stopOnce sync.Once

	// windowUpdate holds a pending window-policy change from a config
	// reload; the inference loop drains it before feeding the next frame.
	windowUpdate atomic.Pointer[AssemblerConfig]

	// frameSeq and captionSeq are touched only by the capture and inference
	// goroutines respectively.
	frameSeq   uint64
	captionSeq uint64
}

// NewSupervisor validates cfg and builds the pipeline. The internal queue and
// emitter are created here; capture and inference start on [Supervisor.Run].
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, errors.New("pipeline: Device is required"))
	}
	if cfg.Engine == nil {
		errs = append(errs, errors.New("pipeline: Engine is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("pipeline: Sink is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = defaultReconnectAttempts
	}
	if cfg.Reconnect.InitialBackoff <= 0 {
		cfg.Reconnect.InitialBackoff = defaultInitialBackoff
	}
	if cfg.Reconnect.MaxBackoff <= 0 {
		cfg.Reconnect.MaxBackoff = defaultMaxBackoff
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Supervisor{
		cfg:     cfg,
		log:     log.With("component", "supervisor"),
		metrics: metrics,
		queue:   NewQueue(cfg.QueueCapacity),
		emitter: NewEmitter(cfg.Sink, log, cfg.EmitLookahead),
		now:     time.Now,
		status:  StatusStarting,
	}, nil
}

// OnStatusChange registers a callback invoked on every state transition.
// Register before calling [Supervisor.Run]; callbacks run on pipeline
// goroutines and must not block.
func (s *Supervisor) OnStatusChange(fn func(StatusChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Status returns the current pipeline state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StatusReason returns the operator-facing explanation for the current
// state. Empty unless the pipeline is degraded.
func (s *Supervisor) StatusReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// QueueState reports the capture queue's occupancy and drop counter.
func (s *Supervisor) QueueState() QueueState {
	return s.queue.State()
}

// UpdateWindow replaces the window-cut policy without restarting the
// pipeline. The change takes effect before the next frame is assembled;
// audio already pending in the current window is kept.
func (s *Supervisor) UpdateWindow(cfg AssemblerConfig) {
	s.windowUpdate.Store(&cfg)
}

// Run starts the capture and inference goroutines and blocks until the
// pipeline stops: ctx cancelled, [Supervisor.Stop] called, or an
// unrecoverable failure. The returned error is nil on a clean stop.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.setStopped()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.captureLoop(gctx) })
	g.Go(func() error { return s.inferenceLoop(gctx) })

	err := g.Wait()
	s.setStopped()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop requests a shutdown. Safe to call from any goroutine and idempotent;
// the pipeline has fully stopped once [Supervisor.Run] returns.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.queue.Close()
	})
}

// captureLoop owns the audio source: it opens the device, stamps frames with
// pipeline-wide sequence numbers and rebased timestamps, pushes them into the
// queue, and reopens the device with bounded backoff after a disconnect. The
// queue is closed on every exit path so the inference loop always drains and
// terminates.
func (s *Supervisor) captureLoop(ctx context.Context) error {
	defer s.queue.Close()

	src, err := s.cfg.Device.Open(ctx, s.cfg.Selector, s.cfg.Capture)
	if err != nil {
		return fmt.Errorf("pipeline: open capture device: %w", err)
	}
	defer func() {
		if src != nil {
			s.logOverruns(src)
			_ = src.Close()
		}
	}()

	s.setStatus(StatusRunning, "")
	s.log.Info("capture started",
		"selector", s.cfg.Selector,
		"sample_rate", s.cfg.Capture.SampleRate,
		"channels", s.cfg.Capture.Channels)

	// epoch anchors the pipeline timeline. base shifts source-relative
	// timestamps onto it, so audio lost during a reconnect shows up as a
	// timestamp gap rather than being silently spliced.
	epoch := s.now()
	var base time.Duration

	for {
		frame, err := src.NextFrame(ctx)
		switch {
		case err == nil:
			s.frameSeq++
			frame.Seq = s.frameSeq
			frame.Timestamp += base

			before := s.queue.Dropped()
			s.queue.Push(frame)
			if d := s.queue.Dropped() - before; d > 0 {
				s.metrics.DroppedAudioSeconds.Add(ctx, d.Seconds())
				s.log.Warn("queue overflow, evicted oldest audio",
					"evicted", d, "total_dropped", s.queue.Dropped())
			}
			s.metrics.QueuedAudioSeconds.Record(ctx, s.queue.State().Buffered.Seconds())

		case ctx.Err() != nil || errors.Is(err, source.ErrSourceClosed):
			return nil

		case errors.Is(err, source.ErrDeviceDisconnected):
			s.setStatus(StatusDegraded, reasonDeviceLost)
			s.logOverruns(src)
			_ = src.Close()

			src, err = s.reopen(ctx)
			if err != nil {
				return err
			}
			base = s.now().Sub(epoch)
			s.metrics.DeviceReconnects.Add(ctx, 1)
			s.setStatus(StatusRunning, "")

		default:
			return fmt.Errorf("pipeline: capture: %w", err)
		}
	}
}

// logOverruns reports driver-level frame drops for sources that track them,
// called when a source is retired. Overruns mean the capture loop itself fell
// behind the audio thread, which the queue's drop counter cannot see.
func (s *Supervisor) logOverruns(src source.Source) {
	counter, ok := src.(interface{ Overruns() uint64 })
	if !ok {
		return
	}
	if n := counter.Overruns(); n > 0 {
		s.log.Warn("capture overruns during session", "frames", n)
	}
}

// reopen retries Device.Open with exponential backoff until it succeeds, the
// attempt budget is exhausted, or ctx is cancelled.
func (s *Supervisor) reopen(ctx context.Context) (source.Source, error) {
	backoff := s.cfg.Reconnect.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= s.cfg.Reconnect.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		src, err := s.cfg.Device.Open(ctx, s.cfg.Selector, s.cfg.Capture)
		if err == nil {
			s.log.Info("capture device reopened", "attempt", attempt)
			return src, nil
		}
		lastErr = err
		s.log.Warn("device reopen failed",
			"attempt", attempt,
			"max_attempts", s.cfg.Reconnect.MaxAttempts,
			"backoff", backoff,
			"error", err)

		backoff = min(backoff*2, s.cfg.Reconnect.MaxBackoff)
	}
	return nil, fmt.Errorf("pipeline: device reconnect gave up after %d attempts: %w",
		s.cfg.Reconnect.MaxAttempts, lastErr)
}

// inferenceLoop is the single consumer of the queue: it assembles frames into
// windows, transcribes them, and hands caption events to the emitter. It
// exits when the queue closes, flushing any trailing audio first.
func (s *Supervisor) inferenceLoop(ctx context.Context) error {
	asm := NewAssembler(s.cfg.Assembler)

	for {
		frame, ok := s.queue.Pop()
		if !ok {
			if w, ok := asm.Flush(); ok && ctx.Err() == nil {
				s.process(ctx, w)
			}
			return nil
		}
		if upd := s.windowUpdate.Swap(nil); upd != nil {
			asm.SetConfig(*upd)
		}
		asm.Feed(frame)
		if w, ok := asm.TryTakeWindow(); ok {
			s.process(ctx, w)
		}
	}
}

// process transcribes one window and emits its caption. Failure handling:
// an unavailable engine degrades the pipeline (recovery happens through the
// engine's own breaker probes on later windows); any other failure skips
// just this window.
func (s *Supervisor) process(ctx context.Context, w audio.Window) {
	start := time.Now()
	text, err := s.cfg.Engine.Transcribe(ctx, w)
	s.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds())

	switch {
	case err == nil:
		if s.Status() == StatusDegraded && s.StatusReason() == reasonEngineUnavailable {
			s.setStatus(StatusRunning, "")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			s.metrics.RecordWindow(ctx, "empty")
			return
		}
		s.captionSeq++
		s.emitter.Emit(CaptionEvent{
			Seq:           s.captionSeq,
			Text:          text,
			Start:         w.Start,
			End:           w.End,
			Discontinuity: w.Discontinuity,
		})
		s.metrics.RecordWindow(ctx, "ok")
		s.metrics.CaptionsEmitted.Add(ctx, 1)
		s.metrics.CaptionLag.Record(ctx, time.Since(start).Seconds())

	case errors.Is(err, transcribe.ErrUnavailable), errors.Is(err, resilience.ErrAllFailed):
		s.setStatus(StatusDegraded, reasonEngineUnavailable)
		s.metrics.RecordWindow(ctx, "failed")
		s.log.Warn("transcription unavailable, window dropped",
			"window_start", w.Start, "window_end", w.End, "error", err)

	default:
		s.metrics.RecordWindow(ctx, "skipped")
		s.log.Warn("transient transcription failure, window skipped",
			"window_start", w.Start, "window_end", w.End, "error", err)
	}
}

// setStatus applies a state transition, notifying callbacks and metrics.
// Transitions out of Stopped are ignored; repeated identical transitions are
// no-ops.
func (s *Supervisor) setStatus(to Status, reason string) {
	s.mu.Lock()
	from := s.status
	if from == StatusStopped || (from == to && s.reason == reason) {
		s.mu.Unlock()
		return
	}
	s.status = to
	s.reason = reason
	callbacks := s.callbacks
	change := StatusChange{From: from, To: to, Reason: reason, At: s.now()}
	s.mu.Unlock()

	s.log.Info("pipeline status changed",
		"from", from.String(), "to", to.String(), "reason", reason)
	s.metrics.RecordStatusTransition(context.Background(), from.String(), to.String())
	for _, fn := range callbacks {
		fn(change)
	}
}

// setStopped moves to the terminal state regardless of the current one.
func (s *Supervisor) setStopped() {
	s.mu.Lock()
	from := s.status
	if from == StatusStopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusStopped
	s.reason = ""
	callbacks := s.callbacks
	change := StatusChange{From: from, To: StatusStopped, At: s.now()}
	s.mu.Unlock()

	s.log.Info("pipeline stopped", "from", from.String())
	s.metrics.RecordStatusTransition(context.Background(), from.String(), StatusStopped.String())
	for _, fn := range callbacks {
		fn(change)
	}
}
