// Package app wires all livecap subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects the
// capture backend, inference engine, pipeline supervisor, and HTTP surface;
// Run drives them until the context is cancelled; Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithDevice, WithEngine, WithSink). When an option is not provided, New
// creates real implementations through the backend registry.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/livecap-io/livecap/internal/config"
	"github.com/livecap-io/livecap/internal/health"
	"github.com/livecap-io/livecap/internal/observe"
	"github.com/livecap-io/livecap/internal/overlay"
	"github.com/livecap-io/livecap/internal/pipeline"
	"github.com/livecap-io/livecap/internal/resilience"
	"github.com/livecap-io/livecap/pkg/source"
	"github.com/livecap-io/livecap/pkg/transcribe"
)

// httpShutdownGrace bounds the drain of in-flight HTTP requests when the
// pipeline stops before Shutdown is called.
const httpShutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the caption pipeline.
type App struct {
	cfg   *config.Config
	log   *slog.Logger
	level *slog.LevelVar

	metrics *observe.Metrics
	device  source.Device
	engine  transcribe.Engine
	sink    pipeline.Sink
	overlay *overlay.Server
	sup     *pipeline.Supervisor
	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a capture backend instead of creating one from config.
func WithDevice(d source.Device) Option {
	return func(a *App) { a.device = d }
}

// WithEngine injects an inference engine instead of creating one from config.
func WithEngine(e transcribe.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithSink injects a caption sink instead of creating the overlay server.
func WithSink(s pipeline.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithLogger sets the application logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLogLevelVar wires the level var backing the logger so configuration
// reloads can change verbosity at runtime.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics injects a metrics bundle instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Real backends are
// built through reg from the names in cfg; use Option functions to inject
// test doubles for any of them.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initEngine(reg); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	if err := a.initCapture(reg); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.initSink()
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initHTTP()

	return a, nil
}

// initEngine builds the inference engine from config unless one was injected.
// An accelerated engine gets a CPU sibling behind a circuit breaker, so a
// broken accelerator degrades throughput instead of killing captions.
func (a *App) initEngine(reg *config.Registry) error {
	if a.engine != nil {
		return nil
	}

	primary, err := reg.CreateEngine(a.cfg.Engine)
	if err != nil {
		return err
	}

	if a.cfg.Engine.Mode() != transcribe.ComputeAccelerated {
		a.engine = primary
		a.closers = append(a.closers, primary.Close)
		return nil
	}

	fbCfg := a.cfg.Engine
	fbCfg.ComputeMode = string(transcribe.ComputeFallback)
	secondary, err := reg.CreateEngine(fbCfg)
	if err != nil {
		return fmt.Errorf("create fallback engine: %w", err)
	}

	group := resilience.NewEngineFallback(primary, a.cfg.Engine.Backend, resilience.FallbackConfig{})
	group.AddFallback(a.cfg.Engine.Backend+"-fallback", secondary)
	a.engine = group
	a.closers = append(a.closers, group.Close)
	a.log.Info("inference engine created",
		"backend", a.cfg.Engine.Backend,
		"mode", a.cfg.Engine.Mode(),
		"cpu_fallback", true,
	)
	return nil
}

// initCapture builds the capture backend from config unless one was injected.
func (a *App) initCapture(reg *config.Registry) error {
	if a.device != nil {
		return nil
	}
	dev, err := reg.CreateCapture(a.cfg.Capture)
	if err != nil {
		return err
	}
	a.device = dev
	return nil
}

// initSink picks where caption events go: the overlay WebSocket server when
// the overlay is enabled, the log otherwise.
func (a *App) initSink() {
	if a.sink != nil {
		return
	}

	if a.cfg.Overlay.OverlayEnabled() {
		ov := overlay.NewServer(a.log, 0)
		a.overlay = ov
		a.sink = ov
		a.closers = append(a.closers, func() error {
			ov.Close()
			return nil
		})
		return
	}

	// Headless mode: captions go to the log.
	log := a.log.With("component", "captions")
	a.sink = pipeline.SinkFunc(func(ev pipeline.CaptionEvent) {
		log.Info("caption", "seq", ev.Seq, "start", ev.Start, "end", ev.End, "text", ev.Text)
	})
}

// initPipeline assembles the supervisor from the configured stages.
func (a *App) initPipeline() error {
	sup, err := pipeline.NewSupervisor(pipeline.SupervisorConfig{
		Device:        a.device,
		Selector:      a.cfg.Capture.Device,
		Capture:       a.cfg.Capture.SourceConfig(),
		Engine:        a.engine,
		Sink:          a.sink,
		QueueCapacity: a.cfg.Queue.Capacity(),
		Assembler:     a.cfg.Window.AssemblerConfig(),
		Reconnect:     a.cfg.Capture.ReconnectPolicy(),
		Metrics:       a.metrics,
		Log:           a.log,
	})
	if err != nil {
		return err
	}
	a.sup = sup
	return nil
}

// initHTTP builds the HTTP surface: health probes, the Prometheus scrape
// endpoint, the pipeline status endpoint, and the overlay WebSocket when
// enabled.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	health.New(
		health.Checker{
			Name: "pipeline",
			Check: func(context.Context) error {
				switch a.sup.Status() {
				case pipeline.StatusStopped:
					return errors.New("pipeline stopped")
				case pipeline.StatusDegraded:
					return errors.New(a.sup.StatusReason())
				}
				return nil
			},
		},
		health.Checker{
			Name: "capture",
			Check: func(ctx context.Context) error {
				_, err := a.device.ListInputs(ctx)
				return err
			},
		},
	).Register(mux)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /statusz", a.statusz)
	if a.overlay != nil {
		mux.Handle(a.cfg.Overlay.Path, a.overlay)
	}

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// statuszBody is the JSON shape served by /statusz.
type statuszBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Queue  struct {
		CapacitySeconds float64 `json:"capacity_seconds"`
		BufferedSeconds float64 `json:"buffered_seconds"`
		DroppedSeconds  float64 `json:"dropped_seconds"`
		Frames          int     `json:"frames"`
	} `json:"queue"`
}

// statusz reports the pipeline state and capture-queue occupancy, for
// operators checking why readiness flipped or captions are lagging.
func (a *App) statusz(w http.ResponseWriter, _ *http.Request) {
	body := statuszBody{
		Status: a.sup.Status().String(),
		Reason: a.sup.StatusReason(),
	}
	qs := a.sup.QueueState()
	body.Queue.CapacitySeconds = qs.Capacity.Seconds()
	body.Queue.BufferedSeconds = qs.Buffered.Seconds()
	body.Queue.DroppedSeconds = qs.Dropped.Seconds()
	body.Queue.Frames = qs.Frames

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.log.Warn("statusz encode failed", "error", err)
	}
}

// Status reports the pipeline's current state.
func (a *App) Status() pipeline.Status {
	return a.sup.Status()
}

// Handler returns the HTTP surface, for embedding or testing.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Run starts the pipeline and the HTTP server and blocks until the context
// is cancelled, the pipeline fails unrecoverably, or the HTTP listener
// errors. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.serve()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// The HTTP server has no reason to outlive the pipeline.
		defer a.stopHTTP()
		return a.sup.Run(ctx)
	})

	a.log.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"device", a.cfg.Capture.Device,
		"engine", a.cfg.Engine.Backend,
		"overlay", a.overlay != nil,
	)
	return g.Wait()
}

func (a *App) serve() error {
	if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
		return a.httpSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
	}
	return a.httpSrv.ListenAndServe()
}

func (a *App) stopHTTP() {
	shutCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutCtx); err != nil {
		a.log.Warn("http shutdown error", "err", err)
	}
}

// ApplyConfig applies a hot-reloaded configuration. Log level and window
// tuning take effect immediately; any other change is logged as requiring a
// restart. Intended as the change callback of a [config.Watcher].
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	d := config.Diff(oldCfg, newCfg)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
			a.log.Info("log level changed", "level", d.NewLogLevel)
		} else {
			a.log.Warn("log level changed in config but logger level is not adjustable", "level", d.NewLogLevel)
		}
	}

	if d.WindowChanged {
		a.sup.UpdateWindow(d.NewWindow.AssemblerConfig())
		a.log.Info("window tuning updated",
			"target_ms", d.NewWindow.TargetMs,
			"max_wait_ms", d.NewWindow.MaxWaitMs,
			"silence_split", d.NewWindow.SilenceSplitEnabled(),
		)
	}

	if d.RestartRequired {
		a.log.Warn("configuration change requires a restart to take effect")
	}
}

// Shutdown stops the pipeline and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		a.sup.Stop()
		if err := a.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
