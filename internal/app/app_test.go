package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/livecap-io/livecap/internal/app"
	"github.com/livecap-io/livecap/internal/config"
	"github.com/livecap-io/livecap/internal/pipeline"
	"github.com/livecap-io/livecap/pkg/source"
	sourcemock "github.com/livecap-io/livecap/pkg/source/mock"
	"github.com/livecap-io/livecap/pkg/transcribe"
	transcribemock "github.com/livecap-io/livecap/pkg/transcribe/mock"
)

// testConfig returns a config suitable for tests: ephemeral listen port,
// overlay disabled so no WebSocket server is created.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	disabled := false
	cfg.Overlay.Enabled = &disabled
	return cfg
}

// quietLogger discards output so test logs stay readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()

	dev := &sourcemock.Device{}
	eng := &transcribemock.Engine{}
	sink := pipeline.SinkFunc(func(pipeline.CaptionEvent) {})

	all := append([]app.Option{
		app.WithDevice(dev),
		app.WithEngine(eng),
		app.WithSink(sink),
		app.WithLogger(quietLogger()),
	}, opts...)

	a, err := app.New(context.Background(), testConfig(), config.NewRegistry(), all...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	if a.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
	if got := a.Status(); got != pipeline.StatusStarting {
		t.Errorf("Status() = %v, want %v", got, pipeline.StatusStarting)
	}
}

func TestNew_UnknownEngineBackend(t *testing.T) {
	t.Parallel()

	dev := &sourcemock.Device{}
	_, err := app.New(context.Background(), testConfig(), config.NewRegistry(),
		app.WithDevice(dev),
		app.WithLogger(quietLogger()),
	)
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("New() error = %v, want ErrBackendNotRegistered", err)
	}
}

func TestNew_BuildsEngineFromRegistry(t *testing.T) {
	t.Parallel()

	var created []transcribe.ComputeMode
	reg := config.NewRegistry()
	reg.RegisterEngine("whisper", func(cfg config.EngineConfig) (transcribe.Engine, error) {
		created = append(created, cfg.Mode())
		return &transcribemock.Engine{}, nil
	})

	_, err := app.New(context.Background(), testConfig(), reg,
		app.WithDevice(&sourcemock.Device{}),
		app.WithSink(pipeline.SinkFunc(func(pipeline.CaptionEvent) {})),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	// The default compute mode is accelerated, so a CPU fallback engine is
	// built alongside the primary.
	if len(created) != 2 {
		t.Fatalf("engine factory called %d times, want 2", len(created))
	}
	if created[0] != transcribe.ComputeAccelerated {
		t.Errorf("primary engine mode = %v, want %v", created[0], transcribe.ComputeAccelerated)
	}
	if created[1] != transcribe.ComputeFallback {
		t.Errorf("fallback engine mode = %v, want %v", created[1], transcribe.ComputeFallback)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestStatusEndpoint_ReportsPipelineAndQueue(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/statusz")
	if err != nil {
		t.Fatalf("GET /statusz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /statusz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		Status string `json:"status"`
		Queue  struct {
			CapacitySeconds float64 `json:"capacity_seconds"`
			BufferedSeconds float64 `json:"buffered_seconds"`
			Frames          int     `json:"frames"`
		} `json:"queue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != pipeline.StatusStarting.String() {
		t.Errorf("status = %q, want %q", body.Status, pipeline.StatusStarting.String())
	}
	if body.Queue.CapacitySeconds != 5 {
		t.Errorf("queue capacity = %v s, want 5", body.Queue.CapacitySeconds)
	}
	if body.Queue.BufferedSeconds != 0 || body.Queue.Frames != 0 {
		t.Errorf("queue should be empty before Run, got %+v", body.Queue)
	}
}

func TestApplyConfig_LogLevel(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	a := testApp(t, app.WithLogLevelVar(lv))

	oldCfg := testConfig()
	newCfg := testConfig()
	newCfg.Server.LogLevel = config.LogDebug

	a.ApplyConfig(oldCfg, newCfg)
	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("level after reload = %v, want %v", got, slog.LevelDebug)
	}
}

func TestApplyConfig_NoChange(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)
	a := testApp(t, app.WithLogLevelVar(lv))

	a.ApplyConfig(testConfig(), testConfig())
	if got := lv.Level(); got != slog.LevelWarn {
		t.Errorf("level after no-op reload = %v, want %v", got, slog.LevelWarn)
	}
}

func TestRun_StopsWhenSourceEnds(t *testing.T) {
	t.Parallel()

	src := &sourcemock.Source{}
	src.Script(sourcemock.Err(source.ErrSourceClosed))
	dev := &sourcemock.Device{}
	dev.QueueOpen(src, nil)

	a := testApp(t, app.WithDevice(dev))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the source ended")
	}

	if got := a.Status(); got != pipeline.StatusStopped {
		t.Errorf("Status() after Run = %v, want %v", got, pipeline.StatusStopped)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(shutCtx); err != nil {
		t.Errorf("Shutdown() returned error: %v", err)
	}
}

func TestShutdown_ClosesEngines(t *testing.T) {
	t.Parallel()

	eng := &transcribemock.Engine{}
	reg := config.NewRegistry()
	reg.RegisterEngine("whisper", func(config.EngineConfig) (transcribe.Engine, error) {
		return eng, nil
	})

	a, err := app.New(context.Background(), testConfig(), reg,
		app.WithDevice(&sourcemock.Device{}),
		app.WithSink(pipeline.SinkFunc(func(pipeline.CaptionEvent) {})),
		app.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(shutCtx); err != nil {
		t.Fatalf("Shutdown() returned error: %v", err)
	}

	// Both the primary and the CPU fallback wrap the same mock here, so two
	// Close calls are expected.
	if got := eng.CallCountClose; got != 2 {
		t.Errorf("engine Close call count = %d, want 2", got)
	}
}
