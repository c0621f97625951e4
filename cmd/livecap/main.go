// Command livecap captures system audio and serves live captions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/livecap-io/livecap/internal/app"
	"github.com/livecap-io/livecap/internal/config"
	"github.com/livecap-io/livecap/internal/observe"
	"github.com/livecap-io/livecap/pkg/source"
	malgosource "github.com/livecap-io/livecap/pkg/source/malgo"
	"github.com/livecap-io/livecap/pkg/transcribe"
	"github.com/livecap-io/livecap/pkg/transcribe/whisper"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "enumerate audio input devices and exit")
	flag.Parse()

	if *listDevices {
		return printInputDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecap: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("livecap starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "livecap",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg,
		app.WithLogger(logger),
		app.WithLogLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	if fromFile {
		watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		var notFound *source.DeviceNotFoundError
		if errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "livecap: no matching input device — run with -list-devices to see what is available")
		}
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the YAML config at path. A missing file is not an error:
// the built-in defaults are used and hot-reload is disabled.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the capture and engine factories that ship
// with livecap into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterCapture("miniaudio", func(config.CaptureConfig) (source.Device, error) {
		return malgosource.New(), nil
	})

	reg.RegisterEngine("whisper", func(cfg config.EngineConfig) (transcribe.Engine, error) {
		modelPath := cfg.ResolveModelPath()
		if modelPath == "" {
			return nil, errors.New("engine.model_path is required (or set MODEL_PATH)")
		}
		var opts []whisper.Option
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		opts = append(opts, whisper.WithComputeMode(cfg.Mode()))
		return whisper.New(modelPath, opts...)
	})
}

// printInputDevices enumerates audio input devices for the -list-devices flag.
func printInputDevices() int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	names, err := malgosource.New().ListInputs(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecap: enumerate input devices: %v\n", err)
		return 1
	}
	if len(names) == 0 {
		fmt.Println("no audio input devices found")
		return 0
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          livecap — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Device", cfg.Capture.Device)
	printEntry("Capture", fmt.Sprintf("%d Hz / %d ch", cfg.Capture.SampleRateHz, cfg.Capture.Channels))
	printEntry("Engine", cfg.Engine.Backend)
	printEntry("Model", cfg.Engine.ResolveModelPath())
	printEntry("Compute mode", string(cfg.Engine.Mode()))
	printEntry("Window target", fmt.Sprintf("%d ms", cfg.Window.TargetMs))
	if cfg.Overlay.OverlayEnabled() {
		printEntry("Overlay", cfg.Overlay.Path)
	} else {
		printEntry("Overlay", "(disabled)")
	}
	printEntry("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
