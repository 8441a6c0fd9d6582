// Command parley is a terminal voice client for conversational AI agents.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parleyvoice/parley/internal/call"
	"github.com/parleyvoice/parley/internal/config"
	"github.com/parleyvoice/parley/internal/health"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/audio/device"
	devmalgo "github.com/parleyvoice/parley/pkg/audio/device/malgo"
	devmock "github.com/parleyvoice/parley/pkg/audio/device/mock"
	"github.com/parleyvoice/parley/pkg/runtime"
	"github.com/parleyvoice/parley/pkg/runtime/gateway"
	rtmock "github.com/parleyvoice/parley/pkg/runtime/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	agentID := flag.String("agent", "", "agent to call (overrides runtime.agent_id)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	if *agentID != "" {
		cfg.Runtime.AgentID = *agentID
	}
	if cfg.Runtime.AgentID == "" {
		fmt.Fprintln(os.Stderr, "parley: no agent configured; set runtime.agent_id or pass -agent")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"agent_id", cfg.Runtime.AgentID,
		"runtime", cfg.Runtime.Name,
		"device", cfg.Audio.Device,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	rt, err := reg.CreateRuntime(cfg.Runtime)
	if err != nil {
		slog.Error("failed to create runtime backend", "err", err)
		return 1
	}
	devctx, err := reg.CreateDevice(cfg.Audio)
	if err != nil {
		slog.Error("failed to create device backend", "err", err)
		return 1
	}
	defer func() {
		if err := devctx.Close(); err != nil {
			slog.Warn("device context close error", "err", err)
		}
	}()

	// ── Call controller ───────────────────────────────────────────────────────
	controller := call.New(rt, devctx, call.Config{
		Credential:   cfg.Runtime.APIKey,
		CaptureRate:  cfg.Audio.CaptureRate,
		TargetRate:   cfg.Audio.TargetRate,
		PlaybackRate: cfg.Audio.PlaybackRate,
		FrameSamples: cfg.Audio.FrameSamples,
	},
		call.WithMetrics(metrics),
		call.WithTranscriptListener(func(e call.TranscriptEntry) {
			fmt.Printf("[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Speaker, e.Text)
		}),
		call.WithStatusListener(func(s call.Status) {
			slog.Info("call status changed", "status", s)
		}),
	)

	// ── Observe endpoint ──────────────────────────────────────────────────────
	healthHandler := health.New()
	healthHandler.AddCheck("call", func(context.Context) error {
		if status := controller.Status(); status == call.StatusError {
			return fmt.Errorf("call is in status %s", status)
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	healthHandler.Register(mux)
	srv := &http.Server{Addr: cfg.Server.ObserveAddr, Handler: mux}

	// ── Start the call ────────────────────────────────────────────────────────
	if err := controller.StartCall(ctx, cfg.Runtime.AgentID); err != nil {
		slog.Error("failed to start call", "err", err)
		return 1
	}

	fmt.Println("calling agent", cfg.Runtime.AgentID, "— commands: m(ute) s(peaker) t(ranscript) q(uit)")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("observe endpoint listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("observe server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return commandLoop(gctx, controller)
	})
	g.Go(func() error {
		// End the process when the call ends from the remote side.
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if controller.Status().Terminal() {
					return errCallEnded
				}
			}
		}
	})

	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	hangupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if herr := controller.HangUp(hangupCtx); herr != nil {
		slog.Warn("hangup error", "err", herr)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errCallEnded) {
		slog.Error("run error", "err", err)
		return 1
	}
	if controller.Status() == call.StatusError {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// errCallEnded signals a normal end of the call, remote or local.
var errCallEnded = errors.New("call ended")

// commandLoop reads single-letter commands from stdin until the context is
// cancelled or the user quits.
func commandLoop(ctx context.Context, controller *call.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep the call running until a signal arrives.
				<-ctx.Done()
				return ctx.Err()
			}
			switch line {
			case "m":
				if controller.ToggleMute() {
					fmt.Println("microphone muted")
				} else {
					fmt.Println("microphone live")
				}
			case "s":
				if controller.ToggleSpeaker() {
					fmt.Println("speaker on")
				} else {
					fmt.Println("speaker off")
				}
			case "t":
				entries := controller.Transcript()
				if len(entries) == 0 {
					fmt.Println("no transcript yet")
				}
				for _, e := range entries {
					fmt.Printf("[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Speaker, e.Text)
				}
			case "q":
				return errCallEnded
			case "":
			default:
				fmt.Println("commands: m(ute) s(peaker) t(ranscript) q(uit)")
			}
		}
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the backends that ship with Parley into reg.
// The mock backends exist for development without hardware or network.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterRuntime("gateway", func(entry config.RuntimeEntry) (runtime.Runtime, error) {
		opts := []gateway.Option{
			gateway.WithOutputSampleRate(entry.OutputSampleRate),
		}
		if entry.BaseURL != "" {
			opts = append(opts, gateway.WithBaseURL(entry.BaseURL))
		}
		return gateway.New(entry.APIKey, opts...), nil
	})
	reg.RegisterRuntime("mock", func(config.RuntimeEntry) (runtime.Runtime, error) {
		return &rtmock.Runtime{}, nil
	})

	reg.RegisterDevice("malgo", func(config.AudioConfig) (device.Context, error) {
		return devmalgo.New()
	})
	reg.RegisterDevice("mock", func(config.AudioConfig) (device.Context, error) {
		return &devmock.Context{}, nil
	})
}

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
