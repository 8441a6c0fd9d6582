// Package capture turns microphone buffers into transmit-ready PCM16 chunks.
//
// The engine opens a capture stream on a device context, decimates each
// float32 buffer down to the target sample rate and hands the encoded chunk
// to a sink callback. A mute gate drops buffers before any conversion work
// happens while the device keeps running, so unmuting resumes instantly.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/device"
)

// ErrRateMismatch is returned by Start when the capture rate is not an
// integer multiple of the target rate.
var ErrRateMismatch = errors.New("capture: capture rate must be an integer multiple of target rate")

// Config describes the capture pipeline rates.
type Config struct {
	// CaptureRate is the device sample rate in Hz.
	CaptureRate int
	// TargetRate is the transmit sample rate in Hz. CaptureRate must be an
	// integer multiple of TargetRate.
	TargetRate int
	// FrameSamples is the number of samples per device buffer at CaptureRate.
	FrameSamples int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics wires drop recording into the engine. Without it nothing is
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine owns a single capture stream and its mute state.
type Engine struct {
	devctx  device.Context
	logger  *slog.Logger
	metrics *observe.Metrics

	muted  atomic.Bool
	stream device.CaptureStream
	ratio  int
	sink   func(audio.Chunk)
	rate   int
}

// New creates an engine on the given device context. Logging uses the
// default slog logger.
func New(devctx device.Context, opts ...Option) *Engine {
	e := &Engine{
		devctx: devctx,
		logger: slog.Default().With("component", "capture"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start validates cfg, opens the capture stream and begins delivering chunks
// to sink. It must not be called twice without an intervening Stop.
func (e *Engine) Start(cfg Config, sink func(audio.Chunk)) error {
	if cfg.CaptureRate <= 0 || cfg.TargetRate <= 0 {
		return fmt.Errorf("capture: invalid rates %d -> %d", cfg.CaptureRate, cfg.TargetRate)
	}
	if cfg.CaptureRate%cfg.TargetRate != 0 {
		return fmt.Errorf("%w: %d -> %d", ErrRateMismatch, cfg.CaptureRate, cfg.TargetRate)
	}
	e.ratio = cfg.CaptureRate / cfg.TargetRate
	e.rate = cfg.TargetRate
	e.sink = sink

	stream, err := e.devctx.OpenCapture(device.StreamConfig{
		SampleRate:   cfg.CaptureRate,
		Channels:     1,
		FrameSamples: cfg.FrameSamples,
	}, e.processBuffer)
	if err != nil {
		return fmt.Errorf("capture: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("capture: start stream: %w", err)
	}
	e.stream = stream
	e.logger.Info("capture started",
		"capture_rate", cfg.CaptureRate,
		"target_rate", cfg.TargetRate,
		"ratio", e.ratio)
	return nil
}

// processBuffer runs on the device callback path. A panic here would take
// down the audio thread, so it is recovered and logged instead.
func (e *Engine) processBuffer(samples []float32) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("capture sink panicked", "panic", r)
		}
	}()
	if e.muted.Load() {
		if e.metrics != nil {
			e.metrics.RecordDroppedChunk(context.Background(), "capture", "muted")
		}
		return
	}
	decimated := audio.Decimate(samples, e.ratio)
	e.sink(audio.Chunk{
		Data:       audio.Float32ToPCM16(decimated),
		SampleRate: e.rate,
		Channels:   1,
	})
}

// SetMuted toggles the mute gate. While muted, device buffers are dropped
// without conversion and nothing reaches the sink.
func (e *Engine) SetMuted(muted bool) {
	e.muted.Store(muted)
}

// Muted reports the current mute state.
func (e *Engine) Muted() bool {
	return e.muted.Load()
}

// Stop stops the capture stream. Calling Stop on a stopped or never-started
// engine is a no-op.
func (e *Engine) Stop() error {
	if e.stream == nil {
		return nil
	}
	stream := e.stream
	e.stream = nil
	if err := stream.Stop(); err != nil {
		return fmt.Errorf("capture: stop stream: %w", err)
	}
	e.logger.Info("capture stopped")
	return nil
}
