// Package malgo implements the [device.Context] contract on top of the
// miniaudio bindings (github.com/gen2brain/malgo), giving the call pipelines
// access to real capture and playback hardware on Linux, macOS and Windows.
//
// Both stream kinds run the device in 32-bit float format so the pipelines
// never see platform-specific sample layouts.
package malgo

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/parleyvoice/parley/pkg/audio/device"
)

var _ device.Context = (*Context)(nil)

// Context wraps an allocated miniaudio context. Use [New] to construct one and
// Close to release it after all streams are stopped.
type Context struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	closed bool
}

// New allocates a miniaudio context. Returns an error wrapping
// [device.ErrUnavailable] if the platform audio backend cannot be initialised.
func New() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w: %v", device.ErrUnavailable, err)
	}
	return &Context{ctx: ctx}, nil
}

// Close releases the miniaudio context. Idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.ctx.Uninit()
	c.ctx.Free()
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// OpenCapture opens an exclusive capture device in float32 format. The device
// delivers whatever buffer sizes the platform chooses; samples are
// re-chunked so onBuffer always receives exactly cfg.FrameSamples samples.
func (c *Context) OpenCapture(cfg device.StreamConfig, onBuffer func(samples []float32)) (device.CaptureStream, error) {
	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	if runtime.GOOS == "linux" {
		devCfg.Alsa.NoMMap = 1
	}

	cs := &captureStream{frameSamples: cfg.FrameSamples}

	onData := func(_, input []byte, frameCount uint32) {
		samples := bytesToFloat32(input, int(frameCount)*cfg.Channels)
		cs.pending = append(cs.pending, samples...)
		for len(cs.pending) >= cs.frameSamples {
			frame := cs.pending[:cs.frameSamples:cs.frameSamples]
			cs.pending = cs.pending[cs.frameSamples:]
			onBuffer(frame)
		}
	}

	dev, err := malgo.InitDevice(c.ctx.Context, devCfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return nil, fmt.Errorf("malgo: open capture device: %w: %v", device.ErrUnavailable, err)
	}
	cs.dev = dev
	return cs, nil
}

// OpenPlayback opens an output device in float32 format. The device runs
// continuously, emitting silence between buffers, so starting a new buffer
// never pays device-restart latency.
func (c *Context) OpenPlayback(cfg device.StreamConfig) (device.PlaybackSink, error) {
	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatF32
	devCfg.Playback.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	if runtime.GOOS == "linux" {
		devCfg.Alsa.NoMMap = 1
	}

	sink := &playbackSink{rate: cfg.SampleRate}

	dev, err := malgo.InitDevice(c.ctx.Context, devCfg, malgo.DeviceCallbacks{Data: sink.onData})
	if err != nil {
		return nil, fmt.Errorf("malgo: open playback device: %w: %v", device.ErrUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w: %v", device.ErrUnavailable, err)
	}
	sink.dev = dev
	return sink, nil
}

// ── capture stream ────────────────────────────────────────────────────────────

type captureStream struct {
	dev          *malgo.Device
	frameSamples int

	// pending accumulates samples between device callbacks until a full
	// frame is available. Touched only on the device's data thread.
	pending []float32

	mu      sync.Mutex
	started bool
	stopped bool
}

// Start begins capture. The device invokes the data callback on its own thread.
func (s *captureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("malgo: start capture device: %w: %v", device.ErrUnavailable, err)
	}
	s.started = true
	return nil
}

// Stop releases the capture device. Idempotent.
func (s *captureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.dev.Uninit()
	return nil
}

// ── playback sink ─────────────────────────────────────────────────────────────

type playbackSink struct {
	dev  *malgo.Device
	rate int

	mu     sync.Mutex
	cur    []float32
	pos    int
	done   func()
	closed bool

	warnedRate sync.Once
}

// Play hands samples to the device's data callback. An empty buffer completes
// synchronously.
func (p *playbackSink) Play(samples []float32, sampleRate int, done func()) error {
	if sampleRate != p.rate {
		p.warnedRate.Do(func() {
			slog.Warn("malgo: playback rate differs from device rate, playing without resampling",
				"buffer_rate", sampleRate, "device_rate", p.rate)
		})
	}
	if len(samples) == 0 {
		done()
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("malgo: playback sink closed")
	}
	p.cur = samples
	p.pos = 0
	p.done = done
	p.mu.Unlock()
	return nil
}

// Stop discards the in-flight buffer and its completion callback.
func (p *playbackSink) Stop() error {
	p.mu.Lock()
	p.cur = nil
	p.pos = 0
	p.done = nil
	p.mu.Unlock()
	return nil
}

// Close stops the device and releases it. Idempotent.
func (p *playbackSink) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cur = nil
	p.done = nil
	p.mu.Unlock()
	p.dev.Uninit()
	return nil
}

// onData runs on the device's audio thread: it copies from the current buffer
// into the output, zero-fills the remainder, and fires the completion callback
// off-thread once the buffer is exhausted.
func (p *playbackSink) onData(output, _ []byte, frameCount uint32) {
	want := int(frameCount)

	p.mu.Lock()
	var finished func()
	written := 0
	if p.cur != nil {
		n := min(want, len(p.cur)-p.pos)
		float32ToBytes(output, p.cur[p.pos:p.pos+n])
		p.pos += n
		written = n
		if p.pos == len(p.cur) {
			finished = p.done
			p.cur = nil
			p.pos = 0
			p.done = nil
		}
	}
	p.mu.Unlock()

	for i := written * 4; i < len(output); i++ {
		output[i] = 0
	}

	if finished != nil {
		// The completion callback re-enters the scheduler; keep it off the
		// audio thread so the next device period is never delayed.
		go finished()
	}
}

// ── sample marshalling ────────────────────────────────────────────────────────

// bytesToFloat32 decodes n little-endian float32 samples from src.
func bytesToFloat32(src []byte, n int) []float32 {
	if n > len(src)/4 {
		n = len(src) / 4
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return out
}

// float32ToBytes encodes samples as little-endian float32 into dst.
func float32ToBytes(dst []byte, samples []float32) {
	for i, v := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}
