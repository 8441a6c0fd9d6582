// Package mock provides in-memory implementations of [device.Context],
// [device.CaptureStream], and [device.PlaybackSink] for unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields the test can set to control return values.
//
// Typical usage:
//
//	ctx := &mock.Context{}
//	stream, _ := ctx.OpenCapture(cfg, onBuffer)
//	ctx.Capture.EmitBuffer([]float32{0.1, -0.1}) // drive the capture callback
package mock

import (
	"sync"

	"github.com/parleyvoice/parley/pkg/audio/device"
)

var (
	_ device.Context       = (*Context)(nil)
	_ device.CaptureStream = (*CaptureStream)(nil)
	_ device.PlaybackSink  = (*PlaybackSink)(nil)
)

// ─── Context ─────────────────────────────────────────────────────────────────

// Context is a mock implementation of [device.Context]. The zero value is
// ready to use: OpenCapture and OpenPlayback mint fresh mock streams and
// record them in the Capture and Playback fields.
type Context struct {
	mu sync.Mutex

	// OpenCaptureError, when non-nil, is returned by OpenCapture.
	OpenCaptureError error

	// OpenPlaybackError, when non-nil, is returned by OpenPlayback.
	OpenPlaybackError error

	// Capture is the stream returned by the most recent OpenCapture call.
	Capture *CaptureStream

	// Playback is the sink returned by the most recent OpenPlayback call.
	Playback *PlaybackSink

	// OpenCaptureCalls records the StreamConfig of every OpenCapture call.
	OpenCaptureCalls []device.StreamConfig

	// OpenPlaybackCalls records the StreamConfig of every OpenPlayback call.
	OpenPlaybackCalls []device.StreamConfig

	// CloseCalls records how many times Close was called.
	CloseCalls int
}

// OpenCapture implements [device.Context]. It records the call and returns a
// new [CaptureStream] wired to onBuffer, or OpenCaptureError if set.
func (c *Context) OpenCapture(cfg device.StreamConfig, onBuffer func(samples []float32)) (device.CaptureStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCaptureCalls = append(c.OpenCaptureCalls, cfg)
	if c.OpenCaptureError != nil {
		return nil, c.OpenCaptureError
	}
	c.Capture = &CaptureStream{onBuffer: onBuffer}
	return c.Capture, nil
}

// OpenPlayback implements [device.Context]. It records the call and returns a
// new [PlaybackSink], or OpenPlaybackError if set.
func (c *Context) OpenPlayback(cfg device.StreamConfig) (device.PlaybackSink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenPlaybackCalls = append(c.OpenPlaybackCalls, cfg)
	if c.OpenPlaybackError != nil {
		return nil, c.OpenPlaybackError
	}
	c.Playback = &PlaybackSink{}
	return c.Playback, nil
}

// Close implements [device.Context].
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return nil
}

// ─── CaptureStream ───────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [device.CaptureStream]. Drive the
// registered buffer callback from tests with [CaptureStream.EmitBuffer].
type CaptureStream struct {
	mu       sync.Mutex
	onBuffer func(samples []float32)

	// StartError, when non-nil, is returned by Start.
	StartError error

	// StopError, when non-nil, is returned by Stop.
	StopError error

	// StartCalls records how many times Start was called.
	StartCalls int

	// StopCalls records how many times Stop was called.
	StopCalls int
}

// Start implements [device.CaptureStream].
func (s *CaptureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	return s.StartError
}

// Stop implements [device.CaptureStream].
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	return s.StopError
}

// Stopped reports whether Stop has been called at least once.
func (s *CaptureStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls > 0
}

// EmitBuffer invokes the registered buffer callback with samples, simulating
// one capture period on the device clock.
func (s *CaptureStream) EmitBuffer(samples []float32) {
	s.mu.Lock()
	cb := s.onBuffer
	s.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

// ─── PlaybackSink ────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [PlaybackSink.Play] invocation.
type PlayCall struct {
	// Samples is the buffer passed to Play.
	Samples []float32
	// SampleRate is the rate passed to Play.
	SampleRate int
}

// PlaybackSink is a mock implementation of [device.PlaybackSink].
//
// By default every Play invokes its completion callback synchronously, so a
// scheduler under test drains its whole queue in one call stack. Set
// HoldCompletions to capture the callbacks instead and release them one at a
// time with [PlaybackSink.CompleteNext], simulating real playback pacing.
type PlaybackSink struct {
	mu      sync.Mutex
	pending []func()

	// HoldCompletions suppresses synchronous completion when true.
	HoldCompletions bool

	// PlayError, when non-nil, is returned by Play (done is not invoked).
	PlayError error

	// StopError, when non-nil, is returned by Stop.
	StopError error

	// CloseError, when non-nil, is returned by Close.
	CloseError error

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall

	// StopCalls records how many times Stop was called.
	StopCalls int

	// CloseCalls records how many times Close was called.
	CloseCalls int
}

// Play implements [device.PlaybackSink]. It records the call and either fires
// done synchronously or queues it, depending on HoldCompletions.
func (p *PlaybackSink) Play(samples []float32, sampleRate int, done func()) error {
	p.mu.Lock()
	if p.PlayError != nil {
		err := p.PlayError
		p.mu.Unlock()
		return err
	}
	p.PlayCalls = append(p.PlayCalls, PlayCall{Samples: samples, SampleRate: sampleRate})
	// Empty buffers always complete before Play returns, held or not.
	hold := p.HoldCompletions && len(samples) > 0
	if hold {
		p.pending = append(p.pending, done)
	}
	p.mu.Unlock()

	if !hold {
		done()
	}
	return nil
}

// Stop implements [device.PlaybackSink]. It discards any held completion
// callbacks without invoking them, matching the real sink contract.
func (p *PlaybackSink) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	p.pending = nil
	return p.StopError
}

// Close implements [device.PlaybackSink].
func (p *PlaybackSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	p.pending = nil
	return p.CloseError
}

// CompleteNext fires the oldest held completion callback. Returns false when
// none are pending. Only meaningful with HoldCompletions set.
func (p *PlaybackSink) CompleteNext() bool {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return false
	}
	done := p.pending[0]
	p.pending = p.pending[1:]
	p.mu.Unlock()
	done()
	return true
}

// NonEmptyPlays returns how many recorded Play calls carried at least one
// sample.
func (p *PlaybackSink) NonEmptyPlays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, call := range p.PlayCalls {
		if len(call.Samples) > 0 {
			n++
		}
	}
	return n
}
