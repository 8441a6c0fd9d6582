// Package device defines the contract between the call pipelines and the
// platform audio hardware.
//
// The entry point is [Context]: it owns the platform audio backend and opens
// capture and playback streams on it. A Context is always constructed
// explicitly and injected into whatever owns the call — it is never a
// package-level singleton, so tests can run several independent instances in
// one process.
//
//   - [CaptureStream] — an open microphone stream delivering fixed-cadence
//     float32 sample buffers to a callback on the backend's clock.
//   - [PlaybackSink] — an open output stream that plays one float32 buffer at
//     a time and reports completion.
//
// Implementations are provided by backend packages (device/malgo for real
// hardware, device/mock for tests). All implementations must be safe for
// concurrent use.
package device

import "errors"

// ErrUnavailable indicates the platform refused access to the requested audio
// device (missing hardware, OS permission denied, backend init failure).
// Callers treat this as fatal to the enclosing call.
var ErrUnavailable = errors.New("device: audio device unavailable")

// StreamConfig describes the format of a capture or playback stream.
type StreamConfig struct {
	// SampleRate in Hz at which the device runs.
	SampleRate int

	// Channels is the channel count. The call pipeline uses mono streams.
	Channels int

	// FrameSamples is the number of samples delivered per capture callback.
	// Ignored for playback streams.
	FrameSamples int
}

// CaptureStream is an open, exclusive microphone stream.
//
// Once started, the backend invokes the buffer callback registered at open
// time with FrameSamples float32 samples per call, on its own audio thread.
// The callback must not block and must not panic.
type CaptureStream interface {
	// Start begins delivering buffers to the callback.
	Start() error

	// Stop releases the stream. Stop is idempotent: calling it on an
	// already-stopped stream is a no-op, not an error. It returns only
	// after the backend guarantees no further callback invocations.
	Stop() error
}

// PlaybackSink is an open output stream that plays buffers strictly one at a
// time.
type PlaybackSink interface {
	// Play starts playing samples at the given rate and invokes done exactly
	// once when the buffer has fully sounded. An empty buffer completes
	// immediately: done is invoked before Play returns. Play must not be
	// called again until done has fired; the scheduler guarantees this.
	Play(samples []float32, sampleRate int, done func()) error

	// Stop interrupts the in-flight buffer, if any, discarding its pending
	// done callback without invoking it. Safe to call when idle.
	Stop() error

	// Close releases the output stream. Implies Stop.
	Close() error
}

// Context owns a platform audio backend and mints streams on it.
//
// The Context is acquired once per call and closed when the process is done
// with audio entirely; individual streams are opened and stopped per call.
type Context interface {
	// OpenCapture opens an exclusive capture stream that will deliver
	// buffers to onBuffer once started. Returns an error wrapping
	// [ErrUnavailable] when the platform denies capture access.
	OpenCapture(cfg StreamConfig, onBuffer func(samples []float32)) (CaptureStream, error)

	// OpenPlayback opens an output stream. Returns an error wrapping
	// [ErrUnavailable] when no output device can be acquired.
	OpenPlayback(cfg StreamConfig) (PlaybackSink, error)

	// Close releases the backend. Streams opened from this Context must be
	// stopped or closed first.
	Close() error
}
