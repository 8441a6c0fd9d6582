package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyvoice/parley/internal/capture"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/internal/playback"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/device"
	"github.com/parleyvoice/parley/pkg/runtime"
)

// Config holds the call parameters shared by every call a controller starts.
type Config struct {
	// Credential is the API credential for the remote runtime. StartCall
	// fails before touching any device or the network when it is empty.
	Credential string

	// CaptureRate is the microphone sample rate in Hz.
	CaptureRate int

	// TargetRate is the transmit sample rate in Hz. CaptureRate must be an
	// integer multiple of it.
	TargetRate int

	// PlaybackRate is the speaker sample rate in Hz.
	PlaybackRate int

	// FrameSamples is the number of samples per device buffer.
	FrameSamples int
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics wires metric recording into the controller. Without it no
// metrics are recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTranscriptListener registers fn to run for every transcript entry, on
// the event delivery goroutine.
func WithTranscriptListener(fn func(TranscriptEntry)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// WithStatusListener registers fn to run on every status transition.
func WithStatusListener(fn func(Status)) Option {
	return func(c *Controller) { c.onStatus = fn }
}

// Controller runs one call at a time over an injected runtime and device
// context. All exported methods are safe for concurrent use.
//
// The controller never closes the device context it was given; the caller
// owns it.
type Controller struct {
	rt     runtime.Runtime
	devctx device.Context
	cfg    Config
	logger *slog.Logger

	metrics      *observe.Metrics
	onTranscript func(TranscriptEntry)
	onStatus     func(Status)

	mu            sync.Mutex
	info          Info
	engine        *capture.Engine
	sched         *playback.Scheduler
	sink          device.PlaybackSink
	unsubscribe   func()
	remoteStopped bool
	torndown      bool
	transcript    []TranscriptEntry
}

// New creates a controller with the given dependencies.
func New(rt runtime.Runtime, devctx device.Context, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		rt:     rt,
		devctx: devctx,
		cfg:    cfg,
		logger: slog.Default().With("component", "call"),
		info:   Info{Status: StatusIdle, SpeakerEnabled: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartCall establishes a session with agentID and wires the full duplex
// pipeline: microphone capture feeding the runtime and runtime audio feeding
// the speaker. On any failure every step already taken is unwound and the
// call ends in StatusError.
//
// Returns an error if a call is already in progress.
func (c *Controller) StartCall(ctx context.Context, agentID string) error {
	ctx, span := observe.StartSpan(ctx, "call.start")
	defer span.End()

	c.mu.Lock()
	if c.info.Status == StatusConnecting || c.info.Status == StatusConnected {
		id := c.info.SessionID
		c.mu.Unlock()
		return fmt.Errorf("call: a call is already active (session=%s)", id)
	}
	// A finished controller can place a fresh call.
	c.info = Info{AgentID: agentID, SpeakerEnabled: true}
	c.remoteStopped = false
	c.torndown = false
	c.transcript = nil
	c.mu.Unlock()

	if c.cfg.Credential == "" {
		c.setStatus(StatusError)
		return fmt.Errorf("call: %w", runtime.ErrMissingCredential)
	}

	c.setStatus(StatusConnecting)
	start := time.Now()

	sessionID, err := c.rt.StartSession(ctx, agentID)
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("call: start session: %w", err)
	}

	bridge := &Bridge{
		SessionID: sessionID,
		OnConnected: func() {
			c.setStatus(StatusConnected)
			if c.metrics != nil {
				c.metrics.RecordCallSetup(context.Background(), time.Since(start))
			}
			c.logger.Info("call connected", "session_id", sessionID, "agent_id", agentID)
		},
		OnAudio:         c.handleAudio,
		OnTranscription: c.handleTranscription,
		OnError: func(message string) {
			c.logger.Error("remote error, ending call", "session_id", sessionID, "message", message)
			c.setStatus(StatusError)
			_ = c.HangUp(context.Background())
		},
		OnDisconnected: func(reason string) {
			c.logger.Info("remote hung up", "session_id", sessionID, "reason", reason)
			c.mu.Lock()
			c.remoteStopped = true
			c.mu.Unlock()
			c.setStatus(StatusDisconnected)
			_ = c.HangUp(context.Background())
		},
	}

	// The bridge subscribes before any device is touched so that an early
	// connected (or terminal) event from the runtime is never lost. Audio
	// events arriving before the scheduler exists fall through handleAudio's
	// nil check.
	unsubscribe, err := c.rt.Subscribe(sessionID, bridge.Handle)
	if err != nil {
		_ = c.rt.StopSession(ctx, sessionID)
		c.setStatus(StatusError)
		return fmt.Errorf("call: subscribe: %w", err)
	}

	sink, err := c.devctx.OpenPlayback(device.StreamConfig{
		SampleRate:   c.cfg.PlaybackRate,
		Channels:     1,
		FrameSamples: c.cfg.FrameSamples,
	})
	if err != nil {
		unsubscribe()
		_ = c.rt.StopSession(ctx, sessionID)
		c.setStatus(StatusError)
		return fmt.Errorf("call: open playback: %w", err)
	}

	sched := playback.New(sink,
		playback.WithMetrics(c.metrics),
		playback.WithOnIdle(func() {
			c.mu.Lock()
			c.info.AgentSpeaking = false
			c.mu.Unlock()
		}))

	engine := capture.New(c.devctx, capture.WithMetrics(c.metrics))
	err = engine.Start(capture.Config{
		CaptureRate:  c.cfg.CaptureRate,
		TargetRate:   c.cfg.TargetRate,
		FrameSamples: c.cfg.FrameSamples,
	}, func(chunk audio.Chunk) {
		if c.metrics != nil {
			c.metrics.CapturedChunks.Add(context.Background(), 1)
		}
		if err := c.rt.SendAudio(sessionID, chunk); err != nil {
			c.logger.Warn("send audio failed", "session_id", sessionID, "error", err)
		}
	})
	if err != nil {
		unsubscribe()
		_ = sink.Close()
		_ = c.rt.StopSession(ctx, sessionID)
		c.setStatus(StatusError)
		return fmt.Errorf("call: start capture: %w", err)
	}

	c.mu.Lock()
	if c.torndown {
		// A terminal event ended the call while the pipeline was still
		// being wired, so the hang-up that ran then had nothing to
		// release. Unwind here instead of publishing live components
		// into a finished call.
		stopRemote := !c.remoteStopped
		c.remoteStopped = true
		c.mu.Unlock()
		_ = engine.Stop()
		_ = sched.Reset()
		_ = sink.Close()
		unsubscribe()
		if stopRemote {
			_ = c.rt.StopSession(ctx, sessionID)
		}
		return fmt.Errorf("call: call ended during setup (session=%s)", sessionID)
	}
	c.info.SessionID = sessionID
	c.info.StartedAt = start
	c.engine = engine
	c.sched = sched
	c.sink = sink
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveCalls.Add(context.Background(), 1)
	}
	c.logger.Info("call started",
		"session_id", sessionID,
		"agent_id", agentID,
		"capture_rate", c.cfg.CaptureRate,
		"target_rate", c.cfg.TargetRate,
	)
	return nil
}

// HangUp tears the call down: stop capture, reset playback, unsubscribe from
// events, and stop the remote session exactly once. Every step runs even
// when an earlier one fails; the failures are joined into the returned
// error. Calling HangUp on an already finished call is a no-op.
func (c *Controller) HangUp(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "call.hangup")
	defer span.End()

	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return nil
	}
	c.torndown = true
	engine := c.engine
	sched := c.sched
	sink := c.sink
	unsubscribe := c.unsubscribe
	sessionID := c.info.SessionID
	stopRemote := sessionID != "" && !c.remoteStopped
	c.remoteStopped = true
	c.engine = nil
	c.sched = nil
	c.sink = nil
	c.unsubscribe = nil
	c.mu.Unlock()

	var errs []error

	if engine != nil {
		if err := engine.Stop(); err != nil {
			c.logger.Warn("hangup: stop capture", "session_id", sessionID, "error", err)
			errs = append(errs, err)
		}
	}
	if sched != nil {
		if err := sched.Reset(); err != nil {
			c.logger.Warn("hangup: reset playback", "session_id", sessionID, "error", err)
			errs = append(errs, err)
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			c.logger.Warn("hangup: close playback sink", "session_id", sessionID, "error", err)
			errs = append(errs, err)
		}
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if stopRemote {
		if err := c.rt.StopSession(ctx, sessionID); err != nil {
			c.logger.Warn("hangup: stop session", "session_id", sessionID, "error", err)
			errs = append(errs, err)
		}
	}

	c.setStatus(StatusDisconnected)
	if c.metrics != nil && sessionID != "" {
		c.metrics.ActiveCalls.Add(context.Background(), -1)
	}
	c.logger.Info("call ended", "session_id", sessionID)

	return errors.Join(errs...)
}

// handleAudio queues one agent chunk for playback.
func (c *Controller) handleAudio(chunk audio.Chunk) {
	c.mu.Lock()
	sched := c.sched
	if sched != nil && sched.SpeakerEnabled() {
		c.info.AgentSpeaking = true
	}
	c.mu.Unlock()
	if sched == nil {
		return
	}
	if !sched.SpeakerEnabled() {
		if c.metrics != nil {
			c.metrics.RecordDroppedChunk(context.Background(), "playback", "speaker_disabled")
		}
		return
	}
	if c.metrics != nil {
		c.metrics.PlaybackChunks.Add(context.Background(), 1)
	}
	sched.Enqueue(chunk)
}

// handleTranscription appends one transcript line and notifies the listener.
func (c *Controller) handleTranscription(text string) {
	entry := TranscriptEntry{
		Speaker:   SpeakerAgent,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	c.mu.Lock()
	c.transcript = append(c.transcript, entry)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordTranscriptEntry(context.Background(), string(entry.Speaker))
	}
	if c.onTranscript != nil {
		c.onTranscript(entry)
	}
}

// setStatus transitions the call status. Terminal states are sticky: once
// the call is Disconnected or Error no further transition happens.
func (c *Controller) setStatus(status Status) {
	c.mu.Lock()
	if c.info.Status.Terminal() || c.info.Status == status {
		c.mu.Unlock()
		return
	}
	c.info.Status = status
	listener := c.onStatus
	c.mu.Unlock()

	if listener != nil {
		listener(status)
	}
}

// ToggleMute flips the microphone gate and returns the new muted state. It
// is a no-op while no call is connected.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info.Status != StatusConnected || c.engine == nil {
		return c.info.Muted
	}
	c.info.Muted = !c.info.Muted
	c.engine.SetMuted(c.info.Muted)
	return c.info.Muted
}

// ToggleSpeaker flips the speaker gate and returns the new enabled state. It
// is a no-op while no call is connected.
func (c *Controller) ToggleSpeaker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info.Status != StatusConnected || c.sched == nil {
		return c.info.SpeakerEnabled
	}
	c.info.SpeakerEnabled = !c.info.SpeakerEnabled
	c.sched.SetSpeakerEnabled(c.info.SpeakerEnabled)
	return c.info.SpeakerEnabled
}

// Info returns a snapshot of the call state.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.Status
}

// Transcript returns a copy of all transcript entries received so far.
func (c *Controller) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}
