// Package playback orders received audio chunks onto a playback sink.
//
// The scheduler keeps a FIFO queue of decoded buffers and plays exactly one
// at a time: each buffer's completion callback pulls the next one, so chunks
// reach the sink in arrival order regardless of how fast they come in.
// Zero-length chunks pass through the same path and complete immediately,
// they never wedge the queue.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/device"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithOnIdle registers fn to run every time the queue drains empty. fn runs
// on the completion path and must not block.
func WithOnIdle(fn func()) Option {
	return func(s *Scheduler) { s.onIdle = fn }
}

// WithMetrics wires queue-depth and drop recording into the scheduler.
// Without it nothing is recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type queuedBuffer struct {
	samples []float32
	rate    int
}

// Scheduler serializes chunk playback on a single sink.
type Scheduler struct {
	sink    device.PlaybackSink
	logger  *slog.Logger
	onIdle  func()
	metrics *observe.Metrics

	speaker atomic.Bool

	mu      sync.Mutex
	queue   []queuedBuffer
	playing bool
	gen     uint64
}

// New creates a scheduler over sink. The speaker starts enabled.
func New(sink device.PlaybackSink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		logger: slog.Default().With("component", "playback"),
	}
	s.speaker.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue decodes chunk and appends it to the playback queue, starting the
// drain if the sink is currently idle. Chunks arriving while the speaker is
// disabled are dropped. Malformed PCM is logged and dropped.
func (s *Scheduler) Enqueue(chunk audio.Chunk) {
	if !s.speaker.Load() {
		return
	}
	samples, err := audio.PCM16ToFloat32(chunk.Data)
	if err != nil {
		s.logger.Warn("dropping malformed chunk", "error", err, "bytes", len(chunk.Data))
		if s.metrics != nil {
			s.metrics.RecordDroppedChunk(context.Background(), "playback", "malformed")
		}
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, queuedBuffer{samples: samples, rate: chunk.SampleRate})
	start := !s.playing
	if start {
		s.playing = true
	}
	gen := s.gen
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PlaybackQueueDepth.Add(context.Background(), 1)
	}
	if start {
		s.drain(gen)
	}
}

// drain plays the head of the queue and re-arms itself as the completion
// callback. When the queue is empty it clears the playing flag and fires
// onIdle. gen pins the drain to the queue state it was started against: a
// completion callback the sink already dispatched when Reset ran would
// otherwise race a fresh drain and put two buffers in flight.
func (s *Scheduler) drain(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if len(s.queue) == 0 {
		s.playing = false
		s.mu.Unlock()
		if s.onIdle != nil {
			s.onIdle()
		}
		return
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PlaybackQueueDepth.Add(context.Background(), -1)
	}
	if err := s.sink.Play(head.samples, head.rate, func() { s.drain(gen) }); err != nil {
		s.logger.Warn("sink rejected buffer, skipping", "error", err, "samples", len(head.samples))
		s.drain(gen)
	}
}

// SetSpeakerEnabled toggles the speaker gate. Disabling does not interrupt
// the buffer already handed to the sink.
func (s *Scheduler) SetSpeakerEnabled(enabled bool) {
	s.speaker.Store(enabled)
}

// SpeakerEnabled reports the current speaker gate state.
func (s *Scheduler) SpeakerEnabled() bool {
	return s.speaker.Load()
}

// Reset discards all queued buffers and stops the sink. Bumping the
// generation invalidates every drain armed before the reset, so neither a
// sink-discarded completion nor one already dispatched on its own goroutine
// can restart playback afterwards.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	s.playing = false
	s.gen++
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Debug("queue reset", "dropped", dropped)
		if s.metrics != nil {
			s.metrics.PlaybackQueueDepth.Add(context.Background(), int64(-dropped))
		}
	}
	return s.sink.Stop()
}
