package playback_test

import (
	"context"
	"encoding/binary"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/internal/playback"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/device/mock"
)

// pcmChunk builds a chunk of n samples all set to value, so tests can tell
// buffers apart after decoding.
func pcmChunk(n int, value int16) audio.Chunk {
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}
	return audio.Chunk{Data: data, SampleRate: 16000, Channels: 1}
}

func TestEnqueue_PlaysChunksInArrivalOrder(t *testing.T) {
	t.Parallel()

	sink := &mock.PlaybackSink{HoldCompletions: true}
	sched := playback.New(sink)

	sched.Enqueue(pcmChunk(4, 100))
	sched.Enqueue(pcmChunk(4, 200))
	sched.Enqueue(pcmChunk(4, 300))

	// Only the head may be in flight until its completion fires.
	if got := len(sink.PlayCalls); got != 1 {
		t.Fatalf("plays before completion = %d, want 1", got)
	}
	sink.CompleteNext()
	sink.CompleteNext()
	if got := len(sink.PlayCalls); got != 3 {
		t.Fatalf("plays after completions = %d, want 3", got)
	}

	for i, value := range []int16{100, 200, 300} {
		want, err := audio.PCM16ToFloat32(pcmChunk(1, value).Data)
		if err != nil {
			t.Fatalf("decode reference: %v", err)
		}
		if got := sink.PlayCalls[i].Samples[0]; got != want[0] {
			t.Errorf("play %d first sample = %v, want %v", i, got, want[0])
		}
	}
}

func TestEnqueue_EmptyChunkDoesNotStallQueue(t *testing.T) {
	t.Parallel()

	idleCalls := 0
	sink := &mock.PlaybackSink{HoldCompletions: true}
	sched := playback.New(sink, playback.WithOnIdle(func() { idleCalls++ }))

	sched.Enqueue(pcmChunk(10, 1))
	sched.Enqueue(pcmChunk(0, 0))
	sched.Enqueue(pcmChunk(10, 2))

	// Completing the first buffer lets the empty one pass straight through
	// and puts the third in flight.
	sink.CompleteNext()
	if got := len(sink.PlayCalls); got != 3 {
		t.Fatalf("plays = %d, want 3", got)
	}
	if got := sink.NonEmptyPlays(); got != 2 {
		t.Errorf("non-empty plays = %d, want 2", got)
	}

	sink.CompleteNext()
	if idleCalls != 1 {
		t.Errorf("idle callbacks = %d, want 1", idleCalls)
	}
}

func TestEnqueue_SpeakerDisabledDropsChunks(t *testing.T) {
	t.Parallel()

	sink := &mock.PlaybackSink{}
	sched := playback.New(sink)

	sched.SetSpeakerEnabled(false)
	sched.Enqueue(pcmChunk(4, 1))
	sched.Enqueue(pcmChunk(4, 2))
	if got := len(sink.PlayCalls); got != 0 {
		t.Fatalf("plays while disabled = %d, want 0", got)
	}

	sched.SetSpeakerEnabled(true)
	sched.Enqueue(pcmChunk(4, 3))
	if got := len(sink.PlayCalls); got != 1 {
		t.Fatalf("plays after re-enable = %d, want 1", got)
	}
}

func TestEnqueue_DropsMalformedPCM(t *testing.T) {
	t.Parallel()

	sink := &mock.PlaybackSink{}
	sched := playback.New(sink)

	sched.Enqueue(audio.Chunk{Data: []byte{1, 2, 3}, SampleRate: 16000})
	if got := len(sink.PlayCalls); got != 0 {
		t.Fatalf("plays = %d, want 0 for odd-length chunk", got)
	}
}

func TestReset_ClearsQueueAndStopsSink(t *testing.T) {
	t.Parallel()

	sink := &mock.PlaybackSink{HoldCompletions: true}
	sched := playback.New(sink)

	sched.Enqueue(pcmChunk(4, 1))
	sched.Enqueue(pcmChunk(4, 2))
	sched.Enqueue(pcmChunk(4, 3))

	if err := sched.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := sink.StopCalls; got != 1 {
		t.Errorf("sink Stop calls = %d, want 1", got)
	}
	// The held completion was discarded by Stop; nothing further plays.
	if sink.CompleteNext() {
		t.Error("completion survived Reset")
	}
	if got := len(sink.PlayCalls); got != 1 {
		t.Errorf("plays after Reset = %d, want 1", got)
	}

	// The scheduler accepts new chunks after a reset.
	sched.Enqueue(pcmChunk(4, 9))
	if got := len(sink.PlayCalls); got != 2 {
		t.Errorf("plays after re-enqueue = %d, want 2", got)
	}
}

func TestOnIdle_FiresOncePerDrain(t *testing.T) {
	t.Parallel()

	idleCalls := 0
	sink := &mock.PlaybackSink{}
	sched := playback.New(sink, playback.WithOnIdle(func() { idleCalls++ }))

	sched.Enqueue(pcmChunk(4, 1))
	if idleCalls != 1 {
		t.Fatalf("idle callbacks = %d, want 1", idleCalls)
	}

	sched.Enqueue(pcmChunk(4, 2))
	sched.Enqueue(pcmChunk(4, 3))
	if idleCalls != 3 {
		t.Fatalf("idle callbacks = %d, want 3", idleCalls)
	}
}

// detachedSink models a sink whose completion callbacks fire on their own
// goroutine: it keeps every callback so the test can run one after the
// scheduler has already been reset.
type detachedSink struct {
	plays int
	dones []func()
}

func (s *detachedSink) Play(samples []float32, sampleRate int, done func()) error {
	s.plays++
	s.dones = append(s.dones, done)
	return nil
}

func (s *detachedSink) Stop() error  { return nil }
func (s *detachedSink) Close() error { return nil }

func TestReset_StaleCompletionCannotRestartDrain(t *testing.T) {
	t.Parallel()

	sink := &detachedSink{}
	sched := playback.New(sink)

	sched.Enqueue(pcmChunk(4, 100))
	stale := sink.dones[0]

	if err := sched.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	sched.Enqueue(pcmChunk(4, 200))
	sched.Enqueue(pcmChunk(4, 300))

	// The pre-reset completion lands now. It must not pull the queued
	// buffer while another one is already with the sink.
	stale()
	if got := sink.plays; got != 2 {
		t.Fatalf("plays after stale completion = %d, want 2", got)
	}

	sink.dones[1]()
	if got := sink.plays; got != 3 {
		t.Fatalf("plays after live completion = %d, want 3", got)
	}
}

func TestEnqueue_RecordsQueueDepthAndDrops(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sink := &mock.PlaybackSink{HoldCompletions: true}
	sched := playback.New(sink, playback.WithMetrics(m))

	sched.Enqueue(pcmChunk(4, 1)) // goes straight to the sink
	sched.Enqueue(pcmChunk(4, 2))
	sched.Enqueue(pcmChunk(4, 3))
	sched.Enqueue(audio.Chunk{Data: []byte{0x01}, SampleRate: 16000}) // odd byte count

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	depth := findSum(t, rm, "parley.playback.queue.depth")
	if got := depth.DataPoints[0].Value; got != 2 {
		t.Errorf("queue depth = %d, want 2 (one sounding, two waiting)", got)
	}

	dropped := findSum(t, rm, "parley.audio.dropped")
	if len(dropped.DataPoints) != 1 {
		t.Fatalf("dropped data points = %d, want 1", len(dropped.DataPoints))
	}
	dp := dropped.DataPoints[0]
	if dir, _ := dp.Attributes.Value(attribute.Key("direction")); dir.AsString() != "playback" {
		t.Errorf("direction = %q, want playback", dir.AsString())
	}
	if reason, _ := dp.Attributes.Value(attribute.Key("reason")); reason.AsString() != "malformed" {
		t.Errorf("reason = %q, want malformed", reason.AsString())
	}
	if dp.Value != 1 {
		t.Errorf("dropped count = %d, want 1", dp.Value)
	}
}

// findSum locates an int64 sum metric by name.
func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == name {
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("%s is not an int64 sum", name)
				}
				return sum
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}
