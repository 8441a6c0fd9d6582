// Package mock provides a test double for the runtime package.
//
// Runtime records every call and lets tests drive event delivery through
// Emit, which fans out to subscribers the same way a real backend's receive
// loop does: sequentially, from the calling goroutine, with no internal lock
// held so a subscriber may unsubscribe from within its own callback.
//
// Example:
//
//	rt := &mock.Runtime{}
//	id, _ := rt.StartSession(ctx, "agent-1")
//	rt.Emit(runtime.Event{Kind: runtime.EventConnected, SessionID: id})
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/runtime"
)

// StartSessionCall records a single invocation of Runtime.StartSession.
type StartSessionCall struct {
	// Ctx is the context passed to StartSession.
	Ctx context.Context
	// AgentID is the agent identifier passed to StartSession.
	AgentID string
}

// Runtime is a mock implementation of runtime.Runtime. The zero value is
// ready to use; a fresh session ID is generated on the first StartSession
// unless SessionID is set beforehand.
type Runtime struct {
	mu sync.Mutex

	// SessionID is returned by StartSession. If empty, a random UUID is
	// generated and stored here on first use.
	SessionID string

	// --- Configurable errors ---

	// StartErr, if non-nil, is returned by every StartSession call.
	StartErr error

	// StopErr, if non-nil, is returned by every StopSession call.
	StopErr error

	// SendErr, if non-nil, is returned by every SendAudio call.
	SendErr error

	// SubscribeErr, if non-nil, is returned by every Subscribe call.
	SubscribeErr error

	// --- Call records ---

	// StartSessionCalls records every call to StartSession in order.
	StartSessionCalls []StartSessionCall

	// StopSessionIDs records the session ID of every StopSession call in order.
	StopSessionIDs []string

	// SentChunks records a copy of every chunk passed to SendAudio in order.
	SentChunks []audio.Chunk

	// SubscribeCallCount is the number of times Subscribe was called.
	SubscribeCallCount int

	// UnsubscribeCallCount is the number of times a returned unsubscribe
	// function fired. Repeat invocations of the same closure do not count.
	UnsubscribeCallCount int

	nextToken int
	subs      map[int]func(runtime.Event)
	hadSub    bool
	pending   []runtime.Event
}

// StartSession records the call and returns SessionID, StartErr.
func (r *Runtime) StartSession(ctx context.Context, agentID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartSessionCalls = append(r.StartSessionCalls, StartSessionCall{Ctx: ctx, AgentID: agentID})
	if r.StartErr != nil {
		return "", r.StartErr
	}
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	return r.SessionID, nil
}

// StopSession records the call and returns StopErr.
func (r *Runtime) StopSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StopSessionIDs = append(r.StopSessionIDs, sessionID)
	return r.StopErr
}

// SendAudio records a copy of the chunk and returns SendErr.
func (r *Runtime) SendAudio(_ string, chunk audio.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := chunk
	cp.Data = make([]byte, len(chunk.Data))
	copy(cp.Data, chunk.Data)
	r.SentChunks = append(r.SentChunks, cp)
	return r.SendErr
}

// Subscribe registers fn and returns an idempotent unsubscribe closure.
// Events emitted before the first Subscribe are replayed to fn in order
// before Subscribe returns, matching the contract.
func (r *Runtime) Subscribe(_ string, fn func(runtime.Event)) (func(), error) {
	r.mu.Lock()
	r.SubscribeCallCount++
	if r.SubscribeErr != nil {
		r.mu.Unlock()
		return nil, r.SubscribeErr
	}
	if r.subs == nil {
		r.subs = make(map[int]func(runtime.Event))
	}
	token := r.nextToken
	r.nextToken++
	r.subs[token] = fn
	r.hadSub = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, ev := range pending {
		fn(ev)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, token)
			r.UnsubscribeCallCount++
		})
	}, nil
}

// Emit delivers ev to every current subscriber from the calling goroutine.
// The subscriber list is snapshotted first, so callbacks may unsubscribe
// while handling the event. Events emitted before the first Subscribe are
// buffered for replay, the way a real backend's session does.
func (r *Runtime) Emit(ev runtime.Event) {
	r.mu.Lock()
	if len(r.subs) == 0 {
		if !r.hadSub {
			r.pending = append(r.pending, ev)
		}
		r.mu.Unlock()
		return
	}
	fns := make([]func(runtime.Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// SubscriberCount reports how many subscriptions are currently active.
func (r *Runtime) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (r *Runtime) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartSessionCalls = nil
	r.StopSessionIDs = nil
	r.SentChunks = nil
	r.SubscribeCallCount = 0
	r.UnsubscribeCallCount = 0
}

// Ensure Runtime implements runtime.Runtime at compile time.
var _ runtime.Runtime = (*Runtime)(nil)
