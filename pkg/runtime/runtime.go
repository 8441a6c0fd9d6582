// Package runtime defines the contract between the local call pipeline and the
// remote agent runtime — the service that hosts the conversational agent,
// accepts outbound caller audio, and pushes an event stream for each session.
//
// The central abstraction is [Runtime]: start/stop a session, send audio into
// it, and subscribe to its event stream. Events are a closed tagged variant
// ([Event] with [EventKind]); consumers switch exhaustively over the kind so
// that adding a new remote event kind is a compile-visible extension point
// rather than a silently ignored string.
//
// All implementations must be safe for concurrent use. Event delivery within
// one session is strictly ordered: implementations invoke subscriber callbacks
// sequentially, in arrival order, from a single goroutine.
package runtime

import (
	"context"
	"errors"

	"github.com/parleyvoice/parley/pkg/audio"
)

// ErrMissingCredential indicates no credential is configured for the runtime.
// It is a pre-flight failure: nothing has been dialled and no resources were
// touched when it is returned.
var ErrMissingCredential = errors.New("runtime: no credential configured")

// ErrUnknownSession indicates the session ID is not (or no longer) live on
// this runtime client.
var ErrUnknownSession = errors.New("runtime: unknown session")

// EventKind tags the variant of an [Event].
type EventKind int

const (
	// EventConnected signals the agent accepted the session and is live.
	EventConnected EventKind = iota

	// EventAudio carries one inbound PCM16 chunk of agent speech.
	EventAudio

	// EventTranscription carries one completed agent utterance as text.
	EventTranscription

	// EventError signals a fatal mid-session failure. The session is
	// terminal after this event.
	EventError

	// EventDisconnected signals the runtime ended the session. Terminal.
	EventDisconnected
)

// String returns the wire-level name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventAudio:
		return "audio"
	case EventTranscription:
		return "transcription"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one message from a session's remote event stream. Exactly one
// payload field is meaningful, selected by Kind.
type Event struct {
	// Kind selects the variant.
	Kind EventKind

	// SessionID identifies the session this event belongs to. Subscribers
	// must ignore events carrying a foreign session ID; this defends
	// against stale listeners from a previous call in the same process.
	SessionID string

	// Audio is the inbound chunk for [EventAudio].
	Audio audio.Chunk

	// Text is the agent utterance for [EventTranscription].
	Text string

	// Message is the human-readable detail for [EventError] and, when the
	// runtime provides one, the reason for [EventDisconnected].
	Message string
}

// Runtime is the abstraction over a remote agent runtime backend.
type Runtime interface {
	// StartSession negotiates a new session with the agent identified by
	// agentID and returns its session ID. The event stream begins flowing
	// to subscribers immediately after StartSession returns; subscribe
	// before sending audio. Returns [ErrMissingCredential] without any
	// network activity when no credential is configured.
	StartSession(ctx context.Context, agentID string) (string, error)

	// StopSession ends the session. It must tolerate IDs that are already
	// stopped or were never started: stopping an unknown session is a
	// no-op, not an error.
	StopSession(ctx context.Context, sessionID string) error

	// SendAudio transmits one outbound PCM16 chunk on the session. Chunks
	// are delivered in call order. Returns [ErrUnknownSession] if the
	// session is not live.
	SendAudio(sessionID string, chunk audio.Chunk) error

	// Subscribe registers fn for every event of the given session and
	// returns an unsubscribe handle. Events that arrived before the
	// session's first subscriber are replayed to it, in order, before
	// Subscribe returns; nothing is lost between StartSession and
	// Subscribe. The handle is idempotent and safe to call from within fn
	// itself. fn is invoked from the runtime's receive goroutine and must
	// not block.
	Subscribe(sessionID string, fn func(Event)) (unsubscribe func(), err error)
}
