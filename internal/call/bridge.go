package call

import (
	"log/slog"

	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/runtime"
)

// Bridge demultiplexes runtime events for one session onto typed handlers.
// Events stamped with a different session ID are ignored, so a bridge left
// subscribed across a reconnect can never act on a stale session's traffic.
//
// Handlers are optional; a nil handler drops its event kind.
type Bridge struct {
	// SessionID is the session this bridge accepts events for.
	SessionID string

	// OnConnected fires when the remote confirms the session is live.
	OnConnected func()

	// OnAudio fires for each agent audio chunk.
	OnAudio func(chunk audio.Chunk)

	// OnTranscription fires for each transcript line.
	OnTranscription func(text string)

	// OnError fires when the remote reports a failure.
	OnError func(message string)

	// OnDisconnected fires when the remote ends the session. The argument is
	// the remote's reason, possibly empty.
	OnDisconnected func(reason string)
}

// Handle routes one event to the matching handler.
func (b *Bridge) Handle(ev runtime.Event) {
	if ev.SessionID != b.SessionID {
		slog.Debug("ignoring event for foreign session",
			"event_session", ev.SessionID, "session", b.SessionID, "kind", ev.Kind)
		return
	}
	switch ev.Kind {
	case runtime.EventConnected:
		if b.OnConnected != nil {
			b.OnConnected()
		}
	case runtime.EventAudio:
		if b.OnAudio != nil {
			b.OnAudio(ev.Audio)
		}
	case runtime.EventTranscription:
		if b.OnTranscription != nil {
			b.OnTranscription(ev.Text)
		}
	case runtime.EventError:
		if b.OnError != nil {
			b.OnError(ev.Message)
		}
	case runtime.EventDisconnected:
		if b.OnDisconnected != nil {
			b.OnDisconnected(ev.Message)
		}
	default:
		slog.Debug("ignoring event of unknown kind", "kind", ev.Kind)
	}
}
