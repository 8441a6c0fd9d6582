// Package call wires capture, playback, and a remote runtime into a single
// duplex voice call and owns its lifecycle.
package call

import "time"

// Status is the lifecycle state of a call.
type Status int

const (
	// StatusIdle means no call has been started yet.
	StatusIdle Status = iota
	// StatusConnecting means the remote session is being established.
	StatusConnecting
	// StatusConnected means audio is flowing in both directions.
	StatusConnected
	// StatusDisconnected means the call ended normally.
	StatusDisconnected
	// StatusError means the call ended because of a failure.
	StatusError
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is an end state. A terminal call never
// transitions again.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerUser marks a line spoken by the local user.
	SpeakerUser Speaker = "user"
	// SpeakerAgent marks a line spoken by the remote agent.
	SpeakerAgent Speaker = "agent"
)

// TranscriptEntry is one line of the call transcript.
type TranscriptEntry struct {
	// Speaker is who said it.
	Speaker Speaker
	// Text is the transcribed utterance.
	Text string
	// Timestamp is when the line was received.
	Timestamp time.Time
}

// Info is a snapshot of the call state for display and health reporting.
type Info struct {
	// SessionID is the remote session identifier, empty before connect.
	SessionID string
	// AgentID is the agent this call is talking to.
	AgentID string
	// Status is the current lifecycle state.
	Status Status
	// Muted reports whether the microphone gate is closed.
	Muted bool
	// SpeakerEnabled reports whether agent audio is being played.
	SpeakerEnabled bool
	// AgentSpeaking reports whether agent audio is currently draining.
	AgentSpeaking bool
	// StartedAt is when the call reached Connecting.
	StartedAt time.Time
}
