// Package gateway implements the runtime.Runtime interface over the agent
// gateway's WebSocket protocol.
//
// A session is one WebSocket connection. The client opens it with a Bearer
// credential, performs a session.begin / session.created handshake to learn
// the session ID, and then exchanges JSON text frames: outbound audio as
// base64-encoded PCM16 in audio.input frames, inbound events as tagged frames
// (connected, audio, transcription, error, disconnected). Unknown or
// malformed frames are skipped so protocol additions never break older
// clients.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/runtime"
)

// Compile-time assertion that Client satisfies the runtime interface.
var _ runtime.Runtime = (*Client)(nil)

const (
	defaultBaseURL    = "wss://gateway.parleyvoice.dev/v1/calls"
	defaultOutputRate = 16000
)

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the gateway WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithOutputSampleRate sets the sample rate stamped on inbound audio chunks.
// The gateway emits PCM16 at a fixed negotiated rate; default 16 kHz.
func WithOutputSampleRate(rate int) Option {
	return func(c *Client) { c.outputRate = rate }
}

// ── Client ────────────────────────────────────────────────────────────────────

// Client implements [runtime.Runtime] against the agent gateway.
type Client struct {
	apiKey     string
	baseURL    string
	outputRate int

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a gateway client with the given credential and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		outputRate: defaultOutputRate,
		sessions:   make(map[string]*session),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ── Protocol message types ────────────────────────────────────────────────────

type beginMessage struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	// CallID is a client-generated idempotency key for the begin request.
	CallID string `json:"call_id"`
}

type audioInputMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type endMessage struct {
	Type string `json:"type"`
}

type serverEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Audio     string `json:"audio,omitempty"` // base64-encoded PCM16
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ── Runtime implementation ────────────────────────────────────────────────────

// StartSession dials the gateway, performs the session handshake, and starts
// the receive loop. The returned session ID keys all further calls.
func (c *Client) StartSession(ctx context.Context, agentID string) (string, error) {
	if c.apiKey == "" {
		return "", runtime.ErrMissingCredential
	}

	conn, _, err := websocket.Dial(ctx, c.baseURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gateway: dial: %w", err)
	}

	begin := beginMessage{Type: "session.begin", AgentID: agentID, CallID: uuid.NewString()}
	data, err := json.Marshal(begin)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal failed")
		return "", fmt.Errorf("gateway: marshal begin: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "begin failed")
		return "", fmt.Errorf("gateway: send session.begin: %w", err)
	}

	// The session ID must be known before any event can be attributed, so
	// the session.created reply is read synchronously; everything after it
	// flows through the subscriber fan-out.
	_, reply, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return "", fmt.Errorf("gateway: read session.created: %w", err)
	}
	var created serverEvent
	if err := json.Unmarshal(reply, &created); err != nil || created.Type != "session.created" || created.SessionID == "" {
		conn.Close(websocket.StatusProtocolError, "unexpected handshake reply")
		return "", fmt.Errorf("gateway: unexpected handshake reply %q", string(reply))
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     created.SessionID,
		conn:   conn,
		ctx:    sessCtx,
		cancel: cancel,
		subs:   make(map[int]func(runtime.Event)),
	}

	c.mu.Lock()
	c.sessions[sess.id] = sess
	c.mu.Unlock()

	go c.receiveLoop(sess)

	return sess.id, nil
}

// StopSession ends the session and closes its connection. Stopping an unknown
// or already-stopped session is a no-op.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	// Best effort: tell the gateway before tearing the socket down.
	if data, err := json.Marshal(endMessage{Type: "session.end"}); err == nil {
		if err := sess.conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("gateway: session.end not delivered", "session_id", sessionID, "err", err)
		}
	}

	sess.cancel()
	sess.conn.Close(websocket.StatusNormalClosure, "session ended")
	return nil
}

// SendAudio transmits one PCM16 chunk as an audio.input frame.
func (c *Client) SendAudio(sessionID string, chunk audio.Chunk) error {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", runtime.ErrUnknownSession, sessionID)
	}

	msg := audioInputMessage{
		Type:  "audio.input",
		Audio: base64.StdEncoding.EncodeToString(chunk.Data),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gateway: marshal audio: %w", err)
	}
	if err := sess.conn.Write(sess.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("gateway: send audio: %w", err)
	}
	return nil
}

// Subscribe registers fn for the session's events. The returned handle is
// idempotent and safe to call from within fn.
func (c *Client) Subscribe(sessionID string, fn func(runtime.Event)) (func(), error) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", runtime.ErrUnknownSession, sessionID)
	}

	// deliverMu keeps the replay of buffered events ordered ahead of
	// anything the receive loop dispatches concurrently.
	sess.deliverMu.Lock()
	sess.mu.Lock()
	token := sess.nextSub
	sess.nextSub++
	sess.subs[token] = fn
	sess.hadSub = true
	pending := sess.pending
	sess.pending = nil
	sess.mu.Unlock()
	for _, ev := range pending {
		fn(ev)
	}
	sess.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sess.mu.Lock()
			delete(sess.subs, token)
			sess.mu.Unlock()
		})
	}, nil
}

// ── session & receive loop ────────────────────────────────────────────────────

type session struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	// deliverMu serializes callback invocation between the receive loop and
	// the buffered-event replay in Subscribe. Callbacks must not call
	// Subscribe from within themselves; unsubscribing is fine.
	deliverMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]func(runtime.Event)
	nextSub int
	hadSub  bool
	pending []runtime.Event
}

// dispatch fans one event out to the current subscribers, sequentially and
// without the session lock held, so a callback may unsubscribe from within
// itself. Events that arrive before the first subscriber registers are
// buffered and replayed to it; the receive loop starts with the handshake, so
// an early connected event must not be lost to an empty subscriber list.
func (s *session) dispatch(ev runtime.Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if len(s.subs) == 0 {
		if !s.hadSub {
			s.pending = append(s.pending, ev)
		}
		s.mu.Unlock()
		return
	}
	fns := make([]func(runtime.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// receiveLoop reads frames until the connection closes and translates them to
// tagged events. It is the only goroutine that dispatches for a session, which
// is what guarantees the arrival-order delivery promised by the contract.
func (c *Client) receiveLoop(sess *session) {
	for {
		_, data, err := sess.conn.Read(sess.ctx)
		if err != nil {
			if sess.ctx.Err() != nil {
				return // local stop, not an event
			}
			sess.dispatch(runtime.Event{
				Kind:      runtime.EventError,
				SessionID: sess.id,
				Message:   fmt.Sprintf("event stream closed: %v", err),
			})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("gateway: skipping malformed frame", "session_id", sess.id, "err", err)
			continue
		}

		switch evt.Type {
		case "connected":
			sess.dispatch(runtime.Event{Kind: runtime.EventConnected, SessionID: sess.id})

		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(evt.Audio)
			if err != nil {
				slog.Debug("gateway: skipping undecodable audio frame", "session_id", sess.id, "err", err)
				continue
			}
			sess.dispatch(runtime.Event{
				Kind:      runtime.EventAudio,
				SessionID: sess.id,
				Audio:     audio.Chunk{Data: pcm, SampleRate: c.outputRate, Channels: 1},
			})

		case "transcription":
			sess.dispatch(runtime.Event{
				Kind:      runtime.EventTranscription,
				SessionID: sess.id,
				Text:      evt.Text,
			})

		case "error":
			sess.dispatch(runtime.Event{
				Kind:      runtime.EventError,
				SessionID: sess.id,
				Message:   evt.Message,
			})

		case "disconnected":
			sess.dispatch(runtime.Event{
				Kind:      runtime.EventDisconnected,
				SessionID: sess.id,
				Message:   evt.Message,
			})
			return

		default:
			slog.Debug("gateway: skipping unknown event type", "session_id", sess.id, "type", evt.Type)
		}
	}
}
