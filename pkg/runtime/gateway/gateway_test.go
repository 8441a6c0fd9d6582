package gateway_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/runtime"
	"github.com/parleyvoice/parley/pkg/runtime/gateway"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGatewayServer launches a test WebSocket server. The handler receives
// the accepted conn after the session.begin / session.created handshake has
// completed with the given session ID.
func startGatewayServer(t *testing.T, sessionID string, handler func(conn *websocket.Conn, begin map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		var begin map[string]any
		readJSON(t, conn, &begin)
		writeJSON(t, conn, map[string]string{"type": "session.created", "session_id": sessionID})
		handler(conn, begin)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// collectEvents subscribes to the session and forwards every event to the
// returned channel.
func collectEvents(t *testing.T, c *gateway.Client, sessionID string) <-chan runtime.Event {
	t.Helper()
	events := make(chan runtime.Event, 16)
	unsub, err := c.Subscribe(sessionID, func(ev runtime.Event) { events <- ev })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(unsub)
	return events
}

func waitEvent(t *testing.T, events <-chan runtime.Event) runtime.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return runtime.Event{}
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestStartSession_MissingCredential(t *testing.T) {
	t.Parallel()

	dialled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialled = true
	}))
	t.Cleanup(srv.Close)

	c := gateway.New("", gateway.WithBaseURL(wsURL(srv)))
	_, err := c.StartSession(context.Background(), "agent-1")
	if !errors.Is(err, runtime.ErrMissingCredential) {
		t.Fatalf("error = %v, want ErrMissingCredential", err)
	}
	if dialled {
		t.Error("server was dialled despite missing credential")
	}
}

func TestStartSession_Handshake(t *testing.T) {
	t.Parallel()

	beginCh := make(chan map[string]any, 1)
	srv := startGatewayServer(t, "sess-42", func(conn *websocket.Conn, begin map[string]any) {
		beginCh <- begin
		<-conn.CloseRead(context.Background()).Done()
	})

	c := gateway.New("key", gateway.WithBaseURL(wsURL(srv)))
	id, err := c.StartSession(context.Background(), "agent-7")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	t.Cleanup(func() { _ = c.StopSession(context.Background(), id) })

	if id != "sess-42" {
		t.Errorf("session ID = %q, want sess-42", id)
	}

	begin := <-beginCh
	if begin["type"] != "session.begin" {
		t.Errorf("begin type = %v, want session.begin", begin["type"])
	}
	if begin["agent_id"] != "agent-7" {
		t.Errorf("agent_id = %v, want agent-7", begin["agent_id"])
	}
	if callID, _ := begin["call_id"].(string); callID == "" {
		t.Error("call_id missing from session.begin")
	}
}

func TestSendAudio_EncodesPCM16AsBase64(t *testing.T) {
	t.Parallel()

	frames := make(chan map[string]any, 1)
	srv := startGatewayServer(t, "sess-1", func(conn *websocket.Conn, _ map[string]any) {
		var frame map[string]any
		readJSON(t, conn, &frame)
		frames <- frame
		<-conn.CloseRead(context.Background()).Done()
	})

	c := gateway.New("key", gateway.WithBaseURL(wsURL(srv)))
	id, err := c.StartSession(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	t.Cleanup(func() { _ = c.StopSession(context.Background(), id) })

	chunk := audio.Chunk{Data: []byte{1, 2, 3, 4}, SampleRate: 16000, Channels: 1}
	if err := c.SendAudio(id, chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	frame := <-frames
	if frame["type"] != "audio.input" {
		t.Errorf("frame type = %v, want audio.input", frame["type"])
	}
	got, err := base64.StdEncoding.DecodeString(frame["audio"].(string))
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if string(got) != string(chunk.Data) {
		t.Errorf("audio payload = %v, want %v", got, chunk.Data)
	}
}

func TestSendAudio_UnknownSession(t *testing.T) {
	t.Parallel()

	c := gateway.New("key")
	err := c.SendAudio("no-such-session", audio.Chunk{Data: []byte{0, 0}})
	if !errors.Is(err, runtime.ErrUnknownSession) {
		t.Fatalf("error = %v, want ErrUnknownSession", err)
	}
}

func TestSubscribe_DeliversEventsInArrivalOrder(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x10, 0x00, 0x20, 0x00}
	srv := startGatewayServer(t, "sess-1", func(conn *websocket.Conn, _ map[string]any) {
		// Wait for the client's first audio frame so the subscriber is
		// guaranteed to be registered before events flow.
		var frame map[string]any
		readJSON(t, conn, &frame)
		writeJSON(t, conn, map[string]string{"type": "connected"})
		writeJSON(t, conn, map[string]string{"type": "audio", "audio": base64.StdEncoding.EncodeToString(pcm)})
		writeJSON(t, conn, map[string]string{"type": "transcription", "text": "hello there"})
		writeJSON(t, conn, map[string]string{"type": "disconnected"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := gateway.New("key", gateway.WithBaseURL(wsURL(srv)), gateway.WithOutputSampleRate(8000))
	id, err := c.StartSession(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	events := collectEvents(t, c, id)
	if err := c.SendAudio(id, audio.Chunk{Data: []byte{0, 0}}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Kind != runtime.EventConnected {
		t.Fatalf("event 1 kind = %v, want connected", ev.Kind)
	}
	if ev.SessionID != "sess-1" {
		t.Errorf("event 1 session ID = %q, want sess-1", ev.SessionID)
	}

	ev = waitEvent(t, events)
	if ev.Kind != runtime.EventAudio {
		t.Fatalf("event 2 kind = %v, want audio", ev.Kind)
	}
	if string(ev.Audio.Data) != string(pcm) {
		t.Errorf("audio data = %v, want %v", ev.Audio.Data, pcm)
	}
	if ev.Audio.SampleRate != 8000 {
		t.Errorf("audio sample rate = %d, want 8000", ev.Audio.SampleRate)
	}

	ev = waitEvent(t, events)
	if ev.Kind != runtime.EventTranscription || ev.Text != "hello there" {
		t.Fatalf("event 3 = %+v, want transcription %q", ev, "hello there")
	}

	ev = waitEvent(t, events)
	if ev.Kind != runtime.EventDisconnected {
		t.Fatalf("event 4 kind = %v, want disconnected", ev.Kind)
	}
}

func TestReceiveLoop_SkipsUnknownEventTypes(t *testing.T) {
	t.Parallel()

	srv := startGatewayServer(t, "sess-1", func(conn *websocket.Conn, _ map[string]any) {
		var frame map[string]any
		readJSON(t, conn, &frame)
		writeJSON(t, conn, map[string]string{"type": "vad.score", "score": "0.93"})
		writeJSON(t, conn, map[string]string{"type": "transcription", "text": "after the unknown"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := gateway.New("key", gateway.WithBaseURL(wsURL(srv)))
	id, err := c.StartSession(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	t.Cleanup(func() { _ = c.StopSession(context.Background(), id) })
	events := collectEvents(t, c, id)
	if err := c.SendAudio(id, audio.Chunk{Data: []byte{0, 0}}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Kind != runtime.EventTranscription || ev.Text != "after the unknown" {
		t.Fatalf("event = %+v, want the transcription following the unknown frame", ev)
	}
}

func TestReceiveLoop_AbnormalCloseEmitsError(t *testing.T) {
	t.Parallel()

	srv := startGatewayServer(t, "sess-1", func(conn *websocket.Conn, _ map[string]any) {
		var frame map[string]any
		readJSON(t, conn, &frame)
		conn.Close(websocket.StatusInternalError, "backend crashed")
	})

	c := gateway.New("key", gateway.WithBaseURL(wsURL(srv)))
	id, err := c.StartSession(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	events := collectEvents(t, c, id)
	if err := c.SendAudio(id, audio.Chunk{Data: []byte{0, 0}}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Kind != runtime.EventError {
		t.Fatalf("event kind = %v, want error", ev.Kind)
	}
	if ev.Message == "" {
		t.Error("error event carries no message")
	}
}

func TestStopSession_ToleratesUnknownAndRepeatedIDs(t *testing.T) {
	t.Parallel()

	srv := startGatewayServer(t, "sess-1", func(conn *websocket.Conn, _ map[string]any) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c := gateway.New("key", gateway.WithBaseURL(wsURL(srv)))

	if err := c.StopSession(context.Background(), "never-started"); err != nil {
		t.Fatalf("StopSession(unknown): %v", err)
	}

	id, err := c.StartSession(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := c.StopSession(context.Background(), id); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if err := c.StopSession(context.Background(), id); err != nil {
		t.Fatalf("StopSession(repeat): %v", err)
	}
}

func TestSubscribe_ReplaysEventsSentBeforeFirstSubscriber(t *testing.T) {
	t.Parallel()

	srv := startGatewayServer(t, "sess-1", func(conn *websocket.Conn, _ map[string]any) {
		// No pacing: the gateway may emit immediately after the handshake.
		writeJSON(t, conn, map[string]string{"type": "connected"})
		writeJSON(t, conn, map[string]string{"type": "transcription", "text": "early bird"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := gateway.New("key", gateway.WithBaseURL(wsURL(srv)))
	id, err := c.StartSession(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	t.Cleanup(func() { _ = c.StopSession(context.Background(), id) })

	// Let the receive loop read both frames before anyone is listening.
	time.Sleep(100 * time.Millisecond)

	events := collectEvents(t, c, id)
	ev := waitEvent(t, events)
	if ev.Kind != runtime.EventConnected {
		t.Fatalf("event 1 kind = %v, want connected", ev.Kind)
	}
	ev = waitEvent(t, events)
	if ev.Kind != runtime.EventTranscription || ev.Text != "early bird" {
		t.Fatalf("event 2 = %+v, want transcription %q", ev, "early bird")
	}
}
