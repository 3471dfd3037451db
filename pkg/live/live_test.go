package live_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/telecaller/pkg/audio"
	"github.com/MrWong99/telecaller/pkg/live"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a fake live endpoint. handler receives each accepted
// connection; the server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// waitClosed blocks the handler until the client goes away.
func waitClosed(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

func dial(t *testing.T, srv *httptest.Server, opts ...live.Option) *live.Session {
	t.Helper()
	opts = append([]live.Option{live.WithBaseURL(wsURL(srv))}, opts...)
	c := live.New("test-api-key", opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sess, err := c.Dial(ctx, live.SessionConfig{
		SystemInstruction: "be helpful",
		Voice:             "Zephyr",
		Transcribe:        true,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// nextEvent returns the next event or fails after a timeout.
func nextEvent(t *testing.T, sess *live.Session) live.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

// drain collects every remaining event until the channel closes.
func drain(t *testing.T, sess *live.Session) []live.Event {
	t.Helper()
	var out []live.Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timeout draining events; got %v", out)
		}
	}
}

func kinds(evs []live.Event) []live.EventKind {
	out := make([]live.EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *json.RawMessage `json:"inputAudioTranscription"`
			OutputAudioTranscription *json.RawMessage `json:"outputAudioTranscription"`
		} `json:"setup"`
	}
	got := make(chan setupMsg, 1)
	keys := make(chan string, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		got <- msg
		waitClosed(conn)
	})
	dial(t, srv, live.WithModel("custom-model"))

	if key := <-keys; key != "test-api-key" {
		t.Errorf("key = %q; want test-api-key", key)
	}
	msg := <-got
	if msg.Setup.Model != "models/custom-model" {
		t.Errorf("model = %q", msg.Setup.Model)
	}
	if m := msg.Setup.GenerationConfig.ResponseModalities; len(m) != 1 || m[0] != "AUDIO" {
		t.Errorf("responseModalities = %v; want [AUDIO]", m)
	}
	if v := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Zephyr" {
		t.Errorf("voice = %q; want Zephyr", v)
	}
	if p := msg.Setup.SystemInstruction.Parts; len(p) != 1 || p[0].Text != "be helpful" {
		t.Errorf("systemInstruction = %+v", p)
	}
	if msg.Setup.InputAudioTranscription == nil || msg.Setup.OutputAudioTranscription == nil {
		t.Error("transcription not enabled in setup")
	}
}

func TestDial_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := live.New("k", live.WithBaseURL(wsURL(srv)))
	if _, err := c.Dial(context.Background(), live.SessionConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()

	if got := live.New("k").Model(); got != live.DefaultModel {
		t.Errorf("Model = %q; want %q", got, live.DefaultModel)
	}
}

func TestSession_OpenedOnce(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		waitClosed(conn)
	})
	sess := dial(t, srv)

	if ev := nextEvent(t, sess); ev.Kind != live.EventOpened {
		t.Fatalf("first event = %v; want opened", ev.Kind)
	}
	if ev := nextEvent(t, sess); ev.Kind != live.EventTurnComplete {
		t.Fatalf("second event = %v; want turn_complete", ev.Kind)
	}
}

func TestSession_EventOrderWithinMessage(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription":  map[string]any{"text": "hello"},
				"outputTranscription": map[string]any{"text": "namaste"},
				"turnComplete":        true,
				"interrupted":         true,
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAA="}},
					},
				},
			},
		})
		waitClosed(conn)
	})
	sess := dial(t, srv)

	want := []live.EventKind{
		live.EventOpened,
		live.EventInputTranscript,
		live.EventOutputTranscript,
		live.EventTurnComplete,
		live.EventAudio,
		live.EventInterrupted,
	}
	var got []live.Event
	for range want {
		got = append(got, nextEvent(t, sess))
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Fatalf("events = %v; want %v", kinds(got), want)
		}
	}
	if got[1].Text != "hello" || got[2].Text != "namaste" {
		t.Errorf("transcripts = %q, %q", got[1].Text, got[2].Text)
	}
	if got[4].Audio.MIMEType != "audio/pcm;rate=24000" || got[4].Audio.Data != "AAA=" {
		t.Errorf("audio = %+v", got[4].Audio)
	}
}

func TestSession_SendBufferedUntilOpened(t *testing.T) {
	t.Parallel()

	type mediaMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	release := make(chan struct{})
	received := make(chan mediaMsg, 2)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-release
		sendSetupComplete(t, conn)
		for range 2 {
			var msg mediaMsg
			readJSON(t, conn, &msg)
			received <- msg
		}
		waitClosed(conn)
	})
	sess := dial(t, srv)

	blob := audio.EncodeFrame(audio.AudioFrame{Samples: []float32{0.5}, Format: audio.CaptureFormat})
	if err := sess.Send(blob); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := sess.Send(blob); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess.Pending() != 2 {
		t.Errorf("Pending before open = %d; want 2", sess.Pending())
	}
	close(release)

	for range 2 {
		select {
		case msg := <-received:
			chunks := msg.RealtimeInput.MediaChunks
			if len(chunks) != 1 {
				t.Fatalf("mediaChunks = %d; want 1", len(chunks))
			}
			if chunks[0].MIMEType != "audio/pcm;rate=16000" || chunks[0].Data != blob.Data {
				t.Errorf("chunk = %+v; want %+v", chunks[0], blob)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for realtime input")
		}
	}
}

func TestSession_SendDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		waitClosed(conn)
	})
	var drops int
	sess := dial(t, srv, live.WithQueueSize(2), live.WithDropHandler(func() { drops++ }))

	for range 5 {
		_ = sess.Send(audio.Blob{MIMEType: audio.PCMMIMEType(16000), Data: "AAA="})
	}
	if sess.Pending() != 2 {
		t.Errorf("Pending = %d; want 2", sess.Pending())
	}
	if sess.Dropped() != 3 || drops != 3 {
		t.Errorf("Dropped = %d, handler calls = %d; want 3", sess.Dropped(), drops)
	}
}

func TestSession_CloseEmitsSingleClosed(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		waitClosed(conn)
	})
	sess := dial(t, srv)
	if ev := nextEvent(t, sess); ev.Kind != live.EventOpened {
		t.Fatalf("first event = %v; want opened", ev.Kind)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	rest := drain(t, sess)
	if len(rest) != 1 || rest[0].Kind != live.EventClosed {
		t.Fatalf("events after Close = %v; want [closed]", kinds(rest))
	}
	if err := sess.Send(audio.Blob{}); !errors.Is(err, live.ErrClosed) {
		t.Errorf("Send after Close: err = %v; want ErrClosed", err)
	}
}

func TestSession_ServerNormalCloseIsClosed(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})
	sess := dial(t, srv)

	evs := drain(t, sess)
	want := []live.EventKind{live.EventOpened, live.EventClosed}
	if len(evs) != 2 || evs[0].Kind != want[0] || evs[1].Kind != want[1] {
		t.Fatalf("events = %v; want %v", kinds(evs), want)
	}
	if err := sess.Send(audio.Blob{}); !errors.Is(err, live.ErrClosed) {
		t.Errorf("Send after terminal event: err = %v; want ErrClosed", err)
	}
}

func TestSession_AbnormalCloseIsError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		conn.Close(websocket.StatusInternalError, "boom")
	})
	sess := dial(t, srv)

	evs := drain(t, sess)
	if len(evs) != 2 {
		t.Fatalf("events = %v; want [opened error]", kinds(evs))
	}
	last := evs[1]
	if last.Kind != live.EventError || last.Err == nil {
		t.Fatalf("terminal event = %+v; want error with cause", last)
	}
}

func TestSession_ServerErrorPayloadIsTerminal(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 403, "message": "API key invalid"}})
		waitClosed(conn)
	})
	sess := dial(t, srv)

	evs := drain(t, sess)
	if len(evs) != 1 || evs[0].Kind != live.EventError {
		t.Fatalf("events = %v; want [error]", kinds(evs))
	}
	if !strings.Contains(evs[0].Err.Error(), "API key invalid") {
		t.Errorf("err = %v; want server message", evs[0].Err)
	}
}

func TestSession_MalformedFrameSkipped(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		sendSetupComplete(t, conn)
		waitClosed(conn)
	})
	sess := dial(t, srv)

	if ev := nextEvent(t, sess); ev.Kind != live.EventOpened {
		t.Fatalf("first event = %v; want opened", ev.Kind)
	}
}

func TestEventKind_String(t *testing.T) {
	t.Parallel()

	if live.EventAudio.String() != "audio" || live.EventKind(99).String() != "unknown" {
		t.Error("unexpected EventKind names")
	}
	if !live.EventClosed.Terminal() || !live.EventError.Terminal() || live.EventAudio.Terminal() {
		t.Error("unexpected Terminal classification")
	}
}
