// Package live is a client for the Gemini Live API, a bidirectional
// WebSocket protocol (BidiGenerateContent) over which microphone audio is
// streamed up and synthesized speech, transcriptions and turn signals stream
// back.
//
// Server signals are delivered on a single channel returned by
// [Session.Events]. The first event is [EventOpened]; the last one is
// exactly one of [EventClosed] or [EventError], after which the channel is
// closed. Audio sent with [Session.Send] is buffered in a bounded queue until
// the session is open; when the queue is full the oldest chunk is dropped.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
)

const (
	// DefaultModel is the native-audio dialog model used when no model is set.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	endpointPath   = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultQueueSize = 64

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// SessionConfig describes a single live conversation.
type SessionConfig struct {
	// SystemInstruction is the persona prompt.
	SystemInstruction string

	// Voice is the prebuilt voice name, e.g. "Zephyr". Empty uses the
	// server default.
	Voice string

	// Transcribe enables input and output audio transcription.
	Transcribe bool
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithQueueSize sets how many outbound audio chunks are buffered before the
// oldest is dropped.
func WithQueueSize(n int) Option {
	return func(c *Client) { c.queueSize = n }
}

// WithDropHandler registers fn to be called whenever an outbound chunk is
// discarded because the queue is full.
func WithDropHandler(fn func()) Option {
	return func(c *Client) { c.onDrop = fn }
}

// WithLogger sets the logger used for non-fatal protocol anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client dials live sessions. It holds no per-session state and is safe for
// concurrent use.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	queueSize int
	onDrop    func()
	log       *slog.Logger
}

// New creates a Client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		model:     DefaultModel,
		baseURL:   defaultBaseURL,
		queueSize: defaultQueueSize,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Dial opens a WebSocket to the live endpoint and sends the setup message.
// ctx bounds the dial only; the session lives until [Session.Close] or a
// terminal event.
func (c *Client) Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := c.baseURL + endpointPath + "?key=" + url.QueryEscape(c.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}
	// Audio replies easily exceed the library's 32 KiB default.
	conn.SetReadLimit(16 << 20)

	s := newSession(conn, c.queueSize, c.onDrop, c.log)
	if err := s.writeJSON(s.ctx, c.setup(cfg)); err != nil {
		s.cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("live: setup: %w", err)
	}
	s.start()
	return s, nil
}

func (c *Client) setup(cfg SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + c.model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Transcribe {
		msg.Setup.InputAudioTranscription = &struct{}{}
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}
