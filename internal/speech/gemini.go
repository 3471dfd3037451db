// Package speech reads chat messages aloud. A [Synthesizer] turns text into
// 24 kHz mono PCM; a [Reader] plays one message at a time and toggles it off
// when asked again.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// Defaults for the Gemini text-to-speech model.
const (
	DefaultModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice = "Kore"
)

// ErrNoAudio is returned when the model answers without an audio part.
var ErrNoAudio = errors.New("speech: response contains no audio")

// Synthesizer converts text to raw mono s16le PCM at 24 kHz.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Option is a functional option for [NewGemini].
type Option func(*geminiConfig)

type geminiConfig struct {
	model   string
	voice   string
	baseURL string
}

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *geminiConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithVoice overrides [DefaultVoice].
func WithVoice(voice string) Option {
	return func(c *geminiConfig) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(c *geminiConfig) { c.baseURL = url }
}

// Gemini synthesizes speech with a prebuilt Gemini voice.
type Gemini struct {
	client *genai.Client
	model  string

	mu    sync.Mutex
	voice string
}

var _ Synthesizer = (*Gemini)(nil)

// NewGemini creates a Gemini synthesizer authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("speech: gemini: apiKey must not be empty")
	}
	cfg := geminiConfig{model: DefaultModel, voice: DefaultVoice}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("speech: gemini: create client: %w", err)
	}
	return &Gemini{client: client, model: cfg.model, voice: cfg.voice}, nil
}

// Voice returns the prebuilt voice in use.
func (g *Gemini) Voice() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voice
}

// SetVoice switches the prebuilt voice for subsequent requests. An empty
// name is ignored.
func (g *Gemini) SetVoice(name string) {
	if name == "" {
		return
	}
	g.mu.Lock()
	g.voice = name
	g.mu.Unlock()
}

// Synthesize implements [Synthesizer].
func (g *Gemini) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("speech: empty text")
	}
	voice := g.Voice()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		})
	if err != nil {
		return nil, fmt.Errorf("speech: gemini: generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrNoAudio
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return p.InlineData.Data, nil
		}
	}
	return nil, ErrNoAudio
}
