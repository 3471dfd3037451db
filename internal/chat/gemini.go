package chat

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is the chat model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiOption is a functional option for [NewGemini].
type GeminiOption func(*geminiConfig)

type geminiConfig struct {
	model   string
	baseURL string
}

// WithGeminiModel overrides [DefaultGeminiModel].
func WithGeminiModel(model string) GeminiOption {
	return func(c *geminiConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithGeminiBaseURL points the client at a different API host.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(c *geminiConfig) { c.baseURL = url }
}

// Gemini is a [Backend] using the Gemini generateContent API.
type Gemini struct {
	client *genai.Client
	model  string
}

var _ Backend = (*Gemini)(nil)

// NewGemini creates a Gemini backend authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("chat: gemini: apiKey must not be empty")
	}
	cfg := geminiConfig{model: DefaultGeminiModel}
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
		return nil, fmt.Errorf("chat: gemini: create client: %w", err)
	}
	return &Gemini{client: client, model: cfg.model}, nil
}

// Model returns the configured model name.
func (g *Gemini) Model() string { return g.model }

// Generate implements [Backend].
func (g *Gemini) Generate(ctx context.Context, history []Turn, system string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(history), cfg)
	if err != nil {
		return "", &RemoteRequestError{Backend: "gemini", Err: err}
	}
	text := resp.Text()
	if text == "" {
		return "", &RemoteRequestError{Backend: "gemini", Err: errors.New("empty response")}
	}
	return text, nil
}

// geminiContents converts the history. Image parts precede the text of
// their turn.
func geminiContents(history []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		var parts []*genai.Part
		if t.Image != nil {
			parts = append(parts, genai.NewPartFromBytes(t.Image.Data, t.Image.MIMEType))
		}
		if t.Text != "" {
			parts = append(parts, genai.NewPartFromText(t.Text))
		}
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}
