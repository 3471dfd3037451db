package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultOpenAIModel is the fallback chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIOption is a functional option for [NewOpenAI].
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// WithOpenAIBaseURL overrides the default OpenAI API base URL.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) {
		c.baseURL = url
	}
}

// WithOpenAIOrganization sets the OpenAI organization ID on all requests.
func WithOpenAIOrganization(org string) OpenAIOption {
	return func(c *openaiConfig) {
		c.organization = org
	}
}

// WithOpenAITimeout sets a per-request HTTP timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) {
		c.timeout = d
	}
}

// WithOpenAIMaxRetries sets how often the client retries failed requests.
// Default: 2.
func WithOpenAIMaxRetries(n int) OpenAIOption {
	return func(c *openaiConfig) {
		c.maxRetries = n
	}
}

// OpenAI is a [Backend] using OpenAI chat completions. Images are sent as
// data URLs.
type OpenAI struct {
	client oai.Client
	model  string
}

var _ Backend = (*OpenAI)(nil)

// NewOpenAI constructs an OpenAI backend.
func NewOpenAI(apiKey, model string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("chat: openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	cfg := &openaiConfig{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAI{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model returns the configured model name.
func (p *OpenAI) Model() string { return p.model }

// Generate implements [Backend].
func (p *OpenAI) Generate(ctx context.Context, history []Turn, system string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: openaiMessages(history, system),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &RemoteRequestError{Backend: "openai", Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &RemoteRequestError{Backend: "openai", Err: errors.New("empty choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// openaiMessages converts the history, prefixed by the system prompt.
func openaiMessages(history []Turn, system string) []oai.ChatCompletionMessageParamUnion {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}
	for _, t := range history {
		switch {
		case t.Role == RoleModel:
			messages = append(messages, oai.AssistantMessage(t.Text))
		case t.Image != nil:
			parts := []oai.ChatCompletionContentPartUnionParam{
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
					URL: t.Image.DataURL(),
				}),
			}
			if t.Text != "" {
				parts = append(parts, oai.TextContentPart(t.Text))
			}
			messages = append(messages, oai.UserMessage(parts))
		default:
			messages = append(messages, oai.UserMessage(t.Text))
		}
	}
	return messages
}
