// Package config provides the configuration schema and loader for the
// telecaller client.
package config

import (
	"errors"
	"fmt"
	"log/slog"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ErrMissingCredential marks a required API key that is not configured.
var ErrMissingCredential = errors.New("missing credential")

// ConfigurationError reports a configuration problem that prevents startup.
type ConfigurationError struct {
	// Key is the YAML path of the offending field, e.g. "gemini.api_key".
	Key string

	// Err describes the problem.
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Gemini GeminiConfig `yaml:"gemini"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Audio  AudioConfig  `yaml:"audio"`
	Agent  AgentConfig  `yaml:"agent"`
}

// ServerConfig holds the health endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the /healthz, /readyz and /metrics
	// endpoints (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// GeminiConfig configures every Gemini API the client talks to.
type GeminiConfig struct {
	// APIKey authenticates all Gemini requests. The GEMINI_API_KEY or API_KEY
	// environment variable overrides it.
	APIKey string `yaml:"api_key"`

	// ChatModel is the text/image chat model. Default: gemini-2.5-flash.
	ChatModel string `yaml:"chat_model"`

	// TTSModel is the read-aloud speech model.
	TTSModel string `yaml:"tts_model"`

	// TTSVoice is the prebuilt voice used for read-aloud. Default: Kore.
	TTSVoice string `yaml:"tts_voice"`

	// LiveModel is the native-audio model of the voice call.
	LiveModel string `yaml:"live_model"`

	// LiveBaseURL overrides the WebSocket endpoint host of the voice call.
	LiveBaseURL string `yaml:"live_base_url"`

	// Voice is the prebuilt voice of the voice call. Default: Zephyr.
	Voice string `yaml:"voice"`
}

// OpenAIConfig configures the optional fallback chat backend. It is enabled
// when APIKey is set (or OPENAI_API_KEY is present in the environment).
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Enabled reports whether the OpenAI fallback is configured.
func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

// AudioConfig holds device and pipeline settings.
type AudioConfig struct {
	// CaptureFrameSize is the number of samples per captured frame.
	// Default: 4096.
	CaptureFrameSize int `yaml:"capture_frame_size"`

	// OutboundQueue bounds the number of audio frames buffered for sending.
	// Default: 64.
	OutboundQueue int `yaml:"outbound_queue"`

	// MicDevice names the capture device passed to ffmpeg. Default depends on
	// the platform.
	MicDevice string `yaml:"mic_device"`

	// FFmpegPath and FFplayPath override the binaries looked up in PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`
	FFplayPath string `yaml:"ffplay_path"`

	// DisablePlayback discards agent audio instead of playing it.
	DisablePlayback bool `yaml:"disable_playback"`
}

// AgentConfig holds the conversational persona.
type AgentConfig struct {
	// SystemInstruction is sent with every chat request and voice call.
	// Default: [DefaultSystemInstruction].
	SystemInstruction string `yaml:"system_instruction"`

	// GreetingPrompt asks the agent for its opening chat message.
	GreetingPrompt string `yaml:"greeting_prompt"`

	// FallbackMessage is shown when a chat request fails.
	FallbackMessage string `yaml:"fallback_message"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultVoice            = "Zephyr"
	DefaultCaptureFrameSize = 4096
	DefaultOutboundQueue    = 64
)

// ApplyDefaults fills unset fields with their defaults. Model names are left
// empty so that each client applies its own default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Gemini.Voice == "" {
		cfg.Gemini.Voice = DefaultVoice
	}
	if cfg.Audio.CaptureFrameSize == 0 {
		cfg.Audio.CaptureFrameSize = DefaultCaptureFrameSize
	}
	if cfg.Audio.OutboundQueue == 0 {
		cfg.Audio.OutboundQueue = DefaultOutboundQueue
	}
	if cfg.Agent.SystemInstruction == "" {
		cfg.Agent.SystemInstruction = DefaultSystemInstruction
	}
}

// ApplyEnv overrides credentials from the environment. getenv is usually
// [os.Getenv].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	} else if v := getenv("API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
}
