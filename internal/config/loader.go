package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownVoices lists the prebuilt Gemini voices. Used by [Validate] to warn
// about unrecognised voice names.
var KnownVoices = []string{
	"Aoede", "Charon", "Fenrir", "Kore", "Leda", "Orus", "Puck", "Zephyr",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. An empty path loads the defaults, so a client can run from
// environment variables alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(eofReader{})
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.Getenv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Gemini
	if cfg.Gemini.APIKey == "" {
		errs = append(errs, &ConfigurationError{
			Key: "gemini.api_key",
			Err: fmt.Errorf("%w: set GEMINI_API_KEY or API_KEY", ErrMissingCredential),
		})
	}
	warnUnknownVoice("gemini.voice", cfg.Gemini.Voice)
	warnUnknownVoice("gemini.tts_voice", cfg.Gemini.TTSVoice)

	// OpenAI
	if !cfg.OpenAI.Enabled() && (cfg.OpenAI.Model != "" || cfg.OpenAI.BaseURL != "") {
		slog.Warn("openai is configured without an api_key; the fallback chat backend is disabled")
	}

	// Audio
	if cfg.Audio.CaptureFrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_frame_size %d must not be negative", cfg.Audio.CaptureFrameSize))
	}
	if cfg.Audio.OutboundQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.outbound_queue %d must not be negative", cfg.Audio.OutboundQueue))
	}

	return errors.Join(errs...)
}

// warnUnknownVoice logs a warning if name is non-empty and not one of
// [KnownVoices].
func warnUnknownVoice(key, name string) {
	if name == "" || slices.Contains(KnownVoices, name) {
		return
	}
	slog.Warn("unknown voice name, may be a typo or a new voice",
		"key", key,
		"name", name,
		"known", KnownVoices,
	)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
