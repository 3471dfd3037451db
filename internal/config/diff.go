package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true if the system instruction, greeting prompt or
	// fallback message changed. The new persona applies to the next chat
	// request and the next call.
	AgentChanged bool

	// VoiceChanged is true if the call voice or the read-aloud voice changed.
	VoiceChanged bool

	// RestartRequired lists changed keys that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AgentChanged && !d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent != new.Agent {
		d.AgentChanged = true
	}
	if old.Gemini.Voice != new.Gemini.Voice || old.Gemini.TTSVoice != new.Gemini.TTSVoice {
		d.VoiceChanged = true
	}

	restart := []struct {
		key      string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"gemini.api_key", old.Gemini.APIKey, new.Gemini.APIKey},
		{"gemini.chat_model", old.Gemini.ChatModel, new.Gemini.ChatModel},
		{"gemini.tts_model", old.Gemini.TTSModel, new.Gemini.TTSModel},
		{"gemini.live_model", old.Gemini.LiveModel, new.Gemini.LiveModel},
		{"gemini.live_base_url", old.Gemini.LiveBaseURL, new.Gemini.LiveBaseURL},
		{"openai", old.OpenAI, new.OpenAI},
		{"audio", old.Audio, new.Audio},
	}
	for _, r := range restart {
		if r.old != r.new {
			d.RestartRequired = append(d.RestartRequired, r.key)
		}
	}
	return d
}
