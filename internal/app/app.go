// Package app wires the telecaller subsystems into a running client.
//
// New builds the chat session, the read-aloud player and the call controller
// from a [config.Config]. Run drives the front end together with the health
// endpoints and the config watcher, and Shutdown releases the devices.
//
// Tests inject doubles for the remote backends and the audio devices through
// the functional options; anything not injected is built from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/telecaller/internal/call"
	"github.com/MrWong99/telecaller/internal/chat"
	"github.com/MrWong99/telecaller/internal/config"
	"github.com/MrWong99/telecaller/internal/health"
	"github.com/MrWong99/telecaller/internal/observe"
	"github.com/MrWong99/telecaller/internal/resilience"
	"github.com/MrWong99/telecaller/internal/speech"
	"github.com/MrWong99/telecaller/pkg/audio"
	"github.com/MrWong99/telecaller/pkg/audio/ffmpeg"
	"github.com/MrWong99/telecaller/pkg/audio/render"
	"github.com/MrWong99/telecaller/pkg/live"
)

// FrontEnd is the user-facing loop. Run returns when it returns.
type FrontEnd func(ctx context.Context, a *App) error

// App owns every subsystem of one client process.
type App struct {
	cfg        *config.Config
	configPath string
	level      *slog.LevelVar
	metrics    *observe.Metrics

	backend chat.Backend
	synth   speech.Synthesizer
	dialer  call.Dialer
	mic     audio.Microphone
	output  audio.OutputOpener

	chat    *chat.Session
	reader  *speech.Reader
	call    *call.Controller
	server  *health.Server
	watcher *config.Watcher

	mu       sync.Mutex
	current  *config.Config
	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*App)

// WithChatBackend replaces the Gemini (and optional OpenAI) chat backend.
func WithChatBackend(b chat.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithSynthesizer replaces the Gemini speech synthesizer.
func WithSynthesizer(s speech.Synthesizer) Option {
	return func(a *App) { a.synth = s }
}

// WithDialer replaces the Gemini Live dialer.
func WithDialer(d call.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMicrophone replaces the ffmpeg microphone.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithOutput replaces the ffplay output used by calls and read-aloud.
func WithOutput(o audio.OutputOpener) Option {
	return func(a *App) { a.output = o }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload of the file at path while Run is active.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New builds an App from cfg. Nothing is dialed and no device is opened
// until the front end asks for it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, current: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.backend == nil {
		b, err := newChatBackend(ctx, cfg, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("app: chat backend: %w", err)
		}
		a.backend = b
	}
	if a.synth == nil {
		s, err := speech.NewGemini(ctx, cfg.Gemini.APIKey,
			speech.WithModel(cfg.Gemini.TTSModel),
			speech.WithVoice(cfg.Gemini.TTSVoice),
		)
		if err != nil {
			return nil, fmt.Errorf("app: speech synthesizer: %w", err)
		}
		a.synth = s
	}
	if a.dialer == nil {
		a.dialer = call.LiveDialer{Client: newLiveClient(cfg, a.metrics)}
	}
	if a.mic == nil {
		a.mic = &ffmpeg.Microphone{Device: cfg.Audio.MicDevice, Binary: cfg.Audio.FFmpegPath}
	}
	if a.output == nil {
		a.output = newOutput(cfg.Audio)
	}

	a.chat = chat.NewSession(a.backend,
		chat.WithSystemInstruction(cfg.Agent.SystemInstruction),
		chat.WithGreetingPrompt(cfg.Agent.GreetingPrompt),
		chat.WithFallbackMessage(cfg.Agent.FallbackMessage),
		chat.WithMetrics(a.metrics),
	)
	a.reader = speech.NewReader(a.synth, a.output, speech.WithMetrics(a.metrics))
	a.call = call.New(a.dialer, a.mic, a.output,
		call.WithFrameSize(cfg.Audio.CaptureFrameSize),
		call.WithSessionConfig(sessionConfig(cfg)),
		call.WithMetrics(a.metrics),
	)

	if cfg.Server.ListenAddr != "" {
		a.server = health.NewServer(cfg.Server.ListenAddr, health.New(a.checkers()...), a.metrics)
	}
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

// Chat returns the text/image conversation.
func (a *App) Chat() *chat.Session { return a.chat }

// Reader returns the read-aloud player.
func (a *App) Reader() *speech.Reader { return a.reader }

// Call returns the voice call controller.
func (a *App) Call() *call.Controller { return a.call }

// Config returns the most recently applied config.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Run serves the health endpoints and watches the config file while fe runs.
// It returns when fe returns, when ctx is cancelled or when a background
// task fails.
func (a *App) Run(ctx context.Context, fe FrontEnd) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.server != nil {
		g.Go(func() error { return a.server.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return fe(gctx, a)
	})

	slog.Info("telecaller running",
		"health", a.cfg.Server.ListenAddr,
		"watch", a.configPath,
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Reload applies a changed config. Log level, persona and voices take effect
// immediately (the persona and call voice from the next request or call);
// everything else is reported as requiring a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentChanged {
		a.chat.SetPersona(new.Agent.SystemInstruction, new.Agent.GreetingPrompt, new.Agent.FallbackMessage)
	}
	if d.AgentChanged || d.VoiceChanged {
		a.call.SetSessionConfig(sessionConfig(new))
	}
	if d.VoiceChanged {
		if v, ok := a.synth.(interface{ SetVoice(string) }); ok {
			v.SetVoice(new.Gemini.TTSVoice)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}

	a.mu.Lock()
	a.current = new
	a.mu.Unlock()
	slog.Info("config reloaded", "agent_changed", d.AgentChanged, "voice_changed", d.VoiceChanged)
}

// Shutdown ends any call and stops read-aloud. It honours the deadline of
// ctx and is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- errors.Join(a.call.EndCall(ctx), a.reader.Close())
		}()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		slog.Info("shutdown complete", "err", err)
	})
	return err
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		{Name: "gemini", Check: func(context.Context) error {
			if a.Config().Gemini.APIKey == "" {
				return config.ErrMissingCredential
			}
			return nil
		}},
		{Name: "call", Check: func(context.Context) error {
			var connErr *call.ConnectionError
			if err := a.call.Err(); errors.As(err, &connErr) {
				return err
			}
			return nil
		}},
	}
	if c, ok := a.backend.(interface{ Check(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: "chat", Check: c.Check})
	}
	return checks
}

func sessionConfig(cfg *config.Config) live.SessionConfig {
	return live.SessionConfig{
		SystemInstruction: cfg.Agent.SystemInstruction,
		Voice:             cfg.Gemini.Voice,
		Transcribe:        true,
	}
}

func newLiveClient(cfg *config.Config, m *observe.Metrics) *live.Client {
	opts := []live.Option{
		live.WithQueueSize(cfg.Audio.OutboundQueue),
		live.WithDropHandler(func() { m.OutboundDropped.Add(context.Background(), 1) }),
	}
	if cfg.Gemini.LiveModel != "" {
		opts = append(opts, live.WithModel(cfg.Gemini.LiveModel))
	}
	if cfg.Gemini.LiveBaseURL != "" {
		opts = append(opts, live.WithBaseURL(cfg.Gemini.LiveBaseURL))
	}
	return live.New(cfg.Gemini.APIKey, opts...)
}

// newChatBackend returns Gemini, failing over to OpenAI when it is
// configured. Each backend is metered on its own.
func newChatBackend(ctx context.Context, cfg *config.Config, m *observe.Metrics) (chat.Backend, error) {
	gem, err := chat.NewGemini(ctx, cfg.Gemini.APIKey, chat.WithGeminiModel(cfg.Gemini.ChatModel))
	if err != nil {
		return nil, err
	}
	group := resilience.NewChatFallback(resilience.BreakerConfig{
		OnTransition: func(name string, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	group.Add("gemini", metered("gemini", gem, m))
	if cfg.OpenAI.Enabled() {
		var opts []chat.OpenAIOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, chat.WithOpenAIBaseURL(cfg.OpenAI.BaseURL))
		}
		oa, err := chat.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, opts...)
		if err != nil {
			return nil, err
		}
		group.Add("openai", metered("openai", oa, m))
		slog.Info("chat fallback enabled", "backend", "openai", "model", oa.Model())
	}
	return group, nil
}

func newOutput(cfg config.AudioConfig) audio.OutputOpener {
	if cfg.DisablePlayback {
		return func(ctx context.Context) (audio.Output, error) {
			out := render.New(discard{}, audio.PlaybackFormat)
			if err := out.Resume(ctx); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	sp := &ffmpeg.Speaker{Binary: cfg.FFplayPath}
	return sp.Opener(audio.PlaybackFormat)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
