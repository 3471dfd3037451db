package app_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/telecaller/internal/app"
	"github.com/MrWong99/telecaller/internal/call"
	chatmock "github.com/MrWong99/telecaller/internal/chat/mock"
	"github.com/MrWong99/telecaller/internal/config"
	"github.com/MrWong99/telecaller/internal/observe"
	"github.com/MrWong99/telecaller/pkg/audio"
	audiomock "github.com/MrWong99/telecaller/pkg/audio/mock"
	"github.com/MrWong99/telecaller/pkg/live"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

type fakeSynth struct {
	mu    sync.Mutex
	voice string
}

func (s *fakeSynth) Synthesize(context.Context, string) ([]byte, error) {
	return make([]byte, 480), nil
}

func (s *fakeSynth) SetVoice(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = v
}

func (s *fakeSynth) Voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

type fakeSession struct {
	events chan live.Event
	once   sync.Once
}

func (s *fakeSession) Events() <-chan live.Event { return s.events }
func (s *fakeSession) Send(audio.Blob) error     { return nil }
func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.events <- live.Event{Kind: live.EventClosed}
		close(s.events)
	})
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	configs []live.SessionConfig
}

func (d *fakeDialer) Dial(_ context.Context, cfg live.SessionConfig) (call.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)
	s := &fakeSession{events: make(chan live.Event, 4)}
	s.events <- live.Event{Kind: live.EventOpened}
	return s, nil
}

func (d *fakeDialer) last() live.SessionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configs[len(d.configs)-1]
}

type harness struct {
	app     *app.App
	backend *chatmock.Backend
	synth   *fakeSynth
	dialer  *fakeDialer
	level   *slog.LevelVar
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Gemini: config.GeminiConfig{APIKey: "test-key", Voice: "Zephyr", TTSVoice: "Kore"},
		Agent:  config.AgentConfig{SystemInstruction: "be a realtor"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, opts ...app.Option) *harness {
	t.Helper()
	h := &harness{
		backend: &chatmock.Backend{Reply: "Namaste!"},
		synth:   &fakeSynth{},
		dialer:  &fakeDialer{},
		level:   new(slog.LevelVar),
	}
	out := &audiomock.Output{}
	all := append([]app.Option{
		app.WithChatBackend(h.backend),
		app.WithSynthesizer(h.synth),
		app.WithDialer(h.dialer),
		app.WithMicrophone(&audiomock.Microphone{}),
		app.WithOutput(out.Opener()),
		app.WithLogLevel(h.level),
	}, opts...)

	a, err := app.New(context.Background(), cfg, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.app = a
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	if h.app.Chat() == nil || h.app.Reader() == nil || h.app.Call() == nil {
		t.Fatal("New left a subsystem nil")
	}
	reply, err := h.app.Chat().Greet(context.Background())
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if reply.Text != "Namaste!" {
		t.Errorf("greeting = %q", reply.Text)
	}
	if got := h.backend.LastCall().System; got != "be a realtor" {
		t.Errorf("system instruction = %q", got)
	}
}

func TestNew_MissingKeyWithoutInjection(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Gemini.APIKey = ""
	if _, err := app.New(context.Background(), cfg); err == nil {
		t.Fatal("expected error building Gemini clients without a key")
	}
}

func TestApp_CallUsesSessionConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	if err := h.app.Call().StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitFor(t, "connected", func() bool { return h.app.Call().Status() == call.StatusConnected })

	got := h.dialer.last()
	if got.Voice != "Zephyr" || got.SystemInstruction != "be a realtor" || !got.Transcribe {
		t.Errorf("session config = %+v", got)
	}
	if err := h.app.Call().EndCall(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := h.app.Call().Status(); s != call.StatusEnded {
		t.Errorf("status = %v; want Ended", s)
	}
}

func TestApp_Reload(t *testing.T) {
	t.Parallel()
	old := testConfig()
	h := newHarness(t, old)

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Agent.SystemInstruction = "be brief"
	updated.Gemini.Voice = "Charon"
	updated.Gemini.TTSVoice = "Puck"
	h.app.Reload(old, updated)

	if h.level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v; want debug", h.level.Level())
	}
	if h.synth.Voice() != "Puck" {
		t.Errorf("tts voice = %q; want Puck", h.synth.Voice())
	}
	if h.app.Config() != updated {
		t.Error("Config() does not return the reloaded config")
	}

	if _, err := h.app.Chat().Send(context.Background(), "hello", nil); err != nil {
		t.Fatal(err)
	}
	if got := h.backend.LastCall().System; got != "be brief" {
		t.Errorf("chat system instruction = %q", got)
	}

	if err := h.app.Call().StartCall(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.dialer.last(); got.Voice != "Charon" || got.SystemInstruction != "be brief" {
		t.Errorf("call config after reload = %+v", got)
	}
}

func TestApp_RunReturnsWhenFrontEndQuits(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	h := newHarness(t, cfg)

	var called bool
	err := h.app.Run(context.Background(), func(ctx context.Context, a *app.App) error {
		called = a == h.app
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !called {
		t.Error("front end not called with the app")
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.app.Run(ctx, func(ctx context.Context, _ *app.App) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v; want nil after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_RunPropagatesFrontEndError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	boom := errors.New("boom")
	err := h.app.Run(context.Background(), func(context.Context, *app.App) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v; want boom", err)
	}
}

func TestApp_WatchesConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "telecaller.yaml")
	if err := os.WriteFile(path, []byte("gemini:\n  api_key: k\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, testConfig(), app.WithConfigPath(path))

	err := h.app.Run(context.Background(), func(context.Context, *app.App) error { return nil })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestApp_WatchPathMissing(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(),
		app.WithChatBackend(&chatmock.Backend{}),
		app.WithSynthesizer(&fakeSynth{}),
		app.WithDialer(&fakeDialer{}),
		app.WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")),
	)
	if err == nil {
		t.Fatal("expected error for missing watch path")
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	if err := h.app.Call().StartCall(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := h.app.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if s := h.app.Call().Status(); s.Active() {
		t.Errorf("call still %v after Shutdown", s)
	}
}

func TestMeteredChatBackend(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, testConfig(), app.WithMetrics(m))
	if _, err := h.app.Chat().Send(context.Background(), "hi", nil); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "telecaller.chat.duration" {
				found = true
			}
		}
	}
	if !found {
		t.Error("chat duration was not recorded")
	}
}
