package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// fileState identifies one revision of the watched file.
type fileState struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher reloads a config file while the client runs. Edits that fail to
// parse or validate are logged and ignored. Edits that leave every setting
// unchanged, such as comment changes, do not reach the callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	state   fileState
	missing bool
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is checked. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file at path. It fails when the file cannot be read
// or is invalid. Call [Watcher.Run] to start polling.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultPollInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.state = cfg, st
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run checks the file every interval until ctx is done. It returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	w.mu.Lock()
	if err != nil {
		first := !w.missing
		w.missing = true
		w.mu.Unlock()
		if first {
			slog.Warn("config file unavailable, keeping current settings", "path", w.path, "err", err)
		}
		return
	}
	w.missing = false
	same := info.ModTime().Equal(w.state.mtime) && info.Size() == w.state.size
	w.mu.Unlock()
	if same {
		return
	}

	cfg, st, err := w.read()
	if err != nil {
		slog.Warn("ignoring invalid config edit", "path", w.path, "err", err)
		// Remember the revision so the same broken file is not reported
		// on every tick.
		w.mu.Lock()
		w.state.mtime, w.state.size = info.ModTime(), info.Size()
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		w.state = st
		w.mu.Unlock()
		return
	}
	old := w.current
	w.state = st
	d := Diff(old, cfg)
	if d.Empty() {
		w.mu.Unlock()
		slog.Debug("config file edited without setting changes", "path", w.path)
		return
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config file changed", "path", w.path,
		"log_level", d.LogLevelChanged,
		"agent", d.AgentChanged,
		"voice", d.VoiceChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
