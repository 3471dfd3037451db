package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/telecaller/internal/observe"
	"github.com/MrWong99/telecaller/internal/playback"
	"github.com/MrWong99/telecaller/pkg/audio"
)

// PlaybackError is returned by [Reader.Toggle] when a message cannot be read
// aloud. Its message is meant for the user.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return "Audio playback failed." }

func (e *PlaybackError) Unwrap() error { return e.Err }

// State is the read-aloud state of a [Reader].
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
)

// String returns "idle", "loading" or "playing".
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// ReaderOption is a functional option for [NewReader].
type ReaderOption func(*Reader)

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) ReaderOption {
	return func(r *Reader) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) ReaderOption {
	return func(r *Reader) { r.log = l }
}

// Reader reads one message at a time aloud.
type Reader struct {
	synth   Synthesizer
	player  *playback.Scheduler
	metrics *observe.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	active   string
	state    State
	gen      uint64
	onChange func(id string, state State)
}

// NewReader creates a Reader that plays through outputs opened by open.
func NewReader(synth Synthesizer, open audio.OutputOpener, opts ...ReaderOption) *Reader {
	r := &Reader{synth: synth}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.player = playback.New(open, playback.WithMetrics(r.metrics), playback.WithDrainHandler(r.drained))
	return r
}

// OnChange registers fn to be called after every state change with the
// active message ID (empty when idle). fn runs without the reader's lock held.
func (r *Reader) OnChange(fn func(id string, state State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// State returns the active message ID and the read-aloud state.
func (r *Reader) State() (string, State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.state
}

// Toggle reads the message id aloud. If that message is already loading or
// playing it is stopped instead; any other active message is stopped first.
// Toggle returns once playback has started. Failures leave the reader idle
// and return a [*PlaybackError].
func (r *Reader) Toggle(ctx context.Context, id, text string) error {
	r.mu.Lock()
	if r.active != "" {
		prev := r.active
		r.stopLocked()
		if prev == id {
			r.mu.Unlock()
			r.notify()
			return nil
		}
	}
	r.gen++
	gen := r.gen
	r.active, r.state = id, StateLoading
	r.mu.Unlock()
	r.notify()

	pcm, err := r.synthesize(ctx, text)

	r.mu.Lock()
	if r.gen != gen {
		// Stopped or replaced while synthesizing.
		r.mu.Unlock()
		return nil
	}
	if err == nil {
		_, err = r.player.EnqueuePCM(ctx, pcm, audio.PlaybackFormat.SampleRate)
	}
	if err != nil {
		r.active, r.state = "", StateIdle
		r.mu.Unlock()
		r.notify()
		r.log.Warn("speech: read aloud failed", "message", id, "err", err)
		return &PlaybackError{Err: err}
	}
	r.state = StatePlaying
	r.mu.Unlock()
	r.notify()
	return nil
}

// Stop silences the reader.
func (r *Reader) Stop() {
	r.mu.Lock()
	r.stopLocked()
	r.mu.Unlock()
	r.notify()
}

// Close stops playback and releases the output.
func (r *Reader) Close() error {
	r.Stop()
	return r.player.Close()
}

func (r *Reader) stopLocked() {
	r.gen++
	r.active, r.state = "", StateIdle
	r.player.Interrupt()
}

func (r *Reader) drained() {
	r.mu.Lock()
	if r.state != StatePlaying {
		r.mu.Unlock()
		return
	}
	r.active, r.state = "", StateIdle
	r.mu.Unlock()
	r.notify()
}

func (r *Reader) notify() {
	r.mu.Lock()
	fn, id, state := r.onChange, r.active, r.state
	r.mu.Unlock()
	if fn != nil {
		fn(id, state)
	}
}

func (r *Reader) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "speech.synthesize")
	start := time.Now()
	pcm, err := r.synth.Synthesize(ctx, text)
	observe.EndSpan(span, err)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordProviderError(ctx, "gemini", "tts")
		}
	}
	if r.metrics != nil {
		r.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	return pcm, err
}
