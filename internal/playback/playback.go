// Package playback schedules decoded agent audio back-to-back on an output
// context so that consecutive chunks play without gaps or overlap, and
// flushes everything on barge-in.
//
// Each chunk starts at max(next, now) on the output clock, where next is the
// end of the previously scheduled chunk. Interrupt stops every active chunk
// and resets next to zero, so the first chunk after an interruption starts
// immediately.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/telecaller/internal/observe"
	"github.com/MrWong99/telecaller/pkg/audio"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Option is a functional option for configuring a [Scheduler].
type Option func(*Scheduler)

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithDrainHandler sets fn to run when the last active chunk finishes
// playing. It is not called for chunks stopped by Interrupt or Close. fn runs
// without the scheduler's lock held.
func WithDrainHandler(fn func()) Option {
	return func(s *Scheduler) { s.onDrain = fn }
}

// Scheduler owns one output context for the lifetime of a call.
//
// Lock order: Scheduler.mu is held while calling into the output; the output
// never calls back while holding its own lock.
type Scheduler struct {
	open    audio.OutputOpener
	metrics *observe.Metrics
	onDrain func()

	mu     sync.Mutex
	out    audio.Output
	next   time.Duration
	active map[uint64]audio.Source
	seq    uint64
	closed bool
}

// New creates a Scheduler. The output is opened lazily on the first chunk.
func New(open audio.OutputOpener, opts ...Option) *Scheduler {
	s := &Scheduler{
		open:   open,
		active: make(map[uint64]audio.Source),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes blob and schedules it. It returns the clock position at
// which the chunk will start. A malformed payload yields an
// [*audio.DecodeError] and leaves the schedule untouched.
//
// The blob's rate is taken from its MIME type; chunks at a different rate
// than the output are resampled.
func (s *Scheduler) Enqueue(ctx context.Context, blob audio.Blob) (time.Duration, error) {
	pcm, err := audio.DecodeBase64(blob.Data)
	if err != nil {
		return 0, err
	}
	rate, ok := audio.ParseRate(blob.MIMEType)
	if !ok {
		rate = audio.PlaybackFormat.SampleRate
	}
	return s.EnqueuePCM(ctx, pcm, rate)
}

// EnqueuePCM schedules raw mono s16le PCM recorded at rate.
func (s *Scheduler) EnqueuePCM(ctx context.Context, pcm []byte, rate int) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	out, err := s.outputLocked(ctx)
	if err != nil {
		return 0, err
	}

	buf := audio.Resample(audio.BytesToBuffer(pcm, rate, 1), out.Format().SampleRate)

	startAt := max(s.next, out.CurrentTime())

	s.seq++
	id := s.seq
	src, err := out.Start(buf, startAt, func() { s.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("playback: start source: %w", err)
	}
	s.next = startAt + buf.Duration()
	s.active[id] = src

	if s.metrics != nil {
		s.metrics.PlaybackChunks.Add(ctx, 1)
	}
	return startAt, nil
}

func (s *Scheduler) outputLocked(ctx context.Context) (audio.Output, error) {
	if s.out != nil {
		return s.out, nil
	}
	out, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("playback: open output: %w", err)
	}
	if err := out.Resume(ctx); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("playback: resume output: %w", err)
	}
	s.out = out
	return out, nil
}

// ended removes a naturally finished source. Unknown ids are ignored, which
// makes late callbacks after Interrupt harmless.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	_, ok := s.active[id]
	delete(s.active, id)
	drained := ok && len(s.active) == 0
	s.mu.Unlock()

	if drained && s.onDrain != nil {
		s.onDrain()
	}
}

// Interrupt stops every active source and resets the schedule.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	if s.metrics != nil {
		s.metrics.Interruptions.Add(context.Background(), 1)
	}
}

func (s *Scheduler) interruptLocked() {
	for id, src := range s.active {
		src.Stop()
		delete(s.active, id)
	}
	s.next = 0
}

// Active returns the number of scheduled sources that have neither ended nor
// been stopped.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Next returns the end of the schedule on the output clock, or zero after an
// interruption.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close stops playback and releases the output. It is idempotent.
//
// The output is closed after the scheduler lock is released, since closing
// may wait for a render goroutine that is delivering an onEnded callback.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.interruptLocked()
	out := s.out
	s.out = nil
	s.mu.Unlock()

	if out == nil {
		return nil
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}
