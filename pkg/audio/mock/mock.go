// Package mock provides in-memory mock implementations of the [audio.Microphone],
// [audio.InputStream], and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewInputStream()
//	mic := &mock.Microphone{Stream: stream}
//	in, err := mic.Open(ctx, audio.CaptureFormat)
//	stream.Push(make([]float32, 4096))
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/telecaller/pkg/audio"
)

var (
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*InputStream)(nil)
	_ audio.Output      = (*Output)(nil)
	_ audio.Source      = (*Source)(nil)
)

// ErrStreamClosed is returned by [InputStream.ReadSamples] after Close.
var ErrStreamClosed = errors.New("mock: stream closed")

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Open. When nil, a fresh [InputStream] is created.
	Stream *InputStream

	// OpenError is returned by Open. A non-nil value simulates a denied
	// permission or a missing device.
	OpenError error

	// OpenCalls records the format of every Open invocation.
	OpenCalls []audio.Format
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, format audio.Format) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, format)
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	if m.Stream == nil {
		m.Stream = NewInputStream()
	}
	return m.Stream, nil
}

// CallCountOpen returns how many times Open was called.
func (m *Microphone) CallCountOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock implementation of [audio.InputStream]. Each call to
// ReadSamples consumes one frame pushed with [InputStream.Push].
type InputStream struct {
	frames chan []float32
	done   chan struct{}

	mu             sync.Mutex
	closed         bool
	callCountClose int
}

// NewInputStream returns an open stream with room for 64 pending frames.
func NewInputStream() *InputStream {
	return &InputStream{
		frames: make(chan []float32, 64),
		done:   make(chan struct{}),
	}
}

// Push queues a frame for the next ReadSamples call.
func (s *InputStream) Push(samples []float32) {
	select {
	case s.frames <- samples:
	case <-s.done:
	}
}

// ReadSamples implements [audio.InputStream]. It blocks until a frame is
// pushed or the stream is closed.
func (s *InputStream) ReadSamples(p []float32) (int, error) {
	select {
	case f := <-s.frames:
		return copy(p, f), nil
	case <-s.done:
		return 0, ErrStreamClosed
	}
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCountClose++
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CallCountClose returns how many times Close was called.
func (s *InputStream) CallCountClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCountClose
}

// ─── Output ───────────────────────────────────────────────────────────────────

// StartCall records the arguments of a single [Output.Start] invocation.
type StartCall struct {
	// At is the requested start position.
	At time.Duration

	// Duration is the playback length of the scheduled buffer.
	Duration time.Duration

	// Source is the handle returned to the caller.
	Source *Source
}

// Output is a mock implementation of [audio.Output] with a manually
// controlled clock.
type Output struct {
	mu sync.Mutex

	// OutputFormat is returned by Format. Defaults to [audio.PlaybackFormat].
	OutputFormat audio.Format

	// StartError is returned by Start.
	StartError error

	// ResumeError is returned by Resume.
	ResumeError error

	// StartCalls records all Start invocations in order.
	StartCalls []StartCall

	now             time.Duration
	callCountOpen   int
	callCountResume int
	callCountClose  int
}

// SetTime moves the output clock to t.
func (o *Output) SetTime(t time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

// CurrentTime implements [audio.Output].
func (o *Output) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OutputFormat.SampleRate == 0 {
		return audio.PlaybackFormat
	}
	return o.OutputFormat
}

// Start implements [audio.Output]. Records the call; the returned source ends
// only when the test calls [Source.End].
func (o *Output) Start(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.StartError != nil {
		return nil, o.StartError
	}
	src := &Source{onEnded: onEnded}
	o.StartCalls = append(o.StartCalls, StartCall{At: at, Duration: buf.Duration(), Source: src})
	return src, nil
}

// Starts returns a snapshot of the recorded Start calls.
func (o *Output) Starts() []StartCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]StartCall, len(o.StartCalls))
	copy(out, o.StartCalls)
	return out
}

// Resume implements [audio.Output].
func (o *Output) Resume(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callCountResume++
	return o.ResumeError
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callCountClose++
	return nil
}

// CallCountResume returns how many times Resume was called.
func (o *Output) CallCountResume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callCountResume
}

// CallCountClose returns how many times Close was called.
func (o *Output) CallCountClose() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callCountClose
}

// Opener returns an [audio.OutputOpener] that always yields o.
func (o *Output) Opener() audio.OutputOpener {
	return func(context.Context) (audio.Output, error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.callCountOpen++
		return o, nil
	}
}

// CallCountOpen returns how many times the opener from [Output.Opener] ran.
func (o *Output) CallCountOpen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callCountOpen
}

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu      sync.Mutex
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// End simulates natural completion, invoking the onEnded callback once unless
// the source was stopped.
func (s *Source) End() {
	s.mu.Lock()
	if s.stopped || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
