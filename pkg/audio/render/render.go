// Package render provides a software [audio.Output]: a clocked context that
// mixes scheduled buffers and writes the result as s16le PCM to a sink such as
// a player process's stdin.
//
// The clock advances with rendered samples, so it starts suspended at zero and
// only moves once [Context.Resume] launches the render loop or a caller drives
// it manually with [Context.Render].
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/telecaller/pkg/audio"
)

var _ audio.Output = (*Context)(nil)

// ErrClosed is returned by operations on a closed [Context].
var ErrClosed = errors.New("render: context closed")

const defaultPeriod = 20 * time.Millisecond

// Option is a functional option for configuring a [Context].
type Option func(*Context)

// WithPeriod sets how much audio the render loop produces per tick.
func WithPeriod(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.period = d
		}
	}
}

// Context mixes scheduled sources into a single mono stream.
type Context struct {
	sink   io.Writer
	format audio.Format
	period time.Duration

	mu       sync.Mutex
	rendered int64 // frames written since creation
	sources  map[uint64]*voice
	nextID   uint64
	closed   bool
	running  bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a suspended context rendering format to sink. Only the sample
// rate of format is honoured; output is always mono.
func New(sink io.Writer, format audio.Format, opts ...Option) *Context {
	c := &Context{
		sink:    sink,
		format:  audio.Format{SampleRate: format.SampleRate, Channels: 1},
		period:  defaultPeriod,
		sources: make(map[uint64]*voice),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// voice is one scheduled buffer.
type voice struct {
	ctx     *Context
	id      uint64
	start   int64 // first frame on the context clock
	samples []float32
	onEnded func()
}

// Stop implements [audio.Source].
func (v *voice) Stop() {
	v.ctx.mu.Lock()
	delete(v.ctx.sources, v.id)
	v.ctx.mu.Unlock()
}

func (v *voice) end() int64 { return v.start + int64(len(v.samples)) }

// Format implements [audio.Output].
func (c *Context) Format() audio.Format { return c.format }

// CurrentTime implements [audio.Output].
func (c *Context) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesToDuration(c.rendered)
}

// Start implements [audio.Output]. Multi-channel buffers are downmixed to
// mono. The buffer's sample rate must match the context's.
func (c *Context) Start(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	if buf.SampleRate != c.format.SampleRate {
		return nil, fmt.Errorf("render: buffer rate %d does not match context rate %d", buf.SampleRate, c.format.SampleRate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	start := c.durationToFrames(at)
	if start < c.rendered {
		start = c.rendered
	}
	c.nextID++
	v := &voice{
		ctx:     c,
		id:      c.nextID,
		start:   start,
		samples: downmix(buf),
		onEnded: onEnded,
	}
	c.sources[v.id] = v
	return v, nil
}

// Active returns the number of sources that have not ended or been stopped.
func (c *Context) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// Resume implements [audio.Output]. It launches the real-time render loop;
// calling it on a running context is a no-op.
func (c *Context) Resume(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.running {
		return nil
	}
	c.running = true

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(loopCtx, c.done)
	return nil
}

func (c *Context) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	frames := c.durationToFrames(c.period)
	if frames <= 0 {
		frames = 1
	}
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Render(int(frames)); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				slog.Warn("render: loop stopped", "err", err)
				return
			}
		}
	}
}

// Render mixes the next n frames, advances the clock and writes the PCM to
// the sink. Sources that finish within the window are removed and their
// onEnded callbacks run before Render returns.
func (c *Context) Render(n int) error {
	if n <= 0 {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	from := c.rendered
	to := from + int64(n)
	mix := make([]float32, n)
	var ended []func()
	for id, v := range c.sources {
		lo := max(v.start, from)
		hi := min(v.end(), to)
		for f := lo; f < hi; f++ {
			mix[f-from] += v.samples[f-v.start]
		}
		if v.end() <= to {
			delete(c.sources, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	c.rendered = to
	c.mu.Unlock()

	var err error
	if c.sink != nil {
		c.writeMu.Lock()
		_, err = c.sink.Write(audio.FloatToPCM16(mix))
		c.writeMu.Unlock()
	}

	for _, fn := range ended {
		fn()
	}
	if err != nil {
		return fmt.Errorf("render: write sink: %w", err)
	}
	return nil
}

// Close implements [audio.Output]. It stops the render loop, drops every
// source without invoking callbacks and closes the sink if it is an
// [io.Closer]. Subsequent calls are no-ops.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	clear(c.sources)
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if cl, ok := c.sink.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// durationToFrames rounds to the nearest frame so that clock positions
// obtained from CurrentTime map back onto the same frame.
func (c *Context) durationToFrames(d time.Duration) int64 {
	return (int64(d)*int64(c.format.SampleRate) + int64(time.Second)/2) / int64(time.Second)
}

func (c *Context) framesToDuration(frames int64) time.Duration {
	if c.format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(c.format.SampleRate))
}

func downmix(buf audio.Buffer) []float32 {
	switch buf.Channels() {
	case 0:
		return nil
	case 1:
		return buf.Planes[0]
	}
	out := make([]float32, buf.Frames())
	scale := 1 / float32(buf.Channels())
	for _, plane := range buf.Planes {
		for i, s := range plane {
			out[i] += s * scale
		}
	}
	return out
}
