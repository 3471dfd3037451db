// Package capture turns a live microphone stream into encoded realtime-input
// blobs. One goroutine reads fixed-size frames, encodes each as base64 s16le
// PCM and hands it to a sink without waiting for delivery.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/telecaller/internal/observe"
	"github.com/MrWong99/telecaller/pkg/audio"
)

// DefaultFrameSize is the number of samples per captured frame. At 16 kHz it
// is 256 ms of audio.
const DefaultFrameSize = 4096

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithFrameSize sets the number of samples per frame.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithFormat sets the format of the input stream.
func WithFormat(f audio.Format) Option {
	return func(p *Pipeline) { p.format = f }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline reads frames from an [audio.InputStream] until stopped.
type Pipeline struct {
	stream    audio.InputStream
	sink      func(audio.Blob)
	frameSize int
	format    audio.Format
	metrics   *observe.Metrics
	log       *slog.Logger

	err      error
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// Start launches a pipeline reading from stream. Every complete frame is
// encoded and passed to sink on the pipeline's goroutine. sink must not
// block for long; it is invoked fire-and-forget and its outcome is ignored.
func Start(stream audio.InputStream, sink func(audio.Blob), opts ...Option) *Pipeline {
	p := &Pipeline{
		stream:    stream,
		sink:      sink,
		frameSize: DefaultFrameSize,
		format:    audio.CaptureFormat,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.format.SampleRate <= 0 {
		p.format = audio.CaptureFormat
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	go p.run()
	return p
}

func (p *Pipeline) run() {
	defer close(p.done)

	frameDur := time.Duration(p.frameSize) * time.Second / time.Duration(p.format.SampleRate)
	var ts time.Duration
	for {
		samples := make([]float32, p.frameSize)
		n, err := p.stream.ReadSamples(samples)
		select {
		case <-p.stopped:
			return
		default:
		}
		if err != nil {
			p.log.Warn("capture: microphone stream ended", "err", err)
			p.err = err
			return
		}
		if n < p.frameSize {
			continue
		}

		frame := audio.AudioFrame{Samples: samples, Format: p.format, Timestamp: ts}
		ts += frameDur
		p.sink(audio.EncodeFrame(frame))
		if p.metrics != nil {
			p.metrics.CaptureFrames.Add(context.Background(), 1)
		}
	}
}

// Stop disconnects the frame loop, closes the stream and waits for the
// goroutine to exit. No frame is delivered to the sink after Stop returns.
// Stop is idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		if err := p.stream.Close(); err != nil {
			p.log.Debug("capture: close stream", "err", err)
		}
	})
	<-p.done
}

// Done is closed when the frame loop exits, either because of Stop or
// because the stream ended.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns the read error that ended the frame loop. It is nil while the
// loop runs and when Stop ended it.
func (p *Pipeline) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
