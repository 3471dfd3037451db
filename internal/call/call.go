// Package call drives the voice call: it owns the microphone, the live
// session and the playback scheduler of the current call, consumes the
// session's events on a single goroutine, and keeps the call status.
//
// At most one call exists per [Controller]. Every resource of that call lives
// in one callSession value which teardown releases exactly once, whatever
// ended the call: the user hanging up, the server closing, or an error.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/telecaller/internal/capture"
	"github.com/MrWong99/telecaller/internal/observe"
	"github.com/MrWong99/telecaller/internal/playback"
	"github.com/MrWong99/telecaller/internal/transcript"
	"github.com/MrWong99/telecaller/pkg/audio"
	"github.com/MrWong99/telecaller/pkg/live"
)

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithSessionConfig sets the live session parameters used for every call.
func WithSessionConfig(cfg live.SessionConfig) Option {
	return func(c *Controller) { c.sessionCfg = cfg }
}

// WithFrameSize sets the capture frame size in samples.
func WithFrameSize(n int) Option {
	return func(c *Controller) { c.frameSize = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTranscript sets the aggregator that receives transcription fragments.
// By default the controller creates its own.
func WithTranscript(a *transcript.Aggregator) Option {
	return func(c *Controller) { c.transcript = a }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller is the call state machine.
type Controller struct {
	dialer     Dialer
	mic        audio.Microphone
	output     audio.OutputOpener
	sessionCfg live.SessionConfig
	frameSize  int
	metrics    *observe.Metrics
	transcript *transcript.Aggregator
	log        *slog.Logger

	// opMu serializes StartCall and EndCall so that EndCall observes the
	// outcome of an in-flight StartCall.
	opMu sync.Mutex

	mu        sync.Mutex
	status    Status
	call      *callSession
	lastErr   error
	onStatus  func(Status)
	pending   []Status
	notifying bool
}

// New creates an idle Controller.
func New(dialer Dialer, mic audio.Microphone, output audio.OutputOpener, opts ...Option) *Controller {
	c := &Controller{
		dialer:    dialer,
		mic:       mic,
		output:    output,
		frameSize: capture.DefaultFrameSize,
	}
	for _, o := range opts {
		o(c)
	}
	if c.transcript == nil {
		c.transcript = transcript.New()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// callSession holds every resource of one call.
type callSession struct {
	stream  audio.InputStream
	player  *playback.Scheduler
	session Session
	started time.Time

	mu      sync.Mutex
	closed  bool
	capture *capture.Pipeline

	teardownOnce sync.Once
}

// Status returns the current call status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetSessionConfig replaces the configuration used by the next StartCall.
// A call in progress is not affected.
func (c *Controller) SetSessionConfig(cfg live.SessionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionCfg = cfg
}

// Err returns the error that ended the most recent call, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Transcript returns the aggregator of the current or last call.
func (c *Controller) Transcript() *transcript.Aggregator { return c.transcript }

// OnStatus registers fn to be called after every status change. fn runs
// without the controller's lock held and sees the changes in the order they
// happened. Only one callback may be registered.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.notifyLocked(s)
}

// setStatusIf writes s only while cs is the current call and reports whether
// it did.
func (c *Controller) setStatusIf(cs *callSession, s Status) bool {
	c.mu.Lock()
	if c.call != cs {
		c.mu.Unlock()
		return false
	}
	c.status = s
	c.notifyLocked(s)
	return true
}

// notifyLocked queues s for the OnStatus callback and releases c.mu. Whoever
// finds the queue idle drains it.
func (c *Controller) notifyLocked(s Status) {
	c.pending = append(c.pending, s)
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		fn := c.onStatus
		c.mu.Unlock()
		if fn != nil {
			fn(next)
		}
		c.mu.Lock()
	}
	c.notifying = false
	c.mu.Unlock()
}

// StartCall sets up a new call. It returns once the session is dialed; the
// status becomes Connected when the server acknowledges the setup.
//
// It fails with [ErrCallActive] without side effects if a call is already
// connecting or connected, with a [*PermissionError] if the microphone cannot
// be opened (no dial is attempted), and with a [*ConnectionError] if the
// session cannot be established. On failure every acquired resource is
// released and the status is Ended.
func (c *Controller) StartCall(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Status().Active() {
		return ErrCallActive
	}

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.setStatus(StatusConnecting)
	c.transcript.Reset()

	cs := &callSession{started: time.Now()}

	// The microphone lives as long as the call, not the request that started it.
	stream, err := c.mic.Open(context.WithoutCancel(ctx), audio.CaptureFormat)
	if err != nil {
		err = &PermissionError{Err: err}
		c.fail(err)
		return err
	}
	cs.stream = stream
	cs.player = playback.New(c.output, playback.WithMetrics(c.metrics))

	if c.metrics != nil {
		c.metrics.CallsStarted.Add(ctx, 1)
		c.metrics.ActiveCalls.Add(ctx, 1)
	}

	c.mu.Lock()
	cfg := c.sessionCfg
	c.mu.Unlock()
	dctx, span := observe.StartSpan(ctx, "call.dial")
	sess, err := c.dialer.Dial(dctx, cfg)
	observe.EndSpan(span, err)
	if err != nil {
		cs.teardown(c.log)
		err = &ConnectionError{Err: err}
		c.fail(err)
		if c.metrics != nil {
			c.metrics.RecordCallEnded(ctx, "dial_failed")
			c.metrics.RecordProviderError(ctx, "gemini", "live")
		}
		return err
	}
	cs.session = sess

	c.mu.Lock()
	c.call = cs
	c.mu.Unlock()

	go c.run(cs)
	return nil
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setStatus(StatusEnded)
}

// EndCall hangs up. It waits for an in-flight StartCall, closes the session
// gracefully and releases every resource. From Idle or Ended it does nothing.
func (c *Controller) EndCall(_ context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	cs := c.call
	c.mu.Unlock()
	if cs == nil {
		return nil
	}
	c.finish(cs, "hangup", nil)
	return nil
}

// run is the single consumer of the session's events. It drains the event
// channel until the session delivers its terminal event.
func (c *Controller) run(cs *callSession) {
	ctx := context.Background()
	for ev := range cs.session.Events() {
		if ev.Kind.Terminal() {
			if ev.Kind == live.EventError {
				c.log.Error("call: session failed", "err", ev.Err)
				c.finish(cs, "error", &ConnectionError{Err: ev.Err})
			} else {
				c.finish(cs, "closed", nil)
			}
			continue
		}
		if !c.current(cs) {
			continue
		}

		switch ev.Kind {
		case live.EventOpened:
			c.opened(cs)
		case live.EventInputTranscript:
			c.transcript.Append(transcript.SpeakerUser, ev.Text)
		case live.EventOutputTranscript:
			c.transcript.Append(transcript.SpeakerAI, ev.Text)
		case live.EventTurnComplete:
			c.transcript.CompleteTurn()
		case live.EventAudio:
			if _, err := cs.player.Enqueue(ctx, ev.Audio); err != nil {
				var de *audio.DecodeError
				if errors.As(err, &de) {
					c.log.Warn("call: dropping malformed audio chunk", "err", err)
				} else {
					c.log.Warn("call: playback failed", "err", err)
				}
			}
		case live.EventInterrupted:
			cs.player.Interrupt()
		}
	}
}

func (c *Controller) current(cs *callSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call == cs
}

// opened starts capture and marks the call connected. A call that ended in
// the meantime keeps its Ended status.
func (c *Controller) opened(cs *callSession) {
	cs.mu.Lock()
	if cs.closed || cs.capture != nil {
		cs.mu.Unlock()
		return
	}
	send := func(b audio.Blob) { _ = cs.session.Send(b) }
	pipeline := capture.Start(cs.stream, send,
		capture.WithFrameSize(c.frameSize),
		capture.WithMetrics(c.metrics),
		capture.WithLogger(c.log),
	)
	cs.capture = pipeline
	cs.mu.Unlock()
	go c.watchCapture(cs, pipeline)

	if c.metrics != nil {
		c.metrics.CallSetupDuration.Record(context.Background(), time.Since(cs.started).Seconds())
	}
	c.log.Info("call: connected", "setup", time.Since(cs.started).Round(time.Millisecond))
	if !c.setStatusIf(cs, StatusConnected) {
		c.log.Debug("call: ended before it connected")
	}
}

// watchCapture ends cs when its microphone stream dies on its own.
func (c *Controller) watchCapture(cs *callSession, p *capture.Pipeline) {
	<-p.Done()
	if err := p.Err(); err != nil {
		c.finish(cs, "microphone", &PermissionError{Err: err})
	}
}

// finish ends cs if it is still the current call. Later calls for the same
// session are no-ops.
func (c *Controller) finish(cs *callSession, reason string, cause error) {
	c.mu.Lock()
	if c.call != cs {
		c.mu.Unlock()
		return
	}
	c.call = nil
	if cause != nil {
		c.lastErr = cause
	}
	c.mu.Unlock()

	cs.teardown(c.log)
	c.setStatus(StatusEnded)
	if c.metrics != nil {
		c.metrics.RecordCallEnded(context.Background(), reason)
	}
	c.log.Info("call: ended", "reason", reason)
}

// teardown releases the call's resources in order: capture, microphone,
// playback, session. It runs at most once.
func (cs *callSession) teardown(log *slog.Logger) {
	cs.teardownOnce.Do(func() {
		cs.mu.Lock()
		cs.closed = true
		pipeline := cs.capture
		cs.mu.Unlock()

		if pipeline != nil {
			pipeline.Stop()
		} else if cs.stream != nil {
			if err := cs.stream.Close(); err != nil {
				log.Debug("call: close microphone", "err", err)
			}
		}
		if cs.player != nil {
			if err := cs.player.Close(); err != nil {
				log.Debug("call: close playback", "err", err)
			}
		}
		if cs.session != nil {
			if err := cs.session.Close(); err != nil {
				log.Debug("call: close session", "err", err)
			}
		}
	})
}
