package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/telecaller/internal/observe"
)

// Fixed texts of the conversation.
const (
	DefaultGreetingPrompt   = "Namaste! Please greet me and start our conversation about real estate in Uttar Pradesh."
	DefaultFallbackMessage  = "Maaf kijiye, ek samasya aa gayi hai. Kripya dobara koshish karein."
	DefaultGreetingFallback = "Sorry, I am having trouble connecting. Please try again later."
	DefaultImagePrompt      = "Please analyze this image."
)

var (
	// ErrBusy is returned while another request of the session is in flight.
	ErrBusy = errors.New("chat: request in flight")

	// ErrEmptyMessage is returned by [Session.Send] when there is neither
	// text nor an attachment.
	ErrEmptyMessage = errors.New("chat: empty message")
)

// Sender identifies who wrote a [Message].
type Sender int

const (
	SenderUser Sender = iota
	SenderAI
)

// String returns "user" or "ai".
func (s Sender) String() string {
	if s == SenderAI {
		return "ai"
	}
	return "user"
}

// Message is one entry of the visible conversation.
type Message struct {
	ID     string
	Sender Sender
	Text   string
	Image  *Attachment
}

// Option is a functional option for [NewSession].
type Option func(*Session)

// WithSystemInstruction sets the system prompt sent with every request.
func WithSystemInstruction(s string) Option {
	return func(cs *Session) { cs.system = s }
}

// WithGreetingPrompt overrides [DefaultGreetingPrompt].
func WithGreetingPrompt(s string) Option {
	return func(cs *Session) {
		if s != "" {
			cs.greeting = s
		}
	}
}

// WithFallbackMessage overrides [DefaultFallbackMessage].
func WithFallbackMessage(s string) Option {
	return func(cs *Session) {
		if s != "" {
			cs.fallback = s
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(cs *Session) { cs.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(cs *Session) { cs.log = l }
}

// Session is one chat conversation. At most one request is in flight at a
// time. A failed request never surfaces as an error: the session appends a
// fallback reply instead and leaves the model history untouched.
type Session struct {
	backend  Backend
	system   string
	greeting string
	fallback string
	metrics  *observe.Metrics
	log      *slog.Logger

	mu       sync.Mutex
	messages []Message
	history  []Turn
	loading  bool
	onChange func([]Message)
}

// NewSession creates an empty conversation served by backend.
func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:  backend,
		greeting: DefaultGreetingPrompt,
		fallback: DefaultFallbackMessage,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// OnChange registers fn to receive the message list after every change.
// fn runs without the session's lock held.
func (s *Session) OnChange(fn func([]Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Messages returns a copy of the visible conversation.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// History returns a copy of the model history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// Loading reports whether a request is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Greet asks the agent for its opening message and replaces the conversation
// with it.
func (s *Session) Greet(ctx context.Context) (Message, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.loading = true
	prompt := Turn{Role: RoleUser, Text: s.greeting}
	system := s.system
	s.mu.Unlock()

	text, err := s.generate(ctx, []Turn{prompt}, system)

	s.mu.Lock()
	var reply Message
	if err != nil {
		s.log.Warn("chat: greeting failed", "err", err)
		reply = newMessage(SenderAI, DefaultGreetingFallback, nil)
		s.history = nil
	} else {
		reply = newMessage(SenderAI, text, nil)
		s.history = []Turn{prompt, {Role: RoleModel, Text: text}}
	}
	s.messages = []Message{reply}
	s.loading = false
	fn, snap := s.onChange, s.snapshotLocked()
	s.mu.Unlock()

	notify(fn, snap)
	return reply, nil
}

// Send posts a user message with an optional image and waits for the reply.
// An image without text is sent with [DefaultImagePrompt].
func (s *Session) Send(ctx context.Context, text string, image *Attachment) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && image == nil {
		return Message{}, ErrEmptyMessage
	}
	if text == "" {
		text = DefaultImagePrompt
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.loading = true
	s.messages = append(s.messages, newMessage(SenderUser, text, image))
	turn := Turn{Role: RoleUser, Text: text, Image: image}
	history := append(append([]Turn(nil), s.history...), turn)
	system := s.system
	fn, snap := s.onChange, s.snapshotLocked()
	s.mu.Unlock()
	notify(fn, snap)

	answer, err := s.generate(ctx, history, system)

	s.mu.Lock()
	var reply Message
	if err != nil {
		s.log.Warn("chat: request failed", "err", err)
		reply = newMessage(SenderAI, s.fallback, nil)
	} else {
		reply = newMessage(SenderAI, answer, nil)
		s.history = append(s.history, turn, Turn{Role: RoleModel, Text: answer})
	}
	s.messages = append(s.messages, reply)
	s.loading = false
	fn, snap = s.onChange, s.snapshotLocked()
	s.mu.Unlock()

	notify(fn, snap)
	return reply, nil
}

// SetPersona replaces the system instruction, greeting prompt and fallback
// message. Empty values keep the current setting. A request already in
// flight keeps the instruction it was sent with.
func (s *Session) SetPersona(system, greeting, fallback string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if system != "" {
		s.system = system
	}
	if greeting != "" {
		s.greeting = greeting
	}
	if fallback != "" {
		s.fallback = fallback
	}
}

func (s *Session) generate(ctx context.Context, history []Turn, system string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "chat.generate")
	start := time.Now()
	text, err := s.backend.Generate(ctx, history, system)
	observe.EndSpan(span, err)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("status", status)))
	}
	return text, err
}

func (s *Session) snapshotLocked() []Message {
	return append([]Message(nil), s.messages...)
}

func notify(fn func([]Message), msgs []Message) {
	if fn != nil {
		fn(msgs)
	}
}

func newMessage(sender Sender, text string, image *Attachment) Message {
	return Message{ID: uuid.NewString(), Sender: sender, Text: text, Image: image}
}
