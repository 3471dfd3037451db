package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/telecaller/pkg/audio"
	"github.com/coder/websocket"
)

// ErrClosed is returned by [Session.Send] once the session has been closed or
// has delivered its terminal event.
var ErrClosed = errors.New("live: session closed")

// Session is one open live conversation.
//
// Callers must drain [Session.Events] until it is closed.
type Session struct {
	conn   *websocket.Conn
	events chan Event
	out    *outbox
	onDrop func()
	log    *slog.Logger

	opened     chan struct{}
	openedOnce sync.Once

	mu      sync.Mutex
	closed  bool
	termErr error

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(conn *websocket.Conn, queueSize int, onDrop func(), log *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:   conn,
		events: make(chan Event, 64),
		out:    newOutbox(queueSize),
		onDrop: onDrop,
		log:    log,
		opened: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) start() {
	go s.receiveLoop()
	go s.writeLoop()
	go s.keepaliveLoop()
}

// Events returns the channel on which server signals arrive, in the order the
// server sent them.
func (s *Session) Events() <-chan Event { return s.events }

// Send queues one chunk of realtime input audio. Chunks sent before the
// session is open are flushed once it is. Send never blocks; if the queue is
// full the oldest chunk is dropped. Write failures surface as an
// [EventError] rather than from Send.
func (s *Session) Send(blob audio.Blob) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.out.push(blob) && s.onDrop != nil {
		s.onDrop()
	}
	return nil
}

// Pending returns the number of queued chunks not yet written.
func (s *Session) Pending() int { return s.out.len() }

// Dropped returns how many chunks were discarded because the queue was full.
func (s *Session) Dropped() uint64 { return s.out.droppedCount() }

// Close ends the session gracefully. Pending chunks are discarded. The event
// stream ends with a single [EventClosed]. Close is idempotent.
func (s *Session) Close() error {
	s.shutdown(nil, websocket.StatusNormalClosure, "session closed")
	return nil
}

// shutdown marks the session closed, recording err as the terminal cause.
// Only the first call has an effect.
func (s *Session) shutdown(err error, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.termErr = err
	s.mu.Unlock()

	s.out.clear()
	s.cancel()
	_ = s.conn.Close(code, reason)
}

func (s *Session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// emit delivers a non-terminal event unless the session is shutting down.
func (s *Session) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop reads server messages and translates them into events. It owns
// the events channel: it sends the terminal event and closes the channel
// when it exits.
func (s *Session) receiveLoop() {
	defer s.finish()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.shutdown(classifyReadErr(err), websocket.StatusInternalError, "read failed")
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("live: skipping malformed frame", "err", err)
			continue
		}
		if msg.Error != nil {
			s.shutdown(fmt.Errorf("live: server error %d: %s", msg.Error.Code, msg.Error.Message),
				websocket.StatusNormalClosure, "server error")
			return
		}
		if !s.handle(&msg) {
			return
		}
	}
}

func (s *Session) finish() {
	s.mu.Lock()
	err := s.termErr
	s.mu.Unlock()

	ev := Event{Kind: EventClosed}
	if err != nil {
		ev = Event{Kind: EventError, Err: err}
	}
	s.events <- ev
	close(s.events)
}

// classifyReadErr maps a read failure to a terminal cause. A normal close
// initiated by the server is not an error.
func classifyReadErr(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	return fmt.Errorf("live: read: %w", err)
}

// handle emits the events for one server message. Within a message the order
// is: input transcript, output transcript, turn complete, audio, interrupted.
func (s *Session) handle(msg *serverMessage) bool {
	if msg.SetupComplete != nil {
		first := false
		s.openedOnce.Do(func() {
			first = true
			close(s.opened)
		})
		if first && !s.emit(Event{Kind: EventOpened}) {
			return false
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !s.emit(Event{Kind: EventInputTranscript, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.emit(Event{Kind: EventOutputTranscript, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.TurnComplete {
		if !s.emit(Event{Kind: EventTurnComplete}) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			blob := audio.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}
			if !s.emit(Event{Kind: EventAudio, Audio: blob}) {
				return false
			}
		}
	}
	if sc.Interrupted {
		if !s.emit(Event{Kind: EventInterrupted}) {
			return false
		}
	}
	return true
}

// writeLoop flushes queued audio once the server has acknowledged setup.
func (s *Session) writeLoop() {
	select {
	case <-s.opened:
	case <-s.ctx.Done():
		return
	}

	for {
		for _, blob := range s.out.take() {
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []inlineData{{MIMEType: blob.MIMEType, Data: blob.Data}},
				},
			}
			if err := s.writeJSON(s.ctx, msg); err != nil {
				if s.ctx.Err() == nil {
					s.shutdown(fmt.Errorf("live: write: %w", err), websocket.StatusInternalError, "write failed")
				}
				return
			}
		}

		select {
		case <-s.out.ready:
		case <-s.ctx.Done():
			return
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}
