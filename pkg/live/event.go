package live

import "github.com/MrWong99/telecaller/pkg/audio"

// EventKind classifies a server-side signal delivered on [Session.Events].
type EventKind int

const (
	// EventOpened fires once, when the server acknowledges the setup message.
	EventOpened EventKind = iota

	// EventInputTranscript carries a fragment of the user's recognised speech.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the agent's spoken reply.
	EventOutputTranscript

	// EventTurnComplete marks the end of the agent's turn.
	EventTurnComplete

	// EventAudio carries one chunk of synthesized speech.
	EventAudio

	// EventInterrupted reports that the user barged in and pending agent
	// audio must be discarded.
	EventInterrupted

	// EventClosed is terminal: the session ended normally.
	EventClosed

	// EventError is terminal: the session ended because of a failure.
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether k ends the event stream.
func (k EventKind) Terminal() bool {
	return k == EventClosed || k == EventError
}

// Event is one server-side signal.
type Event struct {
	Kind EventKind

	// Text is set for EventInputTranscript and EventOutputTranscript.
	Text string

	// Audio is set for EventAudio.
	Audio audio.Blob

	// Err is set for EventError.
	Err error
}
