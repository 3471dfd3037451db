// Package transcript aggregates streaming transcription fragments of a voice
// call into per-speaker entries.
//
// Fragments from the same speaker extend the newest entry while it is still
// open. A fragment from the other speaker, or any fragment after the entry was
// finalized, starts a new entry. Completing a turn finalizes every open entry
// and trims its whitespace.
package transcript

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Speaker identifies who said a transcript entry.
type Speaker int

const (
	// SpeakerUser is the human caller.
	SpeakerUser Speaker = iota

	// SpeakerAI is the remote agent.
	SpeakerAI
)

// String returns "user" or "ai".
func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerAI:
		return "ai"
	default:
		return "unknown"
	}
}

// Entry is one contiguous utterance.
type Entry struct {
	ID      string
	Speaker Speaker
	Text    string
	IsFinal bool
}

// Aggregator collects entries for the current call. It is safe for
// concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	entries  []Entry
	onChange func([]Entry)
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// OnChange registers fn to receive a snapshot after every change. Only one
// callback may be registered; later calls replace it. fn runs on the caller's
// goroutine after the aggregator's lock is released.
func (a *Aggregator) OnChange(fn func([]Entry)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Append adds a fragment spoken by speaker. Empty fragments are ignored.
func (a *Aggregator) Append(speaker Speaker, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	if n := len(a.entries); n > 0 && a.entries[n-1].Speaker == speaker && !a.entries[n-1].IsFinal {
		a.entries[n-1].Text += text
	} else {
		a.entries = append(a.entries, Entry{
			ID:      uuid.NewString(),
			Speaker: speaker,
			Text:    text,
		})
	}
	a.notifyLocked()
}

// CompleteTurn finalizes every open entry, trimming surrounding whitespace.
// Already final entries are left untouched.
func (a *Aggregator) CompleteTurn() {
	a.mu.Lock()
	for i := range a.entries {
		if a.entries[i].IsFinal {
			continue
		}
		a.entries[i].IsFinal = true
		a.entries[i].Text = strings.TrimSpace(a.entries[i].Text)
	}
	a.notifyLocked()
}

// Reset discards all entries. It is called when a new call starts; ending a
// call keeps the transcript visible.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.entries = nil
	a.notifyLocked()
}

// Entries returns a copy of the current entries.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// notifyLocked releases a.mu and then invokes the change callback.
func (a *Aggregator) notifyLocked() {
	fn := a.onChange
	var snap []Entry
	if fn != nil {
		snap = a.snapshotLocked()
	}
	a.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
