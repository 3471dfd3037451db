// Package mock provides a test double for the chat.Backend interface.
//
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	b := &mock.Backend{Reply: "Namaste!"}
//	text, err := b.Generate(ctx, history, "")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telecaller/internal/chat"
)

var _ chat.Backend = (*Backend)(nil)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// History is a copy of the history passed to Generate.
	History []chat.Turn
	// System is the system instruction passed to Generate.
	System string
}

// Backend is a mock implementation of chat.Backend.
type Backend struct {
	mu sync.Mutex

	// Reply is returned by Generate when Err is nil.
	Reply string

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// Gate, if non-nil, makes Generate block until it is closed or the
	// context is cancelled.
	Gate chan struct{}

	// Calls records every invocation of Generate in order.
	Calls []GenerateCall
}

// Generate implements chat.Backend.
func (b *Backend) Generate(ctx context.Context, history []chat.Turn, system string) (string, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, GenerateCall{
		History: append([]chat.Turn(nil), history...),
		System:  system,
	})
	gate, reply, err := b.Gate, b.Reply, b.Err
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// CallCount returns how many times Generate was called.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// LastCall returns the most recent invocation. It panics if there was none.
func (b *Backend) LastCall() GenerateCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Calls[len(b.Calls)-1]
}

// SetErr replaces Err under the mock's lock.
func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Err = err
}
