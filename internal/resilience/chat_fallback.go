package resilience

import (
	"context"

	"github.com/MrWong99/telecaller/internal/chat"
)

// ChatFallback is a [chat.Backend] that fails over between several chat
// backends.
type ChatFallback struct {
	chain *Chain[chat.Backend]
}

var _ chat.Backend = (*ChatFallback)(nil)

// NewChatFallback returns a fallback without backends. Add at least one
// before use.
func NewChatFallback(cfg BreakerConfig) *ChatFallback {
	return &ChatFallback{chain: NewChain[chat.Backend](cfg)}
}

// Add registers the next backend in preference order.
func (f *ChatFallback) Add(name string, b chat.Backend) *ChatFallback {
	f.chain.Add(name, b)
	return f
}

// Generate asks the first backend that accepts the request.
func (f *ChatFallback) Generate(ctx context.Context, history []chat.Turn, system string) (string, error) {
	return Do(ctx, f.chain, func(ctx context.Context, b chat.Backend) (string, error) {
		return b.Generate(ctx, history, system)
	})
}

// Check returns [ErrCircuitOpen] when every backend is currently disabled.
func (f *ChatFallback) Check(context.Context) error {
	if !f.chain.Available() {
		return ErrCircuitOpen
	}
	return nil
}

// States reports the breaker state of each backend.
func (f *ChatFallback) States() map[string]State { return f.chain.States() }
