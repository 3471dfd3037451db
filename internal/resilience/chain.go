package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [Do] when no backend in the chain produced a
// result. The individual failures are joined onto it.
var ErrAllFailed = errors.New("resilience: all backends failed")

type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain is an ordered list of interchangeable backends. Backends are tried
// in the order they were added. Add must not be called concurrently with
// [Do].
type Chain[T any] struct {
	cfg   BreakerConfig
	links []link[T]
}

// NewChain returns an empty chain. cfg is the template for the breaker of
// every added backend; its Name is replaced by the backend name.
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a backend behind a fresh breaker.
func (c *Chain[T]) Add(name string, v T) *Chain[T] {
	cfg := c.cfg
	cfg.Name = name
	c.links = append(c.links, link[T]{name: name, value: v, breaker: NewBreaker(cfg)})
	return c
}

// Len returns the number of backends.
func (c *Chain[T]) Len() int { return len(c.links) }

// Available reports whether at least one backend would accept a call.
func (c *Chain[T]) Available() bool {
	for _, l := range c.links {
		if l.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// States returns the breaker state of every backend by name.
func (c *Chain[T]) States() map[string]State {
	out := make(map[string]State, len(c.links))
	for _, l := range c.links {
		out[l.name] = l.breaker.State()
	}
	return out
}

// Do calls fn with each backend in turn until one succeeds. Backends whose
// breaker is open are skipped. If ctx ends between attempts its error is
// returned as is.
func Do[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	if len(c.links) == 0 {
		return zero, ErrAllFailed
	}

	var errs []error
	for _, l := range c.links {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, l.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping chat backend", "backend", l.name, "reason", "circuit open")
		} else {
			slog.Warn("chat backend failed", "backend", l.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
