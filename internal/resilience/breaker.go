// Package resilience keeps the chat path answering while a backend is down.
//
// A [Breaker] counts consecutive failures of one backend and rejects calls
// for a cooldown period once a threshold is reached. After the cooldown a
// single probe call is let through; its outcome closes or re-opens the
// breaker. A [Chain] orders several backends, each behind its own breaker,
// and hands every request to the first one that accepts it.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while its breaker
// is open or a probe is already in flight.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select the defaults.
type BreakerConfig struct {
	// Name labels log lines and transition callbacks.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long an open breaker rejects calls. Default: 20s.
	Cooldown time.Duration

	// OnTransition, if set, is called after every state change. It runs
	// outside the breaker's lock.
	OnTransition func(name string, to State)
}

const (
	defaultThreshold = 3
	defaultCooldown  = 20 * time.Second
)

// Breaker guards calls to a single backend. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker rejects the call. A failure that happens
// after ctx is done is not held against the backend.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.release(ctx, err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	halfOpened := false
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		halfOpened = true
		fallthrough
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	if halfOpened {
		b.notify(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) release(ctx context.Context, err error) {
	b.mu.Lock()
	from := b.state
	b.probing = false
	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case ctx.Err() != nil:
		// Caller gave up.
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	failures := b.failures
	b.mu.Unlock()

	if to != from {
		if to == StateOpen {
			slog.Warn("chat backend disabled", "backend", b.cfg.Name, "failures", failures, "cooldown", b.cfg.Cooldown)
		}
		b.notify(to)
	}
}

func (b *Breaker) notify(to State) {
	slog.Debug("circuit breaker transition", "backend", b.cfg.Name, "state", to)
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(b.cfg.Name, to)
	}
}

// State reports the current mode. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(StateClosed)
	}
}
