package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(cfg)
	b.now = clock.Now
	return b, clock
}

func fail(context.Context) error { return errBackend }
func succeed(context.Context) error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})
	if b.cfg.Threshold != defaultThreshold {
		t.Errorf("Threshold = %d, want %d", b.cfg.Threshold, defaultThreshold)
	}
	if b.cfg.Cooldown != defaultCooldown {
		t.Errorf("Cooldown = %v, want %v", b.cfg.Cooldown, defaultCooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	if err := b.Do(ctx, fail); !errors.Is(err, errBackend) {
		t.Fatalf("first call err = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("State after 1 failure = %v, want closed", b.State())
	}
	if err := b.Do(ctx, fail); !errors.Is(err, errBackend) {
		t.Fatalf("second call err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("State after 2 failures = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while breaker was open")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Threshold: 2})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("State = %v, want closed (failures were not consecutive)", b.State())
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{name: "probe succeeds", probe: succeed, want: StateClosed},
		{name: "probe fails", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
			ctx := context.Background()

			_ = b.Do(ctx, fail)
			clock.Advance(30 * time.Second)
			if b.State() != StateOpen {
				t.Fatalf("State before cooldown = %v, want open", b.State())
			}
			clock.Advance(30 * time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("State after cooldown = %v, want half-open", b.State())
			}

			_ = b.Do(ctx, tt.probe)
			if got := b.State(); got != tt.want {
				t.Errorf("State after probe = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clock.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := b.Do(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %v, want closed", b.State())
	}
}

func TestBreaker_CancelledCallNotCounted(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Threshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	_ = b.Do(context.Background(), fail)
	if b.State() != StateOpen {
		t.Fatalf("State = %v, want open", b.State())
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("State after Reset = %v, want closed", b.State())
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}

func TestBreaker_OnTransition(t *testing.T) {
	t.Parallel()
	var got []string
	b, clock := newTestBreaker(BreakerConfig{
		Name:      "gemini",
		Threshold: 1,
		Cooldown:  time.Second,
		OnTransition: func(name string, to State) {
			got = append(got, name+":"+to.String())
		},
	})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clock.Advance(time.Second)
	_ = b.Do(ctx, succeed)

	want := []string{"gemini:open", "gemini:half-open", "gemini:closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
