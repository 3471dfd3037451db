package call

import (
	"context"

	"github.com/MrWong99/telecaller/pkg/audio"
	"github.com/MrWong99/telecaller/pkg/live"
)

// Session is the subset of [live.Session] the controller depends on.
type Session interface {
	Events() <-chan live.Event
	Send(audio.Blob) error
	Close() error
}

// Dialer opens live sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg live.SessionConfig) (Session, error)
}

// LiveDialer adapts a [live.Client] to [Dialer].
type LiveDialer struct {
	Client *live.Client
}

// Dial implements [Dialer].
func (d LiveDialer) Dial(ctx context.Context, cfg live.SessionConfig) (Session, error) {
	sess, err := d.Client.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
