package app

import (
	"context"

	"github.com/MrWong99/telecaller/internal/chat"
	"github.com/MrWong99/telecaller/internal/observe"
)

// meteredBackend records request outcomes of one chat backend.
type meteredBackend struct {
	name    string
	next    chat.Backend
	metrics *observe.Metrics
}

func metered(name string, b chat.Backend, m *observe.Metrics) chat.Backend {
	return &meteredBackend{name: name, next: b, metrics: m}
}

func (b *meteredBackend) Generate(ctx context.Context, history []chat.Turn, system string) (string, error) {
	text, err := b.next.Generate(ctx, history, system)
	status := "ok"
	if err != nil {
		status = "error"
		b.metrics.RecordProviderError(ctx, b.name, "chat")
	}
	b.metrics.RecordProviderRequest(ctx, b.name, "chat", status)
	return text, err
}
