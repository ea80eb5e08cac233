package interfaces

import (
	"context"

	"tradedesk/internal/tradelog"
)

// Broadcaster fans a keyed payload out to every connected client.
type Broadcaster interface {
	Broadcast(key string, payload any)
}

// Notifier raises user-visible notices. Implementations never fail the caller.
type Notifier interface {
	Info(ctx context.Context, description string)
	Success(ctx context.Context, description string)
	Error(ctx context.Context, description string)
}

// Persister accepts durable writes without blocking the caller.
type Persister interface {
	UpsertAsync(collection, key string, doc map[string]any)
}

// Journal appends to the daily audit journal.
type Journal interface {
	Append(e tradelog.Entry) error
}
