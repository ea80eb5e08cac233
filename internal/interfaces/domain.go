package interfaces

import (
	"context"

	"tradedesk/internal/task"
)

// Domain is the capability set every state container exposes to the
// orchestrator and the hub.
type Domain interface {
	ID() string
	GetState() map[string]any
	SetState(partial map[string]any, fullReplace bool)
	StartingFunctionsAtInitialize(ctx context.Context) error
	UpdateDbAtInitOfDay(ctx context.Context) error
}

// Timers is the timer registry of a domain.
type Timers interface {
	SetIntervalAndUpdate(name string, t *task.Task)
	ClearIntervalAndUpdate(name string)
}

// Loader restores a persisted snapshot.
type Loader interface {
	Load(doc map[string]any)
}

// SessionVerifier is implemented by domains holding a broker session.
type SessionVerifier interface {
	VerifySession(ctx context.Context) error
}
