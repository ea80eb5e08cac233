package interfaces

import (
	"context"

	"tradedesk/internal/types"
)

// TickSource exposes a venue's latest tick cache.
type TickSource interface {
	// Channel is the broadcast event name ticks are pushed under.
	Channel() string
	Snapshot() map[string]types.Tick
	LatestTick(instrumentID string) (types.Tick, bool)
}

// TickSubscriber manages the instruments a venue streams.
type TickSubscriber interface {
	SubscribeTicks(ids []string)
	UnsubscribeTicks(ids []string)
}

// SocketAdapter is the real-time side of a venue.
type SocketAdapter interface {
	TickSource
	TickSubscriber
	StartSocket(ctx context.Context, sess types.Session, retry bool) error
	Stop()
	Ready() bool
	SetPositions(positions []types.Position)
	LivePnL() float64
}
