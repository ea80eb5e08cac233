package interfaces

import (
	"context"

	"tradedesk/internal/types"
)

// BrokerSession is the REST side of a venue account.
type BrokerSession interface {
	Venue() string
	// Login exchanges venue credentials for a session token.
	Login(ctx context.Context, creds map[string]string) (types.Session, error)
	// Restore installs a previously issued session without a network call.
	Restore(sess types.Session)
	// Logout invalidates the session at the venue. Best effort.
	Logout(ctx context.Context) error
	// Verify makes a cheap authenticated call; types.ErrAuth when invalid.
	Verify(ctx context.Context) error
	Positions(ctx context.Context) ([]types.Position, error)
	FundInfo(ctx context.Context) (types.FundInfo, error)
	TradeCount(ctx context.Context) (int, error)
	CloseAllPositions(ctx context.Context) error
}
