package brokerobs

import (
	"context"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/trace"
	"tradedesk/internal/types"
)

// observableSession wraps a BrokerSession with logging and tracing
type observableSession struct {
	inner interfaces.BrokerSession
}

var _ interfaces.BrokerSession = (*observableSession)(nil)

// Wrap wraps a session with observability middleware
func Wrap(s interfaces.BrokerSession) interfaces.BrokerSession {
	return &observableSession{inner: s}
}

func (o *observableSession) Venue() string {
	return o.inner.Venue()
}

func (o *observableSession) Restore(sess types.Session) {
	o.inner.Restore(sess)
}

func (o *observableSession) Login(ctx context.Context, creds map[string]string) (types.Session, error) {
	ctx, span := trace.StartVenueSpan(ctx, "broker.Login", o.Venue())
	defer span.End()

	logger.InfoSkip(ctx, 1, "Logging in", "venue", o.Venue())

	sess, err := o.inner.Login(ctx, creds)
	if err != nil {
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "Login failed", err, "venue", o.Venue())
		return types.Session{}, err
	}

	logger.InfoSkip(ctx, 1, "Logged in", "venue", o.Venue(), "user", sess.UserID)
	return sess, nil
}

func (o *observableSession) Logout(ctx context.Context) error {
	ctx, span := trace.StartVenueSpan(ctx, "broker.Logout", o.Venue())
	defer span.End()

	if err := o.inner.Logout(ctx); err != nil {
		trace.Fail(span, err)
		logger.WarnSkip(ctx, 1, "Logout failed", "venue", o.Venue(), "error", err)
		return err
	}
	logger.InfoSkip(ctx, 1, "Logged out", "venue", o.Venue())
	return nil
}

func (o *observableSession) Verify(ctx context.Context) error {
	ctx, span := trace.StartVenueSpan(ctx, "broker.Verify", o.Venue())
	defer span.End()

	if err := o.inner.Verify(ctx); err != nil {
		trace.Fail(span, err)
		logger.WarnSkip(ctx, 1, "Session verification failed", "venue", o.Venue(), "error", err, "auth", types.IsAuth(err))
		return err
	}
	logger.DebugSkip(ctx, 1, "Session verified", "venue", o.Venue())
	return nil
}

func (o *observableSession) Positions(ctx context.Context) ([]types.Position, error) {
	ctx, span := trace.StartVenueSpan(ctx, "broker.Positions", o.Venue())
	defer span.End()

	ps, err := o.inner.Positions(ctx)
	if err != nil {
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err, "venue", o.Venue())
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Positions fetched", "venue", o.Venue(), "count", len(ps))
	return ps, nil
}

func (o *observableSession) FundInfo(ctx context.Context) (types.FundInfo, error) {
	ctx, span := trace.StartVenueSpan(ctx, "broker.FundInfo", o.Venue())
	defer span.End()

	f, err := o.inner.FundInfo(ctx)
	if err != nil {
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch funds", err, "venue", o.Venue())
		return types.FundInfo{}, err
	}

	logger.DebugSkip(ctx, 1, "Funds fetched", "venue", o.Venue(), "open_balance", f.OpenBalance)
	return f, nil
}

func (o *observableSession) TradeCount(ctx context.Context) (int, error) {
	ctx, span := trace.StartVenueSpan(ctx, "broker.TradeCount", o.Venue())
	defer span.End()

	n, err := o.inner.TradeCount(ctx)
	if err != nil {
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch order book", err, "venue", o.Venue())
		return 0, err
	}
	return n, nil
}

func (o *observableSession) CloseAllPositions(ctx context.Context) error {
	ctx, span := trace.StartVenueSpan(ctx, "broker.CloseAllPositions", o.Venue())
	defer span.End()

	logger.InfoSkip(ctx, 1, "Closing all positions", "venue", o.Venue())

	if err := o.inner.CloseAllPositions(ctx); err != nil {
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close positions", err, "venue", o.Venue())
		return err
	}

	logger.InfoSkip(ctx, 1, "All positions closed", "venue", o.Venue())
	return nil
}
