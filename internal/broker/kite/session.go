// Package kite adapts Zerodha Kite Connect to the broker interfaces.
package kite

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/store"
	"tradedesk/internal/trace"
	"tradedesk/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

const Venue = "kite"

// kiteAPI is the subset of *kiteconnect.Client the session uses.
type kiteAPI interface {
	SetAccessToken(accessToken string)
	GenerateSession(requestToken string, apiSecret string) (kiteconnect.UserSession, error)
	GetUserProfile() (kiteconnect.UserProfile, error)
	InvalidateAccessToken() (bool, error)
	GetPositions() (kiteconnect.Positions, error)
	GetUserMargins() (kiteconnect.AllMargins, error)
	GetOrders() (kiteconnect.Orders, error)
}

type Session struct {
	cfg store.KiteConfig
	kc  kiteAPI

	mu   sync.RWMutex
	sess types.Session
}

var _ interfaces.BrokerSession = (*Session)(nil)

func NewSession(cfg store.KiteConfig) *Session {
	return newSession(cfg, kiteconnect.New(cfg.APIKey))
}

func newSession(cfg store.KiteConfig, kc kiteAPI) *Session {
	return &Session{cfg: cfg, kc: kc}
}

func (s *Session) Venue() string { return Venue }

func (s *Session) Restore(sess types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
	s.kc.SetAccessToken(sess.Token)
}

func (s *Session) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.Token
}

// Login exchanges creds["request_token"] for an access token. An
// "access_token" cred (or the configured one) is adopted and verified.
func (s *Session) Login(ctx context.Context, creds map[string]string) (types.Session, error) {
	ctx, span := trace.StartVenueSpan(ctx, "kite.Login", Venue)
	defer span.End()

	if access := firstNonEmpty(creds["access_token"], s.cfg.AccessToken); creds["request_token"] == "" && access != "" {
		s.Restore(types.Session{Token: access})
		profile, err := s.kc.GetUserProfile()
		if err != nil {
			err = wrap("login", err)
			trace.Fail(span, err)
			return types.Session{}, err
		}
		sess := types.Session{Token: access, UserID: profile.UserID, AccountID: profile.UserID}
		s.Restore(sess)
		return sess, nil
	}

	reqToken := creds["request_token"]
	if reqToken == "" {
		return types.Session{}, types.NewAuthError(Venue, "login", "request_token is required")
	}
	us, err := s.kc.GenerateSession(reqToken, s.cfg.APISecret)
	if err != nil {
		err = types.NewAuthError(Venue, "login", err.Error())
		trace.Fail(span, err)
		return types.Session{}, err
	}

	sess := types.Session{Token: us.AccessToken, UserID: us.UserID, AccountID: us.UserID}
	s.Restore(sess)
	logger.Info(ctx, "Kite login successful", "user", sess.UserID)
	return sess, nil
}

func (s *Session) Logout(ctx context.Context) error {
	if s.token() == "" {
		return nil
	}
	_, err := s.kc.InvalidateAccessToken()
	s.Restore(types.Session{})
	if err != nil {
		return wrap("logout", err)
	}
	return nil
}

func (s *Session) Verify(ctx context.Context) error {
	if s.token() == "" {
		return types.NewAuthError(Venue, "verify", "not logged in")
	}
	if _, err := s.kc.GetUserProfile(); err != nil {
		return wrap("verify", err)
	}
	return nil
}

func (s *Session) Positions(ctx context.Context) ([]types.Position, error) {
	if s.token() == "" {
		return nil, types.NewAuthError(Venue, "positions", "not logged in")
	}
	ps, err := s.kc.GetPositions()
	if err != nil {
		return nil, wrap("positions", err)
	}
	out := make([]types.Position, 0, len(ps.Net))
	for _, p := range ps.Net {
		out = append(out, normalizePosition(p))
	}
	return out, nil
}

func normalizePosition(p kiteconnect.Position) types.Position {
	mult := p.Multiplier
	if mult == 0 {
		mult = 1
	}
	return types.Position{
		InstrumentID: strconv.FormatUint(uint64(p.InstrumentToken), 10),
		Symbol:       p.Tradingsymbol,
		Exchange:     p.Exchange,
		Product:      p.Product,
		NetQty:       p.Quantity,
		AvgPrice:     p.AveragePrice,
		LastPrice:    p.LastPrice,
		RealizedPnL:  p.Realised,
		Multiplier:   mult,
	}
}

func (s *Session) FundInfo(ctx context.Context) (types.FundInfo, error) {
	if s.token() == "" {
		return types.FundInfo{}, types.NewAuthError(Venue, "funds", "not logged in")
	}
	m, err := s.kc.GetUserMargins()
	if err != nil {
		return types.FundInfo{}, wrap("funds", err)
	}
	return types.FundInfo{
		OpenBalance: m.Equity.Available.OpeningBalance,
		Available:   m.Equity.Net,
		MarginUsed:  m.Equity.Used.Debits,
	}, nil
}

func (s *Session) TradeCount(ctx context.Context) (int, error) {
	if s.token() == "" {
		return 0, types.NewAuthError(Venue, "orders", "not logged in")
	}
	orders, err := s.kc.GetOrders()
	if err != nil {
		return 0, wrap("orders", err)
	}
	n := 0
	for _, o := range orders {
		if normalizeStatus(o.Status) == types.OrderComplete {
			n++
		}
	}
	return n, nil
}

// CloseAllPositions is not offered for Kite.
func (s *Session) CloseAllPositions(ctx context.Context) error {
	return types.NewBrokerError(Venue, "closeAll", "close all positions is not supported for kite", types.ErrNotImplemented)
}

// wrap turns Kite errors into BrokerErrors; TokenException means the
// access token is no longer valid.
func wrap(op string, err error) error {
	var ke kiteconnect.Error
	var kp *kiteconnect.Error
	switch {
	case errors.As(err, &ke) && ke.ErrorType == kiteconnect.TokenError:
		return types.NewAuthError(Venue, op, ke.Message)
	case errors.As(err, &kp) && kp.ErrorType == kiteconnect.TokenError:
		return types.NewAuthError(Venue, op, kp.Message)
	}
	return types.NewBrokerError(Venue, op, err.Error(), nil)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
