// Package domain holds the logical domains of the control plane. Each one
// embeds a state container and overrides the lifecycle hooks it needs.
package domain

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"tradedesk/internal/broker/socket"
	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/risk"
	"tradedesk/internal/state"
	"tradedesk/internal/task"
	"tradedesk/internal/types"
)

// Deps are shared by every domain.
type Deps struct {
	State   state.Deps
	Journal interfaces.Journal
}

type AccountConfig struct {
	Socket       socket.Config
	Limits       risk.Limits
	RiskInterval time.Duration
}

// Account is one broker account: its REST session, live feed and risk
// engine, with the figures they produce kept in the container.
type Account struct {
	*state.Container

	venue        string
	session      interfaces.BrokerSession
	adapter      *socket.Adapter
	engine       *risk.Engine
	limits       risk.Limits
	riskInterval time.Duration

	// ctx outlives the request that logged in; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	onLogin []func(venue string, loggedIn bool)
}

var _ interfaces.Domain = (*Account)(nil)
var _ interfaces.SessionVerifier = (*Account)(nil)
var _ risk.Account = (*Account)(nil)

func RiskTimerName(venue string) string {
	return venue + "RiskInterval"
}

// Risk limit keys. They start from config and may be edited by clients.
const (
	MaxLossOfDayKey  = "maxLossOfDayInRs"
	MaxTradeCountKey = "maxTradeCount"
	SecurePercentKey = "securePercent"
)

func accountInitial(l risk.Limits) map[string]any {
	return map[string]any{
		MaxLossOfDayKey:   l.MaxLossOfDayInRs,
		MaxTradeCountKey:  l.MaxTradeCount,
		SecurePercentKey:  l.SecurePercent,
		"loggedIn":        false,
		"accessToken":     "",
		"userId":          "",
		"accountId":       "",
		"positions":       []any{},
		"fundInfo":        map[string]any{},
		"tradeCount":      0,
		"maxProfitOfDay":  0.0,
		"accountLockData": map[string]any{},
		"socketConnected": false,
	}
}

// NewAccount wires session, feed transport and risk engine for one venue.
// The domain id is the venue name.
func NewAccount(session interfaces.BrokerSession, transport socket.Transport, cfg AccountConfig, deps Deps) *Account {
	venue := session.Venue()
	cfg.Socket.Venue = venue
	if cfg.RiskInterval <= 0 {
		cfg.RiskInterval = 3 * time.Second
	}

	c := state.NewContainer(venue, accountInitial(cfg.Limits), deps.State, RiskTimerName(venue), venue+"SocketInterval")
	ctx, cancel := context.WithCancel(context.Background())
	a := &Account{
		Container:    c,
		venue:        venue,
		session:      session,
		limits:       cfg.Limits,
		riskInterval: cfg.RiskInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
	a.adapter = socket.New(cfg.Socket, socket.Deps{
		Transport:   transport,
		Broadcaster: deps.State.Broadcaster,
		Notifier:    deps.State.Notifier,
		Timers:      c,
		Journal:     deps.Journal,
		Verifier:    session,
	})
	a.engine = risk.New(a, RiskTimerName(venue), risk.Deps{
		Notifier: deps.State.Notifier,
		Journal:  deps.Journal,
	})

	a.adapter.OnAuthFailure(a.sessionLost)
	a.adapter.OnOrderSettled(func(ctx context.Context) {
		if err := a.RefreshAccount(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Refresh after order failed", err, "venue", venue)
		}
	})
	a.adapter.OnConnectivity(func(connected bool) {
		a.SetState(map[string]any{"socketConnected": connected}, false)
	})
	return a
}

func (a *Account) Venue() string {
	return a.venue
}

func (a *Account) Adapter() *socket.Adapter {
	return a.adapter
}

func (a *Account) Engine() *risk.Engine {
	return a.engine
}

// OnLoginChange registers fn for every login or logout of this account.
func (a *Account) OnLoginChange(fn func(venue string, loggedIn bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLogin = append(a.onLogin, fn)
}

func (a *Account) emitLogin(loggedIn bool) {
	a.mu.Lock()
	fns := slices.Clone(a.onLogin)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(a.venue, loggedIn)
	}
}

func (a *Account) LoggedIn() bool {
	return types.Bool(a.Get("loggedIn"))
}

func (a *Account) LivePnL() float64 {
	return a.adapter.LivePnL()
}

func (a *Account) TradeCount() int {
	return types.Int(a.Get("tradeCount"))
}

func (a *Account) OpenBalance() float64 {
	var f types.FundInfo
	_ = types.Decode(a.Get("fundInfo"), &f)
	return f.OpenBalance
}

func (a *Account) MaxProfitOfDay() float64 {
	return types.Float(a.Get("maxProfitOfDay"))
}

func (a *Account) LockData() types.LockData {
	var l types.LockData
	_ = types.Decode(a.Get("accountLockData"), &l)
	return l
}

// RiskLimits combines the limits held in state with the configured
// cut-off hour and cool-down.
func (a *Account) RiskLimits() risk.Limits {
	st := a.GetState()
	l := a.limits
	l.MaxLossOfDayInRs = types.Float(st[MaxLossOfDayKey])
	l.MaxTradeCount = types.Int(st[MaxTradeCountKey])
	l.SecurePercent = types.Float(st[SecurePercentKey])
	return l
}

func (a *Account) storedSession() types.Session {
	return types.Session{
		Token:     types.String(a.Get("accessToken")),
		UserID:    types.String(a.Get("userId")),
		AccountID: types.String(a.Get("accountId")),
	}
}

// Login authenticates with the venue, then refreshes the account and
// starts the feed and the risk timer.
func (a *Account) Login(ctx context.Context, creds map[string]string) error {
	sess, err := a.session.Login(ctx, creds)
	if err != nil {
		a.Notifier().Error(ctx, fmt.Sprintf("%s login failed: %s", a.venue, types.UserMessage(err)))
		if types.IsAuth(err) && a.LoggedIn() {
			a.markLoggedOut()
		}
		return err
	}

	a.SetState(map[string]any{
		"loggedIn":        true,
		"accessToken":     sess.Token,
		"userId":          sess.UserID,
		"accountId":       sess.AccountID,
		state.PersistFlag: true,
	}, false)
	a.Notifier().Success(ctx, fmt.Sprintf("%s logged in", a.venue))
	logger.Info(ctx, "Broker login successful", "venue", a.venue, "user_id", sess.UserID)
	a.emitLogin(true)

	a.startSession(ctx, sess)
	return nil
}

func (a *Account) startSession(ctx context.Context, sess types.Session) {
	if err := a.RefreshAccount(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Initial account refresh failed", err, "venue", a.venue)
		if types.IsAuth(err) {
			return
		}
	}
	a.startRisk()
	if err := a.adapter.StartSocket(a.ctx, sess, false); err != nil && !types.IsAuth(err) {
		logger.Warn(ctx, "Socket start failed, supervisor will retry", "venue", a.venue, "error", err)
	}
}

// Logout stops the feed and the risk timer and invalidates the session.
func (a *Account) Logout(ctx context.Context) error {
	a.adapter.Stop()
	a.ClearIntervalAndUpdate(RiskTimerName(a.venue))
	if err := a.session.Logout(ctx); err != nil {
		logger.Warn(ctx, "Venue logout failed", "venue", a.venue, "error", err)
	}
	a.markLoggedOut()
	a.Notifier().Info(ctx, fmt.Sprintf("%s logged out", a.venue))
	return nil
}

// VerifySession checks a restored token. An invalid one logs the account
// out; other failures are returned and leave the account as it was.
func (a *Account) VerifySession(ctx context.Context) error {
	sess := a.storedSession()
	if !a.LoggedIn() || sess.Token == "" {
		if a.LoggedIn() {
			a.markLoggedOut()
		}
		return nil
	}

	a.session.Restore(sess)
	err := a.session.Verify(ctx)
	if err == nil {
		logger.Info(ctx, "Restored broker session is valid", "venue", a.venue)
		a.emitLogin(true)
		return nil
	}
	if types.IsAuth(err) {
		logger.Warn(ctx, "Restored broker session expired", "venue", a.venue, "error", err)
		a.markLoggedOut()
		a.Notifier().Error(ctx, fmt.Sprintf("%s session expired, please log in again", a.venue))
		return nil
	}
	return fmt.Errorf("verify %s session: %w", a.venue, err)
}

// RefreshAccount pulls positions, funds and trade count from the venue.
func (a *Account) RefreshAccount(ctx context.Context) error {
	positions, err := a.session.Positions(ctx)
	if err != nil {
		return a.refreshFailed(ctx, err)
	}
	funds, err := a.session.FundInfo(ctx)
	if err != nil {
		return a.refreshFailed(ctx, err)
	}
	trades, err := a.session.TradeCount(ctx)
	if err != nil {
		return a.refreshFailed(ctx, err)
	}

	a.adapter.SetPositions(positions)
	a.SetState(map[string]any{
		"positions":       types.ToMaps(positions),
		"fundInfo":        types.ToMap(funds),
		"tradeCount":      trades,
		state.PersistFlag: true,
	}, false)
	return nil
}

func (a *Account) refreshFailed(ctx context.Context, err error) error {
	if types.IsAuth(err) {
		a.sessionLost(ctx, err)
	}
	return fmt.Errorf("refresh %s account: %w", a.venue, err)
}

// CloseAllPositions squares off every open position at the venue.
func (a *Account) CloseAllPositions(ctx context.Context) error {
	if !a.LoggedIn() {
		return types.NewAuthError(a.venue, "closeAll", "not logged in")
	}
	if err := a.session.CloseAllPositions(ctx); err != nil {
		if types.IsAuth(err) {
			a.sessionLost(ctx, err)
		}
		return err
	}
	a.Notifier().Success(ctx, fmt.Sprintf("%s: close orders placed for all open positions", a.venue))
	return nil
}

func (a *Account) startRisk() {
	if !a.LoggedIn() || a.TimerActive(RiskTimerName(a.venue)) {
		return
	}
	if l := a.LockData(); l.DisableForDay && l.Active(time.Now()) {
		logger.Info(a.ctx, "Risk evaluation disabled for the day", "venue", a.venue, "condition", l.ID)
		return
	}
	a.SetIntervalAndUpdate(RiskTimerName(a.venue), task.Every(a.riskInterval, func() {
		a.engine.Evaluate(a.ctx)
	}))
}

// sessionLost handles an auth failure from either the feed or REST.
func (a *Account) sessionLost(ctx context.Context, err error) {
	if !a.LoggedIn() {
		return
	}
	logger.Warn(ctx, "Broker session lost", "venue", a.venue, "error", err)
	a.adapter.Stop()
	a.ClearIntervalAndUpdate(RiskTimerName(a.venue))
	a.markLoggedOut()
	a.Notifier().Error(ctx, fmt.Sprintf("%s session expired, please log in again", a.venue))
}

func (a *Account) markLoggedOut() {
	a.session.Restore(types.Session{})
	a.SetState(map[string]any{
		"loggedIn":        false,
		"accessToken":     "",
		"socketConnected": false,
		state.PersistFlag: true,
	}, false)
	a.emitLogin(false)
}

// StartingFunctionsAtInitialize resumes a verified session.
func (a *Account) StartingFunctionsAtInitialize(ctx context.Context) error {
	if !a.LoggedIn() {
		return nil
	}
	a.startSession(ctx, a.storedSession())
	return nil
}

// UpdateDbAtInitOfDay clears the previous day's lock and counters.
func (a *Account) UpdateDbAtInitOfDay(ctx context.Context) error {
	a.SetState(map[string]any{
		"tradeCount":      0,
		"maxProfitOfDay":  0.0,
		"accountLockData": map[string]any{},
		state.PersistFlag: true,
	}, false)
	a.startRisk()
	logger.Info(ctx, "Account reset for new trading day", "venue", a.venue)
	return nil
}

// Shutdown stops the feed and every timer. The snapshot is left intact.
func (a *Account) Shutdown() {
	a.cancel()
	a.adapter.Stop()
	a.StopTimers()
}
