// Package socket holds the venue-independent half of a broker real-time
// feed: connection lifecycle, subscription bookkeeping, tick cache and
// live P&L. Venues plug in a Transport.
package socket

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/task"
	"tradedesk/internal/tradelog"
	"tradedesk/internal/types"

	"github.com/shopspring/decimal"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Events is how a Transport reports back. Each Dial gets its own Events
// value; calls made through a superseded one are ignored.
type Events interface {
	Open()
	Closed(err error)
	Tick(t types.Tick)
	Order(ev types.OrderEvent)
	AuthFailed(err error)
}

// Transport is the venue wire protocol.
type Transport interface {
	// Dial starts a connection and returns once it is underway. The
	// handshake outcome is reported through ev.
	Dial(ctx context.Context, sess types.Session, ev Events) error
	Subscribe(ids []string) error
	Unsubscribe(ids []string) error
	Close() error
}

type Config struct {
	Venue string
	// Channel is the broadcast key for tick deltas, e.g. "shoonyaTicks".
	Channel        string
	RetryDelay     time.Duration
	SubscribeRetry time.Duration
	SettleDelay    time.Duration
	// HandshakeTimeout bounds how long a dial may stay in Connecting.
	HandshakeTimeout time.Duration
}

type Deps struct {
	Transport   Transport
	Broadcaster interfaces.Broadcaster
	Notifier    interfaces.Notifier
	// Timers is the owning domain; the supervisor is registered there.
	Timers interfaces.Timers
	// Journal is optional.
	Journal interfaces.Journal
	// Verifier, when set, is asked before every redial whether the session
	// is still valid. Feeds that report a bad token only as a dropped
	// connection depend on it.
	Verifier Verifier
}

type Verifier interface {
	Verify(ctx context.Context) error
}

type Adapter struct {
	cfg       Config
	transport Transport
	bc        interfaces.Broadcaster
	notifier  interfaces.Notifier
	timers    interfaces.Timers
	journal   interfaces.Journal
	verifier  Verifier

	mu          sync.Mutex
	state       State
	gen         uint64
	dialedAt    time.Time
	sess        types.Session
	ctx         context.Context
	failures    int
	subs        map[string]struct{}
	pending     map[string]struct{}
	retryTask   *task.Task
	settleTask  *task.Task
	ticks       map[string]types.Tick
	positions   []types.Position
	held        map[string]struct{}
	onAuth      func(ctx context.Context, err error)
	onSettled   func(ctx context.Context)
	onConnected func(connected bool)
}

var _ interfaces.SocketAdapter = (*Adapter)(nil)

func New(cfg Config, deps Deps) *Adapter {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.SubscribeRetry <= 0 {
		cfg.SubscribeRetry = 2 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 1500 * time.Millisecond
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Channel == "" {
		cfg.Channel = cfg.Venue + "Ticks"
	}
	return &Adapter{
		cfg:       cfg,
		transport: deps.Transport,
		bc:        deps.Broadcaster,
		notifier:  deps.Notifier,
		timers:    deps.Timers,
		journal:   deps.Journal,
		verifier:  deps.Verifier,
		ctx:       context.Background(),
		subs:      make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		ticks:     make(map[string]types.Tick),
		held:      make(map[string]struct{}),
	}
}

// SupervisorName is the timer name the adapter registers on its domain.
func (a *Adapter) SupervisorName() string {
	return a.cfg.Venue + "SocketInterval"
}

// OnAuthFailure is called once the session is found to be invalid.
func (a *Adapter) OnAuthFailure(fn func(ctx context.Context, err error)) {
	a.mu.Lock()
	a.onAuth = fn
	a.mu.Unlock()
}

// OnOrderSettled is called SettleDelay after the last order event.
func (a *Adapter) OnOrderSettled(fn func(ctx context.Context)) {
	a.mu.Lock()
	a.onSettled = fn
	a.mu.Unlock()
}

// OnConnectivity reports every Ready transition in either direction.
func (a *Adapter) OnConnectivity(fn func(connected bool)) {
	a.mu.Lock()
	a.onConnected = fn
	a.mu.Unlock()
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Ready() bool {
	return a.State() == Ready
}

func (a *Adapter) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}

// StartSocket dials the venue. A first call (retry=false) also installs
// the supervisor that re-dials every RetryDelay while the feed is down.
func (a *Adapter) StartSocket(ctx context.Context, sess types.Session, retry bool) error {
	a.mu.Lock()
	if a.state == Ready || (a.state == Connecting && !a.connectStale()) {
		a.mu.Unlock()
		return nil
	}
	if retry && a.state == Disconnected {
		// stopped or auth failed since the supervisor fired
		a.mu.Unlock()
		return nil
	}
	a.gen++
	gen := a.gen
	a.state = Connecting
	a.dialedAt = time.Now()
	a.sess = sess
	a.ctx = context.WithoutCancel(ctx)
	base := a.ctx
	a.mu.Unlock()

	if !retry {
		a.timers.SetIntervalAndUpdate(a.SupervisorName(), task.Every(a.cfg.RetryDelay, a.supervise))
	}

	logger.Info(base, "Starting socket", "venue", a.cfg.Venue, "retry", retry)
	err := a.transport.Dial(base, sess, &bound{a: a, gen: gen})
	if err == nil {
		return nil
	}
	if types.IsAuth(err) {
		a.authFailed(gen, err)
		return err
	}

	a.mu.Lock()
	if a.gen == gen && a.state == Connecting {
		a.state = Reconnecting
		a.failures++
	}
	failures := a.failures
	a.mu.Unlock()
	logger.Warn(base, "Socket dial failed", "venue", a.cfg.Venue, "error", err, "failures", failures)
	return err
}

// connectStale reports a handshake that never completed. Caller holds mu.
func (a *Adapter) connectStale() bool {
	return time.Since(a.dialedAt) > a.cfg.HandshakeTimeout
}

func (a *Adapter) supervise() {
	a.mu.Lock()
	state, stale := a.state, a.state == Connecting && a.connectStale()
	ctx, sess, gen := a.ctx, a.sess, a.gen
	a.mu.Unlock()

	if state == Ready || state == Disconnected || (state == Connecting && !stale) {
		return
	}
	if a.verifier != nil {
		if err := a.verifier.Verify(ctx); types.IsAuth(err) {
			a.authFailed(gen, err)
			return
		}
	}
	if stale {
		logger.Warn(ctx, "Socket handshake timed out", "venue", a.cfg.Venue)
		_ = a.transport.Close()
	}
	_ = a.StartSocket(ctx, sess, true)
}

// Stop closes the feed and cancels the supervisor. Subscriptions are kept
// for the next StartSocket.
func (a *Adapter) Stop() {
	a.mu.Lock()
	wasUp := a.state == Ready
	a.state = Disconnected
	a.gen++
	a.retryTask.Cancel()
	a.settleTask.Cancel()
	notify := a.onConnected
	a.mu.Unlock()

	a.timers.ClearIntervalAndUpdate(a.SupervisorName())
	if err := a.transport.Close(); err != nil {
		logger.Warn(context.Background(), "Socket close failed", "venue", a.cfg.Venue, "error", err)
	}
	if wasUp && notify != nil {
		notify(false)
	}
}

// SubscribeTicks adds ids to the desired set. Ids already subscribed are
// not resent; while the feed is down they are queued and retried.
func (a *Adapter) SubscribeTicks(ids []string) {
	a.mu.Lock()
	ctx := a.ctx
	var fresh []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := a.subs[id]; ok {
			continue
		}
		a.subs[id] = struct{}{}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		a.mu.Unlock()
		return
	}
	if a.state != Ready {
		a.queueLocked(fresh)
		a.mu.Unlock()
		logger.Debug(ctx, "Socket not ready, subscription queued", "venue", a.cfg.Venue, "ids", fresh)
		return
	}
	a.mu.Unlock()

	if err := a.transport.Subscribe(fresh); err != nil {
		a.mu.Lock()
		a.queueLocked(fresh)
		a.mu.Unlock()
		logger.Warn(ctx, "Subscribe failed, will retry", "venue", a.cfg.Venue, "error", err)
	}
}

// queueLocked parks ids until the feed is Ready. Caller holds mu.
func (a *Adapter) queueLocked(ids []string) {
	for _, id := range ids {
		a.pending[id] = struct{}{}
	}
	if !a.retryTask.Active() {
		a.retryTask = task.After(a.cfg.SubscribeRetry, a.retrySubscribe)
	}
}

func (a *Adapter) retrySubscribe() {
	a.mu.Lock()
	if len(a.pending) == 0 || a.state == Disconnected {
		a.mu.Unlock()
		return
	}
	if a.state != Ready {
		a.retryTask = task.After(a.cfg.SubscribeRetry, a.retrySubscribe)
		a.mu.Unlock()
		return
	}
	ids := keys(a.pending)
	a.pending = make(map[string]struct{})
	a.mu.Unlock()

	if err := a.transport.Subscribe(ids); err != nil {
		a.mu.Lock()
		a.queueLocked(ids)
		a.mu.Unlock()
	}
}

// UnsubscribeTicks drops ids from the desired set. Instruments with an
// open position stay subscribed so live P&L keeps its price.
func (a *Adapter) UnsubscribeTicks(ids []string) {
	a.mu.Lock()
	var gone []string
	for _, id := range ids {
		if _, ok := a.subs[id]; !ok {
			continue
		}
		if _, ok := a.held[id]; ok {
			continue
		}
		delete(a.subs, id)
		delete(a.pending, id)
		delete(a.ticks, id)
		gone = append(gone, id)
	}
	ready, ctx := a.state == Ready, a.ctx
	a.mu.Unlock()

	if !ready || len(gone) == 0 {
		return
	}
	if err := a.transport.Unsubscribe(gone); err != nil {
		logger.Warn(ctx, "Unsubscribe failed", "venue", a.cfg.Venue, "error", err)
	}
}

// Subscriptions returns the desired subscription set.
func (a *Adapter) Subscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return keys(a.subs)
}

func (a *Adapter) Channel() string {
	return a.cfg.Channel
}

func (a *Adapter) Snapshot() map[string]types.Tick {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]types.Tick, len(a.ticks))
	for k, v := range a.ticks {
		out[k] = v
	}
	return out
}

func (a *Adapter) LatestTick(id string) (types.Tick, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.ticks[id]
	return t, ok
}

// SetPositions replaces the positions live P&L is computed from and
// subscribes every instrument with open quantity.
func (a *Adapter) SetPositions(ps []types.Position) {
	a.mu.Lock()
	a.positions = append([]types.Position(nil), ps...)
	a.held = make(map[string]struct{}, len(ps))
	var open []string
	for _, p := range ps {
		if p.NetQty == 0 || p.InstrumentID == "" {
			continue
		}
		a.held[p.InstrumentID] = struct{}{}
		open = append(open, p.InstrumentID)
	}
	a.mu.Unlock()

	a.SubscribeTicks(open)
}

// LivePnL is realized plus mark-to-market of open quantity at the latest
// cached price.
func (a *Adapter) LivePnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := decimal.Zero
	for _, p := range a.positions {
		total = total.Add(decimal.NewFromFloat(p.RealizedPnL))
		if p.NetQty == 0 {
			continue
		}
		ltp := p.LastPrice
		if t, ok := a.ticks[p.InstrumentID]; ok && t.LTP > 0 {
			ltp = t.LTP
		}
		mult := p.Multiplier
		if mult == 0 {
			mult = 1
		}
		mtm := decimal.NewFromInt(int64(p.NetQty)).
			Mul(decimal.NewFromFloat(ltp).Sub(decimal.NewFromFloat(p.AvgPrice))).
			Mul(decimal.NewFromFloat(mult))
		total = total.Add(mtm)
	}
	return total.Round(2).InexactFloat64()
}

func (a *Adapter) opened(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.state == Disconnected {
		a.mu.Unlock()
		return
	}
	a.state = Ready
	a.failures = 0
	a.pending = make(map[string]struct{})
	a.retryTask.Cancel()
	replay := keys(a.subs)
	ctx, notify := a.ctx, a.onConnected
	a.mu.Unlock()

	logger.Info(ctx, "Socket ready", "venue", a.cfg.Venue, "subscriptions", len(replay))
	if notify != nil {
		notify(true)
	}
	if len(replay) == 0 {
		return
	}
	if err := a.transport.Subscribe(replay); err != nil {
		a.mu.Lock()
		a.queueLocked(replay)
		a.mu.Unlock()
		logger.Warn(ctx, "Resubscribe failed, will retry", "venue", a.cfg.Venue, "error", err)
	}
}

func (a *Adapter) closed(gen uint64, err error) {
	a.mu.Lock()
	if gen != a.gen || a.state == Disconnected {
		a.mu.Unlock()
		return
	}
	wasUp := a.state == Ready
	a.state = Reconnecting
	a.failures++
	failures := a.failures
	ctx, notify := a.ctx, a.onConnected
	a.mu.Unlock()

	logger.Warn(ctx, "Socket closed", "venue", a.cfg.Venue, "error", err, "failures", failures)
	if wasUp && notify != nil {
		notify(false)
	}
	if failures == 1 && a.notifier != nil {
		a.notifier.Error(ctx, a.cfg.Venue+" socket disconnected, reconnecting")
	}
}

func (a *Adapter) authFailed(gen uint64, err error) {
	a.mu.Lock()
	if gen != a.gen || a.state == Disconnected {
		a.mu.Unlock()
		return
	}
	wasUp := a.state == Ready
	a.state = Disconnected
	a.gen++
	a.retryTask.Cancel()
	ctx, onAuth, notify := a.ctx, a.onAuth, a.onConnected
	a.mu.Unlock()

	logger.ErrorWithErr(ctx, "Socket authentication failed", err, "venue", a.cfg.Venue)
	a.timers.ClearIntervalAndUpdate(a.SupervisorName())
	_ = a.transport.Close()
	if wasUp && notify != nil {
		notify(false)
	}
	if a.notifier != nil {
		a.notifier.Error(ctx, a.cfg.Venue+" session expired, please log in again")
	}
	if onAuth != nil {
		onAuth(ctx, err)
	}
}

func (a *Adapter) tick(gen uint64, t types.Tick) {
	a.mu.Lock()
	if gen != a.gen || a.state != Ready {
		a.mu.Unlock()
		return
	}
	if _, ok := a.subs[t.InstrumentID]; !ok {
		a.mu.Unlock()
		return
	}
	merged := mergeTick(a.ticks[t.InstrumentID], t)
	merged.Venue = a.cfg.Venue
	a.ticks[t.InstrumentID] = merged
	a.mu.Unlock()

	if a.bc != nil {
		a.bc.Broadcast(a.cfg.Channel, map[string]types.Tick{t.InstrumentID: merged})
	}
}

// mergeTick overlays a partial update; zero fields keep the cached value.
func mergeTick(prev, next types.Tick) types.Tick {
	out := prev
	out.InstrumentID = next.InstrumentID
	if next.LTP > 0 {
		out.LTP = next.LTP
	}
	if next.Time > 0 {
		out.Time = next.Time
	}
	if len(next.Payload) > 0 {
		payload := make(map[string]any, len(prev.Payload)+len(next.Payload))
		for k, v := range prev.Payload {
			payload[k] = v
		}
		for k, v := range next.Payload {
			payload[k] = v
		}
		out.Payload = payload
	}
	return out
}

func (a *Adapter) order(gen uint64, ev types.OrderEvent) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	ctx, onSettled := a.ctx, a.onSettled
	a.settleTask.Cancel()
	if onSettled != nil {
		a.settleTask = task.After(a.cfg.SettleDelay, func() { onSettled(ctx) })
	}
	a.mu.Unlock()

	logger.Order(ctx, a.cfg.Venue, ev.OrderID, ev.Status, "symbol", ev.Symbol, "side", ev.Side)
	if !ev.Terminal() {
		return
	}
	if a.journal != nil {
		if err := a.journal.Append(tradelog.Entry{
			Kind:    tradelog.KindOrder,
			Domain:  a.cfg.Venue,
			Level:   ev.Status,
			Message: describeOrder(ev),
			Extra:   map[string]any{"orderId": ev.OrderID},
		}); err != nil {
			logger.Warn(ctx, "Failed to journal order", "error", err)
		}
	}
	if a.notifier == nil {
		return
	}
	switch ev.Status {
	case types.OrderComplete:
		a.notifier.Success(ctx, describeOrder(ev))
	default:
		a.notifier.Error(ctx, describeOrder(ev))
	}
}

func describeOrder(ev types.OrderEvent) string {
	msg := ev.Side + " " + ev.Symbol + " " + ev.Status
	if ev.Message != "" {
		msg += ": " + ev.Message
	}
	return msg
}

type bound struct {
	a   *Adapter
	gen uint64
}

func (b *bound) Open()                     { b.a.opened(b.gen) }
func (b *bound) Closed(err error)          { b.a.closed(b.gen, err) }
func (b *bound) Tick(t types.Tick)         { b.a.tick(b.gen, t) }
func (b *bound) Order(ev types.OrderEvent) { b.a.order(b.gen, ev) }
func (b *bound) AuthFailed(err error) {
	if err == nil || !errors.Is(err, types.ErrAuth) {
		err = types.NewAuthError(b.a.cfg.Venue, "socket", types.UserMessage(err))
	}
	b.a.authFailed(b.gen, err)
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
