package shoonya

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tradedesk/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	mu     sync.Mutex
	opened int
	closed []error
	ticks  []types.Tick
	orders []types.OrderEvent
	auth   []error
}

func (r *recordingEvents) Open() { r.mu.Lock(); r.opened++; r.mu.Unlock() }
func (r *recordingEvents) Closed(err error) {
	r.mu.Lock()
	r.closed = append(r.closed, err)
	r.mu.Unlock()
}
func (r *recordingEvents) Tick(t types.Tick) {
	r.mu.Lock()
	r.ticks = append(r.ticks, t)
	r.mu.Unlock()
}
func (r *recordingEvents) Order(ev types.OrderEvent) {
	r.mu.Lock()
	r.orders = append(r.orders, ev)
	r.mu.Unlock()
}
func (r *recordingEvents) AuthFailed(err error) {
	r.mu.Lock()
	r.auth = append(r.auth, err)
	r.mu.Unlock()
}

type seen struct {
	opened int
	closed []error
	ticks  []types.Tick
	orders []types.OrderEvent
	auth   []error
}

func (r *recordingEvents) snapshot() seen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seen{
		opened: r.opened,
		closed: append([]error(nil), r.closed...),
		ticks:  append([]types.Tick(nil), r.ticks...),
		orders: append([]types.OrderEvent(nil), r.orders...),
		auth:   append([]error(nil), r.auth...),
	}
}

// fakeFeed accepts one connection, acks it, plays the scripted frames and
// hangs up after hold. Frames from the client land on received.
type fakeFeed struct {
	ack      string
	script   []string
	hold     time.Duration
	received chan map[string]any
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	go func() {
		for {
			var msg map[string]any
			if err := ws.ReadJSON(&msg); err != nil {
				close(f.received)
				return
			}
			f.received <- msg
		}
	}()

	// wait for the connect frame before acking
	time.Sleep(20 * time.Millisecond)
	_ = ws.WriteMessage(websocket.TextMessage, []byte(f.ack))
	for _, frame := range f.script {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(frame))
	}
	time.Sleep(f.hold)
}

func startFeed(t *testing.T, ff *fakeFeed) string {
	t.Helper()
	ff.received = make(chan map[string]any, 16)
	srv := httptest.NewServer(ff)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeed_HandshakeTicksAndOrders(t *testing.T) {
	ff := &fakeFeed{
		ack:  `{"t":"ck","s":"OK","uid":"FA1234"}`,
		hold: 2 * time.Second,
		script: []string{
			`{"t":"tk","e":"NSE","tk":"22","lp":"1990.05","pc":"0.5","v":"1000","ft":"1704067200"}`,
			`{"t":"tf","e":"NSE","tk":"22","v":"1200"}`,
			`{"t":"om","norenordno":"24010100001","tsym":"ACC-EQ","trantype":"S","status":"COMPLETE"}`,
			`not json`,
		},
	}
	url := startFeed(t, ff)

	feed := NewFeed(url)
	ev := &recordingEvents{}
	require.NoError(t, feed.Dial(context.Background(), types.Session{Token: "tok", UserID: "FA1234", AccountID: "FA1234"}, ev))
	defer feed.Close()

	connect := <-ff.received
	assert.Equal(t, "c", connect["t"])
	assert.Equal(t, "tok", connect["susertoken"])
	assert.Equal(t, "API", connect["source"])

	orderSub := <-ff.received
	assert.Equal(t, "o", orderSub["t"])
	assert.Equal(t, "FA1234", orderSub["actid"])

	require.Eventually(t, func() bool { return len(ev.snapshot().orders) == 1 }, time.Second, 5*time.Millisecond)
	got := ev.snapshot()
	assert.Equal(t, 1, got.opened)
	require.Len(t, got.ticks, 2)
	assert.Equal(t, "NSE|22", got.ticks[0].InstrumentID)
	assert.Equal(t, 1990.05, got.ticks[0].LTP)
	assert.Equal(t, int64(1704067200000), got.ticks[0].Time)
	assert.Equal(t, 1000.0, got.ticks[0].Payload["v"])
	assert.Zero(t, got.ticks[1].LTP)
	assert.Equal(t, types.OrderEvent{Venue: Venue, OrderID: "24010100001", Symbol: "ACC-EQ", Side: "S", Status: types.OrderComplete}, got.orders[0])

	require.NoError(t, feed.Subscribe([]string{"NSE|22", "NSE|2885"}))
	sub := <-ff.received
	assert.Equal(t, map[string]any{"t": "t", "k": "NSE|22#NSE|2885"}, sub)

	require.NoError(t, feed.Unsubscribe([]string{"NSE|22"}))
	unsub := <-ff.received
	assert.Equal(t, map[string]any{"t": "u", "k": "NSE|22"}, unsub)
}

func TestFeed_RejectedSession(t *testing.T) {
	ff := &fakeFeed{ack: `{"t":"ck","s":"NOT_OK"}`, hold: time.Second}
	url := startFeed(t, ff)

	feed := NewFeed(url)
	ev := &recordingEvents{}
	require.NoError(t, feed.Dial(context.Background(), types.Session{Token: "bad"}, ev))
	defer feed.Close()

	require.Eventually(t, func() bool { return len(ev.snapshot().auth) == 1 }, time.Second, 5*time.Millisecond)
	got := ev.snapshot()
	assert.Zero(t, got.opened)
	assert.True(t, types.IsAuth(got.auth[0]))
}

func TestFeed_ServerCloseReported(t *testing.T) {
	ff := &fakeFeed{ack: `{"t":"ck","s":"OK"}`, hold: 50 * time.Millisecond}
	url := startFeed(t, ff)

	feed := NewFeed(url)
	ev := &recordingEvents{}
	require.NoError(t, feed.Dial(context.Background(), types.Session{Token: "tok"}, ev))

	require.Eventually(t, func() bool { return len(ev.snapshot().closed) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ev.snapshot().opened)
}

func TestFeed_CloseBeforeServerDoesNotReport(t *testing.T) {
	ff := &fakeFeed{ack: `{"t":"ck","s":"OK"}`, hold: time.Second}
	url := startFeed(t, ff)

	feed := NewFeed(url)
	ev := &recordingEvents{}
	require.NoError(t, feed.Dial(context.Background(), types.Session{Token: "tok"}, ev))
	require.Eventually(t, func() bool { return ev.snapshot().opened == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Close())
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, ev.snapshot().closed)
	assert.ErrorIs(t, feed.Subscribe([]string{"NSE|22"}), errNotConnected)
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"COMPLETE":        types.OrderComplete,
		"REJECTED":        types.OrderRejected,
		"CANCELED":        types.OrderCancelled,
		"OPEN":            types.OrderOpen,
		"TRIGGER_PENDING": types.OrderOpen,
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeStatus(in), in)
	}
}
