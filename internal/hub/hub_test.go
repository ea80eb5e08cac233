package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"tradedesk/internal/state"
	"tradedesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id    string
	err   error
	panic bool
	mu    sync.Mutex
	got   []types.Message
}

func (f *fakeChannel) ID() string { return f.id }

func (f *fakeChannel) Send(msg types.Message) error {
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeChannel) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.got))
	for _, m := range f.got {
		out = append(out, m.Event)
	}
	return out
}

type fakeTicks struct{}

func (fakeTicks) Channel() string { return "shoonyaTicks" }
func (fakeTicks) Snapshot() map[string]types.Tick {
	return map[string]types.Tick{"NSE|22": {InstrumentID: "NSE|22", LTP: 101.5}}
}
func (fakeTicks) LatestTick(id string) (types.Tick, bool) { return types.Tick{}, false }

func newTestHub(loggedIn bool) (*Hub, *state.Registry) {
	h := New()
	reg := state.NewRegistry()
	reg.MustRegister(
		state.NewContainer("app", map[string]any{"loggedIn": loggedIn}, state.Deps{Broadcaster: h}),
		state.NewContainer("shoonya", map[string]any{"loggedIn": loggedIn}, state.Deps{Broadcaster: h}),
		state.NewContainer("drawings", map[string]any{"drawings": map[string]any{}}, state.Deps{Broadcaster: h}),
	)
	h.Bind(reg)
	h.AddTickSource(fakeTicks{})
	return h, reg
}

func TestBroadcast_FailingClientDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(false)
	bad := &fakeChannel{id: "bad", err: errors.New("gone")}
	panicky := &fakeChannel{id: "panicky", panic: true}
	good := &fakeChannel{id: "good"}

	h.Connect(context.Background(), good)
	h.Connect(context.Background(), bad)
	h.Connect(context.Background(), panicky)

	assert.NotPanics(t, func() { h.Broadcast("shoonya", map[string]any{"tradeCount": 1}) })
	assert.Equal(t, []string{"app", "shoonya"}, good.Events())
}

func TestBroadcast_Envelope(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(false)
	c := &fakeChannel{id: "c"}
	h.Connect(context.Background(), c)
	h.Broadcast("alerts", map[string]any{"x": 1})

	last := c.got[len(c.got)-1]
	assert.Equal(t, "alerts", last.Event)
	assert.True(t, last.FromServerState)
	assert.Equal(t, map[string]any{"x": 1}, last.Data)
}

func TestConnect_LoggedInReceivesFullPushInOrder(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(true)
	c := &fakeChannel{id: "c"}
	h.Connect(context.Background(), c)

	assert.Equal(t, []string{"app", "app", "shoonya", "drawings", "shoonyaTicks"}, c.Events())
	assert.Equal(t, map[string]any{"loggedIn": true}, c.got[0].Data)

	ticks := c.got[4].Data.(map[string]types.Tick)
	assert.Equal(t, 101.5, ticks["NSE|22"].LTP)
}

func TestConnect_LoggedOutReceivesOnlyFlag(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(false)
	c := &fakeChannel{id: "c"}
	h.Connect(context.Background(), c)

	require.Len(t, c.got, 1)
	assert.Equal(t, map[string]any{"loggedIn": false}, c.got[0].Data)
}

func TestRouteInbound(t *testing.T) {
	t.Parallel()

	h, reg := newTestHub(false)
	h.RouteInbound("drawings", map[string]any{"drawings": map[string]any{"NSE|22": []any{"line"}}})
	h.RouteInbound("nope", map[string]any{"x": 1})

	d, _ := reg.Get("drawings")
	assert.Contains(t, d.GetState()["drawings"], "NSE|22")
	_, found := reg.Get("nope")
	assert.False(t, found)
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(false)
	c := &fakeChannel{id: "c"}
	h.Connect(context.Background(), c)
	require.Equal(t, 1, h.ClientCount())

	h.Disconnect("c")
	h.Broadcast("app", map[string]any{"x": 1})
	assert.Equal(t, 0, h.ClientCount())
	assert.Len(t, c.got, 1)
}

type fakeAccount struct {
	loginErr error
	creds    map[string]string
}

func (f *fakeAccount) Login(_ context.Context, creds map[string]string) error {
	f.creds = creds
	return f.loginErr
}
func (f *fakeAccount) Logout(context.Context) error { return nil }
func (f *fakeAccount) CloseAllPositions(context.Context) error {
	return types.NewBrokerError("kite", "closeAll", "close all positions is not supported for kite", types.ErrNotImplemented)
}

func TestServerRoutes(t *testing.T) {
	h, _ := newTestHub(true)
	acc := &fakeAccount{}
	srv := NewServer(":0", h, map[string]Account{"kite": acc}, false)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "health", method: http.MethodGet, path: "/api/health", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{name: "state", method: http.MethodGet, path: "/api/state/shoonya", wantStatus: http.StatusOK, wantBody: `"id":"shoonya"`},
		{name: "unknown state", method: http.MethodGet, path: "/api/state/x", wantStatus: http.StatusNotFound, wantBody: `"status":"error"`},
		{name: "login", method: http.MethodPost, path: "/api/brokers/kite/login", body: `{"request_token":"rt"}`, wantStatus: http.StatusOK, wantBody: `"status":"success"`},
		{name: "close all not implemented", method: http.MethodPost, path: "/api/brokers/kite/close-all", wantStatus: http.StatusNotImplemented, wantBody: `not supported for kite`},
		{name: "unknown broker", method: http.MethodPost, path: "/api/brokers/zz/login", wantStatus: http.StatusNotFound, wantBody: `unknown broker zz`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}

	assert.Equal(t, "rt", acc.creds["request_token"])
}

func TestServerLogin_AuthFailure(t *testing.T) {
	h, _ := newTestHub(false)
	acc := &fakeAccount{loginErr: types.NewAuthError("shoonya", "login", "Invalid Input : Wrong Password")}
	srv := NewServer(":0", h, map[string]Account{"shoonya": acc}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/brokers/shoonya/login", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "Invalid Input : Wrong Password", body.Message)
}
