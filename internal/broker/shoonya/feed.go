package shoonya

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"tradedesk/internal/broker/socket"
	"tradedesk/internal/logger"
	"tradedesk/internal/types"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
)

var errNotConnected = errors.New("shoonya feed is not connected")

// Feed is the Noren websocket transport.
type Feed struct {
	url       string
	dialer    *websocket.Dialer
	heartbeat time.Duration

	mu   sync.Mutex
	conn *conn
}

var _ socket.Transport = (*Feed)(nil)

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func NewFeed(wsURL string) *Feed {
	return &Feed{
		url:       wsURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		heartbeat: heartbeatInterval,
	}
}

// Dial opens the socket and sends the connect frame. The "ck" reply is
// delivered to ev asynchronously.
func (f *Feed) Dial(ctx context.Context, sess types.Session, ev socket.Events) error {
	_ = f.Close()

	ws, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	c := &conn{ws: ws, done: make(chan struct{})}

	if err := c.write(map[string]string{
		"t":          "c",
		"uid":        sess.UserID,
		"actid":      sess.AccountID,
		"susertoken": sess.Token,
		"source":     "API",
	}); err != nil {
		c.close()
		return err
	}

	f.mu.Lock()
	f.conn = c
	f.mu.Unlock()

	go f.readLoop(ctx, c, sess, ev)
	go f.heartbeatLoop(c)
	return nil
}

func (f *Feed) current() *conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *Feed) Subscribe(ids []string) error {
	c := f.current()
	if c == nil {
		return errNotConnected
	}
	return c.write(map[string]string{"t": "t", "k": strings.Join(ids, "#")})
}

func (f *Feed) Unsubscribe(ids []string) error {
	c := f.current()
	if c == nil {
		return errNotConnected
	}
	return c.write(map[string]string{"t": "u", "k": strings.Join(ids, "#")})
}

func (f *Feed) Close() error {
	f.mu.Lock()
	c := f.conn
	f.conn = nil
	f.mu.Unlock()
	if c != nil {
		c.close()
	}
	return nil
}

func (f *Feed) heartbeatLoop(c *conn) {
	ticker := time.NewTicker(f.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(map[string]string{"t": "h"}); err != nil {
				return
			}
		}
	}
}

func (f *Feed) readLoop(ctx context.Context, c *conn, sess types.Session, ev socket.Events) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// closed by us
			default:
				ev.Closed(err)
			}
			c.close()
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug(ctx, "Ignoring malformed feed message", "error", err)
			continue
		}

		switch types.String(msg["t"]) {
		case "ck":
			if types.String(msg["s"]) != "OK" {
				ev.AuthFailed(types.NewAuthError(Venue, "socket", "feed rejected session: "+types.String(msg["s"])))
				return
			}
			if err := c.write(map[string]string{"t": "o", "actid": sess.AccountID}); err != nil {
				logger.Warn(ctx, "Order update subscription failed", "error", err)
			}
			ev.Open()
		case "tk", "tf":
			if t, ok := normalizeTick(msg); ok {
				ev.Tick(t)
			}
		case "om":
			ev.Order(normalizeOrder(msg))
		}
	}
}

// normalizeTick maps a touchline frame. tf frames only carry changed
// fields, so zero values are left for the adapter's merge to fill.
func normalizeTick(msg map[string]any) (types.Tick, bool) {
	exch, token := types.String(msg["e"]), types.String(msg["tk"])
	if exch == "" || token == "" {
		return types.Tick{}, false
	}
	t := types.Tick{
		InstrumentID: exch + "|" + token,
		Venue:        Venue,
		LTP:          types.Float(msg["lp"]),
		Payload:      make(map[string]any),
	}
	if ft := types.Float(msg["ft"]); ft > 0 {
		t.Time = int64(ft) * 1000
	} else {
		t.Time = time.Now().UnixMilli()
	}
	for k, v := range msg {
		switch k {
		case "t", "e", "tk", "lp", "ft":
			continue
		}
		if f := types.Float(v); f != 0 {
			t.Payload[k] = f
		} else {
			t.Payload[k] = v
		}
	}
	return t, true
}

func normalizeOrder(msg map[string]any) types.OrderEvent {
	return types.OrderEvent{
		Venue:   Venue,
		OrderID: types.String(msg["norenordno"]),
		Symbol:  types.String(msg["tsym"]),
		Side:    types.String(msg["trantype"]),
		Status:  normalizeStatus(types.String(msg["status"])),
		Message: types.String(msg["rejreason"]),
	}
}

func normalizeStatus(s string) string {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return types.OrderComplete
	case "REJECTED":
		return types.OrderRejected
	case "CANCELED", "CANCELLED":
		return types.OrderCancelled
	default:
		return types.OrderOpen
	}
}
