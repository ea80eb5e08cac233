package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"tradedesk/internal/logger"
	"tradedesk/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 256
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrClientSlow   = errors.New("client send buffer full")
)

// wsClient is a websocket-backed Channel.
type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan types.Message
	done chan struct{}
	once sync.Once
}

var _ Channel = (*wsClient)(nil)

func newWSClient(h *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan types.Message, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string {
	return c.id
}

// Send never blocks; a full buffer means the client is too slow.
func (c *wsClient) Send(msg types.Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrClientSlow
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.Disconnect(c.id)
		_ = c.conn.Close()
	})
}

// readPump routes inbound updates and watches the connection.
func (c *wsClient) readPump() {
	defer func() {
		c.close()
		logger.Info(context.Background(), "Client disconnected", "client", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn(context.Background(), "WebSocket read error", "client", c.id, "error", err)
			}
			return
		}

		var in types.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			logger.Warn(context.Background(), "Ignoring malformed client message", "client", c.id, "error", err)
			continue
		}
		c.hub.RouteInbound(in.Event, in.Data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Warn(context.Background(), "WebSocket write error", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
