package kite

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradedesk/internal/broker/socket"
	"tradedesk/internal/logger"
	"tradedesk/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"
)

// Feed is the Kite ticker transport. Auto-reconnect is off; the socket
// adapter supervises reconnects.
type Feed struct {
	apiKey string

	mu     sync.Mutex
	ticker *kiteticker.Ticker
	cancel context.CancelFunc
}

var _ socket.Transport = (*Feed)(nil)

func NewFeed(apiKey string) *Feed {
	return &Feed{apiKey: apiKey}
}

func (f *Feed) Dial(ctx context.Context, sess types.Session, ev socket.Events) error {
	_ = f.Close()

	t := kiteticker.New(f.apiKey, sess.Token)
	t.SetAutoReconnect(false)
	t.OnConnect(ev.Open)
	t.OnError(func(err error) {
		logger.Warn(ctx, "Kite ticker error", "error", err)
		ev.Closed(err)
	})
	t.OnClose(func(code int, reason string) {
		ev.Closed(fmt.Errorf("kite ticker closed: %d %s", code, reason))
	})
	t.OnTick(func(tick models.Tick) {
		ev.Tick(normalizeTick(tick))
	})
	t.OnOrderUpdate(func(o kiteconnect.Order) {
		ev.Order(normalizeOrder(o))
	})

	serveCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.ticker, f.cancel = t, cancel
	f.mu.Unlock()

	go t.ServeWithContext(serveCtx)
	return nil
}

func (f *Feed) current() *kiteticker.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticker
}

func (f *Feed) Subscribe(ids []string) error {
	t := f.current()
	if t == nil {
		return fmt.Errorf("kite ticker is not connected")
	}
	tokens, err := parseTokens(ids)
	if err != nil {
		return err
	}
	if err := t.Subscribe(tokens); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := t.SetMode(kiteticker.ModeFull, tokens); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	return nil
}

func (f *Feed) Unsubscribe(ids []string) error {
	t := f.current()
	if t == nil {
		return nil
	}
	tokens, err := parseTokens(ids)
	if err != nil {
		return err
	}
	return t.Unsubscribe(tokens)
}

func (f *Feed) Close() error {
	f.mu.Lock()
	t, cancel := f.ticker, f.cancel
	f.ticker, f.cancel = nil, nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Stop()
	}
	return nil
}

// parseTokens converts instrument ids, which for Kite are the decimal
// instrument tokens.
func parseTokens(ids []string) ([]uint32, error) {
	tokens := make([]uint32, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid kite instrument token %q: %w", id, err)
		}
		tokens = append(tokens, uint32(n))
	}
	return tokens, nil
}

func normalizeTick(t models.Tick) types.Tick {
	ts := time.Now().UnixMilli()
	if !t.Timestamp.Time.IsZero() {
		ts = t.Timestamp.Time.UnixMilli()
	}
	return types.Tick{
		InstrumentID: strconv.FormatUint(uint64(t.InstrumentToken), 10),
		Venue:        Venue,
		LTP:          t.LastPrice,
		Time:         ts,
		Payload: map[string]any{
			"open":     t.OHLC.Open,
			"high":     t.OHLC.High,
			"low":      t.OHLC.Low,
			"close":    t.OHLC.Close,
			"volume":   float64(t.VolumeTraded),
			"oi":       float64(t.OI),
			"change":   t.NetChange,
			"avgPrice": t.AverageTradePrice,
		},
	}
}

func normalizeOrder(o kiteconnect.Order) types.OrderEvent {
	return types.OrderEvent{
		Venue:   Venue,
		OrderID: o.OrderID,
		Symbol:  o.TradingSymbol,
		Side:    o.TransactionType,
		Status:  normalizeStatus(o.Status),
		Message: o.StatusMessage,
	}
}

func normalizeStatus(s string) string {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return types.OrderComplete
	case "REJECTED":
		return types.OrderRejected
	case "CANCELLED", "CANCELED":
		return types.OrderCancelled
	default:
		return types.OrderOpen
	}
}
