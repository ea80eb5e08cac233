package types

import "time"

// Tick is the venue-neutral market update for one instrument.
type Tick struct {
	InstrumentID string         `json:"instrumentId"`
	Venue        string         `json:"venue"`
	LTP          float64        `json:"ltp"`
	Time         int64          `json:"time"` // unix millis
	Payload      map[string]any `json:"payload,omitempty"`
}

type Position struct {
	InstrumentID string  `json:"instrumentId"`
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Product      string  `json:"product"`
	NetQty       int     `json:"netQty"`
	AvgPrice     float64 `json:"avgPrice"`
	LastPrice    float64 `json:"lastPrice"`
	RealizedPnL  float64 `json:"realizedPnl"`
	Multiplier   float64 `json:"multiplier"`
}

type FundInfo struct {
	OpenBalance float64 `json:"openBalance"`
	Available   float64 `json:"available"`
	MarginUsed  float64 `json:"marginUsed"`
}

// Order statuses shared by both venues after normalization.
const (
	OrderComplete  = "COMPLETE"
	OrderRejected  = "REJECTED"
	OrderCancelled = "CANCELLED"
	OrderOpen      = "OPEN"
)

type OrderEvent struct {
	Venue   string `json:"venue"`
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether no further updates are expected for the order.
func (e OrderEvent) Terminal() bool {
	switch e.Status {
	case OrderComplete, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

// Session is the credential a venue hands back after login.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	AccountID string `json:"accountId"`
}

// Message is the envelope pushed to websocket clients.
type Message struct {
	Event           string `json:"event"`
	Data            any    `json:"data"`
	FromServerState bool   `json:"fromServerState"`
}

// Inbound is what clients send to mutate a domain.
type Inbound struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelError   NotificationLevel = "error"
)

type Notification struct {
	ID          string            `json:"id"`
	Level       NotificationLevel `json:"type"`
	Description string            `json:"description"`
	Time        time.Time         `json:"time"`
}

// LockData records the protective condition that locked an account.
type LockData struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	LockedAt       int64  `json:"lockedAt"`   // unix millis
	LockedTill     int64  `json:"lockedTill"` // unix millis
	ClosePositions bool   `json:"closePositions"`
	DisableForDay  bool   `json:"disableForDay"`
}

// Active reports whether the lock still holds at now.
func (l LockData) Active(now time.Time) bool {
	return l.ID != "" && now.UnixMilli() < l.LockedTill
}
