package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/state"
	"tradedesk/internal/task"
	"tradedesk/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	AlertsID    = "alerts"
	AlertsTimer = "alertsInterval"

	Above = "above"
	Below = "below"
)

type Alert struct {
	ID           string  `json:"id"`
	Venue        string  `json:"venue"`
	InstrumentID string  `json:"instrumentId"`
	Target       float64 `json:"target"`
	Direction    string  `json:"direction"`
	Persistent   bool    `json:"persistent"`
	Active       bool    `json:"active"`
}

func (al Alert) hit(ltp decimal.Decimal) bool {
	target := decimal.NewFromFloat(al.Target)
	if al.Direction == Below {
		return ltp.LessThanOrEqual(target)
	}
	return ltp.GreaterThanOrEqual(target)
}

// Alerts checks price alerts against the venues' tick caches.
type Alerts struct {
	*state.Container

	sources  map[string]interfaces.TickSource
	interval time.Duration

	mu sync.Mutex
	// armed tracks persistent alerts; they fire again only after the price
	// moves back across the target.
	armed map[string]bool
}

func NewAlerts(deps Deps, sources map[string]interfaces.TickSource, interval time.Duration) *Alerts {
	if interval <= 0 {
		interval = time.Second
	}
	return &Alerts{
		Container: state.NewContainer(AlertsID, map[string]any{
			"alerts": []any{},
		}, deps.State, AlertsTimer),
		sources:  sources,
		interval: interval,
		armed:    make(map[string]bool),
	}
}

func (a *Alerts) List() []Alert {
	var out []Alert
	if err := types.Decode(a.Get("alerts"), &out); err != nil {
		logger.Warn(context.Background(), "Unreadable alerts", "error", err)
	}
	return out
}

// Add stores al as active, assigning an id when it has none.
func (a *Alerts) Add(al Alert) Alert {
	if al.ID == "" {
		al.ID = uuid.NewString()
	}
	if al.Direction != Below {
		al.Direction = Above
	}
	al.Active = true
	list := append(a.List(), al)
	a.SetState(map[string]any{"alerts": types.ToMaps(list), state.PersistFlag: true}, false)
	return al
}

// Check fires every active alert whose target the latest tick has reached
// and returns the fired ids.
func (a *Alerts) Check(ctx context.Context) []string {
	list := a.List()
	var fired, notes []string
	changed := false

	a.mu.Lock()
	for i, al := range list {
		if !al.Active {
			continue
		}
		src, ok := a.sources[al.Venue]
		if !ok {
			continue
		}
		tick, ok := src.LatestTick(al.InstrumentID)
		if !ok || tick.LTP == 0 {
			continue
		}
		ltp := decimal.NewFromFloat(tick.LTP)
		if !al.hit(ltp) {
			a.armed[al.ID] = true
			continue
		}
		if armed, seen := a.armed[al.ID]; seen && !armed {
			continue
		}

		fired = append(fired, al.ID)
		if al.Persistent {
			a.armed[al.ID] = false
		} else {
			list[i].Active = false
			delete(a.armed, al.ID)
			changed = true
		}
		notes = append(notes, fmt.Sprintf("%s %s %s %s at %s",
			al.Venue, al.InstrumentID, al.Direction, decimal.NewFromFloat(al.Target).String(), ltp.String()))
	}
	a.mu.Unlock()

	if changed {
		a.SetState(map[string]any{"alerts": types.ToMaps(list), state.PersistFlag: true}, false)
	}
	for _, n := range notes {
		logger.Info(ctx, "Price alert hit", "alert", n)
		a.Notifier().Success(ctx, n)
	}
	return fired
}

func (a *Alerts) StartingFunctionsAtInitialize(ctx context.Context) error {
	a.SetIntervalAndUpdate(AlertsTimer, task.Every(a.interval, func() {
		a.Check(ctx)
	}))
	return nil
}
