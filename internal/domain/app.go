package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradedesk/internal/eod"
	"tradedesk/internal/logger"
	"tradedesk/internal/market"
	"tradedesk/internal/state"
	"tradedesk/internal/task"
)

const (
	AppID = "app"

	MarketStatusTimer = "marketStatusInterval"
	DayRolloverTimer  = "dayRolloverInterval"
)

// App carries process-wide flags: whether any broker is logged in, the
// market status and the last trading date the day hooks ran for.
type App struct {
	*state.Container

	calendar *market.Calendar
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]bool
}

func NewApp(deps Deps, cal *market.Calendar) *App {
	if cal == nil {
		cal = market.Fallback()
	}
	c := state.NewContainer(AppID, map[string]any{
		"loggedIn":     false,
		"marketStatus": market.StatusClosed,
		"lastInitDate": "",
		"brokers":      []string{},
	}, deps.State, MarketStatusTimer, DayRolloverTimer)
	return &App{
		Container: c,
		calendar:  cal,
		now:       eod.Now,
		sessions:  make(map[string]bool),
	}
}

// Track keeps app.loggedIn in step with acct.
func (a *App) Track(acct *Account) {
	acct.OnLoginChange(a.sessionChanged)
}

func (a *App) sessionChanged(venue string, loggedIn bool) {
	a.mu.Lock()
	a.sessions[venue] = loggedIn
	var brokers []string
	for v, in := range a.sessions {
		if in {
			brokers = append(brokers, v)
		}
	}
	a.mu.Unlock()

	sort.Strings(brokers)
	if brokers == nil {
		brokers = []string{}
	}
	a.SetState(map[string]any{
		"loggedIn": len(brokers) > 0,
		"brokers":  brokers,
	}, false)
}

func (a *App) LastInitDate() string {
	v, _ := a.Get("lastInitDate").(string)
	return v
}

func (a *App) SetLastInitDate(date string) {
	a.SetState(map[string]any{"lastInitDate": date, state.PersistFlag: true}, false)
}

// RefreshMarketStatus recomputes marketStatus and broadcasts on change.
func (a *App) RefreshMarketStatus() string {
	status := a.calendar.Status(a.now())
	if a.Get("marketStatus") != status {
		a.SetState(map[string]any{"marketStatus": status}, false)
		logger.Info(context.Background(), "Market status changed", "status", status)
	}
	return status
}

func (a *App) StartingFunctionsAtInitialize(ctx context.Context) error {
	a.RefreshMarketStatus()
	a.SetIntervalAndUpdate(MarketStatusTimer, task.Every(time.Minute, func() {
		a.RefreshMarketStatus()
	}))
	return nil
}
