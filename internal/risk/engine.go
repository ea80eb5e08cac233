// Package risk evaluates an account's live figures against its protective
// conditions and applies the first one that matches.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradedesk/internal/eod"
	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/state"
	"tradedesk/internal/tradelog"
	"tradedesk/internal/types"

	"github.com/shopspring/decimal"
)

// Account is the broker account the engine protects.
type Account interface {
	ID() string
	LoggedIn() bool
	LivePnL() float64
	TradeCount() int
	OpenBalance() float64
	MaxProfitOfDay() float64
	LockData() types.LockData
	// RiskLimits returns the thresholds in force right now.
	RiskLimits() Limits
	SetState(partial map[string]any, fullReplace bool)
	CloseAllPositions(ctx context.Context) error
	ClearIntervalAndUpdate(name string)
}

type Deps struct {
	Notifier interfaces.Notifier
	Journal  interfaces.Journal
	Now      func() time.Time
}

type Engine struct {
	acct      Account
	timerName string
	notifier  interfaces.Notifier
	journal   interfaces.Journal
	now       func() time.Time

	mu sync.Mutex
}

// New builds an engine for acct. timerName is the registration the engine
// clears when a condition disables it for the day. Limits are read from
// acct on every cycle.
func New(acct Account, timerName string, deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		acct:      acct,
		timerName: timerName,
		notifier:  deps.Notifier,
		journal:   deps.Journal,
		now:       now,
	}
}

func (e *Engine) TimerName() string {
	return e.timerName
}

// Evaluate runs one cycle and returns the id of the condition that fired,
// or "" when none did. Cycles never overlap.
func (e *Engine) Evaluate(ctx context.Context) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.acct.LoggedIn() {
		return ""
	}
	now := e.now()
	lock := e.acct.LockData()
	if lock.DisableForDay && lock.Active(now) {
		return ""
	}

	pnl := decimal.NewFromFloat(e.acct.LivePnL())
	peak := decimal.NewFromFloat(e.acct.MaxProfitOfDay())
	if pnl.GreaterThan(peak) {
		peak = pnl
		e.acct.SetState(map[string]any{
			"maxProfitOfDay":  peak.InexactFloat64(),
			state.PersistFlag: true,
		}, false)
	}

	in := Inputs{
		PnL:         pnl,
		Peak:        peak,
		OpenBalance: decimal.NewFromFloat(e.acct.OpenBalance()),
		TradeCount:  e.acct.TradeCount(),
		Now:         now,
	}

	limits := e.acct.RiskLimits()
	for _, c := range Conditions(limits) {
		// A cool-down only suppresses the condition that set it.
		if lock.ID == c.ID && lock.Active(now) {
			continue
		}
		if !c.Predicate(in, limits) {
			continue
		}
		e.fire(ctx, c, in)
		return c.ID
	}
	return ""
}

func (e *Engine) fire(ctx context.Context, c Condition, in Inputs) {
	id := e.acct.ID()
	lockedTill := in.Now.Add(c.LockFor)
	if c.LockFor <= 0 {
		lockedTill = eod.At(in.Now, 0, 0).AddDate(0, 0, 1)
	}
	lock := types.LockData{
		ID:             c.ID,
		Status:         c.Status,
		LockedAt:       in.Now.UnixMilli(),
		LockedTill:     lockedTill.UnixMilli(),
		ClosePositions: c.Close,
		DisableForDay:  c.DisableForDay,
	}

	logger.Risk(ctx, id, c.ID,
		"pnl", in.PnL.StringFixed(2),
		"peak", in.Peak.StringFixed(2),
		"trade_count", in.TradeCount,
		"locked_till", lockedTill,
	)
	if e.notifier != nil {
		e.notifier.Error(ctx, fmt.Sprintf("%s: %s", id, c.Status))
	}

	e.acct.SetState(map[string]any{
		"accountLockData": types.ToMap(lock),
		state.PersistFlag: true,
	}, false)

	closeResult := ""
	if c.Close {
		closeResult = "closed"
		if err := e.acct.CloseAllPositions(ctx); err != nil {
			closeResult = types.UserMessage(err)
			logger.ErrorWithErr(ctx, "Close all positions failed", err, "account", id, "condition", c.ID)
			if e.notifier != nil {
				e.notifier.Error(ctx, fmt.Sprintf("%s: close all positions failed: %s", id, closeResult))
			}
		}
	}

	if c.DisableForDay {
		e.acct.ClearIntervalAndUpdate(e.timerName)
	}

	if e.journal != nil {
		err := e.journal.Append(tradelog.Entry{
			Kind:    tradelog.KindProtection,
			Domain:  id,
			Level:   c.ID,
			Message: c.Status,
			Extra: map[string]any{
				"pnl":        in.PnL.StringFixed(2),
				"peak":       in.Peak.StringFixed(2),
				"tradeCount": in.TradeCount,
				"close":      closeResult,
			},
		})
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to journal protective action", err, "account", id)
		}
	}
}
