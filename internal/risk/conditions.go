package risk

import (
	"time"

	"tradedesk/internal/eod"
	"tradedesk/internal/store"

	"github.com/shopspring/decimal"
)

// Condition ids, in evaluation order.
const (
	SecuredProfitGiveback = "securedProfitGiveback"
	MaxTradeCount         = "maxTradeCount"
	MaxDailyLoss          = "maxDailyLoss"
	HalfLossWarning       = "halfLossWarning"
)

// Limits are the configured thresholds for one account.
type Limits struct {
	SecurePercent     float64
	WarningCutoffHour int
	CoolDown          time.Duration
	MaxLossOfDayInRs  float64
	MaxTradeCount     int
}

func LimitsFromConfig(cfg *store.Config) Limits {
	return Limits{
		SecurePercent:     cfg.Risk.SecurePercent,
		WarningCutoffHour: cfg.Risk.WarningCutoffHour,
		CoolDown:          cfg.CoolDown(),
		MaxLossOfDayInRs:  cfg.Risk.MaxLossOfDayInRs,
		MaxTradeCount:     cfg.Risk.MaxTradeCount,
	}
}

// Inputs are the figures one evaluation cycle reads.
type Inputs struct {
	PnL         decimal.Decimal
	Peak        decimal.Decimal
	OpenBalance decimal.Decimal
	TradeCount  int
	Now         time.Time
}

// Condition is one protective rule. A zero LockFor locks until the end of
// the IST day.
type Condition struct {
	ID            string
	Status        string
	LockFor       time.Duration
	Close         bool
	DisableForDay bool
	Predicate     func(in Inputs, l Limits) bool
}

// Conditions returns the protective rules in priority order. The first
// matching rule wins.
func Conditions(l Limits) []Condition {
	return []Condition{
		{
			ID:            SecuredProfitGiveback,
			Status:        "Profit fell below the secured share of the day's peak",
			Close:         true,
			DisableForDay: true,
			Predicate:     securedProfitGiveback,
		},
		{
			ID:            MaxTradeCount,
			Status:        "Max trade count of the day reached",
			DisableForDay: true,
			Predicate:     maxTradeCount,
		},
		{
			ID:            MaxDailyLoss,
			Status:        "Max loss of the day reached",
			Close:         true,
			DisableForDay: true,
			Predicate:     maxDailyLoss,
		},
		{
			ID:        HalfLossWarning,
			Status:    "Half of the day's max loss reached, account locked for cool-down",
			LockFor:   l.CoolDown,
			Close:     true,
			Predicate: halfLossWarning,
		},
	}
}

func securedProfitGiveback(in Inputs, l Limits) bool {
	if !in.OpenBalance.IsPositive() || l.SecurePercent <= 0 {
		return false
	}
	half := in.OpenBalance.Div(decimal.NewFromInt(2))
	if !in.Peak.GreaterThan(half) {
		return false
	}
	secured := in.Peak.Mul(decimal.NewFromFloat(l.SecurePercent)).Div(decimal.NewFromInt(100))
	return in.PnL.LessThan(secured)
}

func maxTradeCount(in Inputs, l Limits) bool {
	return l.MaxTradeCount > 0 && in.TradeCount >= l.MaxTradeCount
}

func maxDailyLoss(in Inputs, l Limits) bool {
	if l.MaxLossOfDayInRs <= 0 {
		return false
	}
	return in.PnL.LessThanOrEqual(decimal.NewFromFloat(l.MaxLossOfDayInRs).Neg())
}

func halfLossWarning(in Inputs, l Limits) bool {
	if l.MaxLossOfDayInRs <= 0 {
		return false
	}
	if in.Now.In(eod.IST).Hour() >= l.WarningCutoffHour {
		return false
	}
	half := decimal.NewFromFloat(l.MaxLossOfDayInRs).Div(decimal.NewFromInt(2))
	return in.PnL.LessThanOrEqual(half.Neg())
}
