// Package market answers whether the exchange is open, on holiday or closed.
package market

import (
	"context"
	"time"

	"tradedesk/internal/eod"
	"tradedesk/internal/logger"

	"github.com/scmhub/calendar"
)

const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusHoliday = "holiday"
)

// Calendar wraps an exchange calendar. When the MIC is unknown it falls back
// to Mon-Fri 09:15-15:30 IST.
type Calendar struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

func NewCalendar(mic string) *Calendar {
	if mic == "" {
		mic = "xnse"
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		logger.Warn(context.Background(), "No exchange calendar for MIC, using weekday fallback", "mic", mic)
		return &Calendar{fallback: true, loc: eod.IST}
	}
	loc := cal.Loc
	if loc == nil {
		loc = eod.IST
	}
	return &Calendar{cal: cal, loc: loc}
}

// Fallback returns the weekday-only calendar.
func Fallback() *Calendar {
	return &Calendar{fallback: true, loc: eod.IST}
}

func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if c.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return c.cal.IsBusinessDay(t)
}

func (c *Calendar) IsOpen(t time.Time) bool {
	t = t.In(c.loc)
	if c.fallback {
		if !c.IsTradingDay(t) {
			return false
		}
		return !t.Before(eod.At(t, 9, 15)) && t.Before(eod.At(t, 15, 30))
	}
	return c.cal.IsOpen(t)
}

// Status is one of StatusOpen, StatusHoliday or StatusClosed.
func (c *Calendar) Status(t time.Time) string {
	switch {
	case !c.IsTradingDay(t):
		return StatusHoliday
	case c.IsOpen(t):
		return StatusOpen
	default:
		return StatusClosed
	}
}
