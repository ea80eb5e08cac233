// Package eod holds trading-day helpers and the end-of-day journal summary.
package eod

import "time"

// IST is India Standard Time; every trading date is computed in it.
var IST = time.FixedZone("IST", 19800)

const dateLayout = "2006-01-02"

func Now() time.Time {
	return time.Now().In(IST)
}

// TradingDate is the IST calendar date of t, formatted YYYY-MM-DD.
func TradingDate(t time.Time) string {
	return t.In(IST).Format(dateLayout)
}

// ShouldRollOver reports whether now falls on a different IST date than
// lastInitDate. An empty lastInitDate always rolls over.
func ShouldRollOver(lastInitDate string, now time.Time) bool {
	return TradingDate(now) != lastInitDate
}

// At returns hour:minute IST on the date of t.
func At(t time.Time, hour, minute int) time.Time {
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, IST)
}

// MarketCloseTime is when the daily summary becomes due.
func MarketCloseTime(t time.Time) time.Time {
	return At(t, 15, 40)
}
