// Package tradingcal maps forecast horizon offsets to actual future
// trading dates on the instrument's exchange calendar.
package tradingcal

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// Calendar wraps an exchange calendar with a weekday fallback for
// markets the library does not cover.
type Calendar struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
}

// ForSymbol resolves a calendar from the symbol's venue suffix
// (ISO 10383 MIC), defaulting to the configured MIC.
func ForSymbol(symbol, defaultMIC string) *Calendar {
	mic := defaultMIC
	switch {
	case strings.HasSuffix(symbol, ".L"):
		mic = "xlon"
	case strings.HasSuffix(symbol, ".PA"):
		mic = "xpar"
	case strings.HasSuffix(symbol, ".DE"):
		mic = "xfra"
	case strings.HasSuffix(symbol, ".T"):
		mic = "xtks"
	case strings.HasSuffix(symbol, ".HK"):
		mic = "xhkg"
	case strings.HasSuffix(symbol, ".AX"):
		mic = "xasx"
	case strings.HasSuffix(symbol, ".TO"):
		mic = "xtse"
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &Calendar{fallback: true, loc: loc}
	}
	return &Calendar{cal: cal, loc: cal.Loc}
}

// IsTradingDay reports whether the exchange is open on the given
// calendar date. The date components are taken as-is and rebuilt at
// midday in the exchange's location: converting the instant instead
// would shift a UTC-midnight date onto the previous local day for
// western exchanges.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	if c.loc != nil {
		y, m, d := t.Date()
		t = time.Date(y, m, d, 12, 0, 0, 0, c.loc)
	}
	if c.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return c.cal.IsBusinessDay(t)
}

// NextTradingDays returns the n trading days strictly after from.
func (c *Calendar) NextTradingDays(from time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	t := from
	for len(days) < n {
		t = t.AddDate(0, 0, 1)
		if c.IsTradingDay(t) {
			days = append(days, t)
		}
	}
	return days
}
