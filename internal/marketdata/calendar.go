package marketdata

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar knows which weekdays are exchange holidays
type Calendar struct {
	holidays map[string]struct{}
}

// NewCalendar parses holiday dates in YYYY-MM-DD form
func NewCalendar(holidays []string) (*Calendar, error) {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		d, err := time.Parse(dateLayout, h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday
func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c == nil {
		return true
	}
	_, holiday := c.holidays[t.Format(dateLayout)]
	return !holiday
}

// TradingDaysBetween counts trading days after from's date up to and including to's date.
// It returns zero when to is on or before from.
func (c *Calendar) TradingDaysBetween(from, to time.Time) int {
	start := truncateDay(from)
	end := truncateDay(to.In(from.Location()))
	if !end.After(start) {
		return 0
	}
	days := 0
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days++
		}
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
