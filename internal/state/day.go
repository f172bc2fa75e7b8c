package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ducminhle1904/futures-guardian/internal/logger"
)

// DaySnapshot is the persisted opening equity of one trading day
type DaySnapshot struct {
	DayOpen      time.Time `json:"day_open"`
	Timezone     string    `json:"timezone"`
	EquityAtOpen float64   `json:"equity_at_open"`
}

// DayTracker keeps the day-open equity the drawdown trigger measures against.
// The first equity seen in a trading day becomes that day's open and is
// persisted, so a restart during the day keeps the same reference.
type DayTracker struct {
	logger *logger.Logger
	loc    *time.Location
	path   string

	mu      sync.Mutex
	current *DaySnapshot
	loaded  bool
}

// NewDayTracker creates a tracker for trading days in timezone tz
func NewDayTracker(log *logger.Logger, tz, path string) (*DayTracker, error) {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return &DayTracker{logger: log.Named("day"), loc: loc, path: path}, nil
}

// TodayOpen returns midnight of now's trading day in the tracker's timezone
func (d *DayTracker) TodayOpen(now time.Time) time.Time {
	t := now.In(d.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, d.loc)
}

// Observe returns the day-open equity for now's trading day, seeding it from
// equity when the day has no open yet. rolled reports a new day was started.
func (d *DayTracker) Observe(now time.Time, equity float64) (dayOpenEquity float64, rolled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		d.loaded = true
		if snap, err := d.load(); err == nil {
			d.current = snap
		} else if !os.IsNotExist(err) {
			d.logger.LogWarning("Day snapshot", "ignoring unreadable %s: %v", d.path, err)
		}
	}

	open := d.TodayOpen(now)
	if d.current != nil && d.current.DayOpen.Equal(open) {
		return d.current.EquityAtOpen, false
	}

	d.current = &DaySnapshot{DayOpen: open, Timezone: d.loc.String(), EquityAtOpen: equity}
	if d.path != "" {
		if err := writeAtomic(d.path, d.current); err != nil {
			d.logger.LogError("Save day snapshot", err)
		}
	}
	d.logger.Info("New trading day %s, equity at open %.2f", open.Format("2006-01-02"), equity)
	return equity, true
}

// Current returns the active day snapshot, or nil before the first Observe
func (d *DayTracker) Current() *DaySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	c := *d.current
	return &c
}

func (d *DayTracker) load() (*DaySnapshot, error) {
	if d.path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	var snap DaySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	snap.DayOpen = snap.DayOpen.In(d.loc)
	return &snap, nil
}
