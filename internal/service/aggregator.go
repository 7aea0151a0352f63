package service

import (
	"context"
	"sync"
	"time"

	"floatingtimer/backend/internal/clock"
	"floatingtimer/backend/internal/model"
)

type EntryQuerier interface {
	QueryRange(ctx context.Context, ownerID string, from, to time.Time) ([]model.TimeEntry, error)
}

// Aggregator keeps a snapshot of the current week's entries and derives the
// today/week totals from it. Reads re-filter the snapshot by the day and week
// containing now. Entries are attributed to the day their start_time falls
// on; nothing is split across midnight.
type Aggregator struct {
	store     EntryQuerier
	clock     clock.Clock
	ownerID   string
	location  *time.Location
	weekStart time.Weekday

	mu      sync.RWMutex
	loaded  bool
	dayFrom time.Time
	dayTo   time.Time
	entries []model.TimeEntry
}

func NewAggregator(store EntryQuerier, clk clock.Clock, ownerID string, location *time.Location, weekStart time.Weekday) *Aggregator {
	if location == nil {
		location = time.Local
	}
	return &Aggregator{
		store:     store,
		clock:     clk,
		ownerID:   ownerID,
		location:  location,
		weekStart: weekStart,
	}
}

func (a *Aggregator) Refresh(ctx context.Context) error {
	now := a.clock.Now()
	dayFrom, dayTo := DayRange(now, a.location)
	weekFrom, weekTo := WeekRange(now, a.location, a.weekStart)

	entries, err := a.store.QueryRange(ctx, a.ownerID, weekFrom, weekTo)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.loaded = true
	a.dayFrom, a.dayTo = dayFrom, dayTo
	a.entries = entries
	return nil
}

// Stale reports whether now has left the day the snapshot was taken for.
func (a *Aggregator) Stale(now time.Time) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.loaded || !within(now, a.dayFrom, a.dayTo)
}

func (a *Aggregator) TodayEntries(now time.Time) []model.TimeEntry {
	from, to := DayRange(now, a.location)

	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.TimeEntry, 0, len(a.entries))
	for _, entry := range a.entries {
		if within(entry.StartTime, from, to) {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// TodayTotalMinutes adds the live entry's whole minutes when it started today.
func (a *Aggregator) TodayTotalMinutes(now time.Time, live *model.TimeEntry, liveSeconds int64) int {
	from, to := DayRange(now, a.location)
	return a.totalMinutes(from, to, live, liveSeconds)
}

func (a *Aggregator) WeekTotalMinutes(now time.Time, live *model.TimeEntry, liveSeconds int64) int {
	from, to := WeekRange(now, a.location, a.weekStart)
	return a.totalMinutes(from, to, live, liveSeconds)
}

func (a *Aggregator) totalMinutes(from, to time.Time, live *model.TimeEntry, liveSeconds int64) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0
	for _, entry := range a.entries {
		if entry.Finalized() && entry.DurationMinutes != nil && within(entry.StartTime, from, to) {
			total += *entry.DurationMinutes
		}
	}
	return total + liveMinutes(live, liveSeconds, from, to)
}

func liveMinutes(live *model.TimeEntry, liveSeconds int64, from, to time.Time) int {
	if live == nil || live.Finalized() || liveSeconds <= 0 {
		return 0
	}
	if !within(live.StartTime, from, to) {
		return 0
	}
	return int(liveSeconds / 60)
}
