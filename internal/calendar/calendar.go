// Package calendar maps calendar dates to business days using weekend and
// holiday tables. All date arithmetic is at day granularity in UTC; the
// only local-time computation is AlertSendTimestamp.
package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HolidaySource supplies the holiday dates for one country. An empty
// country code returns only the universal holidays; a concrete code
// returns universal plus country-specific dates.
type HolidaySource interface {
	HolidayDates(ctx context.Context, country string) ([]time.Time, error)
}

// cacheTTL is how long a country's holiday set is served before a lazy
// refresh on the next miss.
const cacheTTL = time.Hour

type holidayCacheEntry struct {
	dates     map[string]bool // keyed by "2006-01-02"
	refreshed time.Time
}

// Calendar answers business-day questions. Holiday lookups are cached per
// country; concurrent refreshes race harmlessly since they produce the
// same set.
type Calendar struct {
	source HolidaySource
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]holidayCacheEntry
}

func New(source HolidaySource) *Calendar {
	return &Calendar{
		source: source,
		now:    time.Now,
		cache:  make(map[string]holidayCacheEntry),
	}
}

// WithClock overrides the cache clock. Test hook.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	c.now = now
	return c
}

func dateKey(d time.Time) string {
	return d.Format("2006-01-02")
}

// truncate strips the time-of-day component.
func truncate(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

func (c *Calendar) holidays(ctx context.Context, country string) (map[string]bool, error) {
	c.mu.RLock()
	entry, ok := c.cache[country]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.refreshed) < cacheTTL {
		return entry.dates, nil
	}

	dates, err := c.source.HolidayDates(ctx, country)
	if err != nil {
		// Serve stale data over failing the computation when we have any.
		if ok {
			return entry.dates, nil
		}
		return nil, fmt.Errorf("loading holidays for %q: %w", country, err)
	}

	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		set[dateKey(d)] = true
	}

	c.mu.Lock()
	c.cache[country] = holidayCacheEntry{dates: set, refreshed: c.now()}
	c.mu.Unlock()
	return set, nil
}

// IsBusinessDay reports whether d is neither a weekend day nor a holiday
// for the given country.
func (c *Calendar) IsBusinessDay(ctx context.Context, d time.Time, country string) (bool, error) {
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, nil
	}
	set, err := c.holidays(ctx, country)
	if err != nil {
		return false, err
	}
	return !set[dateKey(d)], nil
}

// iterationCap bounds the date walk for n business days. Degenerate
// holiday sets (every day a holiday) terminate instead of spinning.
func iterationCap(n int) int {
	return 3*n + 30
}

// BusinessDaysBefore walks backward from target until n business days have
// been counted. With n=0 it returns target itself when target is a
// business day, else the nearest business day before it.
func (c *Calendar) BusinessDaysBefore(ctx context.Context, target time.Time, n int, country string) (time.Time, error) {
	return c.step(ctx, target, n, -1, country)
}

// BusinessDaysAfter walks forward from start until n business days have
// been counted.
func (c *Calendar) BusinessDaysAfter(ctx context.Context, start time.Time, n int, country string) (time.Time, error) {
	return c.step(ctx, start, n, +1, country)
}

func (c *Calendar) step(ctx context.Context, from time.Time, n, dir int, country string) (time.Time, error) {
	d := truncate(from)
	if n == 0 {
		// Same-day semantics: today if today is a business day, else the
		// previous (or next, going forward) business day.
		for i := 0; i < iterationCap(1); i++ {
			ok, err := c.IsBusinessDay(ctx, d, country)
			if err != nil {
				return time.Time{}, err
			}
			if ok {
				return d, nil
			}
			d = d.AddDate(0, 0, dir)
		}
		return time.Time{}, fmt.Errorf("no business day found near %s", dateKey(from))
	}

	counted := 0
	for i := 0; i < iterationCap(n); i++ {
		d = d.AddDate(0, 0, dir)
		ok, err := c.IsBusinessDay(ctx, d, country)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			counted++
			if counted == n {
				return d, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("exceeded iteration cap counting %d business days from %s", n, dateKey(from))
}

// BusinessDaysBetween counts business days in [a, b). Returns 0 when b is
// not after a.
func (c *Calendar) BusinessDaysBetween(ctx context.Context, a, b time.Time, country string) (int, error) {
	start, end := truncate(a), truncate(b)
	if !end.After(start) {
		return 0, nil
	}
	count := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		ok, err := c.IsBusinessDay(ctx, d, country)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// AlertSendTimestamp resolves the alert date via BusinessDaysBefore,
// anchors it at localTime ("15:04") in tz, and converts to UTC.
func (c *Calendar) AlertSendTimestamp(ctx context.Context, deadline time.Time, localTime, tz string, daysBefore int, country string) (time.Time, error) {
	alertDate, err := c.BusinessDaysBefore(ctx, deadline, daysBefore, country)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	t, err := time.Parse("15:04", localTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing alert time of day %q: %w", localTime, err)
	}

	local := time.Date(alertDate.Year(), alertDate.Month(), alertDate.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	return local.UTC(), nil
}
