package usage

import (
	"context"
	"fmt"
	"time"

	"radgate.org/internal/radius"
)

// Totals is an account's consumption as of a point in time, re-derived from
// the accounting relation on every call. Cached counters are never trusted;
// recomputing from source avoids compounding drift from missed sweep runs or
// clock skew.
type Totals struct {
	Today    int64
	Week     int64
	Month    int64
	Lifetime int64
	AsOf     time.Time
}

// Aggregator sums accounting counters over wall-clock windows (calendar day,
// ISO week, calendar month) anchored to the query time.
type Aggregator struct {
	acct radius.Accounting
	loc  *time.Location
}

// Option configures the Aggregator.
type Option func(*Aggregator)

// WithLocation sets the time zone that defines window boundaries. Defaults
// to UTC.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// New constructs an Aggregator over the accounting relation.
func New(acct radius.Accounting, opts ...Option) *Aggregator {
	a := &Aggregator{acct: acct, loc: time.UTC}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Usage computes today/week/month/lifetime byte totals for an account.
func (a *Aggregator) Usage(ctx context.Context, username string, asOf time.Time) (Totals, error) {
	asOf = asOf.In(a.loc)
	t := Totals{AsOf: asOf}

	windows := []struct {
		name string
		from time.Time
		dst  *int64
	}{
		{"today", DayStart(asOf), &t.Today},
		{"week", WeekStart(asOf), &t.Week},
		{"month", MonthStart(asOf), &t.Month},
		{"lifetime", time.Time{}, &t.Lifetime},
	}
	for _, w := range windows {
		o, err := a.acct.TotalsSince(ctx, username, w.from)
		if err != nil {
			return Totals{}, fmt.Errorf("usage: %s window for %s: %w", w.name, username, err)
		}
		*w.dst = o.Total()
	}
	return t, nil
}

// DayStart returns midnight of asOf's calendar day.
func DayStart(asOf time.Time) time.Time {
	y, m, d := asOf.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, asOf.Location())
}

// WeekStart returns midnight of the Monday of asOf's ISO week.
func WeekStart(asOf time.Time) time.Time {
	day := DayStart(asOf)
	wd := int(day.Weekday())
	if wd == 0 { // Sunday closes the ISO week
		wd = 7
	}
	return day.AddDate(0, 0, -(wd - 1))
}

// MonthStart returns midnight of the first day of asOf's calendar month.
func MonthStart(asOf time.Time) time.Time {
	y, m, _ := asOf.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, asOf.Location())
}
