// Package dates enumerates the calendar dates a run attempts and resolves where a run resumes.
package dates

import (
	"context"
	"fmt"
	"time"
)

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsWeekday reports whether t falls Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Range returns the ascending inclusive dates from start to end. A zero end or an end after today
// is clamped to today. A start after the effective end yields no dates.
func Range(start, end, today time.Time, weekdaysOnly bool) []time.Time {
	start, today = Day(start), Day(today)
	if end.IsZero() || Day(end).After(today) {
		end = today
	}
	end = Day(end)
	if start.After(end) {
		return nil
	}
	out := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if weekdaysOnly && !IsWeekday(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ResumeFrom picks the first date of a run: next when a checkpoint is present and later than start.
func ResumeFrom(start, next time.Time, ok bool) time.Time {
	start = Day(start)
	if ok && Day(next).After(start) {
		return Day(next)
	}
	return start
}

// ExistsFunc reports whether the issue for date was already stored.
type ExistsFunc func(ctx context.Context, date time.Time) (bool, error)

const sampleInterval = 3 // months

// ProbeResume finds the index of the first date in dates whose issue is not stored, assuming
// stored issues form a prefix of dates. It samples one date per quarter until it meets a gap,
// then binary searches between the last stored sample and the gap. It returns len(dates) when
// every date is stored.
func ProbeResume(ctx context.Context, dates []time.Time, exists ExistsFunc) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	check := func(i int) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := exists(ctx, dates[i])
		if err != nil {
			return false, fmt.Errorf("probe %s: %w", dates[i].Format(time.DateOnly), err)
		}
		return ok, nil
	}

	lo, hi := -1, len(dates)
	next := dates[0]
	for i, d := range dates {
		if d.Before(next) {
			continue
		}
		ok, err := check(i)
		if err != nil {
			return 0, err
		}
		if !ok {
			hi = i
			break
		}
		lo = i
		next = d.AddDate(0, sampleInterval, 0)
	}

	if hi == len(dates) && lo < len(dates)-1 {
		ok, err := check(len(dates) - 1)
		if err != nil {
			return 0, err
		}
		if ok {
			return len(dates), nil
		}
		hi = len(dates) - 1
	}

	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		ok, err := check(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}
