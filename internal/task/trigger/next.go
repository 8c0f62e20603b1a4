package trigger

import (
	"time"
)

// maxCatchUpSteps bounds the walk over missed calendar fires after long
// downtime. Past it the missed count is extrapolated from the last spacing.
const maxCatchUpSteps = 10000

// ComputeNextFireTime returns the first fire instant strictly after after, in UTC.
// It returns the zero time when the schedule has no further fires.
func ComputeNextFireTime(spec Spec, after time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, err
	}
	switch spec.Kind {
	case KindInterval:
		return nextInterval(spec, after), nil
	case KindDaily:
		return nextDaily(spec, after), nil
	case KindOnce:
		if !spec.At.IsZero() && spec.At.After(after) {
			return spec.At.UTC(), nil
		}
		return time.Time{}, nil
	case KindCron:
		return nextCron(spec, after)
	}
	return time.Time{}, invalid("unknown schedule kind %d", int(spec.Kind))
}

// FirstFireTime returns the first fire instant at or after created.
func FirstFireTime(spec Spec, created time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, err
	}
	switch spec.Kind {
	case KindInterval:
		if spec.Start.After(created) {
			return spec.Start.UTC(), nil
		}
		if spec.Start.IsZero() {
			return created.UTC(), nil
		}
		// Anchored in the past: next grid instant at or after created.
		return nextInterval(spec, created.Add(-time.Nanosecond)), nil
	case KindDaily:
		return nextDaily(spec, created.Add(-time.Nanosecond)), nil
	case KindOnce:
		if spec.At.After(created) {
			return spec.At.UTC(), nil
		}
		return created.UTC(), nil
	case KindCron:
		next, err := nextCron(spec, created.Add(-time.Second))
		if err != nil {
			return time.Time{}, err
		}
		if next.Before(created) {
			return nextCron(spec, created)
		}
		return next, nil
	}
	return time.Time{}, invalid("unknown schedule kind %d", int(spec.Kind))
}

// CatchUp decides what happens after the fire due at due ran at now.
//
// A late fire counts as the single catch-up fire: every cadence instant in
// (due, now] is skipped and reported as missed, and next is the first
// instant strictly after now. A zero next means the trigger is exhausted.
func CatchUp(spec Spec, due, now time.Time) (next time.Time, missed int, err error) {
	if now.Before(due) {
		now = due
	}
	if spec.Kind == KindInterval {
		if err := spec.Validate(); err != nil {
			return time.Time{}, 0, err
		}
		n := int(now.Sub(due) / spec.Every)
		return due.Add(time.Duration(n+1) * spec.Every).UTC(), n, nil
	}

	next, err = ComputeNextFireTime(spec, due)
	if err != nil || next.IsZero() {
		return next, 0, err
	}
	prev := due
	for !next.After(now) {
		missed++
		if missed >= maxCatchUpSteps {
			// Count the rest of the backlog at the current spacing.
			if step := next.Sub(prev); step > 0 {
				missed += int(now.Sub(next) / step)
			}
			next, err = ComputeNextFireTime(spec, now)
			return next, missed, err
		}
		prev = next
		next, err = ComputeNextFireTime(spec, next)
		if err != nil || next.IsZero() {
			return next, missed, err
		}
	}
	return next, missed, nil
}

// Upcoming lists the next n fire instants starting at from (inclusive).
func Upcoming(spec Spec, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	t, err := FirstFireTime(spec, from)
	for err == nil && !t.IsZero() && len(out) < n {
		out = append(out, t)
		t, err = ComputeNextFireTime(spec, t)
	}
	return out, err
}

func nextInterval(spec Spec, after time.Time) time.Time {
	if spec.Start.IsZero() {
		return after.Add(spec.Every).UTC()
	}
	if spec.Start.After(after) {
		return spec.Start.UTC()
	}
	n := after.Sub(spec.Start) / spec.Every
	return spec.Start.Add((n + 1) * spec.Every).UTC()
}

func nextDaily(spec Spec, after time.Time) time.Time {
	loc := spec.location()
	local := after.In(loc)
	y, m, d := local.Date()
	cand := time.Date(y, m, d, spec.Hour, spec.Minute, 0, 0, loc)
	if !cand.After(after) {
		cand = time.Date(y, m, d+1, spec.Hour, spec.Minute, 0, 0, loc)
	}
	return cand.UTC()
}

func nextCron(spec Spec, after time.Time) (time.Time, error) {
	sched := spec.sched
	if sched == nil {
		parsed, err := Cron(spec.Expr, spec.Location)
		if err != nil {
			return time.Time{}, err
		}
		sched = parsed.sched
	}
	next := sched.Next(after.In(spec.location()))
	if next.IsZero() {
		return time.Time{}, nil
	}
	return next.UTC(), nil
}
