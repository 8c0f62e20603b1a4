package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrUnknownJob      = errors.New("unknown job")
)

type Kind int

const (
	KindInterval Kind = iota + 1
	KindDaily
	KindOnce
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindInterval:
		return "interval"
	case KindDaily:
		return "daily"
	case KindOnce:
		return "once"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Spec is a validated schedule. Build it with Interval, Daily, Once or Cron.
type Spec struct {
	Kind Kind

	// Interval: fire every Every, starting at Start (or at registration when zero).
	Every time.Duration
	Start time.Time

	// Daily: wall-clock Hour:Minute in Location.
	Hour     int
	Minute   int
	Location *time.Location

	// Once: fire at At, or immediately when At is zero or already past.
	At time.Time

	// Cron: robfig/cron expression evaluated in Location.
	Expr  string
	sched cron.Schedule
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func invalid(format string, args ...any) error {
	return errors.WithHint(
		errors.Wrapf(ErrInvalidSchedule, format, args...),
		"use daily:HH:MM, interval:<duration>, cron:<expr>, once or once:<RFC3339>",
	)
}

// Interval repeats forever every d.
func Interval(every time.Duration, start time.Time) (Spec, error) {
	if every <= 0 {
		return Spec{}, invalid("interval must be > 0, got %s", every)
	}
	return Spec{Kind: KindInterval, Every: every, Start: start}, nil
}

// Daily fires every day at hour:minute wall-clock time in loc (UTC when nil).
func Daily(hour, minute int, loc *time.Location) (Spec, error) {
	if hour < 0 || hour > 23 {
		return Spec{}, invalid("hour %d out of range 0-23", hour)
	}
	if minute < 0 || minute > 59 {
		return Spec{}, invalid("minute %d out of range 0-59", minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Spec{Kind: KindDaily, Hour: hour, Minute: minute, Location: loc}, nil
}

// Once fires a single time. A zero at means "as soon as scheduled".
func Once(at time.Time) (Spec, error) {
	return Spec{Kind: KindOnce, At: at}, nil
}

// Cron fires on a cron expression (5 or 6 fields, or a descriptor like @hourly).
func Cron(expr string, loc *time.Location) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Spec{}, invalid("empty cron expression")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, errors.WithHint(
			errors.Mark(errors.Wrapf(err, "cron %q", expr), ErrInvalidSchedule),
			"cron fields: [sec] min hour dom month dow, or @hourly/@daily/@every <dur>",
		)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Spec{Kind: KindCron, Expr: expr, Location: loc, sched: sched}, nil
}

// Validate checks a Spec that was not built by a constructor.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindInterval:
		_, err := Interval(s.Every, s.Start)
		return err
	case KindDaily:
		_, err := Daily(s.Hour, s.Minute, s.Location)
		return err
	case KindOnce:
		return nil
	case KindCron:
		if s.sched == nil {
			_, err := Cron(s.Expr, s.Location)
			return err
		}
		return nil
	default:
		return invalid("unknown schedule kind %d", int(s.Kind))
	}
}

func (s Spec) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Repeating reports whether the schedule produces more than one fire.
func (s Spec) Repeating() bool { return s.Kind != KindOnce }

func (s Spec) String() string {
	switch s.Kind {
	case KindInterval:
		if s.Start.IsZero() {
			return "interval:" + s.Every.String()
		}
		return fmt.Sprintf("interval:%s from %s", s.Every, s.Start.UTC().Format(time.RFC3339))
	case KindDaily:
		return fmt.Sprintf("daily:%02d:%02d %s", s.Hour, s.Minute, s.location())
	case KindOnce:
		if s.At.IsZero() {
			return "once"
		}
		return "once:" + s.At.UTC().Format(time.RFC3339)
	case KindCron:
		return fmt.Sprintf("cron:%s %s", s.Expr, s.location())
	default:
		return "invalid"
	}
}
