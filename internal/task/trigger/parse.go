package trigger

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses the schedule string used in configuration.
//
// Supported forms:
//   - Daily: "daily:09:00", or a bare "09:00"
//   - Interval: "interval:10m", "every:2h30m", "interval:02:30" (HH:MM span), or a bare "10m"
//   - Cron: "cron:0 9 * * 1-5", or anything with whitespace or a leading '@' ("@hourly", "@every 5m")
//   - One-shot: "once" / "now" (fire immediately), "once:2026-01-02T09:00:00Z"
//
// loc applies to daily and cron schedules.
func ParseSchedule(raw string, loc *time.Location) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, invalid("schedule required")
	}
	low := strings.ToLower(s)

	if v, ok := cutPrefixFold(s, low, "daily:"); ok {
		return parseDaily(v, loc)
	}
	if v, ok := cutPrefixFold(s, low, "cron:"); ok {
		return Cron(v, loc)
	}
	if v, ok := cutPrefixFold(s, low, "interval:"); ok {
		return parseInterval(v)
	}
	if v, ok := cutPrefixFold(s, low, "every:"); ok {
		return parseInterval(v)
	}
	if low == "once" || low == "now" {
		return Once(time.Time{})
	}
	if v, ok := cutPrefixFold(s, low, "once:"); ok {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Spec{}, invalid("once: bad RFC3339 time %q", v)
		}
		return Once(at)
	}

	// Heuristics.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Cron(s, loc)
	}
	if reHHMM.MatchString(s) {
		return parseDaily(s, loc)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return Interval(d, time.Time{})
	}

	return Spec{}, invalid("unrecognized schedule %q", raw)
}

func cutPrefixFold(s, low, prefix string) (string, bool) {
	if !strings.HasPrefix(low, prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func parseDaily(v string, loc *time.Location) (Spec, error) {
	hh, mm, ok := splitHHMM(v)
	if !ok {
		return Spec{}, invalid("daily: expected HH:MM, got %q", v)
	}
	return Daily(hh, mm, loc)
}

func parseInterval(v string) (Spec, error) {
	if v == "" {
		return Spec{}, invalid("interval required")
	}
	if hh, mm, ok := splitHHMM(v); ok {
		if mm > 59 {
			return Spec{}, invalid("invalid minutes in %q", v)
		}
		return Interval(time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, time.Time{})
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, invalid("invalid interval %q", v)
	}
	return Interval(d, time.Time{})
}

func splitHHMM(v string) (int, int, bool) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, 0, false
	}
	hh, err1 := strconv.Atoi(m[1])
	mm, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return hh, mm, true
}
