package config

import (
	logx "mailworker/pkg/logx"
)

// Diff lists the settings that differ between prev and next, plus log fields
// describing the next values. Secret values are never included; a changed
// secret is reported as "<name>.changed=true".
func Diff(prev, next *Settings) ([]string, []logx.Field) {
	if prev == nil {
		d := Defaults()
		prev = &d
	}
	if next == nil {
		d := Defaults()
		next = &d
	}

	var changed []string
	var attrs []logx.Field
	for i := range fields {
		f := &fields[i]
		ov, nv := f.get(prev), f.get(next)
		if ov == nv {
			continue
		}
		changed = append(changed, f.name)
		if f.secret {
			attrs = append(attrs, logx.Bool(f.name+".changed", true))
			continue
		}
		attrs = append(attrs, logx.String(f.name, nv))
	}
	return changed, attrs
}

// ScheduleChanged reports whether the trigger must be rebuilt.
func ScheduleChanged(prev, next *Settings) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return prev.Schedule != next.Schedule || prev.Timezone != next.Timezone || prev.JobName != next.JobName
}
