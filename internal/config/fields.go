package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"mailworker/internal/task/trigger"
	logx "mailworker/pkg/logx"
)

// field describes one setting. set must leave s untouched when it fails.
type field struct {
	name   string
	secret bool
	get    func(s *Settings) string
	set    func(s *Settings, v string) error
}

var fields = []field{
	boolField("RunImmediately", func(s *Settings) *bool { return &s.RunImmediately }),

	stringField("Email", false, func(s *Settings) *string { return &s.Email }),
	stringField("EmailUsername", false, func(s *Settings) *string { return &s.EmailUsername }),
	stringField("EmailPassword", true, func(s *Settings) *string { return &s.EmailPassword }),
	stringField("EmailServer", false, func(s *Settings) *string { return &s.EmailServer }),
	intField("EmailPort", 1, 65535, func(s *Settings) *int { return &s.EmailPort }),
	stringField("EmailSubject", false, func(s *Settings) *string { return &s.EmailSubject }),
	stringField("EmailBody", false, func(s *Settings) *string { return &s.EmailBody }),

	{
		name: "Schedule",
		get:  func(s *Settings) string { return s.Schedule },
		set: func(s *Settings, v string) error {
			// Checked against UTC here; the timezone is applied when the schedule is built.
			if _, err := trigger.ParseSchedule(v, time.UTC); err != nil {
				return err
			}
			s.Schedule = strings.TrimSpace(v)
			return nil
		},
	},
	{
		name: "Timezone",
		get:  func(s *Settings) string { return s.Timezone },
		set: func(s *Settings, v string) error {
			v = strings.TrimSpace(v)
			if _, err := time.LoadLocation(v); err != nil || v == "" {
				return errors.Newf("unknown timezone %q", v)
			}
			s.Timezone = v
			return nil
		},
	},
	stringField("JobName", false, func(s *Settings) *string { return &s.JobName }),

	intField("Workers", 1, 256, func(s *Settings) *int { return &s.Workers }),
	intField("QueueSize", 1, 1<<16, func(s *Settings) *int { return &s.QueueSize }),
	durationField("JobTimeout", func(s *Settings) *time.Duration { return &s.JobTimeout }),

	{
		name: "LogLevel",
		get:  func(s *Settings) string { return s.LogLevel },
		set: func(s *Settings, v string) error {
			if _, ok := logx.ParseLevel(v); !ok {
				return errors.Newf("unknown log level %q", v)
			}
			s.LogLevel = strings.ToLower(strings.TrimSpace(v))
			return nil
		},
	},
	enumField("LogFormat", []string{"console", "json"}, func(s *Settings) *string { return &s.LogFormat }),
	stringField("LogFile", false, func(s *Settings) *string { return &s.LogFile }),

	enumField("StorageDriver", []string{"none", "file", "sqlite"}, func(s *Settings) *string { return &s.StorageDriver }),
	stringField("StoragePath", false, func(s *Settings) *string { return &s.StoragePath }),
	stringField("MetricsAddr", false, func(s *Settings) *string { return &s.MetricsAddr }),
	intField("SendRatePerMinute", 0, 1<<20, func(s *Settings) *int { return &s.SendRatePerMinute }),
}

var fieldIndex = func() map[string]*field {
	m := make(map[string]*field, len(fields))
	for i := range fields {
		m[normalizeKey(fields[i].name)] = &fields[i]
	}
	return m
}()

// normalizeKey folds "EmailPort", "email_port", "EMAIL-PORT" and "Email.Port" to one key.
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(k)) {
		switch r {
		case '_', '-', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func lookupField(key string) (*field, bool) {
	f, ok := fieldIndex[normalizeKey(key)]
	return f, ok
}

func stringField(name string, secret bool, ptr func(*Settings) *string) field {
	return field{
		name:   name,
		secret: secret,
		get:    func(s *Settings) string { return *ptr(s) },
		set: func(s *Settings, v string) error {
			*ptr(s) = strings.TrimSpace(v)
			return nil
		},
	}
}

func boolField(name string, ptr func(*Settings) *bool) field {
	return field{
		name: name,
		get:  func(s *Settings) string { return strconv.FormatBool(*ptr(s)) },
		set: func(s *Settings, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return errors.New("not a boolean")
			}
			*ptr(s) = b
			return nil
		},
	}
}

func intField(name string, lo, hi int, ptr func(*Settings) *int) field {
	return field{
		name: name,
		get:  func(s *Settings) string { return strconv.Itoa(*ptr(s)) },
		set: func(s *Settings, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.New("not an integer")
			}
			if n < lo || n > hi {
				return errors.Newf("out of range %d-%d", lo, hi)
			}
			*ptr(s) = n
			return nil
		},
	}
}

func durationField(name string, ptr func(*Settings) *time.Duration) field {
	return field{
		name: name,
		get:  func(s *Settings) string { return ptr(s).String() },
		set: func(s *Settings, v string) error {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return errors.New("not a duration")
			}
			if d < 0 {
				return errors.New("duration must be >= 0")
			}
			*ptr(s) = d
			return nil
		},
	}
}

func enumField(name string, allowed []string, ptr func(*Settings) *string) field {
	return field{
		name: name,
		get:  func(s *Settings) string { return *ptr(s) },
		set: func(s *Settings, v string) error {
			v = strings.ToLower(strings.TrimSpace(v))
			for _, a := range allowed {
				if v == a {
					*ptr(s) = v
					return nil
				}
			}
			return errors.Newf("must be one of %s", strings.Join(allowed, ", "))
		},
	}
}

// apply overlays raw values onto s. Unknown keys and malformed values are
// reported as warnings and leave the previous value in place.
func apply(s *Settings, source string, raw map[string]string, strict bool) []Warning {
	var warns []Warning
	for _, k := range sortedKeys(raw) {
		v := raw[k]
		if strings.TrimSpace(v) == "" {
			// Empty counts as absent.
			continue
		}
		f, ok := lookupField(k)
		if !ok {
			if strict {
				warns = append(warns, Warning{Source: source, Key: k, Err: errors.New("unknown setting")})
			}
			continue
		}
		if err := f.set(s, v); err != nil {
			shown := v
			if f.secret {
				shown = ""
			}
			warns = append(warns, Warning{Source: source, Key: f.name, Value: shown, Err: err})
		}
	}
	return warns
}
