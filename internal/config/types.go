package config

import (
	"fmt"
	"strings"
	"time"
)

// Settings is the flat configuration of the worker.
type Settings struct {
	RunImmediately bool `json:"RunImmediately"`

	Email         string `json:"Email"`
	EmailUsername string `json:"EmailUsername"`
	EmailPassword string `json:"EmailPassword"`
	EmailServer   string `json:"EmailServer"`
	EmailPort     int    `json:"EmailPort"`
	EmailSubject  string `json:"EmailSubject"`
	EmailBody     string `json:"EmailBody"`

	// Schedule uses the trigger syntax: "daily:09:00", "interval:10m", "cron:0 9 * * *", "once".
	Schedule string `json:"Schedule"`
	Timezone string `json:"Timezone"`
	JobName  string `json:"JobName"`

	Workers    int           `json:"Workers"`
	QueueSize  int           `json:"QueueSize"`
	JobTimeout time.Duration `json:"JobTimeout"`

	LogLevel  string `json:"LogLevel"`
	LogFormat string `json:"LogFormat"`
	LogFile   string `json:"LogFile"`

	// StorageDriver is "none", "file" or "sqlite".
	StorageDriver string `json:"StorageDriver"`
	StoragePath   string `json:"StoragePath"`

	// MetricsAddr enables the diagnostics HTTP server when set (e.g. "127.0.0.1:9090").
	MetricsAddr string `json:"MetricsAddr"`

	// SendRatePerMinute caps outgoing mail; 0 disables the limiter.
	SendRatePerMinute int `json:"SendRatePerMinute"`
}

const (
	DefaultEmailServer = "smtp.gmail.com"
	DefaultEmailPort   = 587
	DefaultSchedule    = "daily:09:00"
	DefaultTimezone    = "UTC"
	DefaultJobName     = "SendToMyself"
)

func Defaults() Settings {
	return Settings{
		EmailServer:   DefaultEmailServer,
		EmailPort:     DefaultEmailPort,
		Schedule:      DefaultSchedule,
		Timezone:      DefaultTimezone,
		JobName:       DefaultJobName,
		Workers:       2,
		QueueSize:     64,
		LogLevel:      "info",
		LogFormat:     "console",
		StorageDriver: "none",
	}
}

// Location resolves Timezone, falling back to UTC.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(s.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// Payload is the job payload derived from the mail settings.
func (s Settings) Payload() map[string]string {
	return map[string]string{
		"Email":         s.Email,
		"EmailUsername": s.EmailUsername,
		"EmailPassword": s.EmailPassword,
		"EmailServer":   s.EmailServer,
		"EmailPort":     fmt.Sprint(s.EmailPort),
		"EmailSubject":  s.EmailSubject,
		"EmailBody":     s.EmailBody,
	}
}

// Warning reports a setting that was ignored.
type Warning struct {
	Source string
	Key    string
	Value  string
	Err    error
}

func (w Warning) String() string {
	if w.Value == "" {
		return fmt.Sprintf("%s: %s: %v", w.Source, w.Key, w.Err)
	}
	return fmt.Sprintf("%s: %s=%q: %v", w.Source, w.Key, w.Value, w.Err)
}
