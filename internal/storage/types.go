package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, one record per line
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record kinds.
const (
	KindFire    = "fire"
	KindTask    = "task"
	KindSkipped = "skipped"
)

// Record is one history entry. Keep it compact and schema-stable.
type Record struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	TriggerID  string    `json:"trigger_id,omitempty"`
	JobName    string    `json:"job"`
	TaskID     string    `json:"task_id,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	QueueMS    int64     `json:"queue_ms,omitempty"`
	Missed     int       `json:"missed,omitempty"`
	Next       time.Time `json:"next,omitempty"`
}
