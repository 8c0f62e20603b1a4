package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	logx "mailworker/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Manager loads settings from a file plus environment overrides and
// republishes them when the file changes.
//
// Precedence, lowest first: defaults, settings file, .env next to the file,
// MAILWORKER_* process environment.
type Manager struct {
	path    string
	environ func() []string

	mu       sync.RWMutex
	cur      *Settings
	lastHash uint64

	// subsMu also guards against sending on a channel closed by Unsubscribe.
	subsMu sync.Mutex
	subs   []chan *Settings

	log logx.Logger
}

// NewManager reads settings from path. An empty path means environment only.
func NewManager(path string) *Manager {
	return &Manager{path: path, environ: os.Environ}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetEnviron replaces the process environment source.
func (m *Manager) SetEnviron(fn func() []string) { m.environ = fn }

func (m *Manager) Path() string { return m.path }

func (m *Manager) dotenvPath() string {
	if m.path == "" {
		return ".env"
	}
	return filepath.Join(filepath.Dir(m.path), ".env")
}

// Parse builds fresh settings. Malformed or unknown values become warnings;
// only an unreadable or syntactically broken settings file is an error.
func (m *Manager) Parse() (*Settings, []Warning, error) {
	s := Defaults()
	var warns []Warning

	if m.path != "" {
		b, err := os.ReadFile(m.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			warns = append(warns, Warning{Source: m.path, Key: "file", Err: errors.New("not found; using defaults")})
		case err != nil:
			return nil, nil, errors.Wrapf(err, "read %s", m.path)
		default:
			raw, err := decodeFlat(m.path, b)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "parse %s", m.path)
			}
			warns = append(warns, apply(&s, m.path, raw, true)...)
		}
	}

	if dp := m.dotenvPath(); Format(m.path) != "env" || filepath.Clean(dp) != filepath.Clean(m.path) {
		if vals, err := godotenv.Read(dp); err == nil {
			raw := make(map[string]string, len(vals))
			for k, v := range vals {
				raw[strings.TrimPrefix(k, EnvPrefix)] = v
			}
			// .env files often carry unrelated variables; skip unknown keys quietly.
			warns = append(warns, apply(&s, dp, raw, false)...)
		}
	}

	if m.environ != nil {
		warns = append(warns, apply(&s, "env", envOverrides(m.environ()), true)...)
	}
	return &s, warns, nil
}

// Load parses, logs warnings and commits the result.
func (m *Manager) Load() (*Settings, error) {
	s, warns, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.LogWarnings(warns)
	m.Commit(s)
	return s, nil
}

// LogWarnings reports ignored values on the manager logger.
func (m *Manager) LogWarnings(warns []Warning) {
	for _, w := range warns {
		m.log.Warn("config value ignored", logx.String("source", w.Source), logx.String("key", w.Key), logx.String("value", w.Value), logx.Err(w.Err))
	}
}

func (m *Manager) Commit(s *Settings) {
	m.mu.Lock()
	m.cur = s
	m.lastHash = hashSettings(s)
	m.mu.Unlock()
}

func (m *Manager) Get() *Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func hashSettings(s *Settings) uint64 {
	if s == nil {
		return 0
	}
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (m *Manager) Subscribe(buffer int) chan *Settings {
	ch := make(chan *Settings, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Settings) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish delivers the newest settings, dropping the oldest queued value for slow subscribers.
func (m *Manager) publish(s *Settings) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// Reload re-reads the settings and publishes them when they changed.
// It reports whether a new value was published.
func (m *Manager) Reload() (bool, error) {
	s, warns, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping previous settings", logx.String("path", m.path), logx.Err(err))
		return false, err
	}
	h := hashSettings(s)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return false, nil
	}
	m.LogWarnings(warns)
	m.Commit(s)
	m.publish(s)
	m.log.Info("config reloaded", logx.String("path", m.path))
	return true, nil
}

// Watch reloads on changes to the settings file or its .env sibling until ctx
// is done. A broken watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(m.path)
	names := map[string]bool{
		strings.ToLower(filepath.Base(m.path)):         true,
		strings.ToLower(filepath.Base(m.dotenvPath())): true,
	}

	const (
		backoffBase = 250 * time.Millisecond
		backoffMax  = 5 * time.Second
	)
	backoff := backoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, backoffMax)
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if ctx.Err() == nil {
				_, _ = m.Reload()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.log.Warn("config watch init failed", logx.String("dir", dir), logx.Err(err))
			if !sleep() {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			m.log.Warn("config watch add failed", logx.String("dir", dir), logx.Err(err))
			if !sleep() {
				return nil
			}
			continue
		}
		backoff = backoffBase
		m.log.Debug("config watcher started", logx.String("dir", dir))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if names[strings.ToLower(filepath.Base(ev.Name))] &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
					debounce()
					continue
				}
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			}
		}

		_ = w.Close()
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !sleep() {
			return nil
		}
	}
	return nil
}
