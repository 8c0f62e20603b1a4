// Package catalog is the registry of named jobs.
//
// A job is a name, a payload of string settings and a function value.
// Registering an existing name replaces it; triggers resolve the job by
// name at fire time, so the latest registration always wins.
package catalog

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound   = errors.New("job not found")
	ErrInvalidJob = errors.New("invalid job definition")
)

// RunFunc is the body of a job.
type RunFunc func(ctx context.Context, payload Payload) error

// Payload carries the job's input settings.
type Payload map[string]string

func (p Payload) Get(key string) string { return strings.TrimSpace(p[key]) }

// Int returns the integer under key, or def when missing or malformed.
func (p Payload) Int(key string, def int) int {
	v := p.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the boolean under key, or def when missing or malformed.
func (p Payload) Bool(key string, def bool) bool {
	v := p.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Clone returns an independent copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type Definition struct {
	Name         string
	Payload      Payload
	Run          RunFunc
	RegisteredAt time.Time
	Version      int
}

type Catalog struct {
	mu   sync.RWMutex
	jobs map[string]Definition
	now  func() time.Time
}

func New() *Catalog {
	return &Catalog{jobs: map[string]Definition{}, now: time.Now}
}

// Register stores the job under name, replacing any previous registration.
func (c *Catalog) Register(name string, payload Payload, run RunFunc) (Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Definition{}, errors.Wrap(ErrInvalidJob, "empty name")
	}
	if run == nil {
		return Definition{}, errors.Wrapf(ErrInvalidJob, "job %q has no run function", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	def := Definition{
		Name:         name,
		Payload:      payload.Clone(),
		Run:          run,
		RegisteredAt: c.now(),
		Version:      c.jobs[name].Version + 1,
	}
	c.jobs[name] = def
	return def.copy(), nil
}

func (c *Catalog) Lookup(name string) (Definition, error) {
	c.mu.RLock()
	def, ok := c.jobs[strings.TrimSpace(name)]
	c.mu.RUnlock()
	if !ok {
		return Definition{}, errors.Wrapf(ErrNotFound, "job %q", name)
	}
	return def.copy(), nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	_, ok := c.jobs[strings.TrimSpace(name)]
	c.mu.RUnlock()
	return ok
}

func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	name = strings.TrimSpace(name)
	if _, ok := c.jobs[name]; !ok {
		return false
	}
	delete(c.jobs, name)
	return true
}

// List returns every definition sorted by name.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	out := make([]Definition, 0, len(c.jobs))
	for _, d := range c.jobs {
		out = append(out, d.copy())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d Definition) copy() Definition {
	d.Payload = d.Payload.Clone()
	return d
}
