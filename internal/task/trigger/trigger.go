package trigger

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type State int

const (
	StateScheduled State = iota
	StateFiring
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateFiring:
		return "firing"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Trigger pairs a schedule with a job name. The job is resolved by name at
// fire time; the trigger does not own it.
type Trigger struct {
	ID           string
	JobName      string
	Spec         Spec
	CreatedAt    time.Time
	NextFireTime time.Time
	PrevFireTime time.Time
	State        State
	// Fires counts executions handed to the worker pool; Skipped counts due
	// instants the pool refused (job still running, queue full).
	Fires    int
	Skipped  int
	Misfires int
}

// Fired records the due instant reached at now and moves the trigger to its
// next instant, or retires it. dispatched reports whether an execution was
// actually started. It returns the number of cadence instants skipped by the
// catch-up policy.
func (t *Trigger) Fired(now time.Time, dispatched bool) (missed int, err error) {
	due := t.NextFireTime
	if dispatched {
		t.PrevFireTime = now.UTC()
		t.Fires++
	} else {
		t.Skipped++
	}

	next, missed, err := CatchUp(t.Spec, due, now)
	if err != nil {
		t.State = StateRetired
		return 0, err
	}
	t.Misfires += missed
	if next.IsZero() {
		t.State = StateRetired
		t.NextFireTime = time.Time{}
		return missed, nil
	}
	t.NextFireTime = next
	t.State = StateScheduled
	return missed, nil
}

// JobResolver answers whether a job name is registered.
type JobResolver interface {
	Has(name string) bool
}

// Engine builds triggers for registered jobs.
type Engine struct {
	jobs JobResolver
}

func NewEngine(jobs JobResolver) *Engine { return &Engine{jobs: jobs} }

// New validates spec, checks that jobName is registered and computes the
// first fire time. An empty id gets a random one.
func (e *Engine) New(jobName, id string, spec Spec, now time.Time) (Trigger, error) {
	jobName = strings.TrimSpace(jobName)
	if e.jobs == nil || !e.jobs.Has(jobName) {
		return Trigger{}, errors.Wrapf(ErrUnknownJob, "job %q", jobName)
	}
	first, err := FirstFireTime(spec, now)
	if err != nil {
		return Trigger{}, err
	}
	if first.IsZero() {
		return Trigger{}, invalid("%s never fires", spec)
	}
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	return Trigger{
		ID:           id,
		JobName:      jobName,
		Spec:         spec,
		CreatedAt:    now.UTC(),
		NextFireTime: first,
		State:        StateScheduled,
	}, nil
}
