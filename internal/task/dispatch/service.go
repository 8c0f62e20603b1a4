// Package dispatch owns the timing loop: it keeps every live trigger in a
// priority queue, sleeps until the earliest fire instant and hands due jobs
// to the task engine.
package dispatch

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"mailworker/internal/eventbus"
	"mailworker/internal/task/catalog"
	"mailworker/internal/task/engine"
	"mailworker/internal/task/trigger"
	logx "mailworker/pkg/logx"
)

// ErrNotFound is returned for unknown or retired triggers.
var ErrNotFound = catalog.ErrNotFound

// ManualTriggerID tags executions started by TriggerNow.
const ManualTriggerID = "manual"

// Jobs is the catalog view the loop needs.
type Jobs interface {
	Has(name string) bool
	Lookup(name string) (catalog.Definition, error)
}

// Executor accepts executions without blocking.
type Executor interface {
	Enqueue(t engine.Task) error
}

// TriggerEvent is the payload of trigger.* events.
type TriggerEvent struct {
	ID      string    `json:"id"`
	JobName string    `json:"job"`
	Due     time.Time `json:"due"`
	FiredAt time.Time `json:"fired_at"`
	Next    time.Time `json:"next,omitempty"`
	Missed  int       `json:"missed,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type Config struct {
	// Timeout is applied to every execution handed to the executor (0 = engine default).
	Timeout time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

type Service struct {
	cfg      Config
	jobs     Jobs
	triggers *trigger.Engine
	exec     Executor
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	mu   sync.Mutex
	h    entryHeap
	byID map[string]*entry
	seq  uint64
	wake chan struct{}

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, jobs Jobs, exec Executor, log logx.Logger, bus eventbus.Bus) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg:      cfg,
		jobs:     jobs,
		triggers: trigger.NewEngine(jobs),
		exec:     exec,
		log:      log,
		bus:      bus,
		now:      now,
		byID:     map[string]*entry{},
		wake:     make(chan struct{}, 1),
		lastWarn: map[string]time.Time{},
	}
}

// Schedule adds a trigger with a generated id.
func (s *Service) Schedule(jobName string, spec trigger.Spec) (trigger.Trigger, error) {
	return s.ScheduleID("", jobName, spec)
}

// ScheduleID adds or replaces the trigger with the given id.
func (s *Service) ScheduleID(id, jobName string, spec trigger.Spec) (trigger.Trigger, error) {
	tr, err := s.triggers.New(jobName, id, spec, s.now())
	if err != nil {
		return trigger.Trigger{}, err
	}

	s.mu.Lock()
	if old, ok := s.byID[tr.ID]; ok {
		s.h.remove(old)
	}
	s.seq++
	e := &entry{tr: tr, seq: s.seq}
	s.byID[tr.ID] = e
	heap.Push(&s.h, e)
	s.mu.Unlock()

	s.signal()
	s.log.Info("trigger scheduled",
		logx.String("trigger", tr.ID),
		logx.String("job", tr.JobName),
		logx.String("spec", tr.Spec.String()),
		logx.Time("next", tr.NextFireTime),
	)
	return tr, nil
}

// Unschedule retires a trigger. A fire already handed to a worker still completes.
func (s *Service) Unschedule(id string) bool {
	s.mu.Lock()
	e, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		s.h.remove(e)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.signal()
	s.bus.Publish(eventbus.Event{Type: eventbus.TriggerRetired, Data: TriggerEvent{ID: id, JobName: e.tr.JobName}})
	s.log.Info("trigger unscheduled", logx.String("trigger", id))
	return true
}

// Lookup returns a copy of a live trigger.
func (s *Service) Lookup(id string) (trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return trigger.Trigger{}, errors.Wrapf(ErrNotFound, "trigger %q", id)
	}
	return e.tr, nil
}

// List returns live triggers in fire order.
func (s *Service) List() []trigger.Trigger {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].tr.NextFireTime, entries[j].tr.NextFireTime
		if !a.Equal(b) {
			return a.Before(b)
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]trigger.Trigger, len(entries))
	for i, e := range entries {
		out[i] = e.tr
	}
	s.mu.Unlock()
	return out
}

// TriggerNow runs jobName immediately, outside any schedule. It shares the
// job's overlap guard, so it returns engine.ErrOverlapSkip while a previous
// execution is still queued or running.
func (s *Service) TriggerNow(jobName string) error {
	def, err := s.jobs.Lookup(jobName)
	if err != nil {
		return err
	}
	err = s.exec.Enqueue(s.task(def, ManualTriggerID))
	if err != nil {
		s.reportEnqueueError(ManualTriggerID, def.Name, err)
		return err
	}
	s.log.Info("job triggered manually", logx.String("job", def.Name))
	return nil
}

func (s *Service) task(def catalog.Definition, triggerID string) engine.Task {
	run, payload := def.Run, def.Payload
	return engine.Task{
		Name:      def.Name,
		TriggerID: triggerID,
		Timeout:   s.cfg.Timeout,
		Overlap:   engine.OverlapSkipIfRunning,
		Run:       func(ctx context.Context) error { return run(ctx, payload) },
	}
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the dispatch loop. It returns when ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("dispatch loop started")
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		now := s.now()
		due, wait := s.takeDue(now)
		for _, e := range due {
			s.fire(e, now)
		}
		if len(due) > 0 {
			continue
		}

		var timerC <-chan time.Time
		if wait >= 0 {
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			s.log.Info("dispatch loop stopped")
			return ctx.Err()
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// takeDue pops every entry due at now and marks it firing. wait is the delay
// until the next entry, or -1 when nothing is scheduled.
func (s *Service) takeDue(now time.Time) ([]*entry, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for {
		e := s.h.peek()
		if e == nil {
			return due, -1
		}
		if e.tr.NextFireTime.After(now) {
			if len(due) > 0 {
				return due, 0
			}
			return due, e.tr.NextFireTime.Sub(now)
		}
		heap.Pop(&s.h)
		e.tr.State = trigger.StateFiring
		due = append(due, e)
	}
}

func (s *Service) fire(e *entry, now time.Time) {
	id, jobName, dueAt := e.tr.ID, e.tr.JobName, e.tr.NextFireTime

	var runErr error
	def, err := s.jobs.Lookup(jobName)
	if err != nil {
		runErr = err
		s.reportEnqueueError(id, jobName, err)
	} else if err := s.exec.Enqueue(s.task(def, id)); err != nil {
		runErr = err
		s.reportEnqueueError(id, jobName, err)
	}

	s.mu.Lock()
	current, live := s.byID[id]
	if !live || current != e {
		// Unscheduled or replaced while firing.
		s.mu.Unlock()
		return
	}
	missed, err := e.tr.Fired(now, runErr == nil)
	tr := e.tr
	if tr.State == trigger.StateRetired {
		delete(s.byID, id)
	} else {
		heap.Push(&s.h, e)
	}
	s.mu.Unlock()

	ev := TriggerEvent{ID: id, JobName: jobName, Due: dueAt, FiredAt: now, Next: tr.NextFireTime, Missed: missed}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TriggerFired, Time: now, Data: ev})
	if missed > 0 {
		s.log.Warn("trigger misfired; resumed cadence", logx.String("trigger", id), logx.Int("missed", missed), logx.Time("next", tr.NextFireTime))
		s.bus.Publish(eventbus.Event{Type: eventbus.TriggerMisfired, Time: now, Data: ev})
	}
	if err != nil {
		s.log.Error("trigger retired: cannot compute next fire", logx.String("trigger", id), logx.Err(err))
	}
	if tr.State == trigger.StateRetired {
		s.log.Debug("trigger retired", logx.String("trigger", id), logx.Int("fires", tr.Fires), logx.Int("skipped", tr.Skipped))
		s.bus.Publish(eventbus.Event{Type: eventbus.TriggerRetired, Time: now, Data: ev})
		return
	}
	s.log.Debug("trigger fired", logx.String("trigger", id), logx.String("job", jobName), logx.Time("next", tr.NextFireTime))
}
