package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	"mailworker/internal/eventbus"
	logx "mailworker/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

// execOne runs a single task. Errors and panics are converted into
// ErrExecutionFailure, logged, published and recorded; they never escape.
func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	if qt.track {
		defer qt.state.release()
	}

	t := qt.task
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("queue_delay", queueDelay))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: t.ID, Name: t.Name, TriggerID: t.TriggerID, Started: start, QueueDelay: queueDelay}})

	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}

	err, panicked := runTask(runCtx, t, s.log)

	dur := time.Since(start)
	ev := TaskEvent{ID: t.ID, Name: t.Name, TriggerID: t.TriggerID, Started: start, QueueDelay: queueDelay, Duration: dur, Panicked: panicked}
	item := HistoryItem{ID: t.ID, Name: t.Name, TriggerID: t.TriggerID, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		err = executionFailure(t.Name, err)
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Error("task.failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Err(err), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Time: time.Now(), Data: ev})
	} else {
		s.log.Info("task.completed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: time.Now(), Data: ev})
	}
	s.record(item)
}

func runTask(ctx context.Context, t Task, log logx.Logger) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = errors.Newf("panic: %s", fmt.Sprint(r))
			panicked = true
		}
	}()
	return t.Run(ctx), false
}
