package app

import (
	"context"
	"time"

	"mailworker/internal/eventbus"
	"mailworker/internal/storage"
	"mailworker/internal/task/dispatch"
	"mailworker/internal/task/engine"
	logx "mailworker/pkg/logx"
)

const recorderBuffer = 256

// record feeds bus events into metrics and the history store until events is closed.
func (a *App) record(events <-chan eventbus.Event) {
	for e := range events {
		a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		if a.metrics != nil {
			a.metrics.Observe(e)
		}
		if a.store == nil {
			continue
		}
		r, ok := toRecord(e)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.store.Append(ctx, r); err != nil {
			a.log.Warn("history append failed", logx.String("kind", r.Kind), logx.Err(err))
		}
		cancel()
	}
}

// toRecord maps an event to a history record. Start and retire events are not persisted.
func toRecord(e eventbus.Event) (storage.Record, bool) {
	switch d := e.Data.(type) {
	case dispatch.TriggerEvent:
		if e.Type != eventbus.TriggerFired {
			return storage.Record{}, false
		}
		return storage.Record{
			At:        d.FiredAt,
			Kind:      storage.KindFire,
			TriggerID: d.ID,
			JobName:   d.JobName,
			OK:        d.Error == "",
			Error:     d.Error,
			Missed:    d.Missed,
			Next:      d.Next,
		}, true
	case engine.TaskEvent:
		switch e.Type {
		case eventbus.TaskFinished, eventbus.TaskFailed:
			return storage.Record{
				At:         d.Started,
				Kind:       storage.KindTask,
				TriggerID:  d.TriggerID,
				JobName:    d.Name,
				TaskID:     d.ID,
				OK:         e.Type == eventbus.TaskFinished,
				Error:      d.Error,
				DurationMS: d.Duration.Milliseconds(),
				QueueMS:    d.QueueDelay.Milliseconds(),
			}, true
		case eventbus.TaskSkipped:
			return storage.Record{
				At:        e.Time,
				Kind:      storage.KindSkipped,
				TriggerID: d.TriggerID,
				JobName:   d.Name,
				TaskID:    d.ID,
				Error:     d.Error,
			}, true
		}
	}
	return storage.Record{}, false
}
