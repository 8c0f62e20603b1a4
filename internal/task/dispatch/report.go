package dispatch

import (
	"time"

	"github.com/cockroachdb/errors"

	"mailworker/internal/task/engine"
	logx "mailworker/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed hand-off to the worker pool.
// Overlap skips are routine; other failures are throttled per trigger.
func (s *Service) reportEnqueueError(triggerID, job string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Info("fire skipped: job still running", logx.String("trigger", triggerID), logx.String("job", job))
		return
	}

	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[triggerID]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[triggerID] = now
	s.warnMu.Unlock()

	s.log.Warn("fire not dispatched", logx.String("trigger", triggerID), logx.String("job", job), logx.Err(err))
}
