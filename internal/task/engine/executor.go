package engine

import (
	"context"
	"runtime/debug"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/pkg/logx"
)

func (s *Service) executor(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
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

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	defer s.release(qt)

	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()

	t := qt.task
	if maxDelay > 0 && queueDelay > maxDelay {
		s.droppedStale.Add(1)
		s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		s.publish(eventbus.TaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		if s.shouldWarn(&s.lastStaleWarnAt, start) {
			s.log.Warn("task dropped: stale queue", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay))
		}
		if t.OnDrop != nil {
			t.OnDrop("stale_queue_delay")
		}
		return
	}

	s.publish(eventbus.TaskStarted, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay})
	s.log.Debug("task started", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay))

	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	err := s.run(runCtx, t)

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.failed.Add(1)
		s.log.Warn("task failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFailed, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: item.Error})
	} else {
		s.completed.Add(1)
		s.log.Debug("task finished", logx.String("task", t.Name), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFinished, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur})
	}
	s.record(item)
}

// run calls t.Run, turning a panic into an error so one task cannot kill an
// executor.
func (s *Service) run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}

func (s *Service) drop(qt queuedTask, reason string) {
	s.release(qt)
	s.publish(eventbus.TaskDropped, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: time.Now(), Error: reason})
	if qt.task.OnDrop != nil {
		qt.task.OnDrop(reason)
	}
}
