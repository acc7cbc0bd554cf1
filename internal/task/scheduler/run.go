package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/internal/storage"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

// trigger moves a job to Queued and hands one invocation to the engine.
func (s *Service) trigger(name, source string) error {
	if s.deps.Engine == nil {
		return &job.Error{Kind: job.KindDependencyNotFound, Op: "trigger", Err: job.Linkage("task engine")}
	}

	s.mu.Lock()
	e, ok := s.jobs[key(name)]
	if !ok {
		s.mu.Unlock()
		return notFound(name)
	}
	if e.status == job.StatusQueued || e.status == job.StatusRunning {
		s.mu.Unlock()
		return engine.ErrOverlapSkip
	}
	prev := e.status
	e.status = job.StatusQueued
	e.stopReq = false
	d := e.detail.Clone()
	runID := uuid.NewString()
	s.mu.Unlock()

	s.publish(eventbus.JobQueued, JobEvent{Name: d.Name, Kind: d.Kind, RunID: runID, Source: source, Status: job.StatusQueued.String()})
	err := s.deps.Engine.Enqueue(engine.Task{
		ID:      runID,
		Name:    d.Name,
		Timeout: d.Timeout,
		Overlap: engine.OverlapSkip,
		Run: func(ctx context.Context) error {
			return s.invoke(ctx, e, runID, source)
		},
		OnDrop: func(reason string) {
			s.setStatus(e, job.StatusStopped)
			s.publish(eventbus.JobStopped, JobEvent{Name: d.Name, Kind: d.Kind, RunID: runID, Source: source, Status: "dropped", Error: reason})
		},
	})
	if err != nil {
		s.mu.Lock()
		if e.status == job.StatusQueued {
			e.status = prev
		}
		s.mu.Unlock()
		s.publish(eventbus.JobStopped, JobEvent{Name: d.Name, Kind: d.Kind, RunID: runID, Source: source, Status: "rejected", Error: err.Error()})
		return err
	}
	return nil
}

// invoke is one engine run: build the handler, Init, Execute, record.
func (s *Service) invoke(ctx context.Context, e *entry, runID, source string) (err error) {
	host := job.NewSignal()

	s.mu.Lock()
	d := e.detail.Clone()
	ctor := e.ctor
	e.status = job.StatusRunning
	e.host = host
	if e.stopReq {
		host.Request()
	}
	s.mu.Unlock()

	// Engine timeout and shutdown reach the job as a stop request.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			host.Request()
		case <-done:
		}
	}()

	rec := storage.RunRecord{ID: runID, Job: d.Name, Kind: d.Kind, Trigger: source, Started: time.Now()}
	s.publish(eventbus.JobStarted, JobEvent{Name: d.Name, Kind: d.Kind, RunID: runID, Source: source, Status: job.StatusRunning.String()})

	defer func() {
		close(done)
		if r := recover(); r != nil {
			err = errors.Newf("job %q panicked: %v", d.Name, r)
		}
		s.finish(e, host, rec, err)
	}()

	poll, wait := s.triggerPacing()
	var t *job.Task
	t, err = job.New(job.Config{
		Name:         d.Name,
		Params:       d.Parameters,
		Host:         host,
		Scheduler:    s,
		Locator:      s.deps.Locator,
		Metadata:     s.deps.Metadata,
		PollInterval: poll,
		TriggerWait:  wait,
		Logger:       s.log,
	}, ctor())
	if err != nil {
		return err
	}
	if err = t.Init(ctx); err != nil {
		return err
	}
	return t.Execute(ctx)
}

func (s *Service) finish(e *entry, host *job.Signal, rec storage.RunRecord, err error) {
	rec.Finished = time.Now()
	interrupted := host.Requested()
	status := job.StatusStopped
	switch {
	case err != nil:
		rec.Outcome = storage.OutcomeFailed
		rec.Error = err.Error()
	case interrupted:
		rec.Outcome = storage.OutcomeInterrupted
	default:
		rec.Outcome = storage.OutcomeSuccess
	}
	if interrupted {
		status = job.StatusInterrupted
	}

	if s.deps.Store != nil {
		// The run ctx may already be cancelled; the record still belongs in history.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := s.deps.Store.AppendRun(ctx, rec); serr != nil {
			s.log.Warn("run record not stored", logx.String("job", rec.Job), logx.String("run", rec.ID), logx.Err(serr))
		}
		cancel()
	}

	// The record is stored before the status leaves Running.
	s.mu.Lock()
	e.status = status
	e.host = nil
	e.stopReq = false
	e.runs++
	e.lastRun = rec.Finished
	e.lastErr = rec.Error
	if err != nil {
		e.failures++
	}
	s.mu.Unlock()

	ev := JobEvent{Name: rec.Job, Kind: rec.Kind, RunID: rec.ID, Source: rec.Trigger, Status: rec.Outcome, Took: rec.Took(), Error: rec.Error}
	switch rec.Outcome {
	case storage.OutcomeFailed:
		s.publish(eventbus.JobFailed, ev)
	case storage.OutcomeInterrupted:
		s.publish(eventbus.JobStopped, ev)
	default:
		s.publish(eventbus.JobCompleted, ev)
	}
	s.log.Debug("job run finished",
		logx.String("job", rec.Job),
		logx.String("run", rec.ID),
		logx.String("outcome", rec.Outcome),
		logx.Duration("took", rec.Took()),
	)
}

func (s *Service) setStatus(e *entry, st job.Status) {
	s.mu.Lock()
	e.status = st
	s.mu.Unlock()
}

func (s *Service) triggerPacing() (poll, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PollInterval, s.cfg.TriggerWait
}

func (s *Service) publish(typ string, ev JobEvent) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
