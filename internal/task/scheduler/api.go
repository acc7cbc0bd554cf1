package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

var _ job.SchedulerService = (*Service)(nil)

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func notFound(name string) error {
	return errors.Wrapf(errors.ErrNotFound, "job %q", name)
}

// Register adds or replaces a job definition.
//
// The kind is resolved through the registry and the schedule is parsed here,
// so a bad definition fails at startup rather than at the first trigger.
// Parameters persisted by an earlier UpdateJob override the declared values.
func (s *Service) Register(ctx context.Context, d job.JobDetail) error {
	const op = "register"
	d = d.Clone()
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return &job.Error{Kind: job.KindConfiguration, Op: op, Err: errors.New("job name must not be empty")}
	}
	if s.deps.Registry == nil {
		return &job.Error{Kind: job.KindDependencyNotFound, Op: op, Err: job.Linkage("job registry")}
	}
	ctor, err := s.deps.Registry.Resolve(d.Kind)
	if err != nil {
		return errors.Wrapf(err, "job %q", d.Name)
	}
	spec, err := s.parseSpec(d.Schedule)
	if err != nil {
		return &job.Error{Kind: job.KindConfiguration, Op: op, Attribute: "schedule", Err: errors.Wrapf(err, "job %q", d.Name)}
	}
	if d.Parameters == nil {
		d.Parameters = map[string]string{}
	}
	s.restoreParameters(ctx, &d)

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(d.Name)
	e, exists := s.jobs[k]
	if exists {
		s.removeCronLocked(e)
		e.detail, e.ctor, e.spec = d, ctor, spec
	} else {
		e = &entry{detail: d, ctor: ctor, spec: spec, status: job.StatusStopped}
		s.jobs[k] = e
		s.order = append(s.order, k)
	}
	if s.c != nil {
		if err := s.addCronLocked(e); err != nil {
			return &job.Error{Kind: job.KindConfiguration, Op: op, Attribute: "schedule", Err: err}
		}
	}
	args := []logx.Field{logx.String("job", d.Name), logx.String("kind", d.Kind), logx.Bool("enabled", d.Enabled)}
	if spec != nil {
		args = append(args, logx.String("spec", spec.String()))
		if next := s.previewNextRunsLocked(spec.String(), 4); next != "" {
			args = append(args, logx.String("next", next))
		}
	}
	s.log.Debug("job registered", args...)
	return nil
}

func (s *Service) parseSpec(raw string) (*ParsedSpec, error) {
	return parseSpecWith(s.parser, raw)
}

func (s *Service) restoreParameters(ctx context.Context, d *job.JobDetail) {
	if s.deps.Store == nil {
		return
	}
	stored, ok, err := s.deps.Store.GetParameters(ctx, d.Name)
	if err != nil {
		s.log.Warn("stored parameters unavailable", logx.String("job", d.Name), logx.Err(err))
		return
	}
	if !ok {
		return
	}
	for k, v := range stored {
		if _, declared := d.Parameters[k]; declared {
			d.Parameters[k] = v
		}
	}
}

// Remove unregisters a job. A running invocation is not stopped.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name)
	e, ok := s.jobs[k]
	if !ok {
		return false
	}
	s.removeCronLocked(e)
	delete(s.jobs, k)
	for i, n := range s.order {
		if n == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.log.Debug("job removed", logx.String("job", e.detail.Name))
	return true
}

// Jobs returns the registered job names in registration order.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.jobs[k].detail.Name)
	}
	return out
}

// JobDetail returns a copy of the job definition.
func (s *Service) JobDetail(ctx context.Context, name string) (*job.JobDetail, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[key(name)]
	if !ok {
		return nil, notFound(name)
	}
	d := e.detail.Clone()
	return &d, nil
}

func (s *Service) Status(ctx context.Context, name string) (job.Status, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[key(name)]
	if !ok {
		return job.StatusUnknown, notFound(name)
	}
	return e.status, nil
}

// TriggerNow queues one invocation of the job. The status is Queued when it
// returns nil.
func (s *Service) TriggerNow(ctx context.Context, name string) error {
	_ = ctx
	return s.trigger(name, SourceManual)
}

// StopJob requests a cooperative stop of the job's current invocation. A
// queued invocation is marked so it ends without executing. It reports
// whether there was anything to stop.
func (s *Service) StopJob(name string) (bool, error) {
	s.mu.Lock()
	e, ok := s.jobs[key(name)]
	if !ok {
		s.mu.Unlock()
		return false, notFound(name)
	}
	var host *job.Signal
	switch e.status {
	case job.StatusRunning:
		host = e.host
	case job.StatusQueued:
		e.stopReq = true
	default:
		s.mu.Unlock()
		return false, nil
	}
	d := e.detail
	s.mu.Unlock()

	if host != nil {
		host.Request()
	}
	s.log.Info("job stop requested", logx.String("job", d.Name))
	return true, nil
}

// UpdateJob replaces the parameters of a registered job and persists them.
// Schedule and enabled changes take effect immediately; the kind is fixed.
func (s *Service) UpdateJob(ctx context.Context, d job.JobDetail) error {
	const op = "update job"
	d = d.Clone()

	s.mu.Lock()
	e, ok := s.jobs[key(d.Name)]
	if !ok {
		s.mu.Unlock()
		return notFound(d.Name)
	}
	cur := e.detail
	if d.Kind != "" && !strings.EqualFold(d.Kind, cur.Kind) {
		s.mu.Unlock()
		return &job.Error{Kind: job.KindConfiguration, Op: op, Err: errors.Newf("job %q: kind cannot change from %s to %s", cur.Name, cur.Kind, d.Kind)}
	}
	spec := e.spec
	if d.Schedule != cur.Schedule {
		var err error
		if spec, err = s.parseSpec(d.Schedule); err != nil {
			s.mu.Unlock()
			return &job.Error{Kind: job.KindConfiguration, Op: op, Attribute: "schedule", Err: err}
		}
	}
	if d.Parameters == nil {
		d.Parameters = map[string]string{}
	}
	d.Name, d.Kind = cur.Name, cur.Kind
	reschedule := d.Schedule != cur.Schedule || d.Enabled != cur.Enabled
	e.detail, e.spec = d, spec
	if reschedule && s.c != nil {
		s.removeCronLocked(e)
		if err := s.addCronLocked(e); err != nil {
			s.log.Error("reschedule failed", logx.String("job", d.Name), logx.Err(err))
		}
	}
	s.mu.Unlock()

	if s.deps.Store != nil {
		if err := s.deps.Store.PutParameters(ctx, d.Name, d.Parameters); err != nil {
			return errors.Wrapf(err, "persist parameters of %q", d.Name)
		}
	}
	s.publish(eventbus.JobUpdated, JobEvent{Name: d.Name, Kind: d.Kind, Status: "updated"})
	s.log.Debug("job updated", logx.String("job", d.Name), logx.Bool("rescheduled", reschedule))
	return nil
}

// addCronLocked schedules e when it is enabled and has a schedule.
// Call with s.mu held and s.c non-nil.
func (s *Service) addCronLocked(e *entry) error {
	if e.spec == nil || !e.detail.Enabled {
		return nil
	}
	name := e.detail.Name
	fn := cron.FuncJob(func() {
		if err := s.trigger(name, SourceSchedule); err != nil {
			s.reportEnqueueError(name, err)
		}
	})

	// Interval schedules get a startup spread to avoid a thundering herd
	// right after start.
	if e.spec.Kind == SpecInterval {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, jitter := s.intervalSchedule(e.spec.Every, time.Now().In(loc), name)
		e.startupSpread = jitter
		e.entryID = s.c.Schedule(sched, fn)
		return nil
	}

	e.startupSpread = 0
	eid, err := s.c.AddJob(e.spec.Cron, fn)
	if err != nil {
		return err
	}
	e.entryID = eid
	return nil
}

func (s *Service) removeCronLocked(e *entry) {
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	e.entryID = 0
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run times
// for the given cron spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
