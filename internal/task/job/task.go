package job

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/platform"
	"jobhost/internal/task/attr"
	"jobhost/internal/task/watch"
	"jobhost/pkg/logx"
)

// Well-known parameters understood by every job.
const (
	ParamTimestampFormat = "Timestamp Format"
	ParamDependentJob    = "Dependent Job"
)

// Handler is the job-specific part of a Task.
type Handler interface {
	Attributes() []attr.Spec
	Initialize(ctx context.Context, t *Task) error
	BeforeExecution(ctx context.Context, t *Task) error
	OnExecution(ctx context.Context, t *Task) error
	AfterExecution(ctx context.Context, t *Task) error
}

// Base provides no-op hooks. Embed it and implement OnExecution.
type Base struct{}

func (Base) Attributes() []attr.Spec { return nil }

func (Base) Initialize(_ context.Context, t *Task) error {
	t.Logger().Debug("task parameters", logx.String("params", t.Params().Dump()))
	return nil
}

func (Base) BeforeExecution(context.Context, *Task) error { return nil }
func (Base) AfterExecution(context.Context, *Task) error  { return nil }

// Config wires a Task to its host.
type Config struct {
	Name   string
	Params map[string]string

	// Host is the host-owned stop signal. Optional.
	Host      Token
	Scheduler SchedulerService
	Locator   platform.Locator
	Metadata  platform.MetadataFactory

	// PollInterval paces the dependent job trigger. 0 means DefaultPollInterval.
	PollInterval time.Duration
	// TriggerWait bounds the dependent job trigger. 0 means DefaultTriggerWait.
	TriggerWait time.Duration
	Logger      logx.Logger
}

// Task is one job instance: its parameters, stop signal, watch and last result.
type Task struct {
	name    string
	handler Handler
	params  attr.Map
	local   *Signal
	token   Composite
	log     logx.Logger

	sched   SchedulerService
	locator platform.Locator
	meta    platform.MetadataFactory
	poll    time.Duration
	wait    time.Duration

	watch  *watch.Watch
	layout string

	mu     sync.Mutex
	result error
}

// New builds a Task. Parameters are copied; the Task owns its map.
func New(cfg Config, h Handler) (*Task, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, &Error{Kind: KindConfiguration, Op: "new", Err: errors.New("job name must not be empty")}
	}
	if h == nil {
		return nil, &Error{Kind: KindDependencyNotFound, Op: "new", Err: Linkage("handler for "+name)}
	}
	params := attr.Map(cfg.Params).Clone()
	local := NewSignal()
	log := cfg.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Task{
		name:    name,
		handler: h,
		params:  params,
		local:   local,
		token:   Composite{Host: cfg.Host, Local: local},
		log:     log.With(logx.String("job", name)),
		sched:   cfg.Scheduler,
		locator: cfg.Locator,
		meta:    cfg.Metadata,
		poll:    cfg.PollInterval,
		wait:    cfg.TriggerWait,
		watch:   watch.New(name),
	}, nil
}

func (t *Task) Name() string            { return t.name }
func (t *Task) Handler() Handler        { return t.handler }
func (t *Task) Params() attr.Map        { return t.params }
func (t *Task) Logger() logx.Logger     { return t.log }
func (t *Task) Watch() *watch.Watch     { return t.watch }
func (t *Task) TimestampLayout() string { return t.layout }

// Result is the error recorded by the last Init or Execute, nil on success.
func (t *Task) Result() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Success reports whether the last Init or Execute recorded no result.
func (t *Task) Success() bool { return t.Result() == nil }

func (t *Task) setResult(err error) {
	t.mu.Lock()
	t.result = err
	t.mu.Unlock()
}

// Stop requests cancellation locally and forwards it to the host.
func (t *Task) Stop() bool { return t.token.Request() }

// Stopped reports whether the host or the job requested a stop.
func (t *Task) Stopped() bool { return t.token.Requested() }

// TimerStart and TimerStop time a named section on the task's watch.
func (t *Task) TimerStart(name string) { t.watch.Start(name) }
func (t *Task) TimerStop(name string) time.Duration {
	return t.watch.Stop(name)
}

// Init validates parameters and runs the Initialize hook. It starts a fresh
// watch. Any failure is recorded as the result and returned as a *Error.
func (t *Task) Init(ctx context.Context) error {
	const op = "init"
	t.watch = watch.New(t.name)
	err := t.init(ctx)
	if err == nil {
		return nil
	}
	t.logFailure(op, err)
	err = declare(op, err)
	t.setResult(err)
	return err
}

func (t *Task) init(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered("initialize", r, debug.Stack())
		}
	}()
	if err := attr.Validate(t.name, t.handler.Attributes(), t.params); err != nil {
		return configuration("populate", err)
	}
	if layout := strings.TrimSpace(t.params.String(ParamTimestampFormat)); layout != "" {
		t.layout = layout
	}
	return classify("initialize", t.handler.Initialize(ctx, t))
}

// Execute runs one execution of the job. It is a no-op when a stop was
// already requested. AfterExecution always runs once BeforeExecution was
// attempted. The returned error, if any, is a *Error.
func (t *Task) Execute(ctx context.Context) error {
	const op = "execute"
	if t.Stopped() {
		return nil
	}
	t.watch.Start(op)
	t.setResult(nil)

	phaseCtx, release := t.bind(ctx)
	res := t.phase(phaseCtx, "before", t.handler.BeforeExecution)
	if res == nil && !t.Stopped() {
		res = t.phase(phaseCtx, "on", t.handler.OnExecution)
	}
	release()

	if cleanup := t.phase(ctx, "after", t.handler.AfterExecution); cleanup != nil {
		if res == nil {
			res = cleanup
		} else {
			t.log.Error("cleanup failed after earlier failure", logx.Err(cleanup))
			res = errors.WithSecondaryError(res, cleanup)
		}
	}
	t.watch.Stop(op)
	if t.log.Enabled(logx.LevelDebug) {
		t.log.Debug("execution summary", logx.String("watch", t.watch.Summary()))
	}

	if res != nil {
		t.logFailure(op, res)
		res = declare(op, res)
		t.setResult(res)
		return res
	}

	if dep := strings.TrimSpace(t.params.String(ParamDependentJob)); dep != "" {
		// An interrupted poll was logged by the trigger.
		if err := t.StartJob(ctx, dep); err != nil && !errors.Is(err, ErrTriggerInterrupted) {
			t.log.Fatal("dependent job not started", logx.String("dependent", dep), logx.Err(err))
		}
	}
	return nil
}

// StartJob triggers another job through the scheduler service and waits
// until it has left the queue. Stop requests and the trigger wait bound
// abort the wait.
func (t *Task) StartJob(ctx context.Context, name string) error {
	return NewTrigger(t.sched, t.log, t.poll).WithWait(t.wait).Start(ctx, name, t.Stopped)
}

// phase runs one hook, converting panics and linkage faults.
func (t *Task) phase(ctx context.Context, name string, fn func(context.Context, *Task) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(name, r, debug.Stack())
		}
	}()
	return classify(name, fn(ctx, t))
}

// bind derives a context cancelled as soon as either stop signal fires.
func (t *Task) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	var hostDone <-chan struct{}
	if d, ok := t.token.Host.(doner); ok {
		hostDone = d.Done()
	}
	go func() {
		select {
		case <-t.local.Done():
		case <-hostDone:
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

func (t *Task) logFailure(op string, err error) {
	fields := []logx.Field{logx.String("op", op), logx.String("kind", KindOf(err).String()), logx.Err(err)}
	if IsDeclared(err) && KindOf(err) != KindUnhandled {
		t.log.Error("job failed", fields...)
		return
	}
	t.log.Fatal("job failed", append(fields, logx.ErrDetail(err))...)
}

// ---- parameters ----

// Timestamp reads a timestamp parameter using the Timestamp Format layout.
// Missing or malformed values yield attr.Epoch.
func (t *Task) Timestamp(name string) time.Time {
	return t.params.Timestamp(name, t.layout)
}

// SetTimestamp stores ts under name using the Timestamp Format layout.
// Without a layout the value is stored as RFC 3339.
func (t *Task) SetTimestamp(name string, ts time.Time) {
	layout := t.layout
	if layout == "" {
		layout = time.RFC3339
	}
	t.params.SetTimestamp(name, layout, ts)
}

// UpdateParameter sets name locally and persists it to the job definition
// when the definition declares that parameter.
func (t *Task) UpdateParameter(ctx context.Context, name, value string) error {
	const op = "update parameter"
	t.params.Set(name, value)
	if t.sched == nil {
		return &Error{Kind: KindDependencyNotFound, Op: op, Attribute: name, Err: Linkage("scheduler service")}
	}
	detail, err := t.sched.JobDetail(ctx, t.name)
	if err != nil {
		return General(op, err)
	}
	if detail == nil {
		return NotFound(op, "job "+t.name)
	}
	next := detail.Clone()
	if _, ok := next.Parameters[name]; !ok {
		t.log.Debug("parameter not declared by job definition", logx.String("param", name))
		return nil
	}
	next.Parameters[name] = value
	if err := t.sched.UpdateJob(ctx, next); err != nil {
		return General(op, err)
	}
	return nil
}

// UpdateTimestamp persists the current value of a timestamp parameter.
func (t *Task) UpdateTimestamp(ctx context.Context, name string) error {
	return t.UpdateParameter(ctx, name, t.params.String(name))
}

// ---- platform ----

// Service opens a facade. The caller closes the returned handle.
func (t *Task) Service(kind platform.Kind) (platform.Handle, error) {
	if t.locator == nil {
		return nil, &Error{Kind: KindDependencyNotFound, Op: "service", Err: Linkage("service locator")}
	}
	h, err := t.locator.Service(kind)
	if err != nil {
		return nil, &Error{Kind: KindDependencyNotFound, Op: "service", Err: errors.Wrapf(err, "facade %s", kind)}
	}
	return h, nil
}

// MetadataSession opens a read-committed metadata session.
func (t *Task) MetadataSession(ctx context.Context) (platform.MetadataSession, error) {
	if t.meta == nil {
		return nil, &Error{Kind: KindDependencyNotFound, Op: "metadata", Err: Linkage("metadata factory")}
	}
	s, err := t.meta.CreateSession(ctx, platform.SessionOptions{Isolation: platform.IsolationReadCommitted, Label: t.name})
	if err != nil {
		return nil, General("metadata", err)
	}
	return s, nil
}
