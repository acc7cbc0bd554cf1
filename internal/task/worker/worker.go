// Package worker fans bulk work out to goroutines that each own a platform
// session and a private Summary.
package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"jobhost/internal/errors"
	"jobhost/internal/platform"
	"jobhost/internal/task/job"
	"jobhost/internal/task/watch"
	"jobhost/pkg/logx"
)

// Handler is the unit of work a Worker runs.
type Handler interface {
	Initialize(ctx context.Context, w *Worker) error
	BeforeExecution(ctx context.Context, w *Worker) error
	OnExecution(ctx context.Context, w *Worker) error
	AfterExecution(ctx context.Context, w *Worker) error
}

// Base provides no-op hooks. Embed it and implement OnExecution.
type Base struct{}

func (Base) Initialize(context.Context, *Worker) error      { return nil }
func (Base) BeforeExecution(context.Context, *Worker) error { return nil }
func (Base) AfterExecution(context.Context, *Worker) error  { return nil }

type Config struct {
	Name     string
	Sessions platform.SessionProvider
	// Watch is shared with the owning job. Optional.
	Watch  *watch.Watch
	Logger logx.Logger
}

type Worker struct {
	name     string
	handler  Handler
	sessions platform.SessionProvider
	session  platform.Session
	watch    *watch.Watch
	log      logx.Logger

	summary Summary

	ran        atomic.Bool
	release    sync.Once
	releaseErr error
	err        error
}

// New logs in and runs the Initialize hook. If login fails no Worker is
// built. If Initialize fails the session is logged out before New returns.
func New(ctx context.Context, cfg Config, h Handler) (_ *Worker, err error) {
	if h == nil {
		return nil, &job.Error{Kind: job.KindDependencyNotFound, Op: "worker", Err: job.Linkage("worker handler")}
	}
	if cfg.Sessions == nil {
		return nil, &job.Error{Kind: job.KindDependencyNotFound, Op: "worker", Err: job.Linkage("session provider")}
	}
	log := cfg.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := cfg.Sessions.Login(ctx)
	if err != nil {
		return nil, job.General("login", err)
	}
	w := &Worker{
		name:     cfg.Name,
		handler:  h,
		sessions: cfg.Sessions,
		session:  s,
		watch:    cfg.Watch,
		log:      log.With(logx.String("worker", cfg.Name)),
	}
	defer func() {
		if err != nil {
			if lerr := w.logout(ctx); lerr != nil {
				err = errors.WithSecondaryError(err, lerr)
			}
		}
	}()
	if err := w.phase(ctx, "initialize", h.Initialize); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) Name() string              { return w.name }
func (w *Worker) Session() platform.Session { return w.session }
func (w *Worker) Logger() logx.Logger       { return w.log }

// Summary returns a copy of the counters.
func (w *Worker) Summary() Summary { return w.summary }

// Err is the failure recorded by Run, nil on success.
func (w *Worker) Err() error { return w.err }

func (w *Worker) IncrementSuccess(n int) { w.summary.success += n }
func (w *Worker) IncrementFailed(n int)  { w.summary.failed += n }
func (w *Worker) IncrementIgnored(n int) { w.summary.ignored += n }
func (w *Worker) DecrementSuccess(n int) { w.summary.success -= n }
func (w *Worker) DecrementFailed(n int)  { w.summary.failed -= n }
func (w *Worker) DecrementIgnored(n int) { w.summary.ignored -= n }

func (w *Worker) TimerStart(name string) { w.watch.Start(w.name + "/" + name) }
func (w *Worker) TimerStop(name string)  { w.watch.Stop(w.name + "/" + name) }

// Run executes BeforeExecution, OnExecution and AfterExecution, then logs
// out. It never panics; failures are logged and kept in Err. A second call
// does nothing.
func (w *Worker) Run(ctx context.Context) {
	if !w.ran.CompareAndSwap(false, true) {
		return
	}
	w.TimerStart("run")
	defer w.TimerStop("run")
	defer func() {
		if err := w.logout(ctx); err != nil {
			w.log.Error("session logout failed", logx.Err(err))
		}
	}()

	err := w.phase(ctx, "before", w.handler.BeforeExecution)
	if err == nil {
		err = w.phase(ctx, "on", w.handler.OnExecution)
	}
	if cleanup := w.phase(ctx, "after", w.handler.AfterExecution); cleanup != nil {
		if err == nil {
			err = cleanup
		} else {
			err = errors.WithSecondaryError(err, cleanup)
		}
	}
	if err == nil {
		w.log.Debug("worker finished", logx.String("summary", w.summary.String()))
		return
	}
	w.err = err
	if job.IsDeclared(err) && job.KindOf(err) != job.KindUnhandled {
		w.log.Error("worker failed", logx.Err(err), logx.String("summary", w.summary.String()))
		return
	}
	w.log.Fatal("worker failed", logx.Err(err), logx.ErrDetail(err))
}

func (w *Worker) phase(ctx context.Context, name string, fn func(context.Context, *Worker) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := errors.WithDetail(errors.Newf("panic: %v", r), string(debug.Stack()))
			err = job.Unhandled(name, cause)
		}
	}()
	return fn(ctx, w)
}

// logout releases the session exactly once.
func (w *Worker) logout(ctx context.Context) error {
	w.release.Do(func() {
		w.releaseErr = w.sessions.Logout(context.WithoutCancel(ctx), w.session)
	})
	return w.releaseErr
}
