package job

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"jobhost/internal/errors"
	"jobhost/pkg/logx"
)

const (
	// DefaultPollInterval paces status polling after a dependent job was triggered.
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultTriggerWait bounds how long the poll waits for the dependent
	// job to leave the queue.
	DefaultTriggerWait = 30 * time.Second
)

// ErrTriggerInterrupted is returned when a stop request, context
// cancellation or the wait bound ends the poll loop before the dependent
// job left the queue. The dependent job stays queued.
var ErrTriggerInterrupted = errors.New("dependent job trigger interrupted")

// Trigger starts a dependent job and waits until it has left the queue.
// It does not wait for the job to finish.
type Trigger struct {
	svc   SchedulerService
	log   logx.Logger
	every time.Duration
	wait  time.Duration
}

func NewTrigger(svc SchedulerService, log logx.Logger, every time.Duration) *Trigger {
	if every <= 0 {
		every = DefaultPollInterval
	}
	return &Trigger{svc: svc, log: log, every: every, wait: DefaultTriggerWait}
}

// WithWait sets the poll bound. d <= 0 keeps DefaultTriggerWait.
func (tr *Trigger) WithWait(d time.Duration) *Trigger {
	if d > 0 {
		tr.wait = d
	}
	return tr
}

// Start triggers name unless it is unknown, already queued or already
// running.
//
// stopped is polled between status checks; when it reports true the poll
// loop is abandoned and ErrTriggerInterrupted returned. A nil stopped never
// stops.
func (tr *Trigger) Start(ctx context.Context, name string, stopped func() bool) error {
	const op = "trigger"
	name = strings.TrimSpace(name)
	log := tr.log.With(logx.String("dependent", name))
	if tr.svc == nil {
		return &Error{Kind: KindDependencyNotFound, Op: op, Err: Linkage("scheduler service")}
	}
	if stopped == nil {
		stopped = func() bool { return false }
	}

	detail, err := tr.svc.JobDetail(ctx, name)
	if err != nil && !errors.IsNotFound(err) {
		return General(op, errors.Wrapf(err, "job detail %q", name))
	}
	if detail == nil {
		log.Error("dependent job not found")
		return nil
	}

	status, err := tr.svc.Status(ctx, name)
	if err != nil {
		return General(op, errors.Wrapf(err, "status %q", name))
	}
	if active(status) {
		log.Warn("dependent job already active", logx.String("status", status.String()))
		return nil
	}

	log.Info("starting dependent job")
	if err := tr.svc.TriggerNow(ctx, detail.Name); err != nil {
		// Another trigger may have queued it between Status and TriggerNow.
		if now, serr := tr.svc.Status(ctx, name); serr == nil && active(now) {
			log.Warn("dependent job already active", logx.String("status", now.String()))
			return nil
		}
		return General(op, errors.Wrapf(err, "trigger %q", name))
	}

	waitCtx, cancel := context.WithTimeout(ctx, tr.wait)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(tr.every), 1)
	for {
		if stopped() {
			log.Fatal("dependent job poll interrupted by stop request")
			return ErrTriggerInterrupted
		}
		if err := lim.Wait(waitCtx); err != nil {
			if ctx.Err() == nil {
				log.Warn("dependent job still queued", logx.Duration("waited", tr.wait))
				return errors.WithSecondaryError(ErrTriggerInterrupted, context.DeadlineExceeded)
			}
			log.Fatal("dependent job poll interrupted", logx.Err(err))
			return errors.WithSecondaryError(ErrTriggerInterrupted, err)
		}
		status, err = tr.svc.Status(ctx, name)
		if err != nil {
			return General(op, errors.Wrapf(err, "status %q", name))
		}
		if status != StatusQueued {
			break
		}
	}
	log.Info("dependent job started", logx.String("status", status.String()))
	return nil
}

func active(s Status) bool { return s == StatusQueued || s == StatusRunning }
