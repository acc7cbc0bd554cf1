package jobs

import (
	"context"
	"time"

	"jobhost/internal/task/attr"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

const (
	ParamDuration = "Duration"
	ParamTick     = "Tick"
)

var sleepAttributes = []attr.Spec{
	attr.Must(attr.Optional(ParamDuration, "1s")),
	attr.Must(attr.Optional(ParamTick, "100ms")),
}

// Sleep waits Duration, checking the stop signal every Tick.
type Sleep struct {
	job.Base
	d, tick time.Duration
}

func (*Sleep) Attributes() []attr.Spec { return sleepAttributes }

func (s *Sleep) Initialize(_ context.Context, t *job.Task) error {
	s.d = t.Params().Duration(ParamDuration, -1)
	if s.d < 0 {
		return &job.Error{Kind: job.KindConfiguration, Op: "initialize", Attribute: ParamDuration, Err: errInvalidDuration}
	}
	s.tick = t.Params().Duration(ParamTick, 100*time.Millisecond)
	if s.tick <= 0 {
		s.tick = 100 * time.Millisecond
	}
	return nil
}

func (s *Sleep) OnExecution(ctx context.Context, t *job.Task) error {
	t.TimerStart("sleep")
	defer t.TimerStop("sleep")

	deadline := time.NewTimer(s.d)
	defer deadline.Stop()
	tick := time.NewTicker(s.tick)
	defer tick.Stop()
	for {
		if t.Stopped() {
			t.Logger().Info("sleep interrupted")
			return nil
		}
		select {
		case <-deadline.C:
			t.Logger().Debug("sleep finished", logx.Duration("slept", s.d))
			return nil
		case <-ctx.Done():
			if !t.Stopped() {
				return job.General("sleep", ctx.Err())
			}
		case <-tick.C:
		}
	}
}
