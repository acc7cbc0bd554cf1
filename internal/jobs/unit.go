package jobs

import (
	"context"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/task/attr"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
	"jobhost/pkg/unitctl"
)

const (
	ParamUnit   = "Unit"
	ParamAction = "Action"
	ParamSettle = "Settle"
)

var unitAttributes = []attr.Spec{
	attr.Must(attr.Mandatory(ParamUnit)),
	attr.Must(attr.Optional(ParamAction, string(unitctl.ActionCheck))),
	attr.Must(attr.Optional(ParamSettle, "0s")),
}

// SystemdUnit checks or drives one systemd unit. check fails unless the unit
// is active; start, stop and restart wait for the systemd job, optionally
// sleep Settle, and then verify the resulting state.
type SystemdUnit struct {
	job.Base
	dial unitctl.Dialer

	unit   string
	action unitctl.Action
	settle time.Duration
}

func (*SystemdUnit) Attributes() []attr.Spec { return unitAttributes }

func (u *SystemdUnit) Initialize(_ context.Context, t *job.Task) error {
	const op = "initialize"
	params := t.Params()
	u.unit = unitctl.UnitName(params.String(ParamUnit))
	a, err := unitctl.ParseAction(params.String(ParamAction))
	if err != nil {
		return &job.Error{Kind: job.KindConfiguration, Op: op, Attribute: ParamAction, Err: err}
	}
	u.action = a
	u.settle = params.Duration(ParamSettle, -1)
	if u.settle < 0 {
		return &job.Error{Kind: job.KindConfiguration, Op: op, Attribute: ParamSettle, Err: errInvalidDuration}
	}
	if u.dial == nil {
		return &job.Error{Kind: job.KindDependencyNotFound, Op: op, Err: job.Linkage("systemd dialer")}
	}
	return nil
}

func (u *SystemdUnit) OnExecution(ctx context.Context, t *job.Task) error {
	ctl, err := u.dial(ctx)
	if err != nil {
		return &job.Error{Kind: job.KindDependencyNotFound, Op: "dial", Err: err}
	}
	defer ctl.Close()

	log := t.Logger().With(logx.String("unit", u.unit), logx.String("action", string(u.action)))
	if u.action != unitctl.ActionCheck {
		t.TimerStart(string(u.action))
		res, err := ctl.Run(ctx, u.action, u.unit)
		t.TimerStop(string(u.action))
		if errors.Is(err, unitctl.ErrNoSuchUnit) {
			return job.NotFound(string(u.action), u.unit)
		}
		if err != nil {
			return job.General(string(u.action), err)
		}
		log.Debug("systemd job finished", logx.String("result", res))
		if u.settle > 0 && !sleepCtx(ctx, u.settle) {
			return nil
		}
	}

	st, err := ctl.Status(ctx, u.unit)
	if err != nil {
		return job.General("status", err)
	}
	if !st.Found() {
		return job.NotFound("status", u.unit)
	}
	if st.IsActive() != u.action.WantsActive() {
		return job.General("verify", errors.Newf("%s is %s (%s)", u.unit, st.Active, st.SubState))
	}
	log.Info("unit state", logx.String("active", st.Active), logx.String("sub", st.SubState))
	return nil
}

// sleepCtx waits d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-tm.C:
		return true
	case <-ctx.Done():
		return false
	}
}
