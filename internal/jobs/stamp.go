package jobs

import (
	"context"
	"strings"
	"time"

	"jobhost/internal/task/attr"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

const (
	ParamStampTarget = "Stamp Parameter"
	ParamLastRun     = "Last Execution"
)

var stampAttributes = []attr.Spec{
	attr.Must(attr.Optional(ParamStampTarget, ParamLastRun)),
}

// ParameterStamp writes the current time into a timestamp parameter
// (Last Execution by default) and persists it to the job definition.
type ParameterStamp struct {
	job.Base
	now    func() time.Time
	target string
}

func (*ParameterStamp) Attributes() []attr.Spec { return stampAttributes }

func (s *ParameterStamp) Initialize(_ context.Context, t *job.Task) error {
	s.target = strings.TrimSpace(t.Params().String(ParamStampTarget))
	if s.now == nil {
		s.now = time.Now
	}
	return nil
}

func (s *ParameterStamp) OnExecution(ctx context.Context, t *job.Task) error {
	prev := t.Timestamp(s.target)
	t.SetTimestamp(s.target, s.now())
	if err := t.UpdateTimestamp(ctx, s.target); err != nil {
		return err
	}
	t.Logger().Info("timestamp stamped",
		logx.String("param", s.target),
		logx.String("value", t.Params().String(s.target)),
		logx.Time("previous", prev),
	)
	return nil
}
