package job

import (
	"context"
	"time"
)

// Status is a job's run state as reported by the scheduler service.
type Status int

const (
	StatusUnknown     Status = 0
	StatusQueued      Status = 1 // triggered, not yet started
	StatusStopped     Status = 2
	StatusRunning     Status = 5
	StatusInterrupted Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// JobDetail describes a registered job.
type JobDetail struct {
	Name       string
	Kind       string
	Schedule   string
	Timeout    time.Duration
	Enabled    bool
	Parameters map[string]string
}

// Clone returns a deep copy of d.
func (d JobDetail) Clone() JobDetail {
	if d.Parameters != nil {
		p := make(map[string]string, len(d.Parameters))
		for k, v := range d.Parameters {
			p[k] = v
		}
		d.Parameters = p
	}
	return d
}

// SchedulerService is the host scheduler as seen from a job.
//
// JobDetail returns (nil, nil) or an error wrapping errors.ErrNotFound for
// unknown names.
type SchedulerService interface {
	JobDetail(ctx context.Context, name string) (*JobDetail, error)
	Status(ctx context.Context, name string) (Status, error)
	TriggerNow(ctx context.Context, name string) error
	UpdateJob(ctx context.Context, detail JobDetail) error
}
