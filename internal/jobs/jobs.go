// Package jobs holds the job kinds that ship with jobhost.
//
// Every kind is a job.Handler registered under a stable kind name. Handlers
// that need host collaborators (storage, sessions, the systemd bus) get them
// through Deps at registration; everything else comes in through the job's
// parameters.
package jobs

import (
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/platform"
	"jobhost/internal/storage"
	"jobhost/internal/task/job"
	"jobhost/internal/task/worker"
	"jobhost/pkg/unitctl"
)

// Kind names.
const (
	KindNoop           = "noop"
	KindSleep          = "sleep"
	KindHistoryPurge   = "history-purge"
	KindParameterStamp = "parameter-stamp"
	KindSystemdUnit    = "systemd-unit"
)

var errInvalidDuration = errors.New("invalid duration")

// Deps are the host collaborators built-in jobs may use.
type Deps struct {
	Store    storage.Store
	Sessions platform.SessionProvider
	Seq      *worker.Sequence
	Units    unitctl.Dialer
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Register adds every built-in kind to reg.
func Register(reg *job.Registry, deps Deps) error {
	if deps.Seq == nil {
		deps.Seq = &worker.Sequence{}
	}
	kinds := []struct {
		kind string
		ctor job.Constructor
	}{
		{KindNoop, func() job.Handler { return &Noop{} }},
		{KindSleep, func() job.Handler { return &Sleep{} }},
		{KindHistoryPurge, func() job.Handler { return &HistoryPurge{deps: deps} }},
		{KindParameterStamp, func() job.Handler { return &ParameterStamp{now: deps.now} }},
		{KindSystemdUnit, func() job.Handler { return &SystemdUnit{dial: deps.Units} }},
	}
	for _, k := range kinds {
		if err := reg.Register(k.kind, k.ctor); err != nil {
			return err
		}
	}
	return nil
}
