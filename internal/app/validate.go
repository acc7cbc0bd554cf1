package app

import (
	"strings"

	"jobhost/internal/config"
	"jobhost/internal/errors"
	"jobhost/internal/task/job"
	"jobhost/internal/task/scheduler"
)

// ValidateConfig runs the structural checks of config.Validate and then the
// checks that need the host: every job kind resolves in reg and every
// schedule parses. It is the hot-reload validator and the body of
// `jobhost validate`.
func ValidateConfig(cfg *config.Config, reg *job.Registry) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	engCfg, engErr := mapEngineConfig(cfg)
	if engErr != nil {
		errs = append(errs, engErr)
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}

	details, err := jobDetails(cfg)
	if err != nil {
		return errors.CombineErrors(errors.Join(errs...), err)
	}
	for _, d := range details {
		if reg != nil {
			if _, err := reg.Resolve(d.Kind); err != nil {
				errs = append(errs, errors.Wrapf(err, "jobs.%s.kind", d.Name))
			}
		}
		if err := scheduler.ValidateSchedule(d.Schedule); err != nil {
			errs = append(errs, errors.Wrapf(err, "jobs.%s.schedule", d.Name))
		}
	}
	if engErr == nil {
		if err := checkDependentCapacity(engCfg.Workers, details); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkDependentCapacity rejects dependent jobs on a single executor: the
// parent holds the only worker while its dependent job sits in the queue.
func checkDependentCapacity(workers int, details []job.JobDetail) error {
	if workers >= 2 {
		return nil
	}
	var parents []string
	for _, d := range details {
		if strings.TrimSpace(d.Parameters[job.ParamDependentJob]) != "" {
			parents = append(parents, d.Name)
		}
	}
	if len(parents) == 0 {
		return nil
	}
	return errors.WithHint(
		errors.Newf("engine.workers=%d cannot run dependent jobs of %s", workers, strings.Join(parents, ", ")),
		"set engine.workers to 2 or more")
}
