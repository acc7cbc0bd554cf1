package app

import (
	"sort"
	"strings"
	"time"

	"jobhost/internal/config"
	"jobhost/internal/errors"
	"jobhost/internal/observability/debugsrv"
	"jobhost/internal/platform"
	"jobhost/internal/storage"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	"jobhost/internal/task/scheduler"
	logx "jobhost/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, true, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, errors.Newf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}

	enabled := cfg.Scheduler.Enabled
	workers, queueSize, historySize := 2, 256, 200
	var defTimeoutStr, maxQueueDelayStr string

	if e := cfg.Engine; e != nil {
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		if e.Workers > 0 {
			workers = e.Workers
		}
		if e.QueueSize > 0 {
			queueSize = e.QueueSize
		}
		if e.HistorySize > 0 {
			historySize = e.HistorySize
		}
		defTimeoutStr, maxQueueDelayStr = e.DefaultTimeout, e.MaxQueueDelay

		// Scheduler triggers with nowhere to run are a config mistake, not a mode.
		if cfg.Scheduler.Enabled && e.Enabled != nil && !*e.Enabled {
			return engine.Config{}, errors.New("engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	defTimeout, err := config.ParseDurationField("engine.default_timeout", defTimeoutStr)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("engine.max_queue_delay", maxQueueDelayStr)
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, job.DefaultPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	wait, err := config.ParseDurationOrDefault("scheduler.trigger_wait", cfg.Scheduler.TriggerWait, job.DefaultTriggerWait)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		Timezone:     strings.TrimSpace(cfg.Scheduler.Timezone),
		PollInterval: poll,
		TriggerWait:  wait,
	}, nil
}

func mapPlatformConfig(cfg *config.Config) platform.LocalConfig {
	facades := make([]platform.Kind, 0, len(cfg.Platform.Facades))
	for _, f := range cfg.Platform.Facades {
		facades = append(facades, platform.Kind(f))
	}
	return platform.LocalConfig{
		User:        cfg.Platform.User,
		MaxSessions: cfg.Platform.MaxSessions,
		Facades:     facades,
		Metadata:    cfg.Platform.Metadata,
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	write, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 120*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Prefix:               strings.TrimSpace(d.Prefix),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}, nil
}

// jobDetail converts one jobs.<name> entry.
func jobDetail(name string, jc config.JobConfig) (job.JobDetail, error) {
	timeout, err := config.ParseDurationField("jobs."+name+".timeout", jc.Timeout)
	if err != nil {
		return job.JobDetail{}, err
	}
	params := make(map[string]string, len(jc.Params))
	for k, v := range jc.Params {
		params[k] = v
	}
	return job.JobDetail{
		Name:       name,
		Kind:       strings.TrimSpace(jc.Kind),
		Schedule:   strings.TrimSpace(jc.Schedule),
		Timeout:    timeout,
		Enabled:    jc.IsEnabled(),
		Parameters: params,
	}, nil
}

// jobDetails converts the jobs section in name order.
func jobDetails(cfg *config.Config) ([]job.JobDetail, error) {
	names := make([]string, 0, len(cfg.Jobs))
	for name := range cfg.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]job.JobDetail, 0, len(names))
	for _, name := range names {
		d, err := jobDetail(name, cfg.Jobs[name])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
