package config

import (
	"net"
	"sort"
	"strings"
	"time"

	"jobhost/internal/errors"
)

// Validate checks the structural rules that need no runtime collaborators:
// durations parse, the storage driver is known, the timezone loads and
// every job names a kind. Schedules and kinds are resolved by the host.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if e := cfg.Engine; e != nil {
		if e.Workers < 0 {
			add(errors.New("engine.workers must be >= 0"))
		}
		if e.QueueSize < 0 {
			add(errors.New("engine.queue_size must be >= 0"))
		}
		if e.HistorySize < 0 {
			add(errors.New("engine.history_size must be >= 0"))
		}
		_, err := ParseDurationField("engine.default_timeout", e.DefaultTimeout)
		add(err)
		_, err = ParseDurationField("engine.max_queue_delay", e.MaxQueueDelay)
		add(err)
	}

	_, err := ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	add(err)
	_, err = ParseDurationField("scheduler.trigger_wait", cfg.Scheduler.TriggerWait)
	add(err)
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(errors.Wrapf(err, "scheduler.timezone %q", tz))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "mem", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path is required when storage.driver=sqlite"))
			}
		default:
			add(errors.WithHint(errors.Newf("unknown storage.driver: %s", s.Driver), "use memory, file or sqlite"))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	if cfg.Platform.MaxSessions < 0 {
		add(errors.New("platform.max_sessions must be >= 0"))
	}

	d := cfg.Debug
	for _, f := range []struct{ name, raw string }{
		{"debug.read_timeout", d.ReadTimeout},
		{"debug.write_timeout", d.WriteTimeout},
		{"debug.idle_timeout", d.IdleTimeout},
	} {
		_, err := ParseDurationField(f.name, f.raw)
		add(err)
	}
	if d.MutexProfileFraction < 0 {
		add(errors.New("debug.mutex_profile_fraction must be >= 0"))
	}
	if d.BlockProfileRate < 0 {
		add(errors.New("debug.block_profile_rate must be >= 0"))
	}
	if addr := strings.TrimSpace(d.Addr); d.Enabled && addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(errors.Wrapf(err, "debug.addr %q (expected host:port)", addr))
		} else if !d.AllowInsecure && strings.TrimSpace(d.Token) == "" && !isLoopbackAddr(addr) {
			add(errors.WithHint(
				errors.Newf("debug.addr %s is not loopback", addr),
				"set debug.token or debug.allow_insecure",
			))
		}
	}

	names := make([]string, 0, len(cfg.Jobs))
	for name := range cfg.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	seen := make(map[string]string, len(names))
	for _, name := range names {
		j := cfg.Jobs[name]
		k := strings.ToLower(strings.TrimSpace(name))
		if k == "" {
			add(errors.New("jobs: empty job name"))
			continue
		}
		// Job names are matched case-insensitively at runtime.
		if prev, dup := seen[k]; dup {
			add(errors.Newf("jobs: %q and %q name the same job", prev, name))
		}
		seen[k] = name
		if strings.TrimSpace(j.Kind) == "" {
			add(errors.Newf("jobs.%s.kind is required", name))
		}
		_, err := ParseDurationField("jobs."+name+".timeout", j.Timeout)
		add(err)
	}

	return errors.Join(errs...)
}

// isLoopbackAddr reports whether a host:port binds to a loopback interface.
// An empty host listens everywhere and is not loopback.
func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
