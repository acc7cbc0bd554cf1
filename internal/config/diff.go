package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobhost/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes parameter values),
// and (3) a list of job names that changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler (triggers)
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.PollInterval) != strings.TrimSpace(newCfg.Scheduler.PollInterval) ||
		strings.TrimSpace(oldCfg.Scheduler.TriggerWait) != strings.TrimSpace(newCfg.Scheduler.TriggerWait) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.trigger_wait", strings.TrimSpace(newCfg.Scheduler.TriggerWait)),
		)
	}

	// Engine (executor)
	oE := derefEngine(oldCfg.Engine)
	nE := derefEngine(newCfg.Engine)
	if (oldCfg.Engine != nil) != (newCfg.Engine != nil) || !reflect.DeepEqual(oE, nE) {
		changed = append(changed, "engine")

		enabledEffective := newCfg.Scheduler.Enabled
		enabledSet := false
		if newCfg.Engine != nil && newCfg.Engine.Enabled != nil {
			enabledSet = true
			enabledEffective = *newCfg.Engine.Enabled
		}

		attrs = append(attrs,
			logx.Bool("engine.present", newCfg.Engine != nil),
			logx.Bool("engine.enabled", enabledEffective),
			logx.Bool("engine.enabled_set", enabledSet),
			logx.Int("engine.workers", nE.Workers),
			logx.Int("engine.queue_size", nE.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(nE.DefaultTimeout)),
			logx.String("engine.max_queue_delay", strings.TrimSpace(nE.MaxQueueDelay)),
			logx.Int("engine.history_size", nE.HistorySize),
		)
	}

	// Storage (persistence). Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Platform (metadata values are not logged)
	if !reflect.DeepEqual(oldCfg.Platform, newCfg.Platform) {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.String("platform.user", newCfg.Platform.User),
			logx.Int("platform.max_sessions", newCfg.Platform.MaxSessions),
			logx.Int("platform.facades", len(newCfg.Platform.Facades)),
			logx.Int("platform.metadata_keys", len(newCfg.Platform.Metadata)),
		)
	}

	// Debug listener (token is never logged)
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	// Jobs (summarize only; details at debug)
	jobsChanged := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobsChanged) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobsChanged)),
			logx.Int("jobs.enabled_count", countEnabled(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobsChanged
}

func derefEngine(e *EngineConfig) EngineConfig {
	if e == nil {
		return EngineConfig{}
	}
	return *e
}

func countEnabled(m map[string]JobConfig) int {
	n := 0
	for _, v := range m {
		if v.IsEnabled() {
			n++
		}
	}
	return n
}

// diffJobs lists names that were added, removed or modified.
func diffJobs(oldM, newM map[string]JobConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || !sameJob(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sameJob(a, b JobConfig) bool {
	if a.Kind != b.Kind ||
		strings.TrimSpace(a.Schedule) != strings.TrimSpace(b.Schedule) ||
		strings.TrimSpace(a.Timeout) != strings.TrimSpace(b.Timeout) ||
		a.IsEnabled() != b.IsEnabled() ||
		len(a.Params) != len(b.Params) {
		return false
	}
	for k, v := range a.Params {
		if w, ok := b.Params[k]; !ok || w != v {
			return false
		}
	}
	return true
}
