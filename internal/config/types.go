package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Engine controls execution of job invocations. If omitted, the engine
	// follows scheduler.enabled with defaults for everything else.
	Engine *EngineConfig `json:"engine,omitempty"`

	// Scheduler controls triggers (cron/interval) and dependent-job pacing.
	Scheduler SchedulerConfig `json:"scheduler"`

	Storage  *StorageConfig       `json:"storage,omitempty"`
	Platform PlatformConfig       `json:"platform"`
	Debug    DebugConfig          `json:"debug"`
	Jobs     map[string]JobConfig `json:"jobs"`
}

// EngineConfig controls the execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type EngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout applies to jobs without their own timeout.
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops invocations that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./jobhost.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional debug HTTP listener (health, state and
// pprof). Binding to a non-loopback address requires a token unless
// allow_insecure is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default 127.0.0.1:6060
	Prefix        string `json:"prefix,omitempty"` // default /debug/pprof/
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler (trigger) service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone.
	Timezone string `json:"timezone,omitempty"`

	// PollInterval paces the dependent-job wait loop (200ms when omitted).
	PollInterval string `json:"poll_interval,omitempty"`

	// TriggerWait bounds how long a job waits for its dependent job to
	// leave the queue (30s when omitted).
	TriggerWait string `json:"trigger_wait,omitempty"`
}

// PlatformConfig describes the in-process platform the jobs talk to.
type PlatformConfig struct {
	User        string            `json:"user,omitempty"`
	MaxSessions int               `json:"max_sessions,omitempty"`
	Facades     []string          `json:"facades,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// JobConfig declares one scheduled job. The map key is the job name.
type JobConfig struct {
	Kind     string `json:"kind"`
	Schedule string `json:"schedule,omitempty"`
	// Timeout is a Go duration string; empty uses engine.default_timeout.
	Timeout string `json:"timeout,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool             `json:"enabled,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

// UnmarshalJSON disallows unknown fields so a misspelled job key is caught
// on reload instead of being silently ignored.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Kind     string            `json:"kind"`
		Schedule string            `json:"schedule,omitempty"`
		Timeout  string            `json:"timeout,omitempty"`
		Enabled  *bool             `json:"enabled,omitempty"`
		Params   map[string]string `json:"params,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*j = JobConfig(t)
	return nil
}
