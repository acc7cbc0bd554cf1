package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/config"
	"jobhost/internal/jobs"
	"jobhost/internal/storage"
	"jobhost/internal/task/job"
)

const testConfig = `
logging:
  level: error
  console: true
engine:
  workers: 2
scheduler:
  enabled: false
storage:
  driver: memory
platform:
  user: tester
  metadata:
    region: eu
jobs:
  Wiring Check:
    kind: noop
    params:
      Facade: user
      Metadata Key: region
  Stamp:
    kind: parameter-stamp
    schedule: "@every 1h"
    params:
      Last Execution: ""
  Disabled Sleep:
    kind: sleep
    enabled: false
    params:
      Duration: 10ms
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	a, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func TestNewRegistersConfiguredJobs(t *testing.T) {
	a := newTestApp(t)
	assert.ElementsMatch(t, []string{"Disabled Sleep", "Stamp", "Wiring Check"}, a.Scheduler().Jobs())
	assert.NotNil(t, a.Store())

	d, err := a.Scheduler().JobDetail(context.Background(), "disabled sleep")
	require.NoError(t, err)
	assert.False(t, d.Enabled)
	assert.Equal(t, jobs.KindSleep, d.Kind)
}

func TestRunOnceRecordsHistory(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, err := a.RunOnce(ctx, "Wiring Check")
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeSuccess, ev.Status)

	runs, err := a.Store().ListRuns(ctx, storage.RunQuery{Job: "wiring check"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, jobs.KindNoop, runs[0].Kind)

	st, err := a.Scheduler().Status(ctx, "Wiring Check")
	require.NoError(t, err)
	assert.Equal(t, job.StatusStopped, st)

	stats := a.Platform().Stats()
	assert.Zero(t, stats.OpenHandles)
}

func TestRunOnceStampPersistsParameter(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := a.RunOnce(ctx, "Stamp")
	require.NoError(t, err)

	params, ok, err := a.Store().GetParameters(ctx, "Stamp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, params[jobs.ParamLastRun])
}

func TestRunOnceUnknownJob(t *testing.T) {
	a := newTestApp(t)
	_, err := a.RunOnce(context.Background(), "nope")
	require.Error(t, err)
}

func TestApplyConfigSyncsJobs(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	oldCfg := a.Config()

	next := *oldCfg
	next.Jobs = map[string]config.JobConfig{
		"Wiring Check": oldCfg.Jobs["Wiring Check"],
		"Stamp":        oldCfg.Jobs["Stamp"],
		"Late Sleep":   {Kind: jobs.KindSleep, Params: map[string]string{"Duration": "5ms"}},
	}
	a.applyConfig(ctx, oldCfg, &next)

	assert.ElementsMatch(t, []string{"Late Sleep", "Stamp", "Wiring Check"}, a.Scheduler().Jobs())

	// A job with an unknown kind is rejected and the rest keeps running.
	broken := next
	broken.Jobs = map[string]config.JobConfig{
		"Wiring Check": next.Jobs["Wiring Check"],
		"Stamp":        next.Jobs["Stamp"],
		"Late Sleep":   {Kind: "bogus"},
	}
	a.applyConfig(ctx, &next, &broken)
	d, err := a.Scheduler().JobDetail(ctx, "Late Sleep")
	require.NoError(t, err)
	assert.Equal(t, jobs.KindSleep, d.Kind)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	require.NoError(t, jobs.Register(reg, jobs.Deps{}))

	good := &config.Config{Jobs: map[string]config.JobConfig{
		"a": {Kind: "noop", Schedule: "*/5 * * * *"},
		"b": {Kind: "sleep", Schedule: "02:30"},
		"c": {Kind: "noop"},
	}}
	require.NoError(t, ValidateConfig(good, reg))

	bad := &config.Config{Jobs: map[string]config.JobConfig{
		"a": {Kind: "teleport"},
		"b": {Kind: "noop", Schedule: "61 * * * *"},
	}}
	err := ValidateConfig(bad, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs.a.kind")
	assert.Contains(t, err.Error(), "jobs.b.schedule")

	off := false
	conflict := &config.Config{
		Scheduler: config.SchedulerConfig{Enabled: true},
		Engine:    &config.EngineConfig{Enabled: &off},
	}
	require.Error(t, ValidateConfig(conflict, reg))

	chained := &config.Config{
		Engine: &config.EngineConfig{Workers: 1},
		Jobs: map[string]config.JobConfig{
			"extract": {Kind: "noop", Params: map[string]string{job.ParamDependentJob: "load"}},
			"load":    {Kind: "noop"},
		},
	}
	err = ValidateConfig(chained, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.workers=1")
	assert.Contains(t, err.Error(), "extract")

	chained.Engine.Workers = 2
	require.NoError(t, ValidateConfig(chained, reg))
}

func TestMapEngineConfigDefaults(t *testing.T) {
	t.Parallel()
	ec, err := mapEngineConfig(&config.Config{Scheduler: config.SchedulerConfig{Enabled: true}})
	require.NoError(t, err)
	assert.True(t, ec.Enabled)
	assert.Equal(t, 2, ec.Workers)
	assert.Equal(t, 256, ec.QueueSize)
	assert.Equal(t, 200, ec.HistorySize)
	assert.Zero(t, ec.DefaultTimeout)

	ec, err = mapEngineConfig(&config.Config{Engine: &config.EngineConfig{Workers: 5, DefaultTimeout: "1m"}})
	require.NoError(t, err)
	assert.False(t, ec.Enabled)
	assert.Equal(t, 5, ec.Workers)
	assert.Equal(t, time.Minute, ec.DefaultTimeout)
}

func TestJobDetailConversion(t *testing.T) {
	t.Parallel()
	d, err := jobDetail("x", config.JobConfig{Kind: " noop ", Timeout: "2s", Params: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "noop", d.Kind)
	assert.Equal(t, 2*time.Second, d.Timeout)
	assert.True(t, d.Enabled)
	assert.Equal(t, "v", d.Parameters["k"])

	_, err = jobDetail("x", config.JobConfig{Kind: "noop", Timeout: "soon"})
	require.Error(t, err)
}

func TestMapDebugConfig(t *testing.T) {
	dc, err := mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Token: " t "}})
	require.NoError(t, err)
	assert.True(t, dc.Enabled)
	assert.Equal(t, "t", dc.Token)
	assert.Equal(t, 5*time.Second, dc.ReadTimeout)
	assert.Zero(t, dc.WriteTimeout)
	assert.Equal(t, 120*time.Second, dc.IdleTimeout)

	_, err = mapDebugConfig(&config.Config{Debug: config.DebugConfig{WriteTimeout: "later"}})
	require.Error(t, err)
}

func TestDebugStateBeforeStart(t *testing.T) {
	a := newTestApp(t)
	raw, err := json.Marshal(a.debugState())
	require.NoError(t, err)

	var st struct {
		Scheduler struct {
			Jobs []struct {
				Name string `json:"name"`
			} `json:"jobs"`
		} `json:"scheduler"`
		Supervisor *json.RawMessage `json:"supervisor"`
	}
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Len(t, st.Scheduler.Jobs, 3)
	assert.Nil(t, st.Supervisor)
}
