package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
	"jobhost/internal/platform"
	"jobhost/internal/storage"
	"jobhost/internal/task/job"
	"jobhost/internal/task/worker"
	logx "jobhost/pkg/logx"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memScheduler struct {
	mu      sync.Mutex
	details map[string]job.JobDetail
}

func (m *memScheduler) JobDetail(_ context.Context, name string) (*job.JobDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.details[name]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, name)
	}
	d = d.Clone()
	return &d, nil
}

func (m *memScheduler) Status(context.Context, string) (job.Status, error) {
	return job.StatusStopped, nil
}

func (m *memScheduler) TriggerNow(context.Context, string) error { return nil }

func (m *memScheduler) UpdateJob(_ context.Context, d job.JobDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[d.Name] = d.Clone()
	return nil
}

func newTask(t *testing.T, h job.Handler, cfg job.Config) *job.Task {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test job"
	}
	cfg.Logger = logx.Nop()
	task, err := job.New(cfg, h)
	require.NoError(t, err)
	return task
}

func TestRegisterAllKinds(t *testing.T) {
	reg := job.NewRegistry()
	require.NoError(t, Register(reg, Deps{}))
	require.Equal(t, []string{KindHistoryPurge, KindNoop, KindParameterStamp, KindSleep, KindSystemdUnit}, reg.Kinds())
	require.Error(t, Register(reg, Deps{}), "kinds register once")

	for _, k := range reg.Kinds() {
		ctor, err := reg.Resolve(k)
		require.NoError(t, err)
		require.NotNil(t, ctor())
	}
}

func TestNoopUsesPlatform(t *testing.T) {
	local := platform.NewLocal(platform.LocalConfig{Metadata: map[string]string{"region": "eu-1"}}, logx.Nop())
	ctx := context.Background()

	task := newTask(t, &Noop{}, job.Config{
		Params:   map[string]string{ParamFacade: "Lookup", ParamMetadataKey: "region"},
		Locator:  local,
		Metadata: local,
	})
	require.NoError(t, task.Init(ctx))
	require.NoError(t, task.Execute(ctx))
	require.Zero(t, local.Stats().OpenHandles)

	task = newTask(t, &Noop{}, job.Config{
		Params:   map[string]string{ParamMetadataKey: "zone"},
		Metadata: local,
	})
	require.NoError(t, task.Init(ctx))
	err := task.Execute(ctx)
	require.Equal(t, job.KindNotFound, job.KindOf(err))

	task = newTask(t, &Noop{}, job.Config{Params: map[string]string{ParamFacade: "lookup"}})
	require.NoError(t, task.Init(ctx))
	require.Equal(t, job.KindDependencyNotFound, job.KindOf(task.Execute(ctx)))
}

func TestSleepStopsOnRequest(t *testing.T) {
	host := job.NewSignal()
	task := newTask(t, &Sleep{}, job.Config{
		Params: map[string]string{ParamDuration: "10s", ParamTick: "1ms"},
		Host:   host,
	})
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))

	done := make(chan error, 1)
	go func() { done <- task.Execute(ctx) }()
	time.Sleep(20 * time.Millisecond)
	host.Request()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sleep ignored the stop request")
	}
	require.True(t, task.Stopped())
}

func TestSleepCompletes(t *testing.T) {
	task := newTask(t, &Sleep{}, job.Config{Params: map[string]string{ParamDuration: "5ms"}})
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))
	require.NoError(t, task.Execute(ctx))
	require.Contains(t, task.Watch().Summary(), "sleep")
}

func TestSleepRejectsBadDuration(t *testing.T) {
	task := newTask(t, &Sleep{}, job.Config{Params: map[string]string{ParamDuration: "a while"}})
	err := task.Init(context.Background())
	require.Equal(t, job.KindConfiguration, job.KindOf(err))
}

func seedRuns(t *testing.T, st storage.Store, job string, n int, finished time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.AppendRun(context.Background(), storage.RunRecord{
			ID:       fmt.Sprintf("%s-%d-%d", job, finished.Unix(), i),
			Job:      job,
			Kind:     KindNoop,
			Finished: finished.Add(time.Duration(i) * time.Minute),
			Outcome:  storage.OutcomeSuccess,
		}))
	}
}

func purgeTask(t *testing.T, deps Deps, params map[string]string) (*job.Task, *HistoryPurge) {
	t.Helper()
	deps.Now = func() time.Time { return now }
	if deps.Seq == nil {
		deps.Seq = &worker.Sequence{}
	}
	h := &HistoryPurge{deps: deps}
	return newTask(t, h, job.Config{Name: "purge", Params: params}), h
}

func TestHistoryPurgeDeletesOldRuns(t *testing.T) {
	st := storage.NewMemory()
	seedRuns(t, st, "a", 15, now.AddDate(0, 0, -40))
	seedRuns(t, st, "b", 10, now.Add(-time.Hour))
	local := platform.NewLocal(platform.LocalConfig{}, logx.Nop())

	task, h := purgeTask(t, Deps{Store: st, Sessions: local}, map[string]string{
		ParamRetention: "720h",
		ParamBatchSize: "4",
		ParamWorkers:   "3",
	})
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))
	require.NoError(t, task.Execute(ctx))

	sum := h.Summary()
	require.Equal(t, 15, sum.Success())
	require.Equal(t, 10, sum.Ignored())
	require.Zero(t, sum.Failed())

	left, err := st.ListRuns(ctx, storage.RunQuery{})
	require.NoError(t, err)
	require.Len(t, left, 10)

	stats := local.Stats()
	require.EqualValues(t, 3, stats.Logins)
	require.EqualValues(t, 3, stats.Logouts)
	require.Zero(t, stats.ActiveSessions)
}

func TestHistoryPurgeJobFilter(t *testing.T) {
	st := storage.NewMemory()
	seedRuns(t, st, "a", 3, now.AddDate(0, 0, -40))
	seedRuns(t, st, "b", 3, now.AddDate(0, 0, -40))
	local := platform.NewLocal(platform.LocalConfig{}, logx.Nop())

	task, h := purgeTask(t, Deps{Store: st, Sessions: local}, map[string]string{ParamJobFilter: "b"})
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))
	require.NoError(t, task.Execute(ctx))
	require.Equal(t, 3, h.Summary().Success())

	left, err := st.ListRuns(ctx, storage.RunQuery{})
	require.NoError(t, err)
	require.Len(t, left, 3)
	for _, r := range left {
		require.Equal(t, "a", r.Job)
	}
}

type failingDeletes struct{ *storage.Memory }

func (failingDeletes) DeleteRuns(context.Context, []string) (int, error) {
	return 0, errors.New("read-only store")
}

func TestHistoryPurgeCountsFailedDeletes(t *testing.T) {
	mem := storage.NewMemory()
	seedRuns(t, mem, "a", 5, now.AddDate(0, 0, -40))
	local := platform.NewLocal(platform.LocalConfig{}, logx.Nop())

	task, h := purgeTask(t, Deps{Store: failingDeletes{mem}, Sessions: local}, map[string]string{ParamBatchSize: "2"})
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))
	err := task.Execute(ctx)
	require.Equal(t, job.KindGeneral, job.KindOf(err))
	require.Equal(t, 5, h.Summary().Failed())
	require.Zero(t, local.Stats().ActiveSessions)
}

// pagingStore records how many runs were already deleted at each list call.
type pagingStore struct {
	*storage.Memory

	mu            sync.Mutex
	deleted       int
	deletedAtList []int
}

func (s *pagingStore) ListRuns(ctx context.Context, q storage.RunQuery) ([]storage.RunRecord, error) {
	s.mu.Lock()
	s.deletedAtList = append(s.deletedAtList, s.deleted)
	s.mu.Unlock()
	return s.Memory.ListRuns(ctx, q)
}

func (s *pagingStore) DeleteRuns(ctx context.Context, ids []string) (int, error) {
	n, err := s.Memory.DeleteRuns(ctx, ids)
	s.mu.Lock()
	s.deleted += n
	s.mu.Unlock()
	return n, err
}

func TestHistoryPurgeDeletesWhileReading(t *testing.T) {
	st := &pagingStore{Memory: storage.NewMemory()}
	seedRuns(t, st, "a", 10, now.AddDate(0, 0, -40))
	local := platform.NewLocal(platform.LocalConfig{}, logx.Nop())

	task, h := purgeTask(t, Deps{Store: st, Sessions: local}, map[string]string{
		ParamBatchSize: "2",
		ParamWorkers:   "1",
	})
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))
	require.NoError(t, task.Execute(ctx))
	require.Equal(t, 10, h.Summary().Success())

	left, err := st.Memory.ListRuns(ctx, storage.RunQuery{})
	require.NoError(t, err)
	require.Empty(t, left)

	st.mu.Lock()
	defer st.mu.Unlock()
	// five full pages and the empty read that ends the scan
	require.Len(t, st.deletedAtList, 6)
	// one page in flight and one buffered: the fourth read waits for the
	// first page to be deleted
	require.GreaterOrEqual(t, st.deletedAtList[3], 2)
}

func TestHistoryPurgeNeedsCollaborators(t *testing.T) {
	ctx := context.Background()
	task, _ := purgeTask(t, Deps{}, nil)
	require.Equal(t, job.KindDependencyNotFound, job.KindOf(task.Init(ctx)))

	local := platform.NewLocal(platform.LocalConfig{}, logx.Nop())
	task, _ = purgeTask(t, Deps{Store: storage.NewMemory(), Sessions: local}, map[string]string{ParamRetention: "0s"})
	require.Equal(t, job.KindConfiguration, job.KindOf(task.Init(ctx)))
}

func TestHistoryPurgeNothingToDo(t *testing.T) {
	local := platform.NewLocal(platform.LocalConfig{}, logx.Nop())
	task, h := purgeTask(t, Deps{Store: storage.NewMemory(), Sessions: local}, nil)
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))
	require.NoError(t, task.Execute(ctx))
	require.Zero(t, h.Summary().Total())
	require.Zero(t, local.Stats().Logins)
}

func TestParameterStampPersists(t *testing.T) {
	sched := &memScheduler{details: map[string]job.JobDetail{
		"stamp": {Name: "stamp", Kind: KindParameterStamp, Parameters: map[string]string{
			job.ParamTimestampFormat: "2006-01-02 15:04",
			ParamLastRun:             "2024-04-30 12:00",
		}},
	}}
	d, err := sched.JobDetail(context.Background(), "stamp")
	require.NoError(t, err)

	task := newTask(t, &ParameterStamp{now: func() time.Time { return now }}, job.Config{
		Name:      "stamp",
		Params:    d.Parameters,
		Scheduler: sched,
	})
	ctx := context.Background()
	require.NoError(t, task.Init(ctx))
	require.Equal(t, time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC), task.Timestamp(ParamLastRun))
	require.NoError(t, task.Execute(ctx))

	d, err = sched.JobDetail(ctx, "stamp")
	require.NoError(t, err)
	require.Equal(t, "2024-05-01 12:00", d.Parameters[ParamLastRun])
}
