package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
	"jobhost/pkg/logx"
)

func TestTriggerUnknownJobIsNotAFailure(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler()
	err := NewTrigger(sched, logx.Nop(), time.Millisecond).Start(context.Background(), "ghost", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"detail"}, sched.Calls())
}

func TestTriggerSkipsRunningJob(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler("busy")
	sched.statuses = []Status{StatusRunning}
	err := NewTrigger(sched, logx.Nop(), time.Millisecond).Start(context.Background(), "busy", nil)
	require.NoError(t, err)
	require.Equal(t, 0, sched.count("trigger"))
}

func TestTriggerSkipsQueuedJob(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler("load")
	sched.statuses = []Status{StatusQueued}
	err := NewTrigger(sched, logx.Nop(), time.Millisecond).Start(context.Background(), "load", nil)
	require.NoError(t, err)
	require.Equal(t, 0, sched.count("trigger"))
}

func TestTriggerLostRaceIsNotAFailure(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler("load")
	sched.statuses = []Status{StatusStopped, StatusQueued}
	sched.failOn = "trigger"
	err := NewTrigger(sched, logx.Nop(), time.Millisecond).Start(context.Background(), "load", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"detail", "status", "trigger", "status"}, sched.Calls())
}

func TestTriggerWaitIsBounded(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler("load")
	sched.statuses = []Status{StatusStopped, StatusQueued}

	start := time.Now()
	err := NewTrigger(sched, logx.Nop(), time.Millisecond).WithWait(30*time.Millisecond).
		Start(context.Background(), "load", nil)
	require.ErrorIs(t, err, ErrTriggerInterrupted)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, 1, sched.count("trigger"))
}

func TestTriggerStopAbortsPoll(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler("slow")
	sched.statuses = []Status{StatusStopped, StatusQueued}

	var polls atomic.Int32
	stopped := func() bool { return polls.Add(1) > 3 }

	err := NewTrigger(sched, logx.Nop(), time.Millisecond).Start(context.Background(), "slow", stopped)
	require.ErrorIs(t, err, ErrTriggerInterrupted)
	require.Equal(t, 1, sched.count("trigger"))
}

func TestTriggerContextCancelAbortsPoll(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler("slow")
	sched.statuses = []Status{StatusStopped, StatusQueued}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := NewTrigger(sched, logx.Nop(), 10*time.Millisecond).Start(ctx, "slow", nil)
	require.True(t, errors.Is(err, ErrTriggerInterrupted))
}

func TestTriggerSchedulerErrors(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler("a")
	sched.failOn = "status"
	err := NewTrigger(sched, logx.Nop(), time.Millisecond).Start(context.Background(), "a", nil)
	require.Equal(t, KindGeneral, KindOf(err))

	err = NewTrigger(nil, logx.Nop(), 0).Start(context.Background(), "a", nil)
	require.Equal(t, KindDependencyNotFound, KindOf(err))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	ctor := func() Handler { return &recorder{} }
	require.NoError(t, r.Register("Sleep", ctor))
	require.Error(t, r.Register(" sleep ", ctor))
	require.Error(t, r.Register("", ctor))
	require.Error(t, r.Register("x", nil))
	require.Panics(t, func() { r.MustRegister("sleep", ctor) })

	got, err := r.Resolve("SLEEP")
	require.NoError(t, err)
	require.NotNil(t, got())

	_, err = r.Resolve("reconcile")
	require.Equal(t, KindConfiguration, KindOf(err))
	require.ErrorIs(t, err, ErrLinkage)
	require.Equal(t, []string{"sleep"}, r.Kinds())
}

func TestSignal(t *testing.T) {
	t.Parallel()
	s := NewSignal()
	require.False(t, s.Requested())
	require.True(t, s.Request())
	require.True(t, s.Request())
	require.True(t, s.Requested())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}
