package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	cfg.Enabled = true
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) TaskEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e.Data.(TaskEvent)
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestRunsTaskAndRecordsHistory(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 2})
	events, unsub := bus.Subscribe(16, "task.")
	defer unsub()

	var ran atomic.Bool
	require.NoError(t, s.Enqueue(Task{Name: "noop", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}))
	ev := waitEvent(t, events, eventbus.TaskFinished)
	require.Equal(t, "noop", ev.Name)
	require.NotEmpty(t, ev.ID)
	require.True(t, ran.Load())

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	require.EqualValues(t, 1, snap.Completed)
	require.True(t, snap.Running)
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "long", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.True(t, s.State("long").Busy())
	require.ErrorIs(t, s.Enqueue(Task{Name: "long", Run: func(context.Context) error { return nil }}), ErrOverlapSkip)
	require.NoError(t, s.Enqueue(Task{Name: "long", Overlap: OverlapAllow, Run: func(context.Context) error { return nil }}))
	close(release)

	require.Eventually(t, func() bool { return !s.State("long").Busy() }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, s.Snapshot().Skipped)
}

func TestPanicAndTimeoutAreFailures(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	events, unsub := bus.Subscribe(16, eventbus.TaskFailed)
	defer unsub()

	require.NoError(t, s.Enqueue(Task{Name: "crash", Run: func(context.Context) error { panic("bad state") }}))
	ev := waitEvent(t, events, eventbus.TaskFailed)
	require.Equal(t, "crash", ev.Name)
	require.Contains(t, ev.Error, "panic: bad state")

	require.NoError(t, s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	ev = waitEvent(t, events, eventbus.TaskFailed)
	require.Equal(t, "slow", ev.Name)
	require.Contains(t, ev.Error, "deadline exceeded")
	require.EqualValues(t, 2, s.Snapshot().Failed)
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	block := func(context.Context) error {
		<-release
		return nil
	}
	require.NoError(t, s.Enqueue(Task{Name: "a", Run: func(ctx context.Context) error {
		close(started)
		return block(ctx)
	}}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "b", Run: block}))
	require.ErrorIs(t, s.Enqueue(Task{Name: "c", Run: block}), ErrQueueFull)
	require.False(t, s.State("c").Busy(), "gate released on drop")
	close(release)
	require.EqualValues(t, 1, s.Snapshot().DroppedQueueFull)
}

func TestRejectsWhenDisabledOrStopped(t *testing.T) {
	t.Parallel()
	run := func(context.Context) error { return nil }

	off := New(Config{}, logx.Nop(), nil)
	require.ErrorIs(t, off.Enqueue(Task{Name: "x", Run: run}), ErrDisabled)

	idle := New(Config{Enabled: true}, logx.Nop(), nil)
	require.ErrorIs(t, idle.Enqueue(Task{Name: "x", Run: run}), ErrStopped)
	require.True(t, errors.Is(idle.Enqueue(Task{Name: " ", Run: run}), ErrInvalidTask))
	require.True(t, errors.Is(idle.Enqueue(Task{Name: "x"}), ErrInvalidTask))
}

func TestStopDropsQueued(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "running", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	dropped := make(chan string, 1)
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }, OnDrop: func(reason string) {
		dropped <- reason
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	require.Equal(t, "shutdown", <-dropped)
	require.False(t, s.State("queued").Busy())
	require.False(t, s.Snapshot().Running)
}
