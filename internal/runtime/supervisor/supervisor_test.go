package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
)

func TestGoWaitsForAll(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithName("workers"))
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		s.Go0("w", func(context.Context) { n.Add(1) })
	}
	require.NoError(t, s.Wait(context.Background()))
	require.EqualValues(t, 5, n.Load())
	require.Equal(t, 0, s.ActiveCount())

	snap := s.Snapshot()
	require.Equal(t, "workers", snap.Name)
	require.EqualValues(t, 5, snap.Counters.Started)
	require.Len(t, snap.Goroutines, 1)
	require.EqualValues(t, 5, snap.Goroutines[0].Started)
}

func TestPanicIsRecordedAndContained(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("boom", func(context.Context) { panic("bad") })
	err := s.Wait(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic in boom")
	require.EqualValues(t, 1, s.Snapshot().Goroutines[0].Panics)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(context.Context) error { return errors.New("nope") })
	s.Go0("wait", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fail: nope")
}

func TestCanceledIsClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(context.Background()))
}

func TestGoRestart(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))
	require.NoError(t, s.Wait(context.Background()))
	require.EqualValues(t, 3, runs.Load())

	s2 := New(context.Background())
	s2.GoRestart("hopeless", func(context.Context) error { return errors.New("down") },
		WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))
	require.Error(t, s2.Wait(context.Background()))
}
