package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "jobhost/pkg/logx"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func run(id, job string, finishedAfter time.Duration) RunRecord {
	return RunRecord{
		ID:       id,
		Job:      job,
		Kind:     "noop",
		Started:  base.Add(finishedAfter - time.Second),
		Finished: base.Add(finishedAfter),
		Outcome:  OutcomeSuccess,
	}
}

func drivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"file": func() Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "jobs.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func TestStoreRunsOrderedAndFiltered(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			ctx := context.Background()

			require.NoError(t, st.AppendRun(ctx, run("c", "purge", 3*time.Minute)))
			require.NoError(t, st.AppendRun(ctx, run("a", "stamp", time.Minute)))
			require.NoError(t, st.AppendRun(ctx, run("b", "Purge", 2*time.Minute)))

			all, err := st.ListRuns(ctx, RunQuery{})
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c"}, ids(all))

			purge, err := st.ListRuns(ctx, RunQuery{Job: "purge"})
			require.NoError(t, err)
			require.Equal(t, []string{"b", "c"}, ids(purge))

			old, err := st.ListRuns(ctx, RunQuery{Before: base.Add(2 * time.Minute)})
			require.NoError(t, err)
			require.Equal(t, []string{"a"}, ids(old))

			page, err := st.ListRuns(ctx, RunQuery{Offset: 1, Limit: 1})
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, ids(page))

			empty, err := st.ListRuns(ctx, RunQuery{Offset: 5})
			require.NoError(t, err)
			require.Empty(t, empty)
		})
	}
}

func TestStoreCursorPagingSurvivesDeletes(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			ctx := context.Background()

			// d and e share a finish time; ties order by id.
			for _, r := range []RunRecord{
				run("e", "purge", 4*time.Minute),
				run("a", "purge", time.Minute),
				run("c", "purge", 3*time.Minute),
				run("d", "purge", 4*time.Minute),
				run("b", "purge", 2*time.Minute),
			} {
				require.NoError(t, st.AppendRun(ctx, r))
			}

			var seen []string
			q := RunQuery{Limit: 2}
			for {
				page, err := st.ListRuns(ctx, q)
				require.NoError(t, err)
				seen = append(seen, ids(page)...)
				_, err = st.DeleteRuns(ctx, ids(page))
				require.NoError(t, err)
				if len(page) < q.Limit {
					break
				}
				q.After = CursorAt(page[len(page)-1])
			}
			require.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)

			left, err := st.ListRuns(ctx, RunQuery{})
			require.NoError(t, err)
			require.Empty(t, left)
		})
	}
}

func TestStoreDeleteAndPurge(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			ctx := context.Background()
			for i, id := range []string{"r1", "r2", "r3", "r4"} {
				require.NoError(t, st.AppendRun(ctx, run(id, "job", time.Duration(i+1)*time.Minute)))
			}

			n, err := st.DeleteRuns(ctx, []string{"r2", "missing", ""})
			require.NoError(t, err)
			require.Equal(t, 1, n)

			n, err = st.PurgeRuns(ctx, base.Add(3*time.Minute+time.Second))
			require.NoError(t, err)
			require.Equal(t, 2, n)

			left, err := st.ListRuns(ctx, RunQuery{})
			require.NoError(t, err)
			require.Equal(t, []string{"r4"}, ids(left))
		})
	}
}

func TestStoreParameters(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			ctx := context.Background()

			_, ok, err := st.GetParameters(ctx, "stamp")
			require.NoError(t, err)
			require.False(t, ok)

			in := map[string]string{"Last Execution": "2024-05-01"}
			require.NoError(t, st.PutParameters(ctx, "Stamp", in))
			in["Last Execution"] = "mutated"

			got, ok, err := st.GetParameters(ctx, " stamp ")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, map[string]string{"Last Execution": "2024-05-01"}, got)

			require.Error(t, st.PutParameters(ctx, " ", in))
		})
	}
}

func TestAppendRunRequiresIdentity(t *testing.T) {
	st := NewMemory()
	require.Error(t, st.AppendRun(context.Background(), RunRecord{Job: "x"}))
	require.Error(t, st.AppendRun(context.Background(), RunRecord{ID: "x"}))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{Driver: "file", Path: path}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendRun(ctx, run("r1", "job", time.Minute)))
	require.NoError(t, st.AppendRun(ctx, run("r2", "job", 2*time.Minute)))
	_, err = st.DeleteRuns(ctx, []string{"r1"})
	require.NoError(t, err)
	require.NoError(t, st.PutParameters(ctx, "job", map[string]string{"k": "v"}))

	// Reopen from the journal only, then again from the compacted snapshot.
	fs := st.(*fileStore)
	fs.mu.Lock()
	require.NoError(t, fs.journal.Close())
	fs.journal = nil
	fs.mu.Unlock()

	for round := 0; round < 2; round++ {
		st, err = Open(cfg, logx.Nop())
		require.NoError(t, err)
		runs, err := st.ListRuns(ctx, RunQuery{})
		require.NoError(t, err)
		require.Equal(t, []string{"r2"}, ids(runs), "round %d", round)
		p, ok, err := st.GetParameters(ctx, "job")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "v", p["k"])
		require.NoError(t, st.Close())
	}
}

func TestOpenDrivers(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	st, err = Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	require.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)

	st, err = Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	require.IsType(t, &Memory{}, st)
}

func TestClosedMemoryRejectsWrites(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.Close())
	require.Error(t, st.AppendRun(context.Background(), run("a", "b", 0)))
	_, err := st.ListRuns(context.Background(), RunQuery{})
	require.Error(t, err)
}

func TestRunTook(t *testing.T) {
	r := run("a", "b", time.Minute)
	require.Equal(t, time.Second, r.Took())
	r.Finished = r.Started.Add(-time.Second)
	require.Zero(t, r.Took())
}

func ids(rs []RunRecord) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
