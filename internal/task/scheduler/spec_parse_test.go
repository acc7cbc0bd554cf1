package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		kind   SpecKind
		every  time.Duration
		cron   string
		source string
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *", source: "cron"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly", source: "cron"},
		{in: "cron: 0 30 2 * * *", kind: SpecCron, cron: "0 30 2 * * *", source: "cron"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute, source: "duration"},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute, source: "hhmm"},
		{in: "every: 00:50", kind: SpecInterval, every: 50 * time.Minute, source: "hhmm"},
		{in: "Interval:90s", kind: SpecInterval, every: 90 * time.Second, source: "duration"},
	}
	for _, tt := range tests {
		ps, err := ParseSchedule(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.kind, ps.Kind, tt.in)
		require.Equal(t, tt.every, ps.Every, tt.in)
		require.Equal(t, tt.cron, ps.Cron, tt.in)
		require.Equal(t, tt.source, ps.Source, tt.in)
	}
}

func TestParseScheduleRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "  ", "cron:", "every:", "0s", "-5m", "00:00", "01:75", "tomorrow"} {
		_, err := ParseSchedule(in)
		require.Error(t, err, "%q", in)
	}
}

func TestParsedSpecString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "@every 1h30m0s", ParsedSpec{Kind: SpecInterval, Every: 90 * time.Minute}.String())
	require.Equal(t, "@daily", ParsedSpec{Kind: SpecCron, Cron: "@daily"}.String())
}

func TestStartupSpreadDelaysOnlyFirstRun(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Deps{})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := s.intervalSchedule(10*time.Second, now, "job")
	require.GreaterOrEqual(t, jitter, time.Duration(0))
	require.Less(t, jitter, 10*time.Second)

	first := sched.Next(now)
	require.Equal(t, now.Add(10*time.Second+jitter), first)
	require.Equal(t, first.Truncate(time.Second).Add(10*time.Second), sched.Next(first))
}
