package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	loc := s.loc
	items := make([]JobInfo, 0, len(s.order))
	for _, k := range s.order {
		e := s.jobs[k]
		it := JobInfo{
			Name:     e.detail.Name,
			Kind:     e.detail.Kind,
			Enabled:  e.detail.Enabled,
			Timeout:  e.detail.Timeout,
			Status:   e.status.String(),
			Spread:   e.startupSpread,
			Runs:     e.runs,
			Failures: e.failures,
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
		}
		if e.spec != nil {
			it.Schedule = e.spec.String()
		}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			it.Next = ce.Next
			it.Prev = ce.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}
	snap := Snapshot{Enabled: enabled, Timezone: tz, Jobs: items}
	if s.deps.Engine != nil {
		snap.Engine = s.deps.Engine.Snapshot()
	}
	return snap
}
