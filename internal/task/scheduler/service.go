package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "jobhost/pkg/logx"
)

func New(cfg Config, deps Deps) *Service {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		deps:        deps,
		parser:      cronParser,
		jobs:        map[string]*entry{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if !s.started {
		return
	}
	switch {
	case !cfg.Enabled && s.c != nil:
		s.stopCronLocked()
		s.log.Info("scheduler disabled by config")
	case cfg.Enabled && s.c == nil:
		s.startCronLocked()
	case cfg.Enabled && oldTZ != newTZ:
		// restart cron with new location and re-register jobs
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start starts cron triggering for every enabled, scheduled job.
// Execution happens in the engine.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.log.Debug("start requested", logx.Bool("enabled", s.cfg.Enabled), logx.String("tz", strings.TrimSpace(s.cfg.Timezone)))
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; jobs run on manual trigger only", logx.Int("jobs", len(s.jobs)))
		return
	}
	s.startCronLocked()
}

// Stop stops cron triggering. Running invocations are left to the engine.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	s.started = false
	c := s.c
	s.c = nil
	for _, e := range s.jobs {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	n := s.addAllLocked()
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)), logx.Int("scheduled", n))
}

// stopCronLocked does not wait for in-flight cron callbacks: they take s.mu.
func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	for _, e := range s.jobs {
		e.entryID = 0
	}
}

func (s *Service) addAllLocked() int {
	n := 0
	for _, name := range s.order {
		e := s.jobs[name]
		if err := s.addCronLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("job", e.detail.Name), logx.Err(err))
			continue
		}
		if e.entryID != 0 {
			n++
		}
	}
	return n
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
