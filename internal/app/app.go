// Package app wires the jobhost process: config, logging, storage, the
// platform, the job registry, the execution engine and the scheduler.
package app

import (
	"context"
	"strings"
	"time"

	"jobhost/internal/config"
	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/internal/jobs"
	"jobhost/internal/observability/debugsrv"
	"jobhost/internal/platform"
	"jobhost/internal/runtime/supervisor"
	"jobhost/internal/storage"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	"jobhost/internal/task/scheduler"
	"jobhost/internal/task/worker"
	logx "jobhost/pkg/logx"
	"jobhost/pkg/unitctl"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	plat  *platform.Local
	reg   *job.Registry

	engine *engine.Service
	sched  *scheduler.Service
	dbg    *debugsrv.Service
}

type options struct {
	logLevel string
}

type Option func(*options)

// WithLogLevel overrides logging.level, e.g. to keep one-shot commands quiet.
func WithLogLevel(level string) Option {
	return func(o *options) { o.logLevel = level }
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	logCfg := mapLogConfig(cfg)
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	logSvc, log := logx.New(logCfg)
	a := &App{
		cfgm: cfgm,
		logs: logSvc,
		log:  log.With(logx.String("comp", "app")),
		bus:  eventbus.New(),
	}
	if err := a.build(cfg); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	root := a.logs.Logger()

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.plat = platform.NewLocal(mapPlatformConfig(cfg), root)

	a.reg = job.NewRegistry()
	if err := jobs.Register(a.reg, jobs.Deps{Store: a.store, Sessions: a.plat, Seq: &worker.Sequence{}, Units: unitctl.Dial}); err != nil {
		return err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, root.With(logx.String("comp", "engine")), a.bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg, scheduler.Deps{
		Engine:   a.engine,
		Registry: a.reg,
		Store:    a.store,
		Locator:  a.plat,
		Metadata: a.plat,
		Bus:      a.bus,
		Logger:   root.With(logx.String("comp", "scheduler")),
	})

	a.dbg = debugsrv.New(debugsrv.Config{}, root, a.debugState)

	details, err := jobDetails(cfg)
	if err != nil {
		return err
	}
	if err := checkDependentCapacity(engCfg.Workers, details); err != nil {
		return err
	}
	for _, d := range details {
		if err := a.sched.Register(context.Background(), d); err != nil {
			return err
		}
	}
	a.log.Info("jobs registered", logx.Int("jobs", len(details)), logx.Strings("kinds", a.reg.Kinds()))
	return nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Engine() *engine.Service       { return a.engine }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Platform() *platform.Local     { return a.plat }
func (a *App) Registry() *job.Registry       { return a.reg }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger           { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the engine, the scheduler and the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithName("app"), supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return ValidateConfig(cfg, a.reg)
	})

	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.applyDebug(a.sup.Context(), a.cfgm.Get())

	events, unsub := a.bus.Subscribe(128, "job.", "task.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	ev, ok := e.Data.(scheduler.JobEvent)
	if !ok {
		// Keep this debug-level to avoid noise for frequent schedules.
		a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		return
	}
	fields := []logx.Field{
		logx.String("type", e.Type),
		logx.String("job", ev.Name),
		logx.String("status", ev.Status),
	}
	if ev.RunID != "" {
		fields = append(fields, logx.String("run", ev.RunID))
	}
	if ev.Took > 0 {
		fields = append(fields, logx.Duration("took", ev.Took))
	}
	if ev.Error != "" {
		fields = append(fields, logx.String("err", ev.Error))
	}
	switch e.Type {
	case eventbus.JobFailed:
		a.log.Warn("job failed", fields...)
	case eventbus.JobCompleted, eventbus.JobStopped:
		a.log.Info("job finished", fields...)
	default:
		a.log.Debug("job event", fields...)
	}
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, jobsChanged := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.plat.Apply(mapPlatformConfig(newCfg))

	// engine first so jobs re-enabled below have somewhere to run
	if engCfg, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}
	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	a.syncJobs(ctx, newCfg, jobsChanged)
	a.applyDebug(ctx, newCfg)

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", fields...)
}

// applyDebug reconfigures the debug listener. Failures are logged only; the
// listener is not worth stopping the host for.
func (a *App) applyDebug(ctx context.Context, cfg *config.Config) {
	dc, err := mapDebugConfig(cfg)
	if err == nil {
		err = a.dbg.Reconfigure(ctx, dc)
	}
	if err != nil {
		a.log.Warn("debug listener not applied", logx.Err(err))
	}
}

// debugState is what the debug listener serves on /state.
func (a *App) debugState() any {
	st := struct {
		Scheduler  scheduler.Snapshot   `json:"scheduler"`
		Platform   platform.Stats       `json:"platform"`
		Supervisor *supervisor.Snapshot `json:"supervisor,omitempty"`
	}{
		Scheduler: a.sched.Snapshot(),
		Platform:  a.plat.Stats(),
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		st.Supervisor = &snap
	}
	return st
}

// syncJobs registers changed jobs and removes the ones no longer configured.
func (a *App) syncJobs(ctx context.Context, cfg *config.Config, names []string) {
	for _, name := range names {
		jc, ok := cfg.Jobs[name]
		if !ok {
			if a.sched.Remove(name) {
				a.log.Info("job removed", logx.String("job", name))
			}
			continue
		}
		d, err := jobDetail(name, jc)
		if err == nil {
			err = a.sched.Register(ctx, d)
		}
		if err != nil {
			a.log.Warn("job update rejected", logx.String("job", name), logx.Err(err))
			continue
		}
		a.log.Info("job updated", logx.String("job", name), logx.String("kind", d.Kind), logx.Bool("enabled", d.Enabled))
	}
}

// RunOnce triggers name, waits for the run to end and returns its final
// event. The engine is started even when the config leaves it disabled.
func (a *App) RunOnce(ctx context.Context, name string) (scheduler.JobEvent, error) {
	engCfg, err := mapEngineConfig(a.cfgm.Get())
	if err != nil {
		return scheduler.JobEvent{}, err
	}
	engCfg.Enabled = true
	a.engine.Apply(ctx, engCfg)
	a.engine.Start(ctx)

	events, unsub := a.bus.Subscribe(32, "job.")
	defer unsub()

	if err := a.sched.TriggerNow(ctx, name); err != nil {
		return scheduler.JobEvent{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return scheduler.JobEvent{}, ctx.Err()
		case e, ok := <-events:
			if !ok {
				return scheduler.JobEvent{}, errors.ErrClosed
			}
			ev, isJob := e.Data.(scheduler.JobEvent)
			if !isJob || !strings.EqualFold(ev.Name, name) {
				continue
			}
			switch e.Type {
			case eventbus.JobFailed:
				return ev, errors.Newf("job %q failed: %s", name, ev.Error)
			case eventbus.JobCompleted, eventbus.JobStopped:
				return ev, nil
			}
		}
	}
}

// Stop shuts the components down in reverse start order. Every step is
// bounded so one component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		// cancel the app run context so background loops start unwinding immediately
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.Newf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, log the leak and move on
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("debug", time.Second, func(c context.Context) error { a.dbg.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("platform", time.Second, func(context.Context) error { return a.plat.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	if a.sup != nil {
		// config watch/reload and the event logger
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
