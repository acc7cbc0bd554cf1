package worker

import (
	"context"
	"sync"

	"jobhost/internal/runtime/supervisor"
	"jobhost/pkg/logx"
)

// Group spawns workers for one job execution and waits for all of them.
type Group struct {
	cfg     Config
	sup     *supervisor.Supervisor
	factory *Factory
	log     logx.Logger

	mu      sync.Mutex
	workers []*Worker
}

// NewGroup starts an empty pool named after owner. cfg.Name is ignored; each
// worker gets its name from the pool's Factory.
func NewGroup(ctx context.Context, owner string, seq *Sequence, cfg Config) *Group {
	log := cfg.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	sup := supervisor.New(ctx, supervisor.WithName(owner), supervisor.WithLogger(log))
	return &Group{
		cfg:     cfg,
		sup:     sup,
		factory: NewFactory(owner, seq, sup),
		log:     log,
	}
}

// Spawn builds a worker for h and starts it. A worker that cannot log in or
// initialize is never started; the error is returned.
func (g *Group) Spawn(h Handler) (*Worker, error) {
	cfg := g.cfg
	cfg.Name = g.factory.NextName()
	w, err := New(g.sup.Context(), cfg, h)
	if err != nil {
		g.log.Error("worker not started", logx.String("worker", cfg.Name), logx.Err(err))
		return nil, err
	}
	g.mu.Lock()
	g.workers = append(g.workers, w)
	g.mu.Unlock()
	g.factory.Start(w)
	return w, nil
}

// Cancel cancels the context every worker of the group runs with.
func (g *Group) Cancel() { g.sup.Cancel() }

// Wait blocks until every started worker returned and merges their
// Summaries. Worker failures are counted in Failures, not returned; the
// error is only ctx's.
func (g *Group) Wait(ctx context.Context) (Summary, error) {
	if err := g.sup.Wait(ctx); err != nil && ctx.Err() != nil {
		return Summary{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var total Summary
	for _, w := range g.workers {
		total = total.Add(w.Summary())
	}
	return total, nil
}

// Failures returns the errors of finished workers. Call after Wait.
func (g *Group) Failures() []error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []error
	for _, w := range g.workers {
		if err := w.Err(); err != nil {
			out = append(out, err)
		}
	}
	return out
}

func (g *Group) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.workers)
}

func (g *Group) Snapshot() supervisor.Snapshot { return g.sup.Snapshot() }
