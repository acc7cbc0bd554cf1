package jobs

import (
	"context"
	"strings"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/storage"
	"jobhost/internal/task/attr"
	"jobhost/internal/task/batch"
	"jobhost/internal/task/job"
	"jobhost/internal/task/worker"
	logx "jobhost/pkg/logx"
)

const (
	ParamRetention = "Retention"
	ParamBatchSize = "Batch Size"
	ParamWorkers   = "Workers"
	ParamJobFilter = "Job Filter"
)

var purgeAttributes = []attr.Spec{
	attr.Must(attr.Optional(ParamRetention, "720h")),
	attr.Must(attr.Optional(ParamBatchSize, "100")),
	attr.Must(attr.Optional(ParamWorkers, "2")),
	attr.Must(attr.OptionalNoDefault(ParamJobFilter)),
}

// HistoryPurge deletes run records older than Retention.
//
// Records are read page by page, Batch Size at a time, and each page goes
// to the next free of up to Workers workers while the following page is
// read. Each worker owns a platform session and a Summary: success counts
// deleted records, ignored counts records that are kept (too young, or
// already gone), failed counts records whose delete failed.
type HistoryPurge struct {
	job.Base
	deps Deps

	retention time.Duration
	size      int
	workers   int
	filter    string
	cutoff    time.Time

	summary worker.Summary
}

func (*HistoryPurge) Attributes() []attr.Spec { return purgeAttributes }

func (p *HistoryPurge) Initialize(_ context.Context, t *job.Task) error {
	const op = "initialize"
	if p.deps.Store == nil {
		return &job.Error{Kind: job.KindDependencyNotFound, Op: op, Err: job.Linkage("run store")}
	}
	if p.deps.Sessions == nil {
		return &job.Error{Kind: job.KindDependencyNotFound, Op: op, Err: job.Linkage("session provider")}
	}
	params := t.Params()
	p.retention = params.Duration(ParamRetention, -1)
	if p.retention <= 0 {
		return &job.Error{Kind: job.KindConfiguration, Op: op, Attribute: ParamRetention, Err: errInvalidDuration}
	}
	p.size = batch.New(params.IntOr(ParamBatchSize, 100)).Size()
	p.workers = max(params.IntOr(ParamWorkers, 2), 1)
	p.filter = strings.TrimSpace(params.String(ParamJobFilter))
	return nil
}

func (p *HistoryPurge) BeforeExecution(_ context.Context, t *job.Task) error {
	p.cutoff = p.deps.now().Add(-p.retention)
	p.summary = worker.Summary{}
	t.Logger().Debug("purge window",
		logx.Time("cutoff", p.cutoff),
		logx.Int("batch", p.size),
		logx.Int("workers", p.workers),
	)
	return nil
}

func (p *HistoryPurge) OnExecution(ctx context.Context, t *job.Task) error {
	q := storage.RunQuery{Job: p.filter, Limit: p.size}
	first, err := p.list(ctx, t, q)
	if err != nil {
		return err
	}
	if len(first) == 0 || t.Stopped() {
		return nil
	}

	n := p.workers
	if !batch.New(p.size).Full(len(first)) {
		n = 1
	}
	pages := make(chan []storage.RunRecord, n)
	g := worker.NewGroup(ctx, t.Name(), p.deps.Seq, worker.Config{
		Sessions: p.deps.Sessions,
		Watch:    t.Watch(),
		Logger:   t.Logger(),
	})
	var spawnErr error
	for i := 0; i < n; i++ {
		if _, err := g.Spawn(&purgeWorker{store: p.deps.Store, cutoff: p.cutoff, pages: pages, stopped: t.Stopped}); err != nil {
			spawnErr = errors.CombineErrors(spawnErr, err)
		}
	}
	if g.Size() == 0 {
		return job.General("purge", spawnErr)
	}

	var (
		sum     worker.Summary
		waitErr error
	)
	idle := make(chan struct{})
	go func() {
		sum, waitErr = g.Wait(ctx)
		close(idle)
	}()
	scanErr := p.feed(ctx, t, q, first, pages, idle)
	close(pages)
	<-idle

	if waitErr != nil {
		return job.General("wait workers", waitErr)
	}
	p.summary = sum
	if scanErr != nil {
		return scanErr
	}

	failures := g.Failures()
	if spawnErr != nil {
		failures = append(failures, spawnErr)
	}
	if len(failures) > 0 {
		return job.General("purge", errors.Join(failures...))
	}
	if sum.Failed() > 0 {
		return job.General("purge", errors.Newf("%d run records could not be deleted", sum.Failed()))
	}
	return nil
}

func (p *HistoryPurge) AfterExecution(_ context.Context, t *job.Task) error {
	s := p.summary
	t.Logger().Info("purge summary",
		logx.Int("deleted", s.Success()),
		logx.Int("kept", s.Ignored()),
		logx.Int("failed", s.Failed()),
		logx.Time("cutoff", p.cutoff),
	)
	return nil
}

// Summary is the merged worker summary of the last execution.
func (p *HistoryPurge) Summary() worker.Summary { return p.summary }

// feed hands pages to the workers as they are read, starting with page.
// Paging follows a cursor past the last record handed out, so deletes
// behind it never shift the next page. At most one page per worker waits
// in the channel. feed returns when the history is exhausted, the job is
// stopped or every worker has gone idle.
func (p *HistoryPurge) feed(ctx context.Context, t *job.Task, q storage.RunQuery, page []storage.RunRecord, out chan<- []storage.RunRecord, idle <-chan struct{}) error {
	for b := batch.New(p.size); ; b.Next() {
		select {
		case out <- page:
		case <-idle:
			return nil
		case <-ctx.Done():
			return nil
		}
		if !b.Full(len(page)) || t.Stopped() {
			return nil
		}
		q.After = storage.CursorAt(page[len(page)-1])
		var err error
		if page, err = p.list(ctx, t, q); err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
	}
}

func (p *HistoryPurge) list(ctx context.Context, t *job.Task, q storage.RunQuery) ([]storage.RunRecord, error) {
	t.TimerStart("scan")
	page, err := p.deps.Store.ListRuns(ctx, q)
	t.TimerStop("scan")
	if err != nil {
		return nil, job.General("list runs", err)
	}
	return page, nil
}

type purgeWorker struct {
	worker.Base
	store   storage.Store
	cutoff  time.Time
	pages   <-chan []storage.RunRecord
	stopped func() bool
}

func (pw *purgeWorker) OnExecution(ctx context.Context, w *worker.Worker) error {
	for page := range pw.pages {
		if pw.stopped() || ctx.Err() != nil {
			return nil
		}
		var ids []string
		for _, r := range page {
			if r.Finished.Before(pw.cutoff) {
				ids = append(ids, r.ID)
			} else {
				w.IncrementIgnored(1)
			}
		}
		if len(ids) == 0 {
			continue
		}
		w.TimerStart("delete")
		n, err := pw.store.DeleteRuns(ctx, ids)
		w.TimerStop("delete")
		if err != nil {
			w.IncrementFailed(len(ids))
			w.Logger().Warn("delete failed", logx.Int("runs", len(ids)), logx.Err(err))
			continue
		}
		w.IncrementSuccess(n)
		w.IncrementIgnored(len(ids) - n)
	}
	return nil
}
