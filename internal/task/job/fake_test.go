package job

import (
	"context"
	"sync"

	"jobhost/internal/errors"
	"jobhost/internal/task/attr"
)

// fakeScheduler records calls and replays scripted statuses.
type fakeScheduler struct {
	mu       sync.Mutex
	details  map[string]*JobDetail
	statuses []Status // consumed per Status call; the last one repeats
	calls    []string
	updated  []JobDetail
	failOn   string
}

func newFakeScheduler(names ...string) *fakeScheduler {
	f := &fakeScheduler{details: map[string]*JobDetail{}}
	for _, n := range names {
		f.details[n] = &JobDetail{Name: n, Parameters: map[string]string{}}
	}
	return f
}

func (f *fakeScheduler) record(c string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if c == f.failOn {
		return errors.Newf("%s failed", c)
	}
	return nil
}

func (f *fakeScheduler) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeScheduler) count(c string) int {
	n := 0
	for _, x := range f.Calls() {
		if x == c {
			n++
		}
	}
	return n
}

func (f *fakeScheduler) JobDetail(_ context.Context, name string) (*JobDetail, error) {
	if err := f.record("detail"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[name]
	if !ok {
		return nil, nil
	}
	cp := d.Clone()
	return &cp, nil
}

func (f *fakeScheduler) Status(context.Context, string) (Status, error) {
	if err := f.record("status"); err != nil {
		return StatusUnknown, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return StatusStopped, nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeScheduler) TriggerNow(context.Context, string) error {
	return f.record("trigger")
}

func (f *fakeScheduler) UpdateJob(_ context.Context, d JobDetail) error {
	if err := f.record("update"); err != nil {
		return err
	}
	f.mu.Lock()
	f.updated = append(f.updated, d.Clone())
	f.mu.Unlock()
	return nil
}

// recorder is a Handler whose phases are scripted per test.
type recorder struct {
	Base
	specs []attr.Spec

	mu     sync.Mutex
	phases []string

	init   func(ctx context.Context, t *Task) error
	before func(ctx context.Context, t *Task) error
	on     func(ctx context.Context, t *Task) error
	after  func(ctx context.Context, t *Task) error
}

func (r *recorder) mark(p string) {
	r.mu.Lock()
	r.phases = append(r.phases, p)
	r.mu.Unlock()
}

func (r *recorder) Phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.phases...)
}

func (r *recorder) Attributes() []attr.Spec { return r.specs }

func (r *recorder) Initialize(ctx context.Context, t *Task) error {
	r.mark("init")
	if r.init != nil {
		return r.init(ctx, t)
	}
	return nil
}

func (r *recorder) BeforeExecution(ctx context.Context, t *Task) error {
	r.mark("before")
	if r.before != nil {
		return r.before(ctx, t)
	}
	return nil
}

func (r *recorder) OnExecution(ctx context.Context, t *Task) error {
	r.mark("on")
	if r.on != nil {
		return r.on(ctx, t)
	}
	return nil
}

func (r *recorder) AfterExecution(ctx context.Context, t *Task) error {
	r.mark("after")
	if r.after != nil {
		return r.after(ctx, t)
	}
	return nil
}
