package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"jobhost/internal/errors"
)

// index is the in-memory state shared by the memory and file drivers.
// Runs are kept ordered by finish time. Callers hold the owner's lock.
type index struct {
	runs   []RunRecord
	params map[string]map[string]string
}

func newIndex() index { return index{params: map[string]map[string]string{}} }

func (ix *index) appendRun(r RunRecord) {
	i := sort.Search(len(ix.runs), func(i int) bool {
		return runLess(r.Finished, r.ID, ix.runs[i].Finished, ix.runs[i].ID)
	})
	ix.runs = append(ix.runs, RunRecord{})
	copy(ix.runs[i+1:], ix.runs[i:])
	ix.runs[i] = r
}

func (ix *index) list(q RunQuery) []RunRecord {
	matched := make([]RunRecord, 0, len(ix.runs))
	for _, r := range ix.runs {
		if q.match(r) {
			matched = append(matched, r)
		}
	}
	return q.page(matched)
}

// remove deletes runs for which drop returns true and returns the removed ids.
func (ix *index) remove(drop func(RunRecord) bool) []string {
	var removed []string
	kept := ix.runs[:0]
	for _, r := range ix.runs {
		if drop(r) {
			removed = append(removed, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(ix.runs); i++ {
		ix.runs[i] = RunRecord{}
	}
	ix.runs = kept
	return removed
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func checkRun(r RunRecord) (RunRecord, error) {
	if strings.TrimSpace(r.ID) == "" {
		return r, errors.New("run id is required")
	}
	if strings.TrimSpace(r.Job) == "" {
		return r, errors.New("run job is required")
	}
	if r.Finished.IsZero() {
		r.Finished = time.Now()
	}
	if r.Started.IsZero() {
		r.Started = r.Finished
	}
	return r, nil
}

// Memory is a Store that keeps everything in process memory.
type Memory struct {
	mu     sync.Mutex
	ix     index
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{ix: newIndex()} }

func (m *Memory) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	r, err := checkRun(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.ErrClosed
	}
	m.ix.appendRun(r)
	return nil
}

func (m *Memory) ListRuns(ctx context.Context, q RunQuery) ([]RunRecord, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.ErrClosed
	}
	return m.ix.list(q), nil
}

func (m *Memory) DeleteRuns(ctx context.Context, ids []string) (int, error) {
	_ = ctx
	set := idSet(ids)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.ErrClosed
	}
	removed := m.ix.remove(func(r RunRecord) bool {
		_, ok := set[r.ID]
		return ok
	})
	return len(removed), nil
}

func (m *Memory) PurgeRuns(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.ErrClosed
	}
	removed := m.ix.remove(func(r RunRecord) bool { return r.Finished.Before(before) })
	return len(removed), nil
}

func (m *Memory) PutParameters(ctx context.Context, job string, params map[string]string) error {
	_ = ctx
	key := normJob(job)
	if key == "" {
		return errors.New("job name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.ErrClosed
	}
	m.ix.params[key] = cloneParams(params)
	return nil
}

func (m *Memory) GetParameters(ctx context.Context, job string) (map[string]string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, errors.ErrClosed
	}
	p, ok := m.ix.params[normJob(job)]
	if !ok {
		return nil, false, nil
	}
	return cloneParams(p), true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
