// Package watch times named phases of a job run.
//
// A Watch is shared by a job and its workers, so Start and Stop are
// serialized. Several names may be running at once; the same name can be
// started again after it stopped and its statistics accumulate.
package watch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stat is the accumulated timing of one name.
type Stat struct {
	Name  string
	Count int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s Stat) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

type Watch struct {
	name string
	now  func() time.Time

	mu      sync.Mutex
	running map[string]time.Time
	stats   map[string]*Stat
	order   []string
}

// New returns a Watch labelled name.
func New(name string) *Watch {
	return &Watch{
		name:    name,
		now:     time.Now,
		running: map[string]time.Time{},
		stats:   map[string]*Stat{},
	}
}

// WithClock replaces the time source. Tests only.
func (w *Watch) WithClock(now func() time.Time) *Watch {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
	return w
}

func (w *Watch) Name() string {
	if w == nil {
		return ""
	}
	return w.name
}

// Start begins timing name. Starting a name that is already running
// restarts it.
func (w *Watch) Start(name string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running[name] = w.now()
	if _, ok := w.stats[name]; !ok {
		w.stats[name] = &Stat{Name: name}
		w.order = append(w.order, name)
	}
}

// Stop ends timing name and returns the elapsed time. Stopping a name that
// is not running returns 0 and records nothing.
func (w *Watch) Stop(name string) time.Duration {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	started, ok := w.running[name]
	if !ok {
		return 0
	}
	delete(w.running, name)
	d := w.now().Sub(started)
	if d < 0 {
		d = 0
	}
	st := w.stats[name]
	st.Count++
	st.Total += d
	if st.Count == 1 || d < st.Min {
		st.Min = d
	}
	if d > st.Max {
		st.Max = d
	}
	return d
}

// Running reports whether name has been started and not yet stopped.
func (w *Watch) Running(name string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[name]
	return ok
}

// Stats returns a copy of the statistics in first-start order.
func (w *Watch) Stats() []Stat {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Stat, 0, len(w.order))
	for _, n := range w.order {
		out = append(out, *w.stats[n])
	}
	return out
}

// Summary renders one line per timed name, sorted by total time descending.
func (w *Watch) Summary() string {
	stats := w.Stats()
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Total > stats[j].Total })

	var b strings.Builder
	fmt.Fprintf(&b, "watch %q", w.Name())
	if len(stats) == 0 {
		b.WriteString(": no timings")
		return b.String()
	}
	for _, s := range stats {
		fmt.Fprintf(&b, "\n  %-24s count=%d total=%s avg=%s min=%s max=%s",
			s.Name, s.Count, s.Total, s.Avg(), s.Min, s.Max)
	}
	return b.String()
}
