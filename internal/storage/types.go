package storage

import (
	"strings"
	"time"

	"jobhost/internal/errors"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process store, nothing survives a restart
//   - "file": JSON Lines journal + snapshot next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Run outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// RunRecord is one finished job invocation.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID       string    `json:"id"`
	Job      string    `json:"job"`
	Kind     string    `json:"kind"`
	Trigger  string    `json:"trigger,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Outcome  string    `json:"outcome"`
	Error    string    `json:"error,omitempty"`
}

// Took is the wall time of the run.
func (r RunRecord) Took() time.Duration {
	if r.Finished.Before(r.Started) {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// RunQuery selects run records ordered by finish time, then id.
// Zero fields do not filter; Limit <= 0 means no limit.
type RunQuery struct {
	Job    string
	Before time.Time
	// After keeps only runs ordered after the cursor. Paging with it stays
	// stable while earlier records are deleted; Offset does not.
	After  *RunCursor
	Offset int
	Limit  int
}

// RunCursor is a position in the run order.
type RunCursor struct {
	Finished time.Time
	ID       string
}

// CursorAt returns the cursor just past r.
func CursorAt(r RunRecord) *RunCursor { return &RunCursor{Finished: r.Finished, ID: r.ID} }

// runLess orders runs by finish time, ties by id.
func runLess(aFinished time.Time, aID string, bFinished time.Time, bID string) bool {
	if aFinished.Equal(bFinished) {
		return aID < bID
	}
	return aFinished.Before(bFinished)
}

func (q RunQuery) match(r RunRecord) bool {
	if q.Job != "" && !strings.EqualFold(q.Job, r.Job) {
		return false
	}
	if !q.Before.IsZero() && !r.Finished.Before(q.Before) {
		return false
	}
	if c := q.After; c != nil && !runLess(c.Finished, c.ID, r.Finished, r.ID) {
		return false
	}
	return true
}

// page applies Offset and Limit to an already filtered, ordered slice.
func (q RunQuery) page(in []RunRecord) []RunRecord {
	if q.Offset > 0 {
		if q.Offset >= len(in) {
			return nil
		}
		in = in[q.Offset:]
	}
	if q.Limit > 0 && len(in) > q.Limit {
		in = in[:q.Limit]
	}
	out := make([]RunRecord, len(in))
	copy(out, in)
	return out
}
