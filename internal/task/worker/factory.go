package worker

import (
	"fmt"
	"strings"
	"sync/atomic"

	"jobhost/internal/runtime/supervisor"
)

// Sequence numbers worker pools. The host owns one per process and hands
// it to every job; tests build their own.
type Sequence struct{ n atomic.Uint64 }

func (s *Sequence) Next() uint64 { return s.n.Add(1) }

// Factory names and starts the workers of one pool. Names look like
// "<owner>::<pool>.<n>" and never repeat within a Sequence.
type Factory struct {
	owner string
	pool  uint64
	n     atomic.Uint64
	sup   *supervisor.Supervisor
}

func NewFactory(owner string, seq *Sequence, sup *supervisor.Supervisor) *Factory {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = "worker"
	}
	return &Factory{owner: owner, pool: seq.Next(), sup: sup}
}

func (f *Factory) Pool() uint64 { return f.pool }

// NextName reserves the next worker name of this pool.
func (f *Factory) NextName() string {
	return fmt.Sprintf("%s::%d.%d", f.owner, f.pool, f.n.Add(1))
}

// Start runs w on its own goroutine inside the factory's supervisor.
func (f *Factory) Start(w *Worker) {
	f.sup.Go0(w.Name(), w.Run)
}
