package storage

import (
	"context"
	"strings"
	"time"

	"jobhost/internal/errors"
	logx "jobhost/pkg/logx"
)

// Store is the persistence API used by the scheduler and the built-in jobs.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, q RunQuery) ([]RunRecord, error)
	// DeleteRuns removes the given ids and reports how many existed.
	DeleteRuns(ctx context.Context, ids []string) (int, error)
	// PurgeRuns removes every run that finished before the cutoff.
	PurgeRuns(ctx context.Context, before time.Time) (int, error)

	// PutParameters replaces the stored parameter set of a job.
	PutParameters(ctx context.Context, job string, params map[string]string) error
	GetParameters(ctx context.Context, job string) (params map[string]string, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.WithHint(
			errors.Newf("unknown storage driver: %s", driver),
			"supported drivers: memory, file, sqlite",
		)
	}
}

func normJob(job string) string { return strings.ToLower(strings.TrimSpace(job)) }

func cloneParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
