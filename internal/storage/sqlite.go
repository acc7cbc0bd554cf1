package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"jobhost/internal/errors"
	logx "jobhost/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "storage dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	r, err := checkRun(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, job, kind, source, started, finished, outcome, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Job, r.Kind, nullStr(r.Trigger),
		r.Started.UnixMilli(), r.Finished.UnixMilli(), r.Outcome, nullStr(r.Error),
	)
	return errors.Wrap(err, "insert run")
}

func (s *sqliteStore) ListRuns(ctx context.Context, q RunQuery) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	query := `SELECT id, job, kind, source, started, finished, outcome, err FROM runs`
	var (
		where []string
		args  []any
	)
	if q.Job != "" {
		where = append(where, "job = ? COLLATE NOCASE")
		args = append(args, q.Job)
	}
	if !q.Before.IsZero() {
		where = append(where, "finished < ?")
		args = append(args, q.Before.UnixMilli())
	}
	if c := q.After; c != nil {
		ms := c.Finished.UnixMilli()
		where = append(where, "(finished > ? OR (finished = ? AND id > ?))")
		args = append(args, ms, ms, c.ID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished, id"
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(q.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			trigger, errText  sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Job, &r.Kind, &trigger, &started, &finished, &r.Outcome, &errText); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.Trigger = trigger.String
		r.Error = errText.String
		r.Started = time.UnixMilli(started)
		r.Finished = time.UnixMilli(finished)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

func (s *sqliteStore) DeleteRuns(ctx context.Context, ids []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	set := idSet(ids)
	if len(set) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(set))
	for _, id := range sortedKeys(set) {
		args = append(args, id)
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, errors.Wrap(err, "delete runs")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PurgeRuns(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished < ?`, before.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "purge runs")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PutParameters(ctx context.Context, job string, params map[string]string) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	key := normJob(job)
	if key == "" {
		return errors.New("job name is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM parameters WHERE job = ?`, key); err != nil {
		return errors.Wrap(err, "clear parameters")
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO parameters(job, key, value) VALUES(?,?,?)`, key, k, params[k]); err != nil {
			return errors.Wrapf(err, "insert parameter %q", k)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *sqliteStore) GetParameters(ctx context.Context, job string) (map[string]string, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM parameters WHERE job = ?`, normJob(job))
	if err != nil {
		return nil, false, errors.Wrap(err, "query parameters")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, false, errors.Wrap(err, "scan parameter")
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
