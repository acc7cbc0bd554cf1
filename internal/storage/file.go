package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"jobhost/internal/errors"
	logx "jobhost/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of runs and parameters)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	ix index

	snapshotPath string
	journal      *os.File

	writes       int
	compactEvery int
}

const (
	opRun    = "run"
	opDelete = "del"
	opParams = "params"
)

type journalRecord struct {
	Op     string            `json:"op"`
	Run    *RunRecord        `json:"run,omitempty"`
	IDs    []string          `json:"ids,omitempty"`
	Job    string            `json:"job,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

type snapshot struct {
	Runs   []RunRecord                  `json:"runs"`
	Params map[string]map[string]string `json:"params"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage dir")
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	ix := newIndex()
	if err := loadSnapshot(snapPath, &ix); err != nil && !os.IsNotExist(err) {
		log.Warn("snapshot unreadable, starting from journal", logx.Err(err))
	}
	if err := replayJournal(journalPath, &ix); err != nil && !os.IsNotExist(err) {
		log.Warn("journal replay stopped early", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	log.Debug("file store opened", logx.String("path", prefix), logx.Int("runs", len(ix.runs)))
	return &fileStore{
		log:          log,
		ix:           ix,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	r, err := checkRun(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(journalRecord{Op: opRun, Run: &r}); err != nil {
		return err
	}
	s.ix.appendRun(r)
	return nil
}

func (s *fileStore) ListRuns(ctx context.Context, q RunQuery) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, errors.ErrClosed
	}
	return s.ix.list(q), nil
}

func (s *fileStore) DeleteRuns(ctx context.Context, ids []string) (int, error) {
	_ = ctx
	set := idSet(ids)
	if len(set) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(func(r RunRecord) bool {
		_, ok := set[r.ID]
		return ok
	})
}

func (s *fileStore) PurgeRuns(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(func(r RunRecord) bool { return r.Finished.Before(before) })
}

func (s *fileStore) deleteLocked(drop func(RunRecord) bool) (int, error) {
	if s.journal == nil {
		return 0, errors.ErrClosed
	}
	var ids []string
	for _, r := range s.ix.runs {
		if drop(r) {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.writeLocked(journalRecord{Op: opDelete, IDs: ids}); err != nil {
		return 0, err
	}
	set := idSet(ids)
	s.ix.remove(func(r RunRecord) bool {
		_, ok := set[r.ID]
		return ok
	})
	return len(ids), nil
}

func (s *fileStore) PutParameters(ctx context.Context, job string, params map[string]string) error {
	_ = ctx
	key := normJob(job)
	if key == "" {
		return errors.New("job name is required")
	}
	p := cloneParams(params)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(journalRecord{Op: opParams, Job: key, Params: p}); err != nil {
		return err
	}
	s.ix.params[key] = p
	return nil
}

func (s *fileStore) GetParameters(ctx context.Context, job string) (map[string]string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, false, errors.ErrClosed
	}
	p, ok := s.ix.params[normJob(job)]
	if !ok {
		return nil, false, nil
	}
	return cloneParams(p), true, nil
}

func (s *fileStore) writeLocked(rec journalRecord) error {
	if s.journal == nil {
		return errors.ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return errors.Wrap(err, "journal write")
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	snap := snapshot{Runs: s.ix.runs, Params: s.ix.params}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, ix *index) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Runs {
		ix.appendRun(r)
	}
	for k, v := range snap.Params {
		ix.params[k] = v
	}
	return nil
}

func replayJournal(path string, ix *index) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case opRun:
			if rec.Run != nil && rec.Run.ID != "" {
				ix.appendRun(*rec.Run)
			}
		case opDelete:
			set := idSet(rec.IDs)
			ix.remove(func(r RunRecord) bool {
				_, ok := set[r.ID]
				return ok
			})
		case opParams:
			if rec.Job != "" {
				ix.params[rec.Job] = rec.Params
			}
		}
	}
	return sc.Err()
}
