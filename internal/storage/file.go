package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/pkg/logx"
)

// fileStore keeps every account in memory and persists it as:
//   - <prefix>.accounts.snapshot.json (periodic snapshot)
//   - <prefix>.accounts.journal.jsonl (append-only journal of full rows)
//
// The journal is compacted into the snapshot at open and every
// compactEvery writes.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	rows         map[int64]record

	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (account.Store, error) {
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
		return nil, err
	}

	snapPath := prefix + ".accounts.snapshot.json"
	journalPath := prefix + ".accounts.journal.jsonl"

	rows := map[int64]record{}
	if err := loadSnapshot(snapPath, rows); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, rows); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		now:          time.Now,
		snapshotPath: snapPath,
		journal:      jf,
		rows:         rows,
		compactEvery: 500,
	}
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Warn("initial compact failed", logx.Err(err))
	}
	s.mu.Unlock()
	return s, nil
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

func (s *fileStore) Get(ctx context.Context, id int64) (account.Account, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return account.Account{}, false, ErrClosed
	}
	r, ok := s.rows[id]
	if !ok {
		return account.Account{}, false, nil
	}
	return r.account(), true, nil
}

func (s *fileStore) Upsert(ctx context.Context, id int64, p account.Patch) (account.Account, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return account.Account{}, ErrClosed
	}
	r, ok := s.rows[id]
	var cur account.Account
	if ok {
		cur = r.account()
	}
	next := applyPatch(cur, ok, id, p, s.now())
	if err := s.writeLocked(toRecord(next)); err != nil {
		return account.Account{}, err
	}
	return next, nil
}

func (s *fileStore) ClearBroadcastData(ctx context.Context, id int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	r, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	next := account.ClearBroadcast().Apply(r.account(), s.now())
	return true, s.writeLocked(toRecord(next))
}

func (s *fileStore) List(ctx context.Context) ([]account.Account, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]account.Account, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.account())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) writeLocked(r record) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.rows[r.ID] = r
	s.writes++
	if s.writes%s.compactEvery == 0 {
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
	list := make([]record, 0, len(s.rows))
	for _, r := range s.rows {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[int64]record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []record
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, r := range list {
		out[r.ID] = r
	}
	return nil
}

func replayJournal(path string, out map[int64]record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// Torn tail write.
			continue
		}
		if r.ID == 0 {
			continue
		}
		out[r.ID] = r
	}
	return sc.Err()
}
