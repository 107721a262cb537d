package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"tgbroadcast/internal/account"
)

// Memory is an in-process account.Store.
type Memory struct {
	mu     sync.Mutex
	rows   map[int64]account.Account
	now    func() time.Time
	closed bool
}

func NewMemory() *Memory {
	return &Memory{rows: map[int64]account.Account{}, now: time.Now}
}

func (m *Memory) Get(ctx context.Context, id int64) (account.Account, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return account.Account{}, false, ErrClosed
	}
	a, ok := m.rows[id]
	if !ok {
		return account.Account{}, false, nil
	}
	return a.Clone(), true, nil
}

func (m *Memory) Upsert(ctx context.Context, id int64, p account.Patch) (account.Account, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return account.Account{}, ErrClosed
	}
	cur, ok := m.rows[id]
	next := applyPatch(cur, ok, id, p, m.now())
	m.rows[id] = next
	return next.Clone(), nil
}

func (m *Memory) ClearBroadcastData(ctx context.Context, id int64) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	cur, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	m.rows[id] = account.ClearBroadcast().Apply(cur, m.now())
	return true, nil
}

func (m *Memory) List(ctx context.Context) ([]account.Account, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]account.Account, 0, len(m.rows))
	for _, a := range m.rows {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
