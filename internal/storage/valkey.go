package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	"tgbroadcast/internal/account"
	"tgbroadcast/pkg/logx"
)

const defaultKeyPrefix = "tgbroadcast:account:"

// valkeyStore keeps one JSON document per account. Read-modify-write is
// serialized in process; a single bot instance owns the keyspace.
type valkeyStore struct {
	client valkey.Client
	prefix string
	log    logx.Logger
	now    func() time.Time

	mu sync.Mutex
}

func openValkey(ctx context.Context, cfg Config, log logx.Logger) (account.Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for valkey driver")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Do(pctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	log.Info("connected to valkey", logx.String("addr", addr))
	return &valkeyStore{client: client, prefix: prefix, log: log, now: time.Now}, nil
}

func (s *valkeyStore) key(id int64) string { return s.prefix + strconv.FormatInt(id, 10) }

func (s *valkeyStore) load(ctx context.Context, key string) (record, bool, error) {
	res := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := res.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return record{}, false, nil
		}
		return record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	data, err := res.ToString()
	if err != nil {
		return record{}, false, err
	}
	var r record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return record{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return r, true, nil
}

func (s *valkeyStore) save(ctx context.Context, a account.Account) error {
	data, err := json.Marshal(toRecord(a))
	if err != nil {
		return err
	}
	return s.client.Do(ctx, s.client.B().Set().Key(s.key(a.ID)).Value(string(data)).Build()).Error()
}

func (s *valkeyStore) Get(ctx context.Context, id int64) (account.Account, bool, error) {
	r, ok, err := s.load(ctx, s.key(id))
	if err != nil || !ok {
		return account.Account{}, ok, err
	}
	return r.account(), true, nil
}

func (s *valkeyStore) Upsert(ctx context.Context, id int64, p account.Patch) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok, err := s.load(ctx, s.key(id))
	if err != nil {
		return account.Account{}, err
	}
	var cur account.Account
	if ok {
		cur = r.account()
	}
	next := applyPatch(cur, ok, id, p, s.now())
	if err := s.save(ctx, next); err != nil {
		return account.Account{}, err
	}
	return next, nil
}

func (s *valkeyStore) ClearBroadcastData(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok, err := s.load(ctx, s.key(id))
	if err != nil || !ok {
		return false, err
	}
	return true, s.save(ctx, account.ClearBroadcast().Apply(r.account(), s.now()))
}

func (s *valkeyStore) List(ctx context.Context) ([]account.Account, error) {
	var keys []string
	var cursor uint64
	for {
		res := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(100).Build())
		if err := res.Error(); err != nil {
			return nil, fmt.Errorf("scan accounts: %w", err)
		}
		entry, err := res.AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	out := make([]account.Account, 0, len(keys))
	for _, k := range keys {
		r, ok, err := s.load(ctx, k)
		if err != nil {
			s.log.Warn("skip unreadable account", logx.String("key", k), logx.Err(err))
			continue
		}
		if ok {
			out = append(out, r.account())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}
