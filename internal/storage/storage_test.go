package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/pkg/logx"
)

func openAll(t *testing.T) map[string]account.Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	out := map[string]account.Store{"memory": NewMemory()}

	fs, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(dir, "accounts.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	out["file"] = fs

	ss, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(dir, "accounts.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	out["sqlite"] = ss

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	for name, st := range openAll(t) {
		name, st := name, st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := st.Get(ctx, 7); err != nil || ok {
				t.Fatalf("Get(missing) = ok=%v err=%v", ok, err)
			}

			exp := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
			a, err := st.Upsert(ctx, 7, account.Patch{
				Phone:       account.Str("+15550000"),
				Recipients:  account.Handles([]string{"alice", "bob"}),
				Message:     account.Str("<b>hello</b>"),
				Entitlement: account.Ent(account.Until(exp)),
			})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if a.Duration != account.DefaultCampaignDuration || a.Delay != account.DefaultPerMessageDelay {
				t.Fatalf("defaults not applied: %v / %v", a.Duration, a.Delay)
			}

			if _, err := st.Upsert(ctx, 7, account.Patch{Credential: account.Str("session-blob")}); err != nil {
				t.Fatalf("Upsert credential: %v", err)
			}

			got, ok, err := st.Get(ctx, 7)
			if err != nil || !ok {
				t.Fatalf("Get = ok=%v err=%v", ok, err)
			}
			if got.Credential != "session-blob" || got.Phone != "+15550000" || got.Message != "<b>hello</b>" {
				t.Fatalf("unexpected row: %+v", got)
			}
			if len(got.Recipients) != 2 || got.Recipients[1] != "bob" {
				t.Fatalf("recipients = %v", got.Recipients)
			}
			if got.Entitlement.ExpiresAt == nil || !got.Entitlement.ExpiresAt.Equal(exp) {
				t.Fatalf("entitlement = %+v", got.Entitlement)
			}

			existed, err := st.ClearBroadcastData(ctx, 7)
			if err != nil || !existed {
				t.Fatalf("ClearBroadcastData = %v, %v", existed, err)
			}
			got, _, _ = st.Get(ctx, 7)
			if got.HasCredential() || got.Message != "" || len(got.Recipients) != 0 {
				t.Fatalf("broadcast data kept: %+v", got)
			}
			if !got.Entitlement.Active {
				t.Fatal("entitlement must survive ClearBroadcastData")
			}

			if existed, _ := st.ClearBroadcastData(ctx, 99); existed {
				t.Fatal("ClearBroadcastData reported a missing account")
			}

			list, err := st.List(ctx)
			if err != nil || len(list) != 1 || list[0].ID != 7 {
				t.Fatalf("List = %v, %v", list, err)
			}
		})
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Upsert(ctx, 1, account.Patch{Entitlement: account.Ent(account.Forever())}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Upsert(ctx, 2, account.Patch{Message: account.Str("hi")}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	a, ok, _ := st.Get(ctx, 1)
	if !ok || a.Entitlement.Kind != account.KindForever || !a.Entitlement.Active {
		t.Fatalf("account 1 after reopen: %+v", a)
	}
	b, ok, _ := st.Get(ctx, 2)
	if !ok || b.Message != "hi" {
		t.Fatalf("account 2 after reopen: %+v", b)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestClosedMemoryStore(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_ = m.Close()
	if _, _, err := m.Get(context.Background(), 1); err != ErrClosed {
		t.Fatalf("Get after Close = %v", err)
	}
}

func TestSQLiteCorruptRecipientsSurface(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "accounts.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, err := st.Upsert(ctx, 7, account.Patch{Recipients: account.Handles([]string{"a"})}); err != nil {
		t.Fatal(err)
	}
	ss := st.(*sqliteStore)
	if _, err := ss.db.ExecContext(ctx, `UPDATE accounts SET recipients = '{not json' WHERE id = 7`); err != nil {
		t.Fatal(err)
	}

	if _, _, err := st.Get(ctx, 7); !errors.Is(err, ErrCorruptRow) {
		t.Fatalf("Get = %v, want ErrCorruptRow", err)
	}
	if _, err := st.List(ctx); !errors.Is(err, ErrCorruptRow) {
		t.Fatalf("List = %v, want ErrCorruptRow", err)
	}
	if _, err := st.Upsert(ctx, 7, account.Patch{Message: account.Str("hi")}); !errors.Is(err, ErrCorruptRow) {
		t.Fatalf("Upsert = %v, want ErrCorruptRow", err)
	}
}

func TestRowDecoding(t *testing.T) {
	t.Parallel()
	if a, err := (row{ID: 1}).account(); err != nil || len(a.Recipients) != 0 {
		t.Fatalf("empty column = %+v, %v", a.Recipients, err)
	}
	if a, err := (row{ID: 1, Recipients: `["x","y"]`}).account(); err != nil || len(a.Recipients) != 2 {
		t.Fatalf("valid column = %+v, %v", a.Recipients, err)
	}
	if _, err := (row{ID: 1, Recipients: `"x"`}).account(); !errors.Is(err, ErrCorruptRow) {
		t.Fatalf("scalar column = %v", err)
	}
}
