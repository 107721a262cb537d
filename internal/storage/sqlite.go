package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const sqliteColumns = `id, credential, phone, recipients, message, campaign_duration_seconds,
	per_message_delay_seconds, entitlement_active, entitlement_kind, entitlement_expires_at, created_at, updated_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (account.Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc rowScanner) (row, error) {
	var (
		r                    row
		active               int
		expires              sql.NullString
		created, updated     string
		cred, phone, message sql.NullString
	)
	err := sc.Scan(&r.ID, &cred, &phone, &r.Recipients, &message, &r.Duration, &r.Delay,
		&active, &r.Kind, &expires, &created, &updated)
	if err != nil {
		return row{}, err
	}
	if cred.Valid {
		r.Credential = &cred.String
	}
	if phone.Valid {
		r.Phone = &phone.String
	}
	if message.Valid {
		r.Message = &message.String
	}
	r.Active = active != 0
	if expires.Valid && expires.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, expires.String); err == nil {
			r.ExpiresAt = &t
		}
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return r, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (account.Account, bool, error) {
	r, err := scanSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, false, nil
	}
	if err != nil {
		return account.Account{}, false, err
	}
	a, err := r.account()
	if err != nil {
		return account.Account{}, false, err
	}
	return a, true, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, id int64, p account.Patch) (account.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var cur account.Account
	found := true
	r, err := scanSQLite(tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM accounts WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
	case err != nil:
		return account.Account{}, err
	default:
		if cur, err = r.account(); err != nil {
			return account.Account{}, err
		}
	}

	next := applyPatch(cur, found, id, p, s.now())
	if err := s.put(ctx, tx, next); err != nil {
		return account.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return account.Account{}, err
	}
	return next, nil
}

func (s *sqliteStore) put(ctx context.Context, tx *sql.Tx, a account.Account) error {
	r, err := toRow(a)
	if err != nil {
		return err
	}
	var expires any
	if r.ExpiresAt != nil {
		expires = r.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	active := 0
	if r.Active {
		active = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts(`+sqliteColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   credential=excluded.credential, phone=excluded.phone, recipients=excluded.recipients,
		   message=excluded.message, campaign_duration_seconds=excluded.campaign_duration_seconds,
		   per_message_delay_seconds=excluded.per_message_delay_seconds,
		   entitlement_active=excluded.entitlement_active, entitlement_kind=excluded.entitlement_kind,
		   entitlement_expires_at=excluded.entitlement_expires_at, updated_at=excluded.updated_at`,
		r.ID, r.Credential, r.Phone, r.Recipients, r.Message, r.Duration, r.Delay,
		active, r.Kind, expires, r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ClearBroadcastData(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET credential=NULL, phone=NULL, recipients='[]', message=NULL, updated_at=? WHERE id = ?`,
		s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []account.Account
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		a, err := r.account()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
