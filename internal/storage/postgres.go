package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgbroadcast/internal/account"
	"tgbroadcast/pkg/logx"
)

const pgColumns = `id, credential, phone, recipients, message, campaign_duration_seconds,
	per_message_delay_seconds, entitlement_active, entitlement_kind, entitlement_expires_at, created_at, updated_at`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  func() time.Time
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (account.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	pcfg.MaxConns = 10
	pcfg.MinConns = 1
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	st := &postgresStore{pool: pool, log: log, now: time.Now}
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return st, nil
}

// Migrate creates the accounts table when missing.
func (s *postgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id                        BIGINT PRIMARY KEY,
			credential                TEXT,
			phone                     VARCHAR(32),
			recipients                JSONB NOT NULL DEFAULT '[]',
			message                   TEXT,
			campaign_duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 18000,
			per_message_delay_seconds DOUBLE PRECISION NOT NULL DEFAULT 210,
			entitlement_active        BOOLEAN NOT NULL DEFAULT FALSE,
			entitlement_kind          VARCHAR(16) NOT NULL DEFAULT 'expiring',
			entitlement_expires_at    TIMESTAMPTZ,
			created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

func scanPG(sc pgx.Row) (row, error) {
	var r row
	err := sc.Scan(&r.ID, &r.Credential, &r.Phone, &r.Recipients, &r.Message, &r.Duration, &r.Delay,
		&r.Active, &r.Kind, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *postgresStore) Get(ctx context.Context, id int64) (account.Account, bool, error) {
	r, err := scanPG(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *postgresStore) Upsert(ctx context.Context, id int64, p account.Patch) (account.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return account.Account{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur account.Account
	found := true
	r, err := scanPG(tx.QueryRow(ctx, `SELECT `+pgColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		found = false
	case err != nil:
		return account.Account{}, err
	default:
		if cur, err = r.account(); err != nil {
			return account.Account{}, err
		}
	}

	next := applyPatch(cur, found, id, p, s.now())
	w, err := toRow(next)
	if err != nil {
		return account.Account{}, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (`+pgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			credential=EXCLUDED.credential, phone=EXCLUDED.phone, recipients=EXCLUDED.recipients,
			message=EXCLUDED.message, campaign_duration_seconds=EXCLUDED.campaign_duration_seconds,
			per_message_delay_seconds=EXCLUDED.per_message_delay_seconds,
			entitlement_active=EXCLUDED.entitlement_active, entitlement_kind=EXCLUDED.entitlement_kind,
			entitlement_expires_at=EXCLUDED.entitlement_expires_at, updated_at=EXCLUDED.updated_at
	`, w.ID, w.Credential, w.Phone, json.RawMessage(w.Recipients), w.Message, w.Duration, w.Delay,
		w.Active, w.Kind, w.ExpiresAt, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return account.Account{}, err
	}
	return next, nil
}

func (s *postgresStore) ClearBroadcastData(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET credential=NULL, phone=NULL, recipients='[]', message=NULL, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) List(ctx context.Context) ([]account.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []account.Account
	for rows.Next() {
		r, err := scanPG(rows)
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

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
