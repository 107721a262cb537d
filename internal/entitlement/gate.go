// Package entitlement admission-controls privileged operations.
//
// Expiry is lazy: every check evaluates the entitlement against the clock and
// persists the flipped active flag, even when the call is denied. No
// background sweep is needed.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/pkg/logx"
)

var (
	ErrEntitlementRequired = errors.New("entitlement required")
	ErrAccountNotFound     = errors.New("account not found")
)

// Evaluate reports whether e is currently valid. The returned entitlement is
// the one the caller must persist: it differs from e only when an expiring
// entitlement has passed its deadline.
func Evaluate(e account.Entitlement, now time.Time) (bool, account.Entitlement) {
	if !e.Active {
		return false, e
	}
	if e.Kind == account.KindForever {
		return true, e
	}
	if e.ExpiresAt != nil && e.ExpiresAt.After(now) {
		return true, e
	}
	e.Active = false
	return false, e
}

// Gate loads accounts and applies Evaluate with write-back.
type Gate struct {
	store account.Store
	now   func() time.Time
	log   logx.Logger
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(l logx.Logger) Option {
	return func(g *Gate) {
		if !l.IsZero() {
			g.log = l
		}
	}
}

func New(store account.Store, opts ...Option) *Gate {
	g := &Gate{store: store, now: time.Now, log: logx.Nop()}
	for _, o := range opts {
		if o != nil {
			o(g)
		}
	}
	g.log = g.log.With(logx.String("comp", "entitlement"))
	return g
}

// Admit returns the account when it holds a valid entitlement. On denial the
// error is ErrEntitlementRequired (or ErrAccountNotFound) and any expiry flip
// has already been persisted.
func (g *Gate) Admit(ctx context.Context, id int64) (account.Account, error) {
	a, ok, err := g.store.Get(ctx, id)
	if err != nil {
		return account.Account{}, fmt.Errorf("load account %d: %w", id, err)
	}
	if !ok {
		return account.Account{}, ErrAccountNotFound
	}
	allowed, updated := Evaluate(a.Entitlement, g.now())
	if updated.Active != a.Entitlement.Active {
		saved, err := g.store.Upsert(ctx, id, account.Patch{Entitlement: account.Ent(updated)})
		if err != nil {
			// Denial still stands; the next check retries the write.
			g.log.Warn("entitlement write-back failed", logx.Int64("account_id", id), logx.Err(err))
			a.Entitlement = updated
		} else {
			a = saved
		}
		g.log.Info("entitlement expired", logx.Int64("account_id", id))
	}
	if !allowed {
		return a, ErrEntitlementRequired
	}
	return a, nil
}

// Check is Admit without the account.
func (g *Gate) Check(ctx context.Context, id int64) error {
	_, err := g.Admit(ctx, id)
	return err
}

// Grant sets the entitlement of id, creating the account when missing.
func (g *Gate) Grant(ctx context.Context, id int64, e account.Entitlement) (account.Account, error) {
	return g.store.Upsert(ctx, id, account.Patch{Entitlement: account.Ent(e.Normalized())})
}

// Revoke deactivates the entitlement of id.
func (g *Gate) Revoke(ctx context.Context, id int64) (account.Account, error) {
	a, ok, err := g.store.Get(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	if !ok {
		return account.Account{}, ErrAccountNotFound
	}
	e := a.Entitlement
	e.Active = false
	return g.store.Upsert(ctx, id, account.Patch{Entitlement: account.Ent(e)})
}

// ForDays returns an expiring entitlement valid for days from now. A
// non-positive value means forever.
func ForDays(days int, now time.Time) account.Entitlement {
	if days <= 0 {
		return account.Forever()
	}
	return account.Until(now.Add(time.Duration(days) * 24 * time.Hour))
}
