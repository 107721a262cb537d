package account

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("account not found")

// Store is the persistence contract for accounts. Implementations live in
// internal/storage.
type Store interface {
	// Get returns the account and whether it exists.
	Get(ctx context.Context, id int64) (Account, bool, error)
	// Upsert creates the account when missing and applies p.
	Upsert(ctx context.Context, id int64, p Patch) (Account, error)
	// ClearBroadcastData clears credential, phone, recipients and message.
	// The entitlement is untouched. It reports whether the account existed.
	ClearBroadcastData(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]Account, error)
	Close() error
}

// Patch is a partial update. Nil fields are left untouched; an empty string
// clears a text field.
type Patch struct {
	Credential  *string
	Phone       *string
	Recipients  *[]string
	Message     *string
	Duration    *time.Duration
	Delay       *time.Duration
	Entitlement *Entitlement
}

func Str(s string) *string { return &s }

func Dur(d time.Duration) *time.Duration { return &d }

func Handles(v []string) *[]string {
	cp := append([]string(nil), v...)
	return &cp
}

func Ent(e Entitlement) *Entitlement { return &e }

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Credential == nil && p.Phone == nil && p.Recipients == nil && p.Message == nil &&
		p.Duration == nil && p.Delay == nil && p.Entitlement == nil
}

// Apply returns a copy of a with p applied and UpdatedAt set to now.
func (p Patch) Apply(a Account, now time.Time) Account {
	a = a.Clone()
	if p.Credential != nil {
		a.Credential = *p.Credential
	}
	if p.Phone != nil {
		a.Phone = *p.Phone
	}
	if p.Recipients != nil {
		a.Recipients = append([]string(nil), (*p.Recipients)...)
	}
	if p.Message != nil {
		a.Message = *p.Message
	}
	if p.Duration != nil {
		a.Duration = *p.Duration
	}
	if p.Delay != nil {
		a.Delay = *p.Delay
	}
	if p.Entitlement != nil {
		a.Entitlement = p.Entitlement.Normalized()
	}
	a.UpdatedAt = now
	return a.WithDefaults()
}

// ClearBroadcast returns the patch used by ClearBroadcastData.
func ClearBroadcast() Patch {
	empty := []string{}
	return Patch{Credential: Str(""), Phone: Str(""), Recipients: &empty, Message: Str("")}
}
