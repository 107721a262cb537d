// Package account defines the broadcast account record, its entitlement and
// the persistence contract (Store) the core subsystems consume.
package account

import (
	"strings"
	"time"
)

// Defaults applied to new accounts and to rows with zero settings.
const (
	DefaultCampaignDuration = 5 * time.Hour                    // 18000s
	DefaultPerMessageDelay  = 3*time.Minute + 30*time.Second // 210s
)

// Kind is the entitlement flavour.
type Kind string

const (
	KindExpiring Kind = "expiring"
	KindForever  Kind = "forever"
)

// Entitlement is the time-bound or permanent authorization to use the
// broadcast features. Forever entitlements never carry ExpiresAt.
type Entitlement struct {
	Active    bool       `json:"active"`
	Kind      Kind       `json:"kind"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Forever returns an active, non-expiring entitlement.
func Forever() Entitlement {
	return Entitlement{Active: true, Kind: KindForever}
}

// Until returns an active entitlement expiring at t.
func Until(t time.Time) Entitlement {
	t = t.UTC()
	return Entitlement{Active: true, Kind: KindExpiring, ExpiresAt: &t}
}

// Normalized enforces Kind/ExpiresAt consistency. Unknown kinds are treated
// as expiring; an expiring entitlement without a deadline is inactive.
func (e Entitlement) Normalized() Entitlement {
	switch e.Kind {
	case KindForever:
		e.ExpiresAt = nil
	default:
		e.Kind = KindExpiring
		if e.ExpiresAt == nil {
			e.Active = false
		}
	}
	return e
}

// Account is one end user of the bot. The id is the user's Telegram id, which
// is also the private chat used for notifications.
type Account struct {
	ID          int64
	Credential  string // opaque external session token; empty when not authorized
	Phone       string
	Recipients  []string
	Message     string
	Duration    time.Duration // campaign duration
	Delay       time.Duration // per-message delay
	Entitlement Entitlement
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New returns a fresh account with default settings and no entitlement.
func New(id int64, now time.Time) Account {
	return Account{
		ID:          id,
		Duration:    DefaultCampaignDuration,
		Delay:       DefaultPerMessageDelay,
		Entitlement: Entitlement{Kind: KindExpiring},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasCredential reports whether a persisted session exists.
func (a Account) HasCredential() bool { return strings.TrimSpace(a.Credential) != "" }

// Clone returns a deep copy so callers never share the recipient slice.
func (a Account) Clone() Account {
	a.Recipients = append([]string(nil), a.Recipients...)
	if a.Entitlement.ExpiresAt != nil {
		t := *a.Entitlement.ExpiresAt
		a.Entitlement.ExpiresAt = &t
	}
	return a
}

// WithDefaults fills zero settings.
func (a Account) WithDefaults() Account {
	if a.Duration <= 0 {
		a.Duration = DefaultCampaignDuration
	}
	if a.Delay <= 0 {
		a.Delay = DefaultPerMessageDelay
	}
	a.Entitlement = a.Entitlement.Normalized()
	return a
}

// Seconds converts a stored float seconds value into a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
