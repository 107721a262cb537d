package storage

import (
	"errors"
	"time"

	"tgbroadcast/internal/account"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrCorruptRow = errors.New("corrupt account row")
)

// Config configures storage.
//
// If Driver is empty, the memory driver is used.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	Addr        string        // valkey
	Password    string        // valkey
	DB          int           // valkey
	KeyPrefix   string        // valkey; default "tgbroadcast:account:"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// record is the persisted shape shared by the file and valkey drivers.
type record struct {
	ID              int64               `json:"id"`
	Credential      string              `json:"credential,omitempty"`
	Phone           string              `json:"phone,omitempty"`
	Recipients      []string            `json:"recipients,omitempty"`
	Message         string              `json:"message,omitempty"`
	DurationSeconds float64             `json:"campaign_duration_seconds"`
	DelaySeconds    float64             `json:"per_message_delay_seconds"`
	Entitlement     account.Entitlement `json:"entitlement"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func toRecord(a account.Account) record {
	return record{
		ID:              a.ID,
		Credential:      a.Credential,
		Phone:           a.Phone,
		Recipients:      append([]string(nil), a.Recipients...),
		Message:         a.Message,
		DurationSeconds: a.Duration.Seconds(),
		DelaySeconds:    a.Delay.Seconds(),
		Entitlement:     a.Entitlement,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (r record) account() account.Account {
	return account.Account{
		ID:          r.ID,
		Credential:  r.Credential,
		Phone:       r.Phone,
		Recipients:  append([]string(nil), r.Recipients...),
		Message:     r.Message,
		Duration:    account.Seconds(r.DurationSeconds),
		Delay:       account.Seconds(r.DelaySeconds),
		Entitlement: r.Entitlement,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}.WithDefaults()
}

// applyPatch is the read-modify-write step every driver shares.
func applyPatch(cur account.Account, found bool, id int64, p account.Patch, now time.Time) account.Account {
	if !found {
		cur = account.New(id, now)
	}
	return p.Apply(cur, now)
}
