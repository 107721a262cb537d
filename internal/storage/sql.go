package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tgbroadcast/internal/account"
)

// row is the column form shared by the sqlite and postgres drivers.
type row struct {
	ID         int64
	Credential *string
	Phone      *string
	Recipients string
	Message    *string
	Duration   float64
	Delay      float64
	Active     bool
	Kind       string
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func toRow(a account.Account) (row, error) {
	b, err := json.Marshal(nonNil(a.Recipients))
	if err != nil {
		return row{}, fmt.Errorf("account %d: encode recipients: %w", a.ID, err)
	}
	return row{
		ID:         a.ID,
		Credential: nullStr(a.Credential),
		Phone:      nullStr(a.Phone),
		Recipients: string(b),
		Message:    nullStr(a.Message),
		Duration:   a.Duration.Seconds(),
		Delay:      a.Delay.Seconds(),
		Active:     a.Entitlement.Active,
		Kind:       string(a.Entitlement.Kind),
		ExpiresAt:  a.Entitlement.ExpiresAt,
		CreatedAt:  a.CreatedAt.UTC(),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}, nil
}

// account decodes r. A recipients column that is not a JSON string array is
// reported as ErrCorruptRow rather than read as an empty list.
func (r row) account() (account.Account, error) {
	var recipients []string
	if strings.TrimSpace(r.Recipients) != "" {
		if err := json.Unmarshal([]byte(r.Recipients), &recipients); err != nil {
			return account.Account{}, fmt.Errorf("%w: account %d recipients: %v", ErrCorruptRow, r.ID, err)
		}
	}
	return account.Account{
		ID:          r.ID,
		Credential:  deref(r.Credential),
		Phone:       deref(r.Phone),
		Recipients:  recipients,
		Message:     deref(r.Message),
		Duration:    account.Seconds(r.Duration),
		Delay:       account.Seconds(r.Delay),
		Entitlement: account.Entitlement{Active: r.Active, Kind: account.Kind(r.Kind), ExpiresAt: r.ExpiresAt},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}.WithDefaults(), nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullStr(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
