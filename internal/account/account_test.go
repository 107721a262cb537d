package account

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseRecipients(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "comma separated", raw: "@alice, bob,@carol", want: []string{"alice", "bob", "carol"}},
		{name: "newlines", raw: "alice\n@bob\n\n", want: []string{"alice", "bob"}},
		{name: "duplicates", raw: "alice, @Alice, bob", want: []string{"alice", "bob"}},
		{name: "only separators", raw: " , ,@ ", want: []string{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRecipients(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseRecipients(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPatchApplyLeavesUntouchedFields(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := New(42, now)
	a.Recipients = []string{"x"}
	a.Message = "<b>hi</b>"
	a.Entitlement = Forever()

	got := Patch{Credential: Str("sess")}.Apply(a, now.Add(time.Minute))
	if got.Credential != "sess" {
		t.Fatalf("credential = %q", got.Credential)
	}
	if got.Message != a.Message || len(got.Recipients) != 1 || got.Entitlement.Kind != KindForever {
		t.Fatalf("untouched fields changed: %+v", got)
	}
	if !got.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("UpdatedAt = %v", got.UpdatedAt)
	}

	// The patch result must not alias the original slice.
	got.Recipients[0] = "y"
	if a.Recipients[0] != "x" {
		t.Fatal("Apply shared the recipient slice")
	}
}

func TestClearBroadcastKeepsEntitlement(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New(1, now)
	a.Credential, a.Phone, a.Message = "c", "+1555", "m"
	a.Recipients = []string{"r"}
	a.Entitlement = Until(now.Add(time.Hour))

	got := ClearBroadcast().Apply(a, now)
	if got.Credential != "" || got.Phone != "" || got.Message != "" || len(got.Recipients) != 0 {
		t.Fatalf("broadcast data not cleared: %+v", got)
	}
	if !got.Entitlement.Active || got.Entitlement.ExpiresAt == nil {
		t.Fatalf("entitlement changed: %+v", got.Entitlement)
	}
}

func TestEntitlementNormalized(t *testing.T) {
	t.Parallel()
	at := time.Now()
	e := Entitlement{Active: true, Kind: KindForever, ExpiresAt: &at}.Normalized()
	if e.ExpiresAt != nil {
		t.Fatal("forever entitlement kept ExpiresAt")
	}
	e = Entitlement{Active: true, Kind: KindExpiring}.Normalized()
	if e.Active {
		t.Fatal("expiring entitlement without deadline must be inactive")
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		s    Settings
		ok   bool
	}{
		{name: "defaults", s: Settings{Hours: 5, DelayMinutes: 3.5}, ok: true},
		{name: "lower bounds", s: Settings{Hours: 0.1, DelayMinutes: 0.1}, ok: true},
		{name: "upper bounds", s: Settings{Hours: 24, DelayMinutes: 60}, ok: true},
		{name: "hours too large", s: Settings{Hours: 25, DelayMinutes: 1}},
		{name: "delay too small", s: Settings{Hours: 1, DelayMinutes: 0.05}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if !tt.ok {
				var re *RangeError
				if !errors.As(err, &re) {
					t.Fatalf("want *RangeError, got %v", err)
				}
			}
		})
	}
}

func TestSettingsPatchRoundTrip(t *testing.T) {
	t.Parallel()
	a := New(1, time.Now())
	s := SettingsOf(a)
	if s.Hours != 5 || s.DelayMinutes != 3.5 {
		t.Fatalf("default settings = %+v", s)
	}
	got := Settings{Hours: 2, DelayMinutes: 1.5}.Patch().Apply(a, time.Now())
	if got.Duration != 2*time.Hour || got.Delay != 90*time.Second {
		t.Fatalf("patched durations = %v / %v", got.Duration, got.Delay)
	}
	if f, err := ParseNumber("3,5"); err != nil || f != 3.5 {
		t.Fatalf("ParseNumber = %v, %v", f, err)
	}
}
