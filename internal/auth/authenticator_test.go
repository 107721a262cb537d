package auth

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/entitlement"
	"tgbroadcast/internal/messaging"
	"tgbroadcast/internal/messaging/messagingtest"
	"tgbroadcast/internal/storage"
)

const testAccount = int64(100)

type fixture struct {
	auth   *Authenticator
	store  *storage.Memory
	dialer *messagingtest.Dialer
}

func newFixture(t *testing.T, newClient func() *messagingtest.Client) fixture {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	gate := entitlement.New(st)
	if _, err := gate.Grant(ctx, testAccount, account.Forever()); err != nil {
		t.Fatal(err)
	}
	d := &messagingtest.Dialer{}
	if newClient != nil {
		d.New = func(string) *messagingtest.Client { return newClient() }
	}
	a := New(Config{MaxAttempts: 3}, gate, st, d,
		WithPicker(messaging.RandomPicker(messaging.DefaultDevices, rand.New(rand.NewSource(1)))))
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return fixture{auth: a, store: st, dialer: d}
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "+15550000", want: "+15550000", ok: true},
		{in: "+7 (999) 123-45-67", want: "+79991234567", ok: true},
		{in: "15550000"},
		{in: "+1555"},
		{in: "+1555abc0000"},
		{in: ""},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.ok != (err == nil) || got != tt.want {
			t.Fatalf("NormalizePhone(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()
	if code, ok := NormalizeCode("1 2 3 4 5"); !ok || code != "12345" {
		t.Fatalf("NormalizeCode = %q, %v", code, ok)
	}
	if _, ok := NormalizeCode("1234"); ok {
		t.Fatal("4 digits accepted")
	}
	if _, ok := NormalizeCode("123456"); ok {
		t.Fatal("6 digits accepted")
	}
	if !IsCancelKeyword(" Отмена ") || !IsCancelKeyword("CANCEL") || IsCancelKeyword("12345") {
		t.Fatal("cancel keyword detection")
	}
}

func TestInvalidPhoneNeverDials(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	err := f.auth.Begin(context.Background(), testAccount, "5550000")
	if !errors.Is(err, ErrInvalidPhoneFormat) {
		t.Fatalf("Begin() error = %v", err)
	}
	if n := len(f.dialer.Clients()); n != 0 {
		t.Fatalf("dialed %d clients", n)
	}
	if f.auth.State(testAccount) != StateIdle {
		t.Fatal("session left behind")
	}
}

func TestWrongCodeThreeTimes(t *testing.T) {
	t.Parallel()
	wrong := messaging.Classified(messaging.KindWrongCode, errors.New("PHONE_CODE_INVALID"))
	f := newFixture(t, func() *messagingtest.Client {
		return &messagingtest.Client{CodeErrs: []error{wrong, wrong, wrong}}
	})
	ctx := context.Background()

	if err := f.auth.Begin(ctx, testAccount, "+15550000"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if f.auth.State(testAccount) != StateAwaitingCode {
		t.Fatalf("state = %v", f.auth.State(testAccount))
	}
	c := f.dialer.Last()

	for i, left := range []int{2, 1} {
		err := f.auth.SubmitCode(ctx, testAccount, "1 2 3 4 5")
		var wc *WrongCodeError
		if !errors.As(err, &wc) || wc.AttemptsLeft != left {
			t.Fatalf("attempt %d: error = %v", i+1, err)
		}
		if c.Disconnects() != 0 {
			t.Fatal("disconnected while attempts remain")
		}
	}
	if err := f.auth.SubmitCode(ctx, testAccount, "12345"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("third attempt error = %v", err)
	}
	if c.Disconnects() != 1 {
		t.Fatalf("disconnects = %d, want 1", c.Disconnects())
	}
	if f.auth.State(testAccount) != StateIdle {
		t.Fatal("session not destroyed")
	}
	codes := c.Codes()
	if len(codes) != 3 || codes[0] != "12345" {
		t.Fatalf("submitted codes = %v", codes)
	}
}

func TestSuccessPersistsCredential(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func() *messagingtest.Client { return &messagingtest.Client{Issued: "blob"} })
	ctx := context.Background()

	if err := f.auth.Begin(ctx, testAccount, "+1 555 000 0000"); err != nil {
		t.Fatal(err)
	}
	if err := f.auth.SubmitCode(ctx, testAccount, "54321"); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	a, _, _ := f.store.Get(ctx, testAccount)
	if a.Credential != "blob" || a.Phone != "+15550000000" {
		t.Fatalf("stored account = %+v", a)
	}
	if d := f.dialer.Last().Disconnects(); d != 1 {
		t.Fatalf("disconnects = %d", d)
	}
	if err := f.auth.SubmitCode(ctx, testAccount, "54321"); !errors.Is(err, ErrNoPendingAuth) {
		t.Fatalf("second submit = %v", err)
	}
}

// Every terminating branch must disconnect exactly once.
func TestDisconnectExactlyOnce(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		client  func() *messagingtest.Client
		act     func(ctx context.Context, a *Authenticator) error
		wantErr error
	}{
		{
			name:    "invalid code format",
			act:     func(ctx context.Context, a *Authenticator) error { return a.SubmitCode(ctx, testAccount, "12a") },
			wantErr: ErrInvalidCodeFormat,
		},
		{
			name:    "cancel keyword",
			act:     func(ctx context.Context, a *Authenticator) error { return a.SubmitCode(ctx, testAccount, "cancel") },
			wantErr: ErrCancelled,
		},
		{
			name: "explicit cancel",
			act: func(ctx context.Context, a *Authenticator) error {
				if err := a.Cancel(ctx, testAccount); err != nil {
					return err
				}
				return ErrCancelled
			},
			wantErr: ErrCancelled,
		},
		{
			name: "two factor",
			client: func() *messagingtest.Client {
				return &messagingtest.Client{CodeErrs: []error{messaging.Classified(messaging.KindTwoFactorRequired, nil)}}
			},
			act:     func(ctx context.Context, a *Authenticator) error { return a.SubmitCode(ctx, testAccount, "11111") },
			wantErr: ErrTwoFactorUnsupported,
		},
		{
			name: "expired challenge",
			client: func() *messagingtest.Client {
				return &messagingtest.Client{CodeErrs: []error{messaging.Classified(messaging.KindChallengeExpired, nil)}}
			},
			act:     func(ctx context.Context, a *Authenticator) error { return a.SubmitCode(ctx, testAccount, "11111") },
			wantErr: ErrChallengeExpired,
		},
		{
			name: "replaced by new begin",
			act: func(ctx context.Context, a *Authenticator) error {
				return a.Begin(ctx, testAccount, "+15550001")
			},
		},
		{
			name: "shutdown",
			act: func(ctx context.Context, a *Authenticator) error {
				return a.Close(ctx)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.client)
			ctx := context.Background()
			if err := f.auth.Begin(ctx, testAccount, "+15550000"); err != nil {
				t.Fatal(err)
			}
			first := f.dialer.Clients()[0]
			err := tt.act(ctx, f.auth)
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d := first.Disconnects(); d != 1 {
				t.Fatalf("disconnects = %d, want 1", d)
			}
			// Cleanup paths must not disconnect again.
			_ = f.auth.Cancel(ctx, testAccount)
			_ = f.auth.Close(ctx)
			if d := first.Disconnects(); d != 1 {
				t.Fatalf("disconnects after cleanup = %d, want 1", d)
			}
		})
	}
}

func TestProviderFailuresOnChallenge(t *testing.T) {
	t.Parallel()
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "invalid phone", err: messaging.Classified(messaging.KindInvalidPhone, nil), want: ErrInvalidPhone},
		{name: "not registered", err: messaging.Classified(messaging.KindPhoneNotRegistered, nil), want: ErrPhoneNotRegistered},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func() *messagingtest.Client { return &messagingtest.Client{ChallengeErr: tt.err} })
			if err := f.auth.Begin(context.Background(), testAccount, "+15550000"); !errors.Is(err, tt.want) {
				t.Fatalf("Begin() = %v, want %v", err, tt.want)
			}
			if d := f.dialer.Last().Disconnects(); d != 1 {
				t.Fatalf("disconnects = %d", d)
			}
		})
	}

	t.Run("unclassified is truncated", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func() *messagingtest.Client {
			return &messagingtest.Client{ChallengeErr: errors.New(string(long))}
		})
		err := f.auth.Begin(context.Background(), testAccount, "+15550000")
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("Begin() = %v", err)
		}
		if n := len([]rune(pe.Message)); n > 101 {
			t.Fatalf("diagnostic has %d runes", n)
		}
	})
}

func TestBeginRequiresEntitlement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	if _, err := st.Upsert(ctx, 5, account.Patch{}); err != nil {
		t.Fatal(err)
	}
	d := &messagingtest.Dialer{}
	a := New(Config{}, entitlement.New(st), st, d)
	if err := a.Begin(ctx, 5, "+15550000"); !errors.Is(err, entitlement.ErrEntitlementRequired) {
		t.Fatalf("Begin() = %v", err)
	}
	if len(d.Clients()) != 0 {
		t.Fatal("dialed without entitlement")
	}
}

func TestReapStale(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.auth.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	ctx := context.Background()
	if err := f.auth.Begin(ctx, testAccount, "+15550000"); err != nil {
		t.Fatal(err)
	}
	if n := f.auth.ReapStale(ctx, time.Hour); n != 0 {
		t.Fatalf("reaped fresh session: %d", n)
	}
	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	if n := f.auth.ReapStale(ctx, time.Hour); n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}
	if f.dialer.Last().Disconnects() != 1 {
		t.Fatal("stale session not disconnected")
	}
}
