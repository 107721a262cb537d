package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/auth"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/entitlement"
	kit "tgbroadcast/internal/transport"
	"tgbroadcast/internal/transport/telegram/router"
	"tgbroadcast/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                      { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *fakeAdapter) last(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		t.Fatalf("nothing was sent")
	}
	return a.sent[len(a.sent)-1]
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type fakeService struct {
	mu sync.Mutex

	profile   broadcast.Profile
	authState auth.State

	beginErr  error
	codeErrs  []error
	recErr    error
	msgErr    error
	setErr    error
	checkErr  error
	startErr  error
	stopErr   error
	running   bool
	grantDays []int
	clearErr  error
	cleared   []string

	phones    []string
	hours     []float64
	delays    []float64
	cancelled int
}

func (s *fakeService) Touch(_ context.Context, id int64) (broadcast.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile
	p.Account.ID = id
	return p, nil
}

func (s *fakeService) BeginAuth(_ context.Context, _ int64, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phones = append(s.phones, phone)
	if s.beginErr == nil {
		s.authState = auth.StateAwaitingCode
	}
	return s.beginErr
}

func (s *fakeService) SubmitCode(context.Context, int64, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codeErrs) == 0 {
		s.authState = auth.StateIdle
		return nil
	}
	err := s.codeErrs[0]
	s.codeErrs = s.codeErrs[1:]
	return err
}

func (s *fakeService) CancelAuth(context.Context, int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
	s.authState = auth.StateIdle
	return nil
}

func (s *fakeService) AuthState(int64) auth.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authState
}

func (s *fakeService) SetRecipients(_ context.Context, _ int64, raw string) ([]string, error) {
	if s.recErr != nil {
		return nil, s.recErr
	}
	return account.ParseRecipients(raw), nil
}

func (s *fakeService) SetMessage(context.Context, int64, string) error { return s.msgErr }

func (s *fakeService) SetHours(_ context.Context, _ int64, v float64) (account.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hours = append(s.hours, v)
	if s.setErr != nil {
		return account.Settings{}, s.setErr
	}
	return account.Settings{Hours: v, DelayMinutes: 3.5}, nil
}

func (s *fakeService) SetDelay(_ context.Context, _ int64, v float64) (account.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, v)
	if s.setErr != nil {
		return account.Settings{}, s.setErr
	}
	return account.Settings{Hours: 5, DelayMinutes: v}, nil
}

func (s *fakeService) Check(context.Context, int64) (broadcast.Readiness, error) {
	if s.checkErr != nil {
		return broadcast.Readiness{}, s.checkErr
	}
	return broadcast.Readiness{Authorized: true, Phone: "+15551234567", Recipients: []string{"alice"}, MessageLen: 5}, nil
}

func (s *fakeService) RequestStart(_ context.Context, id int64) (campaign.Summary, error) {
	if s.startErr != nil {
		return campaign.Summary{}, s.startErr
	}
	return campaign.Summary{AccountID: id, Recipients: 2, Delay: time.Minute, Duration: time.Hour}, nil
}

func (s *fakeService) ConfirmAndStart(ctx context.Context, id int64) (campaign.Summary, error) {
	return s.RequestStart(ctx, id)
}

func (s *fakeService) RequestStop(context.Context, int64) error {
	if !s.running {
		return campaign.ErrNotRunning
	}
	return s.stopErr
}

func (s *fakeService) Status(id int64) (campaign.Snapshot, bool) {
	if !s.running {
		return campaign.Snapshot{}, false
	}
	return campaign.Snapshot{AccountID: id, Sent: 3, Delay: 2 * time.Minute, Remaining: time.Hour}, true
}

func (s *fakeService) ActiveCampaigns() []campaign.Snapshot { return nil }

func (s *fakeService) Reset(context.Context, int64) error { return nil }

func (s *fakeService) clear(field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	s.cleared = append(s.cleared, field)
	return nil
}

func (s *fakeService) ClearSession(context.Context, int64) error    { return s.clear("session") }
func (s *fakeService) ClearRecipients(context.Context, int64) error { return s.clear("recipients") }
func (s *fakeService) ClearMessage(context.Context, int64) error    { return s.clear("message") }

func (s *fakeService) Grant(_ context.Context, id int64, days int) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantDays = append(s.grantDays, days)
	return account.Account{ID: id, Entitlement: account.Forever()}, nil
}

func (s *fakeService) Revoke(_ context.Context, id int64) (account.Account, error) {
	return account.Account{}, entitlement.ErrAccountNotFound
}

func (s *fakeService) Stats(context.Context) (broadcast.Stats, error) {
	return broadcast.Stats{Accounts: 1}, nil
}

const uid = int64(42)

func entitledService() *fakeService {
	return &fakeService{profile: broadcast.Profile{Entitled: true, Account: account.Account{Entitlement: account.Forever()}}}
}

func newBot(svc Service) (*Bot, *fakeAdapter) {
	return New(svc, Config{FlowTTL: time.Minute}, logx.Nop()), &fakeAdapter{}
}

func request(ad *fakeAdapter, text string) *router.Request {
	return &router.Request{
		Chat:     kit.ChatTarget{ChatID: uid},
		FromID:   uid,
		FromName: "Ann",
		Text:     text,
		Args:     strings.Fields(text),
		Adapter:  ad,
		Logger:   logx.Nop(),
	}
}

func mustContain(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("message %q does not contain %q", got, want)
	}
}

func flowKind(b *Bot) FlowKind {
	fl, ok := b.Flows().Get(uid)
	if !ok {
		return FlowNone
	}
	return fl.Kind
}

func TestStartWithoutAccessShowsID(t *testing.T) {
	t.Parallel()
	b, ad := newBot(&fakeService{})
	if err := b.cmdStart(context.Background(), request(ad, "")); err != nil {
		t.Fatalf("start: %v", err)
	}
	msg := ad.last(t)
	mustContain(t, msg, "Access is inactive")
	mustContain(t, msg, "<code>42</code>")
}

func TestFeaturesRequireAccess(t *testing.T) {
	t.Parallel()
	b, ad := newBot(&fakeService{})
	if err := b.openRecipients(context.Background(), request(ad, "")); err != nil {
		t.Fatalf("recipients: %v", err)
	}
	mustContain(t, ad.last(t), "Access required")
	if flowKind(b) != FlowNone {
		t.Fatalf("flow opened without access")
	}
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	svc.codeErrs = []error{&auth.WrongCodeError{AttemptsLeft: 2}}
	b, ad := newBot(svc)
	ctx := context.Background()

	if err := b.openAuth(ctx, request(ad, ""), false); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := flowKind(b); got != FlowAuthPhone {
		t.Fatalf("flow = %v, want auth_phone", got)
	}

	if err := b.HandleText(ctx, request(ad, "+15551234567")); err != nil {
		t.Fatalf("phone: %v", err)
	}
	if len(svc.phones) != 1 || svc.phones[0] != "+15551234567" {
		t.Fatalf("phones = %v", svc.phones)
	}
	mustContain(t, ad.last(t), "Code sent")
	if got := flowKind(b); got != FlowAuthCode {
		t.Fatalf("flow = %v, want auth_code", got)
	}

	if err := b.HandleText(ctx, request(ad, "12 34 5")); err != nil {
		t.Fatalf("wrong code: %v", err)
	}
	mustContain(t, ad.last(t), "2 attempt(s) left")
	if got := flowKind(b); got != FlowAuthCode {
		t.Fatalf("flow closed after wrong code")
	}

	if err := b.HandleText(ctx, request(ad, "12345")); err != nil {
		t.Fatalf("code: %v", err)
	}
	mustContain(t, ad.last(t), "Authorization complete")
	if got := flowKind(b); got != FlowNone {
		t.Fatalf("flow = %v after success", got)
	}
}

func TestAuthExistingSessionOffersChoice(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	svc.profile.Account.Credential = "session"
	svc.profile.Account.Phone = "+15550000000"
	b, ad := newBot(svc)

	if err := b.openAuth(context.Background(), request(ad, ""), false); err != nil {
		t.Fatalf("open: %v", err)
	}
	mustContain(t, ad.last(t), "already saved")
	if flowKind(b) != FlowNone {
		t.Fatalf("flow opened while a session exists")
	}
	if err := b.openAuth(context.Background(), request(ad, ""), true); err != nil {
		t.Fatalf("open again: %v", err)
	}
	if flowKind(b) != FlowAuthPhone {
		t.Fatalf("authorize again did not open the phone flow")
	}
}

func TestAuthErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		begin    error
		code     error
		want     string
		wantFlow FlowKind
	}{
		{name: "bad phone format", begin: auth.ErrInvalidPhoneFormat, want: "Invalid phone number", wantFlow: FlowAuthPhone},
		{name: "not registered", begin: auth.ErrPhoneNotRegistered, want: "not registered", wantFlow: FlowNone},
		{name: "two factor", code: auth.ErrTwoFactorUnsupported, want: "Two-step verification", wantFlow: FlowNone},
		{name: "code format", code: auth.ErrInvalidCodeFormat, want: "5 digits", wantFlow: FlowNone},
		{name: "too many", code: auth.ErrTooManyAttempts, want: "Too many wrong codes", wantFlow: FlowNone},
		{name: "provider", code: &auth.ProviderError{Message: "FLOOD"}, want: "FLOOD", wantFlow: FlowNone},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := entitledService()
			svc.beginErr = tt.begin
			if tt.code != nil {
				svc.codeErrs = []error{tt.code}
			}
			b, ad := newBot(svc)
			ctx := context.Background()

			b.flows.Open(uid, FlowAuthPhone)
			if err := b.HandleText(ctx, request(ad, "+15551234567")); err != nil {
				t.Fatalf("phone: %v", err)
			}
			if tt.code != nil {
				if err := b.HandleText(ctx, request(ad, "12345")); err != nil {
					t.Fatalf("code: %v", err)
				}
			}
			mustContain(t, ad.last(t), tt.want)
			if got := flowKind(b); got != tt.wantFlow {
				t.Fatalf("flow = %v, want %v", got, tt.wantFlow)
			}
		})
	}
}

func TestRecipientsFlow(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	svc.recErr = broadcast.ErrEmptyRecipients
	b, ad := newBot(svc)
	ctx := context.Background()

	if err := b.openRecipients(ctx, request(ad, "")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.HandleText(ctx, request(ad, "   ")); err != nil {
		t.Fatalf("empty: %v", err)
	}
	mustContain(t, ad.last(t), "No usernames found")
	if flowKind(b) != FlowRecipients {
		t.Fatalf("flow closed after empty input")
	}

	svc.recErr = nil
	if err := b.HandleText(ctx, request(ad, "@alice, bob")); err != nil {
		t.Fatalf("save: %v", err)
	}
	msg := ad.last(t)
	mustContain(t, msg, "Recipients saved: 2")
	mustContain(t, msg, "@bob")
	if flowKind(b) != FlowNone {
		t.Fatalf("flow still open after save")
	}
}

func TestRecipientsInlineArgs(t *testing.T) {
	t.Parallel()
	b, ad := newBot(entitledService())
	if err := b.cmdRecipients(context.Background(), request(ad, "@a @b @c")); err != nil {
		t.Fatalf("recipients: %v", err)
	}
	mustContain(t, ad.last(t), "Recipients saved: 3")
}

func TestMessageTooLongKeepsFlow(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	svc.msgErr = broadcast.ErrMessageTooLong
	b, ad := newBot(svc)
	b.flows.Open(uid, FlowMessage)

	if err := b.HandleText(context.Background(), request(ad, "hello")); err != nil {
		t.Fatalf("message: %v", err)
	}
	mustContain(t, ad.last(t), "too long")
	if flowKind(b) != FlowMessage {
		t.Fatalf("flow closed")
	}
}

func TestSettingsTypedInput(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	b, ad := newBot(svc)
	ctx := context.Background()
	b.flows.Open(uid, FlowHours)

	if err := b.HandleText(ctx, request(ad, "abc")); err != nil {
		t.Fatalf("abc: %v", err)
	}
	mustContain(t, ad.last(t), "Not a number")
	if flowKind(b) != FlowHours {
		t.Fatalf("flow closed on bad number")
	}

	svc.setErr = &account.RangeError{Field: "duration", Min: 0.1, Max: 24, Unit: "hours"}
	if err := b.HandleText(ctx, request(ad, "30")); err != nil {
		t.Fatalf("30: %v", err)
	}
	mustContain(t, ad.last(t), "between 0.1 and 24")
	if flowKind(b) != FlowHours {
		t.Fatalf("flow closed on range error")
	}

	svc.setErr = nil
	if err := b.HandleText(ctx, request(ad, "2,5")); err != nil {
		t.Fatalf("2,5: %v", err)
	}
	if got := svc.hours[len(svc.hours)-1]; got != 2.5 {
		t.Fatalf("hours = %v, want 2.5", got)
	}
	mustContain(t, ad.last(t), "Saved")
	if flowKind(b) != FlowNone {
		t.Fatalf("flow still open")
	}
}

func TestSettingsPreset(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	b, ad := newBot(svc)
	req := request(ad, "")
	req.Payload = "3.5"

	if err := b.cbDelay(context.Background(), req); err != nil {
		t.Fatalf("delay: %v", err)
	}
	if len(svc.delays) != 1 || svc.delays[0] != 3.5 {
		t.Fatalf("delays = %v", svc.delays)
	}
	if flowKind(b) != FlowNone {
		t.Fatalf("preset opened a flow")
	}
}

func TestTextWithoutFlow(t *testing.T) {
	t.Parallel()
	b, ad := newBot(entitledService())
	if err := b.HandleText(context.Background(), request(ad, "hi")); err != nil {
		t.Fatalf("text: %v", err)
	}
	mustContain(t, ad.last(t), "/start")
}

func TestCancelKeyword(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	b, ad := newBot(svc)
	b.flows.Open(uid, FlowRecipients)

	if err := b.HandleText(context.Background(), request(ad, "cancel")); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mustContain(t, ad.last(t), "Action cancelled")
	if flowKind(b) != FlowNone {
		t.Fatalf("flow still open")
	}
	if svc.cancelled != 0 {
		t.Fatalf("auth cancelled without a pending login")
	}
}

func TestCancelPendingAuth(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	svc.authState = auth.StateAwaitingCode
	b, ad := newBot(svc)
	b.flows.Open(uid, FlowAuthCode)

	if err := b.cmdCancel(context.Background(), request(ad, "")); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if svc.cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1", svc.cancelled)
	}
}

func TestGo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "ok", want: "Start the broadcast?"},
		{name: "no session", err: campaign.ErrNoSession, want: "No authorized account"},
		{name: "running", err: campaign.ErrAlreadyRunning, want: "already running"},
		{name: "no access", err: entitlement.ErrEntitlementRequired, want: "Access required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := entitledService()
			svc.startErr = tt.err
			b, ad := newBot(svc)
			if err := b.cmdGo(context.Background(), request(ad, "")); err != nil {
				t.Fatalf("go: %v", err)
			}
			mustContain(t, ad.last(t), tt.want)
		})
	}
}

func TestStop(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	b, ad := newBot(svc)
	ctx := context.Background()

	if err := b.cmdStop(ctx, request(ad, "")); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mustContain(t, ad.last(t), "No broadcast is running")

	svc.running = true
	if err := b.cmdStop(ctx, request(ad, "")); err != nil {
		t.Fatalf("stop: %v", err)
	}
	msg := ad.last(t)
	mustContain(t, msg, "Stop requested")
	mustContain(t, msg, "2 min")
}

func TestUnknownErrorIsReturned(t *testing.T) {
	t.Parallel()
	svc := entitledService()
	svc.checkErr = errors.New("db down")
	b, ad := newBot(svc)
	if err := b.cmdCheck(context.Background(), request(ad, "")); err == nil {
		t.Fatalf("expected error")
	}
	if ad.count() != 0 {
		t.Fatalf("unexpected reply for an internal error")
	}
}

func TestGrantArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		args     string
		wantDays int
		usage    bool
	}{
		{args: "7 30", wantDays: 30},
		{args: "7 forever", wantDays: 0},
		{args: "7 FOREVER", wantDays: 0},
		{args: "7", usage: true},
		{args: "x 3", usage: true},
		{args: "7 0", usage: true},
		{args: "7 -1", usage: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.args, func(t *testing.T) {
			t.Parallel()
			svc := entitledService()
			b, ad := newBot(svc)
			if err := b.cmdGrant(context.Background(), request(ad, tt.args)); err != nil {
				t.Fatalf("grant: %v", err)
			}
			if tt.usage {
				mustContain(t, ad.last(t), "Usage")
				if len(svc.grantDays) != 0 {
					t.Fatalf("granted on bad input")
				}
				return
			}
			if len(svc.grantDays) != 1 || svc.grantDays[0] != tt.wantDays {
				t.Fatalf("days = %v, want %d", svc.grantDays, tt.wantDays)
			}
			mustContain(t, ad.last(t), "Access granted")
		})
	}
}

func TestRevokeUnknownUser(t *testing.T) {
	t.Parallel()
	b, ad := newBot(entitledService())
	if err := b.cmdRevoke(context.Background(), request(ad, "99")); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	mustContain(t, ad.last(t), "Unknown user")
}

func TestCommandsAndCallbacksAreUnique(t *testing.T) {
	t.Parallel()
	b, _ := newBot(entitledService())
	seen := map[string]bool{}
	for _, c := range b.Commands() {
		if seen[c.Name] {
			t.Fatalf("duplicate command %q", c.Name)
		}
		seen[c.Name] = true
		if c.Handle == nil {
			t.Fatalf("command %q has no handler", c.Name)
		}
	}
	routes := map[string]bool{}
	for _, cb := range b.Callbacks() {
		key := cb.Scope + ":" + cb.Action
		if routes[key] {
			t.Fatalf("duplicate callback %q", key)
		}
		routes[key] = true
	}
	for _, key := range []string{"menu:main", "menu:status", "campaign:confirm", "settings:hours", "reset:confirm",
		"reset:session", "reset:recipients", "reset:message"} {
		if !routes[key] {
			t.Fatalf("missing callback %q", key)
		}
	}
}

func callback(t *testing.T, b *Bot, scope, action string) router.HandlerFunc {
	t.Helper()
	for _, cb := range b.Callbacks() {
		if cb.Scope == scope && cb.Action == action {
			return cb.Handle
		}
	}
	t.Fatalf("no callback %s:%s", scope, action)
	return nil
}

func TestResetViewOffersSingleClears(t *testing.T) {
	t.Parallel()
	b, ad := newBot(entitledService())
	if err := b.cmdReset(context.Background(), request(ad, "")); err != nil {
		t.Fatalf("reset: %v", err)
	}
	mustContain(t, ad.last(t), "clear one of them")
}

func TestClearSingleField(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct{ action, label string }{
		{"session", "Session cleared"},
		{"recipients", "Recipients cleared"},
		{"message", "Message cleared"},
	} {
		tt := tt
		t.Run(tt.action, func(t *testing.T) {
			t.Parallel()
			svc := entitledService()
			b, ad := newBot(svc)
			b.Flows().Open(uid, FlowRecipients)
			if err := callback(t, b, scopeReset, tt.action)(context.Background(), request(ad, "")); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if len(svc.cleared) != 1 || svc.cleared[0] != tt.action {
				t.Fatalf("cleared = %v, want [%s]", svc.cleared, tt.action)
			}
			mustContain(t, ad.last(t), tt.label)
			if flowKind(b) != FlowNone {
				t.Fatalf("input flow left open")
			}
		})
	}
}

func TestClearSingleFieldRefused(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{broadcast.ErrCampaignRunning, "Stop it first"},
		{entitlement.ErrEntitlementRequired, "Access required"},
	}
	for _, tt := range tests {
		svc := entitledService()
		svc.clearErr = tt.err
		b, ad := newBot(svc)
		if err := callback(t, b, scopeReset, "message")(context.Background(), request(ad, "")); err != nil {
			t.Fatalf("clear: %v", err)
		}
		mustContain(t, ad.last(t), tt.want)
		if len(svc.cleared) != 0 {
			t.Fatalf("cleared despite %v", tt.err)
		}
	}
}
