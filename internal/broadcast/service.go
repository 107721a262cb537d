// Package broadcast is the orchestration façade the chat UI and the HTTP API
// call. It ties the entitlement gate, the login state machine and the
// campaign dispatcher to the account store and owns the user-facing
// configuration writes.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/auth"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/entitlement"
	"tgbroadcast/internal/eventbus"
	logx "tgbroadcast/pkg/logx"
	"tgbroadcast/pkg/tgui"
)

// MaxMessageRunes is Telegram's text message limit.
const MaxMessageRunes = 4096

var (
	ErrEmptyRecipients = errors.New("no usernames found in input")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrMessageTooLong  = fmt.Errorf("message exceeds %d characters", MaxMessageRunes)
	ErrCampaignRunning = errors.New("stop the running broadcast first")
)

// Messenger delivers out-of-band notices (entitlement changes) to a user.
type Messenger interface {
	Send(ctx context.Context, accountID int64, kind string, msg tgui.Message) error
}

type Deps struct {
	Store     account.Store
	Gate      *entitlement.Gate
	Auth      *auth.Authenticator
	Campaigns *campaign.Dispatcher
	Messenger Messenger
	Bus       eventbus.Bus
	Log       logx.Logger
	Now       func() time.Time
}

type Service struct {
	store     account.Store
	gate      *entitlement.Gate
	auth      *auth.Authenticator
	campaigns *campaign.Dispatcher
	messenger Messenger
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time
}

func New(deps Deps) *Service {
	s := &Service{
		store:     deps.Store,
		gate:      deps.Gate,
		auth:      deps.Auth,
		campaigns: deps.Campaigns,
		messenger: deps.Messenger,
		bus:       deps.Bus,
		log:       deps.Log,
		now:       deps.Now,
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "broadcast"))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Profile is the landing view of an account.
type Profile struct {
	Account  account.Account
	Entitled bool
	Running  bool
	Campaign campaign.Snapshot
}

// Touch makes sure the account row exists and returns its current profile.
// The entitlement is evaluated with write-back.
func (s *Service) Touch(ctx context.Context, id int64) (Profile, error) {
	if _, ok, err := s.store.Get(ctx, id); err != nil {
		return Profile{}, err
	} else if !ok {
		if _, err := s.store.Upsert(ctx, id, account.Patch{}); err != nil {
			return Profile{}, err
		}
		s.log.Info("account created", logx.Int64("account_id", id))
	}
	a, err := s.gate.Admit(ctx, id)
	if err != nil && !errors.Is(err, entitlement.ErrEntitlementRequired) {
		return Profile{}, err
	}
	p := Profile{Account: a, Entitled: err == nil}
	p.Campaign, p.Running = s.campaigns.Status(id)
	return p, nil
}

// BeginAuth starts a login. The phone must be in international format.
func (s *Service) BeginAuth(ctx context.Context, id int64, phone string) error {
	if err := s.auth.Begin(ctx, id, phone); err != nil {
		return err
	}
	s.publish(eventbus.AuthStarted, id, nil)
	return nil
}

// SubmitCode forwards a login code (or a cancel keyword).
func (s *Service) SubmitCode(ctx context.Context, id int64, raw string) error {
	err := s.auth.SubmitCode(ctx, id, raw)
	var wrong *auth.WrongCodeError
	switch {
	case err == nil:
		s.publish(eventbus.AuthSucceeded, id, nil)
	case errors.As(err, &wrong):
	case errors.Is(err, auth.ErrCancelled), errors.Is(err, auth.ErrNoPendingAuth):
	default:
		s.publish(eventbus.AuthFailed, id, err.Error())
	}
	return err
}

func (s *Service) CancelAuth(ctx context.Context, id int64) error {
	return s.auth.Cancel(ctx, id)
}

func (s *Service) AuthState(id int64) auth.State { return s.auth.State(id) }

// SetRecipients parses raw ("@a, b\nc") and replaces the recipient list.
func (s *Service) SetRecipients(ctx context.Context, id int64, raw string) ([]string, error) {
	if err := s.gate.Check(ctx, id); err != nil {
		return nil, err
	}
	list := account.ParseRecipients(raw)
	if len(list) == 0 {
		return nil, ErrEmptyRecipients
	}
	if _, err := s.store.Upsert(ctx, id, account.Patch{Recipients: account.Handles(list)}); err != nil {
		return nil, err
	}
	s.log.Info("recipients updated", logx.Int64("account_id", id), logx.Int("count", len(list)))
	return list, nil
}

// SetMessage stores the broadcast text verbatim. HTML markup passes through;
// unbalanced tags are closed when a campaign snapshots it.
func (s *Service) SetMessage(ctx context.Context, id int64, text string) error {
	if err := s.gate.Check(ctx, id); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return ErrMessageTooLong
	}
	if _, err := s.store.Upsert(ctx, id, account.Patch{Message: account.Str(text)}); err != nil {
		return err
	}
	s.log.Info("message updated", logx.Int64("account_id", id), logx.Int("runes", utf8.RuneCountInString(text)))
	return nil
}

// UpdateSettings validates and stores both timing values.
func (s *Service) UpdateSettings(ctx context.Context, id int64, st account.Settings) (account.Settings, error) {
	if err := s.gate.Check(ctx, id); err != nil {
		return account.Settings{}, err
	}
	if err := st.Validate(); err != nil {
		return account.Settings{}, err
	}
	a, err := s.store.Upsert(ctx, id, st.Patch())
	if err != nil {
		return account.Settings{}, err
	}
	return account.SettingsOf(a), nil
}

// SetHours changes only the campaign duration.
func (s *Service) SetHours(ctx context.Context, id int64, hours float64) (account.Settings, error) {
	return s.updateOne(ctx, id, func(st *account.Settings) { st.Hours = hours })
}

// SetDelay changes only the per-message delay.
func (s *Service) SetDelay(ctx context.Context, id int64, minutes float64) (account.Settings, error) {
	return s.updateOne(ctx, id, func(st *account.Settings) { st.DelayMinutes = minutes })
}

func (s *Service) updateOne(ctx context.Context, id int64, set func(*account.Settings)) (account.Settings, error) {
	a, err := s.gate.Admit(ctx, id)
	if err != nil {
		return account.Settings{}, err
	}
	st := account.SettingsOf(a)
	set(&st)
	if err := st.Validate(); err != nil {
		return account.Settings{}, err
	}
	a, err = s.store.Upsert(ctx, id, st.Patch())
	if err != nil {
		return account.Settings{}, err
	}
	return account.SettingsOf(a), nil
}

// Readiness reports what is configured and what is still missing before a
// broadcast can start.
type Readiness struct {
	Authorized bool
	Phone      string
	Recipients []string
	MessageLen int
	Settings   account.Settings
	Running    bool
	Missing    []string
}

func (r Readiness) Ready() bool { return len(r.Missing) == 0 }

// Check is a local readiness report. It does not contact the provider.
func (s *Service) Check(ctx context.Context, id int64) (Readiness, error) {
	a, err := s.gate.Admit(ctx, id)
	if err != nil {
		return Readiness{}, err
	}
	r := Readiness{
		Authorized: a.HasCredential(),
		Phone:      a.Phone,
		Recipients: append([]string(nil), a.Recipients...),
		MessageLen: utf8.RuneCountInString(a.Message),
		Settings:   account.SettingsOf(a),
	}
	_, r.Running = s.campaigns.Status(id)
	if !r.Authorized {
		r.Missing = append(r.Missing, "authorization")
	}
	if len(r.Recipients) == 0 {
		r.Missing = append(r.Missing, "recipients")
	}
	if strings.TrimSpace(a.Message) == "" {
		r.Missing = append(r.Missing, "message")
	}
	return r, nil
}

func (s *Service) RequestStart(ctx context.Context, id int64) (campaign.Summary, error) {
	return s.campaigns.RequestStart(ctx, id)
}

func (s *Service) ConfirmAndStart(ctx context.Context, id int64) (campaign.Summary, error) {
	return s.campaigns.ConfirmAndStart(ctx, id)
}

func (s *Service) RequestStop(ctx context.Context, id int64) error {
	return s.campaigns.RequestStop(ctx, id)
}

func (s *Service) Status(id int64) (campaign.Snapshot, bool) {
	return s.campaigns.Status(id)
}

func (s *Service) ActiveCampaigns() []campaign.Snapshot {
	return s.campaigns.Active()
}

// Reset forgets the session, phone, recipients and message. The entitlement
// is kept. A running broadcast must be stopped first.
func (s *Service) Reset(ctx context.Context, id int64) error {
	if _, running := s.campaigns.Status(id); running {
		return ErrCampaignRunning
	}
	if s.auth.State(id) != auth.StateIdle {
		_ = s.auth.Cancel(ctx, id)
	}
	existed, err := s.store.ClearBroadcastData(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return entitlement.ErrAccountNotFound
	}
	s.log.Info("broadcast data cleared", logx.Int64("account_id", id))
	return nil
}

// ClearSession forgets the saved login and phone. A pending login attempt
// is cancelled.
func (s *Service) ClearSession(ctx context.Context, id int64) error {
	return s.clearField(ctx, id, "session", account.Patch{Credential: account.Str(""), Phone: account.Str("")})
}

// ClearRecipients empties the recipient list.
func (s *Service) ClearRecipients(ctx context.Context, id int64) error {
	return s.clearField(ctx, id, "recipients", account.Patch{Recipients: account.Handles([]string{})})
}

// ClearMessage forgets the broadcast text.
func (s *Service) ClearMessage(ctx context.Context, id int64) error {
	return s.clearField(ctx, id, "message", account.Patch{Message: account.Str("")})
}

// clearField writes p, which must touch only the named piece of broadcast
// data. Unlike Reset it needs an active entitlement.
func (s *Service) clearField(ctx context.Context, id int64, field string, p account.Patch) error {
	if err := s.gate.Check(ctx, id); err != nil {
		return err
	}
	if _, running := s.campaigns.Status(id); running {
		return ErrCampaignRunning
	}
	if p.Credential != nil && s.auth.State(id) != auth.StateIdle {
		_ = s.auth.Cancel(ctx, id)
	}
	if _, err := s.store.Upsert(ctx, id, p); err != nil {
		return err
	}
	s.log.Info("broadcast data cleared", logx.Int64("account_id", id), logx.String("field", field))
	return nil
}

// Grant gives id an entitlement for days (forever when days <= 0) and
// tells the user.
func (s *Service) Grant(ctx context.Context, id int64, days int) (account.Account, error) {
	e := entitlement.ForDays(days, s.now())
	a, err := s.gate.Grant(ctx, id, e)
	if err != nil {
		return account.Account{}, err
	}
	s.log.Info("entitlement granted", logx.Int64("account_id", id), logx.Int("days", days))
	s.tell(ctx, id, "grant", tgui.New().
		Title("🎉", "Access granted").
		KV("Type", DescribeEntitlement(a.Entitlement)).
		Build())
	return a, nil
}

// Revoke deactivates the entitlement of id. A running broadcast is asked to
// stop.
func (s *Service) Revoke(ctx context.Context, id int64) (account.Account, error) {
	a, err := s.gate.Revoke(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	if err := s.campaigns.RequestStop(ctx, id); err == nil {
		s.log.Info("stopping campaign of revoked account", logx.Int64("account_id", id))
	}
	s.log.Info("entitlement revoked", logx.Int64("account_id", id))
	s.tell(ctx, id, "revoke", tgui.New().Title("❌", "Access revoked").Build())
	return a, nil
}

// Stats summarizes all accounts for operators.
type Stats struct {
	Accounts  int `json:"accounts"`
	Entitled  int `json:"entitled"`
	Running   int `json:"running"`
	Pending   int `json:"pending_auth"`
	WithLogin int `json:"authorized"`
}

// Accounts lists every account with its entitlement evaluated (no
// write-back).
func (s *Service) Accounts(ctx context.Context) ([]account.Account, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range list {
		_, list[i].Entitlement = entitlement.Evaluate(list[i].Entitlement, now)
	}
	return list, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	list, err := s.Accounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Accounts: len(list), Running: len(s.campaigns.Active()), Pending: s.auth.Pending()}
	for _, a := range list {
		if a.Entitlement.Active {
			st.Entitled++
		}
		if a.HasCredential() {
			st.WithLogin++
		}
	}
	return st, nil
}

// DescribeEntitlement renders e for humans ("forever", "until 2026-01-02").
func DescribeEntitlement(e account.Entitlement) string {
	switch {
	case !e.Active:
		return "inactive"
	case e.Kind == account.KindForever:
		return "forever"
	case e.ExpiresAt != nil:
		return "until " + e.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC")
	default:
		return "inactive"
	}
}

func (s *Service) tell(ctx context.Context, id int64, kind string, msg tgui.Message) {
	if s.messenger == nil {
		return
	}
	if err := s.messenger.Send(ctx, id, kind, msg); err != nil {
		s.log.Debug("notice not queued", logx.Int64("account_id", id), logx.String("kind", kind), logx.Err(err))
	}
}

func (s *Service) publish(typ string, id int64, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, AccountID: id, Data: data})
	}
}
