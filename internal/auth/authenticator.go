// Package auth drives the external account login: phone, challenge, code.
//
// Each attempt owns one messaging.Client. Whatever ends the attempt (success,
// cancellation, provider failure, attempt exhaustion, shutdown) disconnects
// that client exactly once and removes the session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/messaging"
	"tgbroadcast/pkg/logx"
	"tgbroadcast/pkg/tgui"
)

// State of one login attempt.
type State int

const (
	StateIdle State = iota
	StateAwaitingChallenge
	StateAwaitingCode
	StateAwaitingPassword
	StateAuthenticated
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateAuthenticated:
		return "authenticated"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (s State) terminal() bool {
	return s == StateAuthenticated || s == StateCancelled || s == StateFailed
}

const (
	codeLength        = 5
	diagnosticMaxRune = 100
)

var (
	phonePattern   = regexp.MustCompile(`^\+[0-9]{5,15}$`)
	cancelKeywords = []string{"отмена", "cancel", "стоп"}
)

// Gate admits privileged calls.
type Gate interface {
	Check(ctx context.Context, id int64) error
}

type Config struct {
	MaxAttempts       int
	SessionTTL        time.Duration
	DisconnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 15 * time.Minute
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = 10 * time.Second
	}
	return c
}

// Info is a read-only view of a pending attempt.
type Info struct {
	AccountID int64
	Phone     string
	State     State
	Attempts  int
	StartedAt time.Time
}

// session is one login attempt. mu serializes provider round trips; state and
// attempts are atomics so Info never waits on the network.
type session struct {
	mu sync.Mutex

	accountID int64
	phone     string
	startedAt time.Time
	challenge string // guarded by mu
	client    messaging.Client

	state     atomic.Int32
	attempts  atomic.Int32
	closeOnce sync.Once
}

func newSession(id int64, phone string, now time.Time) *session {
	s := &session{accountID: id, phone: phone, startedAt: now}
	s.setState(StateAwaitingChallenge)
	return s
}

func (s *session) getState() State  { return State(s.state.Load()) }
func (s *session) setState(v State) { s.state.Store(int32(v)) }

func (s *session) info() Info {
	return Info{
		AccountID: s.accountID,
		Phone:     s.phone,
		State:     s.getState(),
		Attempts:  int(s.attempts.Load()),
		StartedAt: s.startedAt,
	}
}

type Option func(*Authenticator)

func WithLogger(l logx.Logger) Option {
	return func(a *Authenticator) {
		if !l.IsZero() {
			a.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithPicker sets the device selection function.
func WithPicker(p messaging.Picker) Option {
	return func(a *Authenticator) {
		if p != nil {
			a.pick = p
		}
	}
}

type Authenticator struct {
	gate   Gate
	store  account.Store
	dialer messaging.Dialer
	pick   messaging.Picker
	now    func() time.Time
	log    logx.Logger

	mu       sync.Mutex
	cfg      Config
	sessions map[int64]*session
	closed   bool
}

func New(cfg Config, gate Gate, store account.Store, dialer messaging.Dialer, opts ...Option) *Authenticator {
	a := &Authenticator{
		gate:     gate,
		store:    store,
		dialer:   dialer,
		pick:     messaging.RandomPicker(messaging.DefaultDevices, nil),
		now:      time.Now,
		log:      logx.Nop(),
		cfg:      cfg.withDefaults(),
		sessions: map[int64]*session{},
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	a.log = a.log.With(logx.String("comp", "auth"))
	return a
}

// Apply swaps the runtime config. Pending sessions keep their attempt count.
func (a *Authenticator) Apply(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg.withDefaults()
	a.mu.Unlock()
}

func (a *Authenticator) config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// NormalizePhone strips spaces, dashes and parentheses and validates the
// international format.
func NormalizePhone(raw string) (string, error) {
	p := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !phonePattern.MatchString(p) {
		return "", ErrInvalidPhoneFormat
	}
	return p, nil
}

// NormalizeCode keeps digits only. ok is false unless exactly five remain.
func NormalizeCode(raw string) (code string, ok bool) {
	code = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < 128 {
			return r
		}
		return -1
	}, raw)
	return code, len(code) == codeLength
}

// IsCancelKeyword reports whether raw asks to abort the login.
func IsCancelKeyword(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, k := range cancelKeywords {
		if s == k {
			return true
		}
	}
	return false
}

// Begin starts a login for id. A pending attempt for the same account is
// cancelled first.
func (a *Authenticator) Begin(ctx context.Context, id int64, rawPhone string) error {
	if err := a.gate.Check(ctx, id); err != nil {
		return err
	}
	if prev := a.detach(id, nil); prev != nil {
		a.log.Info("replacing pending auth", logx.Int64("account_id", id))
		a.finish(prev, StateCancelled)
	}

	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}

	s := newSession(id, phone, a.now())
	s.mu.Lock()
	defer s.mu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if prev := a.sessions[id]; prev != nil {
		// A concurrent Begin raced us; the newest one wins.
		delete(a.sessions, id)
		a.mu.Unlock()
		a.finish(prev, StateCancelled)
		a.mu.Lock()
	}
	a.sessions[id] = s
	a.mu.Unlock()

	dev := a.pick()
	log := a.log.With(logx.Int64("account_id", id), logx.String("device", dev.Model))

	client, err := a.dialer.Dial("", dev)
	if err != nil {
		a.abortLocked(s, StateFailed)
		return a.providerError(err)
	}
	s.client = client

	if err := client.Connect(ctx); err != nil {
		log.Warn("connect failed", logx.Err(err))
		a.abortLocked(s, StateFailed)
		return a.providerError(err)
	}
	challenge, err := client.RequestLoginChallenge(ctx, phone)
	if err != nil {
		log.Info("login challenge rejected", logx.String("kind", messaging.KindOf(err).String()))
		a.abortLocked(s, StateFailed)
		switch messaging.KindOf(err) {
		case messaging.KindInvalidPhone:
			return ErrInvalidPhone
		case messaging.KindPhoneNotRegistered:
			return ErrPhoneNotRegistered
		default:
			return a.providerError(err)
		}
	}
	if a.lookup(id) != s {
		// Cancelled or replaced while the challenge was in flight; the
		// canceller disconnects once we release the lock.
		return ErrCancelled
	}
	s.challenge = challenge
	s.setState(StateAwaitingCode)
	log.Info("login code requested")
	return nil
}

// SubmitCode checks raw against the pending challenge. A nil error means the
// credential was persisted and the attempt is over. *WrongCodeError keeps the
// attempt open; every other error ends it.
func (a *Authenticator) SubmitCode(ctx context.Context, id int64, raw string) error {
	s := a.lookup(id)
	if s == nil {
		return ErrNoPendingAuth
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getState() != StateAwaitingCode {
		return ErrNoPendingAuth
	}
	log := a.log.With(logx.Int64("account_id", id))

	if err := a.gate.Check(ctx, id); err != nil {
		a.abortLocked(s, StateFailed)
		return err
	}
	if IsCancelKeyword(raw) {
		a.abortLocked(s, StateCancelled)
		return ErrCancelled
	}
	code, ok := NormalizeCode(raw)
	if !ok {
		a.abortLocked(s, StateCancelled)
		return ErrInvalidCodeFormat
	}

	credential, err := s.client.SubmitCode(ctx, s.challenge, code)
	if err != nil {
		switch messaging.KindOf(err) {
		case messaging.KindWrongCode:
			n := int(s.attempts.Add(1))
			max := a.config().MaxAttempts
			if n >= max {
				log.Info("login aborted after wrong codes", logx.Int("attempts", n))
				a.abortLocked(s, StateFailed)
				return ErrTooManyAttempts
			}
			return &WrongCodeError{AttemptsLeft: max - n}
		case messaging.KindTwoFactorRequired:
			s.setState(StateAwaitingPassword)
			a.abortLocked(s, StateFailed)
			return ErrTwoFactorUnsupported
		case messaging.KindChallengeExpired:
			a.abortLocked(s, StateFailed)
			return ErrChallengeExpired
		default:
			a.abortLocked(s, StateFailed)
			return a.providerError(err)
		}
	}

	_, err = a.store.Upsert(ctx, id, account.Patch{
		Credential: account.Str(credential),
		Phone:      account.Str(s.phone),
	})
	if err != nil {
		a.abortLocked(s, StateFailed)
		return fmt.Errorf("persist credential: %w", err)
	}
	a.abortLocked(s, StateAuthenticated)
	log.Info("account authorized")
	return nil
}

// Cancel aborts the pending attempt of id.
func (a *Authenticator) Cancel(ctx context.Context, id int64) error {
	_ = ctx
	s := a.detach(id, nil)
	if s == nil {
		return ErrNoPendingAuth
	}
	a.finish(s, StateCancelled)
	return nil
}

// State returns the state of the pending attempt, StateIdle when none.
func (a *Authenticator) State(id int64) State {
	info, ok := a.Info(id)
	if !ok {
		return StateIdle
	}
	return info.State
}

func (a *Authenticator) Info(id int64) (Info, bool) {
	s := a.lookup(id)
	if s == nil {
		return Info{}, false
	}
	return s.info(), true
}

// Pending returns the number of open attempts.
func (a *Authenticator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// ReapStale cancels attempts older than maxAge (the configured session TTL
// when maxAge <= 0) and returns how many were removed.
func (a *Authenticator) ReapStale(ctx context.Context, maxAge time.Duration) int {
	_ = ctx
	if maxAge <= 0 {
		maxAge = a.config().SessionTTL
	}
	cutoff := a.now().Add(-maxAge)

	a.mu.Lock()
	var stale []*session
	for id, s := range a.sessions {
		if s.startedAt.Before(cutoff) {
			stale = append(stale, s)
			delete(a.sessions, id)
		}
	}
	a.mu.Unlock()

	for _, s := range stale {
		a.finish(s, StateCancelled)
	}
	if len(stale) > 0 {
		a.log.Info("stale auth sessions reaped", logx.Int("count", len(stale)))
	}
	return len(stale)
}

// Close cancels every pending attempt and rejects new ones.
func (a *Authenticator) Close(ctx context.Context) error {
	_ = ctx
	a.mu.Lock()
	a.closed = true
	all := make([]*session, 0, len(a.sessions))
	for id, s := range a.sessions {
		all = append(all, s)
		delete(a.sessions, id)
	}
	a.mu.Unlock()
	for _, s := range all {
		a.finish(s, StateCancelled)
	}
	return nil
}

func (a *Authenticator) lookup(id int64) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[id]
}

// detach removes the session of id from the map. When want is non-nil only
// that exact session is removed.
func (a *Authenticator) detach(id int64, want *session) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sessions[id]
	if s == nil || (want != nil && s != want) {
		return nil
	}
	delete(a.sessions, id)
	return s
}

// finish locks s and ends it.
func (a *Authenticator) finish(s *session, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.endLocked(s, st)
}

// abortLocked ends s (held by the caller) and drops it from the map.
func (a *Authenticator) abortLocked(s *session, st State) {
	a.detach(s.accountID, s)
	a.endLocked(s, st)
}

func (a *Authenticator) endLocked(s *session, st State) {
	if !s.getState().terminal() {
		s.setState(st)
	}
	s.closeOnce.Do(func() {
		if s.client == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.config().DisconnectTimeout)
		defer cancel()
		if err := s.client.Disconnect(ctx); err != nil {
			a.log.Debug("disconnect failed", logx.Int64("account_id", s.accountID), logx.Err(err))
		}
	})
}

func (a *Authenticator) providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderError{Message: tgui.TruncRunes(messaging.Message(err), diagnosticMaxRune), Err: err}
}
