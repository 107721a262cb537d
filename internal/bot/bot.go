package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/auth"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/entitlement"
	"tgbroadcast/internal/transport/telegram/router"
	"tgbroadcast/pkg/logx"
	"tgbroadcast/pkg/tgui"
)

// Service is the part of the broadcast façade the chat surface drives.
type Service interface {
	Touch(ctx context.Context, id int64) (broadcast.Profile, error)

	BeginAuth(ctx context.Context, id int64, phone string) error
	SubmitCode(ctx context.Context, id int64, raw string) error
	CancelAuth(ctx context.Context, id int64) error
	AuthState(id int64) auth.State

	SetRecipients(ctx context.Context, id int64, raw string) ([]string, error)
	SetMessage(ctx context.Context, id int64, text string) error
	SetHours(ctx context.Context, id int64, hours float64) (account.Settings, error)
	SetDelay(ctx context.Context, id int64, minutes float64) (account.Settings, error)

	Check(ctx context.Context, id int64) (broadcast.Readiness, error)
	RequestStart(ctx context.Context, id int64) (campaign.Summary, error)
	ConfirmAndStart(ctx context.Context, id int64) (campaign.Summary, error)
	RequestStop(ctx context.Context, id int64) error
	Status(id int64) (campaign.Snapshot, bool)
	ActiveCampaigns() []campaign.Snapshot
	Reset(ctx context.Context, id int64) error
	ClearSession(ctx context.Context, id int64) error
	ClearRecipients(ctx context.Context, id int64) error
	ClearMessage(ctx context.Context, id int64) error

	Grant(ctx context.Context, id int64, days int) (account.Account, error)
	Revoke(ctx context.Context, id int64) (account.Account, error)
	Stats(ctx context.Context) (broadcast.Stats, error)
}

type Config struct {
	// FlowTTL bounds how long the bot waits for typed input.
	FlowTTL time.Duration
}

// Timeouts for handlers that talk to the messaging network.
const (
	authTimeout  = 90 * time.Second
	startTimeout = 90 * time.Second
)

type Bot struct {
	svc   Service
	flows *Flows
	log   logx.Logger
	now   func() time.Time
}

func New(svc Service, cfg Config, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		svc:   svc,
		flows: NewFlows(cfg.FlowTTL, nil),
		log:   log.With(logx.String("comp", "bot")),
		now:   time.Now,
	}
}

// Apply updates hot-reloadable settings.
func (b *Bot) Apply(cfg Config) { b.flows.SetTTL(cfg.FlowTTL) }

func (b *Bot) Flows() *Flows { return b.flows }

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Aliases: []string{"menu"}, Description: "open the main menu", Handle: b.cmdStart},
		{Name: "auth", Description: "authorize your Telegram account", Usage: "/auth [+phone]", Timeout: authTimeout, Handle: b.cmdAuth},
		{Name: "recipients", Description: "set the recipient list", Usage: "/recipients [@alice, @bob ...]", Handle: b.cmdRecipients},
		{Name: "message", Description: "set the broadcast text", Usage: "/message [text]", Handle: b.cmdMessage},
		{Name: "settings", Description: "duration and delay", Handle: b.cmdSettings},
		{Name: "check", Description: "check readiness", Handle: b.cmdCheck},
		{Name: "go", Description: "start the broadcast", Timeout: startTimeout, Handle: b.cmdGo},
		{Name: "stop", Description: "stop the broadcast", Handle: b.cmdStop},
		{Name: "status", Description: "broadcast progress", Handle: b.cmdStatus},
		{Name: "reset", Description: "forget session, recipients and message", Handle: b.cmdReset},
		{Name: "cancel", Description: "cancel the current input", Handle: b.cmdCancel},

		{Name: "grant", Description: "grant access", Usage: "/grant <user_id> <days|forever>", Access: router.AccessOwnerOnly, Handle: b.cmdGrant},
		{Name: "revoke", Description: "revoke access", Usage: "/revoke <user_id>", Access: router.AccessOwnerOnly, Handle: b.cmdRevoke},
		{Name: "campaigns", Description: "running broadcasts", Access: router.AccessOwnerOnly, Handle: b.cmdCampaigns},
		{Name: "stats", Description: "account statistics", Access: router.AccessOwnerOnly, Handle: b.cmdStats},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	menu := func(action string, h router.HandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Scope: scopeMenu, Action: action, Handle: h}
	}
	return []router.CallbackRoute{
		menu("main", b.cbMain),
		menu("profile", b.cbProfile),
		menu("auth", func(ctx context.Context, req *router.Request) error { return b.openAuth(ctx, req, false) }),
		menu("recipients", b.openRecipients),
		menu("message", b.openMessage),
		menu("settings", b.cmdSettings),
		menu("check", b.cmdCheck),
		{Scope: scopeMenu, Action: "go", Timeout: startTimeout, Handle: b.cmdGo},
		menu("stop", b.cmdStop),
		menu("status", b.cmdStatus),
		menu("reset", b.cmdReset),
		menu("cancel", b.cmdCancel),

		{Scope: scopeAuth, Action: "new", Handle: func(ctx context.Context, req *router.Request) error { return b.openAuth(ctx, req, true) }},
		{Scope: scopeCampaign, Action: "confirm", Timeout: startTimeout, Handle: b.cbConfirm},
		{Scope: scopeCampaign, Action: "cancel", Handle: b.cbMain},
		{Scope: scopeCampaign, Action: "stop", Handle: b.cmdStop},
		{Scope: scopeSettings, Action: "hours", Handle: b.cbHours},
		{Scope: scopeSettings, Action: "delay", Handle: b.cbDelay},
		{Scope: scopeReset, Action: "confirm", Handle: b.cbResetConfirm},
		{Scope: scopeReset, Action: "session", Handle: b.clearOne(b.svc.ClearSession, "Session")},
		{Scope: scopeReset, Action: "recipients", Handle: b.clearOne(b.svc.ClearRecipients, "Recipients")},
		{Scope: scopeReset, Action: "message", Handle: b.clearOne(b.svc.ClearMessage, "Message")},
	}
}

// ---- helpers ----

func (b *Bot) touch(ctx context.Context, id int64) (broadcast.Profile, error) {
	p, err := b.svc.Touch(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Account.ID == 0 {
		p.Account.ID = id
	}
	return p, nil
}

// fail presents err to the user. Errors without a user-facing form are
// returned so the router reports them.
func (b *Bot) fail(ctx context.Context, req *router.Request, err error, kb *tgui.Inline) error {
	msg, err := failureView(err, req.FromID, kb)
	if err != nil {
		return err
	}
	return req.Present(ctx, msg)
}

// entitled loads the profile and shows the access screen when the user
// has no entitlement.
func (b *Bot) entitled(ctx context.Context, req *router.Request) (broadcast.Profile, bool, error) {
	p, err := b.touch(ctx, req.FromID)
	if err != nil {
		return p, false, err
	}
	if !p.Entitled {
		return p, false, req.Present(ctx, accessRequiredView(req.FromID))
	}
	return p, true, nil
}

// ---- menu ----

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	p, err := b.touch(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.Present(ctx, welcomeView(req.FromName, p))
}

func (b *Bot) cbMain(ctx context.Context, req *router.Request) error {
	p, err := b.touch(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.Present(ctx, mainMenuView(p, ""))
}

func (b *Bot) cbProfile(ctx context.Context, req *router.Request) error {
	p, err := b.touch(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.Present(ctx, profileView(p, b.now()))
}

// ---- authorization ----

func (b *Bot) cmdAuth(ctx context.Context, req *router.Request) error {
	if phone := strings.TrimSpace(req.Text); phone != "" {
		if _, ok, err := b.entitled(ctx, req); !ok || err != nil {
			return err
		}
		return b.beginAuth(ctx, req, phone)
	}
	return b.openAuth(ctx, req, false)
}

func (b *Bot) openAuth(ctx context.Context, req *router.Request, again bool) error {
	p, ok, err := b.entitled(ctx, req)
	if !ok || err != nil {
		return err
	}
	if p.Account.HasCredential() && !again {
		return req.Present(ctx, authExistingView(p.Account.Phone))
	}
	b.flows.Open(req.FromID, FlowAuthPhone)
	return req.Present(ctx, authPromptView())
}

func (b *Bot) beginAuth(ctx context.Context, req *router.Request, phone string) error {
	if err := b.svc.BeginAuth(ctx, req.FromID, phone); err != nil {
		if errors.Is(err, auth.ErrInvalidPhoneFormat) {
			// let the user retype the number
			b.flows.Open(req.FromID, FlowAuthPhone)
			return b.fail(ctx, req, err, cancelKeyboard())
		}
		b.flows.Close(req.FromID)
		return b.fail(ctx, req, err, nil)
	}
	b.flows.Open(req.FromID, FlowAuthCode)
	return req.Present(ctx, codePromptView())
}

func (b *Bot) submitCode(ctx context.Context, req *router.Request, raw string) error {
	err := b.svc.SubmitCode(ctx, req.FromID, raw)
	var wrong *auth.WrongCodeError
	switch {
	case err == nil:
		b.flows.Close(req.FromID)
		return req.Present(ctx, authDoneView())
	case errors.As(err, &wrong):
		b.flows.Open(req.FromID, FlowAuthCode)
		return req.Present(ctx, wrongCodeView(wrong.AttemptsLeft))
	default:
		b.flows.Close(req.FromID)
		return b.fail(ctx, req, err, nil)
	}
}

// ---- recipients and message ----

func (b *Bot) cmdRecipients(ctx context.Context, req *router.Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return b.openRecipients(ctx, req)
	}
	if _, ok, err := b.entitled(ctx, req); !ok || err != nil {
		return err
	}
	return b.saveRecipients(ctx, req, req.Text)
}

func (b *Bot) openRecipients(ctx context.Context, req *router.Request) error {
	p, ok, err := b.entitled(ctx, req)
	if !ok || err != nil {
		return err
	}
	b.flows.Open(req.FromID, FlowRecipients)
	return req.Present(ctx, recipientsPromptView(p.Account.Recipients))
}

func (b *Bot) saveRecipients(ctx context.Context, req *router.Request, raw string) error {
	list, err := b.svc.SetRecipients(ctx, req.FromID, raw)
	switch {
	case err == nil:
		b.flows.Close(req.FromID)
		return req.Present(ctx, recipientsSavedView(list))
	case errors.Is(err, broadcast.ErrEmptyRecipients):
		b.flows.Open(req.FromID, FlowRecipients)
		return b.fail(ctx, req, err, cancelKeyboard())
	default:
		b.flows.Close(req.FromID)
		return b.fail(ctx, req, err, nil)
	}
}

func (b *Bot) cmdMessage(ctx context.Context, req *router.Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return b.openMessage(ctx, req)
	}
	if _, ok, err := b.entitled(ctx, req); !ok || err != nil {
		return err
	}
	return b.saveMessage(ctx, req, req.Text)
}

func (b *Bot) openMessage(ctx context.Context, req *router.Request) error {
	p, ok, err := b.entitled(ctx, req)
	if !ok || err != nil {
		return err
	}
	b.flows.Open(req.FromID, FlowMessage)
	return req.Present(ctx, messagePromptView(p.Account.Message))
}

func (b *Bot) saveMessage(ctx context.Context, req *router.Request, text string) error {
	err := b.svc.SetMessage(ctx, req.FromID, text)
	switch {
	case err == nil:
		b.flows.Close(req.FromID)
		return req.Present(ctx, messageSavedView(text))
	case errors.Is(err, broadcast.ErrEmptyMessage), errors.Is(err, broadcast.ErrMessageTooLong):
		b.flows.Open(req.FromID, FlowMessage)
		return b.fail(ctx, req, err, cancelKeyboard())
	default:
		b.flows.Close(req.FromID)
		return b.fail(ctx, req, err, nil)
	}
}

// ---- settings ----

func (b *Bot) cmdSettings(ctx context.Context, req *router.Request) error {
	p, ok, err := b.entitled(ctx, req)
	if !ok || err != nil {
		return err
	}
	return req.Present(ctx, settingsView(account.SettingsOf(p.Account), ""))
}

func (b *Bot) cbHours(ctx context.Context, req *router.Request) error {
	return b.settingsCallback(ctx, req, FlowHours, hoursPromptView)
}

func (b *Bot) cbDelay(ctx context.Context, req *router.Request) error {
	return b.settingsCallback(ctx, req, FlowDelay, delayPromptView)
}

// settingsCallback applies a preset from the payload, or opens typed input
// when the button carries none.
func (b *Bot) settingsCallback(ctx context.Context, req *router.Request, kind FlowKind, prompt func() tgui.Message) error {
	if req.Payload == "" {
		if _, ok, err := b.entitled(ctx, req); !ok || err != nil {
			return err
		}
		b.flows.Open(req.FromID, kind)
		return req.Present(ctx, prompt())
	}
	v, err := account.ParseNumber(req.Payload)
	if err != nil {
		return b.fail(ctx, req, err, nil)
	}
	st, err := b.setSetting(ctx, req.FromID, kind, v)
	if err != nil {
		return b.fail(ctx, req, err, nil)
	}
	_ = req.Answer(ctx, "Saved")
	return req.Present(ctx, settingsView(st, "✅ Saved."))
}

func (b *Bot) setSetting(ctx context.Context, id int64, kind FlowKind, v float64) (account.Settings, error) {
	if kind == FlowHours {
		return b.svc.SetHours(ctx, id, v)
	}
	return b.svc.SetDelay(ctx, id, v)
}

func (b *Bot) saveSetting(ctx context.Context, req *router.Request, kind FlowKind, raw string) error {
	v, err := account.ParseNumber(raw)
	if err == nil {
		var st account.Settings
		if st, err = b.setSetting(ctx, req.FromID, kind, v); err == nil {
			b.flows.Close(req.FromID)
			return req.Present(ctx, settingsView(st, "✅ Saved."))
		}
	}
	var rng *account.RangeError
	if errors.Is(err, account.ErrInvalidNumber) || errors.As(err, &rng) {
		b.flows.Open(req.FromID, kind)
		return b.fail(ctx, req, err, cancelKeyboard())
	}
	b.flows.Close(req.FromID)
	return b.fail(ctx, req, err, nil)
}

// ---- campaign ----

func (b *Bot) cmdCheck(ctx context.Context, req *router.Request) error {
	r, err := b.svc.Check(ctx, req.FromID)
	if err != nil {
		return b.fail(ctx, req, err, nil)
	}
	return req.Present(ctx, readinessView(r))
}

func (b *Bot) cmdGo(ctx context.Context, req *router.Request) error {
	b.flows.Close(req.FromID)
	sum, err := b.svc.RequestStart(ctx, req.FromID)
	if err != nil {
		return b.fail(ctx, req, err, nil)
	}
	return req.Present(ctx, confirmView(sum, b.phoneOf(ctx, req.FromID)))
}

func (b *Bot) cbConfirm(ctx context.Context, req *router.Request) error {
	sum, err := b.svc.ConfirmAndStart(ctx, req.FromID)
	if err != nil {
		return b.fail(ctx, req, err, nil)
	}
	_ = req.Answer(ctx, "Started")
	return req.Present(ctx, startedView(sum, b.phoneOf(ctx, req.FromID)))
}

func (b *Bot) phoneOf(ctx context.Context, id int64) string {
	p, err := b.svc.Touch(ctx, id)
	if err != nil {
		return ""
	}
	return p.Account.Phone
}

func (b *Bot) cmdStop(ctx context.Context, req *router.Request) error {
	snap, _ := b.svc.Status(req.FromID)
	if err := b.svc.RequestStop(ctx, req.FromID); err != nil {
		if errors.Is(err, campaign.ErrNotRunning) {
			return req.Present(ctx, notRunningView())
		}
		return b.fail(ctx, req, err, nil)
	}
	_ = req.Answer(ctx, "Stopping…")
	return req.Present(ctx, stopRequestedView(snap.Delay))
}

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	snap, ok := b.svc.Status(req.FromID)
	if !ok {
		return req.Present(ctx, notRunningView())
	}
	return req.Present(ctx, statusView(snap))
}

// ---- reset ----

func (b *Bot) cmdReset(ctx context.Context, req *router.Request) error {
	return req.Present(ctx, resetConfirmView())
}

func (b *Bot) cbResetConfirm(ctx context.Context, req *router.Request) error {
	b.flows.Close(req.FromID)
	if err := b.svc.Reset(ctx, req.FromID); err != nil && !errors.Is(err, entitlement.ErrAccountNotFound) {
		return b.fail(ctx, req, err, nil)
	}
	p, err := b.touch(ctx, req.FromID)
	if err != nil {
		return err
	}
	_ = req.Answer(ctx, "Cleared")
	return req.Present(ctx, mainMenuView(p, "✅ Broadcast data cleared."))
}

// clearOne wraps a single-field clear of the service.
func (b *Bot) clearOne(clear func(context.Context, int64) error, what string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if err := clear(ctx, req.FromID); err != nil {
			return b.fail(ctx, req, err, nil)
		}
		b.flows.Close(req.FromID)
		p, err := b.touch(ctx, req.FromID)
		if err != nil {
			return err
		}
		_ = req.Answer(ctx, "Cleared")
		return req.Present(ctx, mainMenuView(p, "✅ "+what+" cleared."))
	}
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	fl, open := b.flows.Close(req.FromID)
	if (open && (fl.Kind == FlowAuthPhone || fl.Kind == FlowAuthCode)) || b.svc.AuthState(req.FromID) != auth.StateIdle {
		if err := b.svc.CancelAuth(ctx, req.FromID); err != nil && !errors.Is(err, auth.ErrNoPendingAuth) {
			b.log.Warn("cancel auth failed", logx.Int64("account_id", req.FromID), logx.Err(err))
		}
	}
	p, err := b.touch(ctx, req.FromID)
	if err != nil {
		return err
	}
	_ = req.Answer(ctx, "Cancelled")
	return req.Present(ctx, mainMenuView(p, "Action cancelled."))
}

// ---- free text ----

// HandleText feeds a plain message into the open input flow of its sender.
func (b *Bot) HandleText(ctx context.Context, req *router.Request) error {
	fl, ok := b.flows.Get(req.FromID)
	if !ok {
		return req.Present(ctx, tgui.New().
			Line("Use the menu to get started: /start").
			Build())
	}
	text := strings.TrimSpace(req.Text)

	// the code step understands cancel keywords itself
	if fl.Kind != FlowAuthCode && auth.IsCancelKeyword(text) {
		return b.cmdCancel(ctx, req)
	}

	b.log.Debug("flow input", logx.Int64("account_id", req.FromID), logx.String("flow", fl.Kind.String()))
	switch fl.Kind {
	case FlowAuthPhone:
		return b.beginAuth(ctx, req, text)
	case FlowAuthCode:
		return b.submitCode(ctx, req, text)
	case FlowRecipients:
		return b.saveRecipients(ctx, req, text)
	case FlowMessage:
		return b.saveMessage(ctx, req, req.Text)
	case FlowHours, FlowDelay:
		return b.saveSetting(ctx, req, fl.Kind, text)
	}
	b.flows.Close(req.FromID)
	return nil
}

// ---- owner ----

func usage(ctx context.Context, req *router.Request, u string) error {
	return req.Present(ctx, tgui.New().RawLine(tgui.H("Usage: "+tgui.Code(u).String())).Build())
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil && id > 0
}

func (b *Bot) cmdGrant(ctx context.Context, req *router.Request) error {
	const u = "/grant <user_id> <days|forever>"
	if len(req.Args) != 2 {
		return usage(ctx, req, u)
	}
	id, ok := parseID(req.Args[0])
	if !ok {
		return usage(ctx, req, u)
	}
	days := 0
	if !strings.EqualFold(req.Args[1], "forever") {
		n, err := strconv.Atoi(req.Args[1])
		if err != nil || n < 1 {
			return usage(ctx, req, u)
		}
		days = n
	}
	a, err := b.svc.Grant(ctx, id, days)
	if err != nil {
		return b.fail(ctx, req, err, nil)
	}
	b.log.Info("grant by owner", logx.Int64("owner_id", req.FromID), logx.Int64("account_id", id), logx.Int("days", days))
	return req.Present(ctx, grantedView(a))
}

func (b *Bot) cmdRevoke(ctx context.Context, req *router.Request) error {
	const u = "/revoke <user_id>"
	if len(req.Args) != 1 {
		return usage(ctx, req, u)
	}
	id, ok := parseID(req.Args[0])
	if !ok {
		return usage(ctx, req, u)
	}
	a, err := b.svc.Revoke(ctx, id)
	if err != nil {
		return b.fail(ctx, req, err, nil)
	}
	b.log.Info("revoke by owner", logx.Int64("owner_id", req.FromID), logx.Int64("account_id", id))
	return req.Present(ctx, revokedView(a))
}

func (b *Bot) cmdCampaigns(ctx context.Context, req *router.Request) error {
	return req.Present(ctx, campaignsView(b.svc.ActiveCampaigns()))
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := b.svc.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return req.Present(ctx, statsView(st, b.flows.Len()))
}
