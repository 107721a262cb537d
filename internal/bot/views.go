package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/pkg/tgui"
)

const (
	scopeMenu     = "menu"
	scopeAuth     = "auth"
	scopeCampaign = "campaign"
	scopeSettings = "settings"
	scopeReset    = "reset"

	listPreview    = 10
	messagePreview = 150
)

func btn(text, scope, action, payload string) tele.Btn {
	return tgui.Btn(text, tgui.Data(scope, action, payload))
}

func menuBtn() tele.Btn   { return btn("🏠 Menu", scopeMenu, "main", "") }
func cancelBtn() tele.Btn { return btn("❌ Cancel", scopeMenu, "cancel", "") }

func backKeyboard() *tgui.Inline   { return tgui.NewInline().Row(menuBtn()) }
func cancelKeyboard() *tgui.Inline { return tgui.NewInline().Row(cancelBtn()) }

func mainKeyboard(entitled bool) *tgui.Inline {
	kb := tgui.NewInline().Row(btn("👤 Profile", scopeMenu, "profile", ""))
	if !entitled {
		return kb
	}
	return kb.
		Row(btn("🔐 Authorization", scopeMenu, "auth", "")).
		Row(btn("👥 Recipients", scopeMenu, "recipients", ""), btn("📝 Message", scopeMenu, "message", "")).
		Row(btn("⚙️ Settings", scopeMenu, "settings", "")).
		Row(btn("📊 Check", scopeMenu, "check", ""), btn("🚀 Start", scopeMenu, "go", "")).
		Row(btn("🛑 Stop", scopeMenu, "stop", ""), btn("🗑️ Reset", scopeMenu, "reset", ""))
}

func welcomeView(name string, p broadcast.Profile) tgui.Message {
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	b := tgui.New().Title("👋", "Welcome, "+name)
	if p.Entitled {
		b.Line("✅ Access is active (" + broadcast.DescribeEntitlement(p.Account.Entitlement) + ").")
	} else {
		b.Line("❌ Access is inactive.").
			RawLine(tgui.H("Send your ID " + tgui.Code(strconv.FormatInt(p.Account.ID, 10)).String() + " to the bot owner to get access."))
	}
	return b.Inline(mainKeyboard(p.Entitled)).Build()
}

func mainMenuView(p broadcast.Profile, note string) tgui.Message {
	b := tgui.New().Title("📱", "Main menu")
	if note != "" {
		b.Line(note)
	}
	if p.Running {
		b.Line(fmt.Sprintf("📤 Broadcast running: %d sent, %s left.", p.Campaign.Sent, tgui.HoursMinutes(p.Campaign.Remaining)))
	}
	return b.Inline(mainKeyboard(p.Entitled)).Build()
}

func profileView(p broadcast.Profile, now time.Time) tgui.Message {
	a := p.Account
	st := account.SettingsOf(a)
	b := tgui.New().Title("👤", "Your profile").
		KV("ID", strconv.FormatInt(a.ID, 10))
	if p.Entitled {
		b.KV("Access", "✅ "+broadcast.DescribeEntitlement(a.Entitlement))
		if a.Entitlement.Kind == account.KindExpiring && a.Entitlement.ExpiresAt != nil {
			b.KV("Days left", strconv.Itoa(int(a.Entitlement.ExpiresAt.Sub(now).Hours()/24)))
		}
	} else {
		b.KV("Access", "❌ inactive")
	}
	b.Blank().
		KV("Duration", tgui.Float(st.Hours)+" h").
		KV("Delay", tgui.Float(st.DelayMinutes)+" min").
		Blank()
	if a.HasCredential() {
		b.KV("Account", "✅ authorized")
		if a.Phone != "" {
			b.KV("Phone", a.Phone)
		}
	} else {
		b.KV("Account", "❌ not authorized")
	}
	b.KV("Recipients", strconv.Itoa(len(a.Recipients))).
		KV("Message", strconv.Itoa(utf8.RuneCountInString(a.Message))+" characters")
	if p.Running {
		b.KV("Broadcast", fmt.Sprintf("running, %d sent", p.Campaign.Sent))
	}
	return b.Inline(backKeyboard()).Build()
}

func accessRequiredView(id int64) tgui.Message {
	return tgui.New().Title("🔒", "Access required").
		Line("This feature needs active access. Ask the bot owner.").
		RawLine(tgui.H("Your ID: " + tgui.Code(strconv.FormatInt(id, 10)).String())).
		Inline(backKeyboard()).
		Build()
}

func errorView(title, detail string, kb *tgui.Inline) tgui.Message {
	b := tgui.New().Title("❌", title)
	if detail != "" {
		b.Line(detail)
	}
	return b.Inline(kb).Build()
}

// ---- authorization ----

func authPromptView() tgui.Message {
	return tgui.New().Title("📱", "Enter your phone number").
		Line("Use the international format starting with +.").
		RawLine(tgui.H("Example: " + tgui.Code("+15551234567").String())).
		Blank().
		Line("Send the number in this chat.").
		Inline(cancelKeyboard()).
		Build()
}

func authExistingView(phone string) tgui.Message {
	if phone == "" {
		phone = "unknown"
	}
	return tgui.New().Title("🔐", "A session is already saved").
		KV("Phone", phone).
		Line("Keep it or authorize another account.").
		Inline(tgui.NewInline().
			Row(btn("✅ Keep current", scopeMenu, "main", ""), btn("🔄 Authorize new", scopeAuth, "new", "")).
			Row(cancelBtn())).
		Build()
}

func codePromptView() tgui.Message {
	return tgui.New().Title("✅", "Code sent to your Telegram app").
		Line("Send the 5-digit code. Spaces are fine:").
		RawLine(tgui.H(tgui.Code("1 2 3 4 5").String() + " or " + tgui.Code("12 34 5").String())).
		Blank().
		Line(`Send "cancel" to abort.`).
		Inline(cancelKeyboard()).
		Build()
}

func wrongCodeView(left int) tgui.Message {
	return tgui.New().Title("❌", "Wrong code").
		Line(fmt.Sprintf("%d attempt(s) left. Try again:", left)).
		RawLine(tgui.H(tgui.Code("1 2 3 4 5").String() + " or " + tgui.Code("12 34 5").String())).
		Inline(cancelKeyboard()).
		Build()
}

func authDoneView() tgui.Message {
	return tgui.New().Title("✅", "Authorization complete").
		Line("You can now set up and start a broadcast.").
		Inline(mainKeyboard(true)).
		Build()
}

// ---- recipients and message ----

func handleList(list []string, max int) []string {
	out := make([]string, 0, max+1)
	for i, h := range list {
		if i == max {
			out = append(out, fmt.Sprintf("… and %d more", len(list)-max))
			break
		}
		out = append(out, "@"+h)
	}
	return out
}

func recipientsPromptView(current []string) tgui.Message {
	b := tgui.New().Title("👥", "Send the recipient usernames").
		Line("Separate them with commas, spaces or new lines.").
		RawLine(tgui.H("Example: " + tgui.Code("@alice, @bob, carol").String()))
	if len(current) > 0 {
		b.Blank().
			KV("Current list", strconv.Itoa(len(current))).
			Bullets(handleList(current, listPreview)...).
			Line("The new list replaces it.")
	}
	return b.Inline(cancelKeyboard()).Build()
}

func recipientsSavedView(list []string) tgui.Message {
	return tgui.New().Title("✅", fmt.Sprintf("Recipients saved: %d", len(list))).
		Bullets(handleList(list, listPreview)...).
		Inline(tgui.NewInline().Row(btn("📝 Message", scopeMenu, "message", ""), menuBtn())).
		Build()
}

func messagePromptView(current string) tgui.Message {
	b := tgui.New().Title("📝", "Send the broadcast text").
		Line("HTML markup is supported: <b>, <i>, <u>, <s>, <code>, <pre>, <a href>.").
		Line(fmt.Sprintf("Up to %d characters.", broadcast.MaxMessageRunes))
	if strings.TrimSpace(current) != "" {
		b.Blank().
			KV("Current length", strconv.Itoa(utf8.RuneCountInString(current))+" characters").
			RawLine(tgui.H("<blockquote>" + tgui.Esc(tgui.TruncRunes(current, messagePreview)).String() + "</blockquote>")).
			Line("The new text replaces it.")
	}
	return b.Inline(cancelKeyboard()).Build()
}

func messageSavedView(text string) tgui.Message {
	return tgui.New().Title("✅", "Message saved").
		KV("Length", strconv.Itoa(utf8.RuneCountInString(text))+" characters").
		Inline(tgui.NewInline().Row(btn("📊 Check", scopeMenu, "check", ""), menuBtn())).
		Build()
}

// ---- settings ----

func presetButtons(action, unit string, presets []float64) []tele.Btn {
	out := make([]tele.Btn, 0, len(presets))
	for _, v := range presets {
		s := tgui.Float(v)
		out = append(out, btn(s+" "+unit, scopeSettings, action, s))
	}
	return out
}

func settingsView(st account.Settings, note string) tgui.Message {
	b := tgui.New().Title("⚙️", "Settings")
	if note != "" {
		b.Line(note).Blank()
	}
	b.KV("Duration", tgui.Float(st.Hours)+" h").
		KV("Delay", tgui.Float(st.DelayMinutes)+" min").
		Blank().
		Line("Pick a preset or type a custom value.")

	kb := tgui.NewInline()
	hours := presetButtons("hours", "h", account.HourPresets)
	for i := 0; i < len(hours); i += 3 {
		kb.Row(hours[i:min(i+3, len(hours))]...)
	}
	delays := presetButtons("delay", "min", account.DelayPresets)
	for i := 0; i < len(delays); i += 3 {
		kb.Row(delays[i:min(i+3, len(delays))]...)
	}
	kb.Row(btn("⏱ Custom duration", scopeSettings, "hours", ""), btn("⏳ Custom delay", scopeSettings, "delay", "")).
		Row(menuBtn())
	return b.Inline(kb).Build()
}

func hoursPromptView() tgui.Message {
	return tgui.New().Title("⏱", "Send the broadcast duration in hours").
		Line("Between 0.1 and 24, for example 5 or 2.5.").
		Inline(cancelKeyboard()).
		Build()
}

func delayPromptView() tgui.Message {
	return tgui.New().Title("⏳", "Send the delay between messages in minutes").
		Line("Between 0.1 and 60, for example 3.5.").
		Inline(cancelKeyboard()).
		Build()
}

// ---- readiness and campaign ----

func readinessView(r broadcast.Readiness) tgui.Message {
	b := tgui.New().RawLine(tgui.B("┌ 👤 Account"))
	if r.Authorized {
		b.Line("├ Status: authorized ✅")
		phone := r.Phone
		if phone == "" {
			phone = "unknown"
		}
		b.Line("└ Phone: " + phone)
	} else {
		b.Line("├ Status: missing ❌").Line("└ Action: authorize with /auth")
	}

	b.Blank().RawLine(tgui.B("┌ 📤 Broadcast"))
	b.Line(fmt.Sprintf("├ Recipients: %d", len(r.Recipients)))
	switch n := len(r.Recipients); {
	case n > 0 && n <= 3:
		for i, h := range r.Recipients {
			b.Line(fmt.Sprintf("│   %d. @%s", i+1, h))
		}
	case n > 3:
		b.Line("│   1. @" + r.Recipients[0]).Line(fmt.Sprintf("│   … and %d more", n-1))
	}
	if r.MessageLen > 0 {
		b.Line(fmt.Sprintf("└ Message: %d characters", r.MessageLen))
	} else {
		b.Line("└ Message: not set")
	}
	b.Line(fmt.Sprintf("⏱ %s h, ⏳ %s min", tgui.Float(r.Settings.Hours), tgui.Float(r.Settings.DelayMinutes)))

	b.Blank().RawLine(tgui.B("┌ Status"))
	var kb *tgui.Inline
	switch {
	case r.Running:
		b.RawLine(tgui.B("└ 📤 BROADCAST RUNNING"))
		kb = tgui.NewInline().Row(btn("📊 Status", scopeMenu, "status", ""), menuBtn())
	case r.Ready():
		b.RawLine(tgui.B("└ 🟢 READY TO START"))
		kb = tgui.NewInline().Row(btn("🚀 Start", scopeMenu, "go", "")).Row(menuBtn())
	default:
		b.RawLine(tgui.B("└ 🔴 NOT READY"))
		b.Line("   Missing: " + strings.Join(r.Missing, ", "))
		kb = tgui.NewInline().
			Row(btn("🔐 Authorization", scopeMenu, "auth", "")).
			Row(btn("👥 Recipients", scopeMenu, "recipients", ""), btn("📝 Message", scopeMenu, "message", "")).
			Row(menuBtn())
	}
	return b.Inline(kb).Build()
}

func summaryKV(b *tgui.Builder, s campaign.Summary, phone string) *tgui.Builder {
	if phone != "" {
		b.KV("Account", phone)
	}
	return b.KV("Recipients", strconv.Itoa(s.Recipients)).
		KV("Delay", tgui.Float(s.Delay.Minutes())+" min").
		KV("Duration", tgui.Float(s.Duration.Hours())+" h")
}

func confirmView(s campaign.Summary, phone string) tgui.Message {
	b := tgui.New().Title("🚀", "Start the broadcast?")
	summaryKV(b, s, phone)
	return b.Inline(tgui.NewInline().Row(
		btn("✅ Start", scopeCampaign, "confirm", ""),
		btn("❌ Cancel", scopeCampaign, "cancel", ""),
	)).Build()
}

func startedView(s campaign.Summary, phone string) tgui.Message {
	b := tgui.New().Title("🚀", "Broadcast started")
	summaryKV(b, s, phone).
		Blank().
		Line("Progress reports will follow in this chat.")
	return b.Inline(tgui.NewInline().Row(btn("⛔ Stop", scopeCampaign, "stop", ""), menuBtn())).Build()
}

func statusView(s campaign.Snapshot) tgui.Message {
	b := tgui.New().Title("📊", "Broadcast status").
		KV("Sent", strconv.FormatInt(s.Sent, 10)).
		KV("Errors", strconv.FormatInt(s.Errors, 10)).
		KV("Recipients", strconv.Itoa(s.Recipients)).
		KV("Started", s.StartedAt.UTC().Format("2006-01-02 15:04 UTC")).
		KV("Remaining", tgui.HoursMinutes(s.Remaining))
	kb := tgui.NewInline()
	if s.Stopping {
		b.Blank().Line("🛑 Stop requested, finishing the current step.")
		kb.Row(menuBtn())
	} else {
		kb.Row(btn("⛔ Stop", scopeCampaign, "stop", ""), menuBtn())
	}
	return b.Inline(kb).Build()
}

func notRunningView() tgui.Message {
	return tgui.New().Title("ℹ️", "No broadcast is running").Inline(backKeyboard()).Build()
}

func stopRequestedView(delay time.Duration) tgui.Message {
	wait := "one delay interval"
	if delay > 0 {
		wait = tgui.Float(delay.Minutes()) + " min"
	}
	return tgui.New().Title("🛑", "Stop requested").
		Line("The broadcast stops before its next message. This can take up to " + wait + ", or longer if a rate-limit pause is in progress.").
		Line("A final report will follow.").
		Inline(backKeyboard()).
		Build()
}

// ---- reset ----

func resetConfirmView() tgui.Message {
	return tgui.New().Title("🗑️", "Reset broadcast data?").
		Line("Reset forgets the saved session, phone, recipients and message. Your access is kept.").
		Line("Or clear one of them on its own.").
		Inline(tgui.NewInline().
			Row(
				btn("🔑 Session", scopeReset, "session", ""),
				btn("👥 Recipients", scopeReset, "recipients", ""),
				btn("✉️ Message", scopeReset, "message", ""),
			).
			Row(
				btn("✅ Reset all", scopeReset, "confirm", ""),
				btn("❌ No", scopeMenu, "main", ""),
			)).
		Build()
}

// ---- owner ----

func grantedView(a account.Account) tgui.Message {
	return tgui.New().Title("🎫", "Access granted").
		KV("User", strconv.FormatInt(a.ID, 10)).
		KV("Access", broadcast.DescribeEntitlement(a.Entitlement)).
		Build()
}

func revokedView(a account.Account) tgui.Message {
	return tgui.New().Title("❌", "Access revoked").
		KV("User", strconv.FormatInt(a.ID, 10)).
		Build()
}

func campaignsView(list []campaign.Snapshot) tgui.Message {
	b := tgui.New().Title("📡", fmt.Sprintf("Running broadcasts: %d", len(list)))
	for _, s := range list {
		line := fmt.Sprintf("%d: %d sent, %d errors, %s left", s.AccountID, s.Sent, s.Errors, tgui.HoursMinutes(s.Remaining))
		if s.Stopping {
			line += " (stopping)"
		}
		b.Bullets(line)
	}
	return b.Build()
}

func statsView(st broadcast.Stats, flows int) tgui.Message {
	return tgui.New().Title("📊", "Statistics").
		KV("Accounts", strconv.Itoa(st.Accounts)).
		KV("With access", strconv.Itoa(st.Entitled)).
		KV("Authorized", strconv.Itoa(st.WithLogin)).
		KV("Running", strconv.Itoa(st.Running)).
		KV("Pending logins", strconv.Itoa(st.Pending)).
		KV("Open inputs", strconv.Itoa(flows)).
		Build()
}
