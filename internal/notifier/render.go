package notifier

import (
	"strconv"

	"tgbroadcast/internal/campaign"
	"tgbroadcast/pkg/tgui"
)

// Render turns a campaign event into a chat message.
func Render(kind campaign.EventKind, p campaign.Payload) tgui.Message {
	b := tgui.New()
	switch kind {
	case campaign.EventStarted:
		b.Title("✅", "Session authorized, broadcast running").
			KV("Recipients", strconv.Itoa(p.Recipients)).
			KV("Delay", tgui.Float(p.Delay.Minutes())+" min").
			KV("Duration", tgui.Float(p.Duration.Hours())+" h").
			Inline(tgui.NewInline().Row(tgui.Btn("⛔ Stop", tgui.Data("campaign", "stop", ""))))
	case campaign.EventProgress:
		b.Title("📨", "Progress").
			KV("Sent", strconv.FormatInt(p.Sent, 10)).
			KV("Errors", strconv.FormatInt(p.Errors, 10)).
			KV("Remaining", tgui.HoursMinutes(p.Remaining))
	case campaign.EventFloodWait:
		b.Title("⏰", "Flood wait: pausing "+seconds(p)+" s")
	case campaign.EventRateLimited:
		b.Title("⚡", "Too many requests: pausing "+seconds(p)+" s")
	case campaign.EventFloodControl:
		b.Title("⏰", "Flood control exceeded: pausing "+seconds(p)+" s")
	case campaign.EventManyErrors:
		b.Title("⚠️", "Many errors ("+strconv.FormatInt(p.Errors, 10)+")").
			Line("The broadcast keeps running.")
	case campaign.EventFinished:
		renderFinished(b, p)
	default:
		b.Line(string(kind))
	}
	return b.Build()
}

func renderFinished(b *tgui.Builder, p campaign.Payload) {
	switch p.Reason {
	case campaign.ReasonTimeExpired:
		b.Title("⏰", "Time is up ("+tgui.Float(p.Duration.Hours())+" h)")
	case campaign.ReasonStopped:
		b.Title("⛔", "Broadcast stopped")
	case campaign.ReasonAuthorizationLost:
		b.Title("❌", "Session is no longer valid").
			Line("Authorize again with /auth.")
	case campaign.ReasonShutdown:
		b.Title("🛑", "Broadcast interrupted by a bot restart")
	default:
		b.Title("🎉", "Broadcast finished")
	}
	b.Blank().
		KV("Sent", strconv.FormatInt(p.Sent, 10)).
		KV("Errors", strconv.FormatInt(p.Errors, 10))
	if p.Diagnostic != "" {
		b.Blank().KV("Error", p.Diagnostic)
	}
	b.Inline(tgui.NewInline().Row(tgui.Btn("🏠 Menu", tgui.Data("menu", "main", ""))))
}

func seconds(p campaign.Payload) string {
	return strconv.FormatInt(int64(p.Wait.Seconds()), 10)
}
