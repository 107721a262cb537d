package config

import (
	"reflect"
	"sort"
	"strings"

	"tgbroadcast/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe attrs for
// logging. Secrets (tokens, api hash, dsn, passwords, jwt secret) are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if !reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.LogChatID != nt.LogChatID {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Auth, newCfg.Auth) {
		changed = append(changed, "auth")
		attrs = append(attrs,
			logx.Int("auth.max_attempts", newCfg.Auth.MaxAttempts),
			logx.String("auth.session_ttl", newCfg.Auth.SessionTTL),
		)
	}

	if !reflect.DeepEqual(oldCfg.Campaign, newCfg.Campaign) {
		c := newCfg.Campaign
		changed = append(changed, "campaign")
		attrs = append(attrs,
			logx.Int("campaign.progress_every", c.ProgressEvery),
			logx.Int("campaign.many_errors", c.ManyErrors),
			logx.String("campaign.generic_backoff", c.GenericBackoff),
			logx.String("campaign.flood_control_backoff", c.FloodControlBackoff),
		)
	}

	if on, nn := oldCfg.NotifierOrDefault(), newCfg.NotifierOrDefault(); !reflect.DeepEqual(on, nn) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.Int("bot.workers", newCfg.Bot.Workers),
			logx.String("bot.flow_ttl", newCfg.Bot.FlowTTL),
			logx.Bool("bot.private_only", newCfg.Bot.PrivateOnly),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	changed = append(changed, RestartRequired(oldCfg, newCfg)...)
	if prev, next := oldCfg.StorageOrDefault(), newCfg.StorageOrDefault(); prev.Driver != next.Driver {
		attrs = append(attrs, logx.String("storage.driver", next.Driver))
	}
	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled || oldCfg.HTTP.Addr != newCfg.HTTP.Addr {
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed settings that only take effect after a
// restart: the bot endpoint, the messaging application, storage, bot
// routing capacity, housekeeping schedules and the HTTP API.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.endpoint")
	}
	if !reflect.DeepEqual(oldCfg.Messaging, newCfg.Messaging) {
		out = append(out, "messaging")
	}
	if !reflect.DeepEqual(oldCfg.StorageOrDefault(), newCfg.StorageOrDefault()) {
		out = append(out, "storage")
	}
	if oldCfg.Bot.Workers != newCfg.Bot.Workers || oldCfg.Bot.QueueSize != newCfg.Bot.QueueSize {
		out = append(out, "bot.workers")
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		out = append(out, "scheduler")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		out = append(out, "http")
	}
	return out
}
