package app

import (
	"strings"
	"time"

	"tgbroadcast/internal/auth"
	"tgbroadcast/internal/bot"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/config"
	"tgbroadcast/internal/httpapi"
	"tgbroadcast/internal/messaging"
	"tgbroadcast/internal/messaging/gotd"
	"tgbroadcast/internal/notifier"
	"tgbroadcast/internal/storage"
	"tgbroadcast/internal/task/scheduler"
	telegram "tgbroadcast/internal/transport/telegram/adapter"
	"tgbroadcast/internal/transport/telegram/router"
	logx "tgbroadcast/pkg/logx"
)

// Every mapper below runs on a config that already passed config.Validate,
// so duration strings fall back to the default rather than failing.

const (
	defaultAuthReap  = "@every 1m"
	defaultFlowSweep = "@every 5m"
	defaultHeartbeat = "@every 15m"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapter(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Dur(cfg.Telegram.PollTimeout, 10*time.Second),
		APIURL:      cfg.Telegram.APIURL,
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	sc := cfg.StorageOrDefault()
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "memory"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         sc.DSN,
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		KeyPrefix:   sc.KeyPrefix,
		BusyTimeout: config.Dur(sc.BusyTimeout, time.Second),
	}
}

func mapDialer(cfg *config.Config, log logx.Logger) gotd.Dialer {
	m := cfg.Messaging
	return gotd.Dialer{
		AppID:          m.APIID,
		AppHash:        m.APIHash,
		AppVersion:     m.AppVersion,
		ConnectTimeout: config.Dur(m.ConnectTimeout, 30*time.Second),
		Log:            log,
	}
}

func mapDevices(cfg *config.Config) []messaging.Device {
	if len(cfg.Messaging.Devices) == 0 {
		return messaging.DefaultDevices
	}
	return cfg.Messaging.Devices
}

func mapAuth(cfg *config.Config) auth.Config {
	return auth.Config{
		MaxAttempts:       cfg.Auth.MaxAttempts,
		SessionTTL:        config.Dur(cfg.Auth.SessionTTL, 15*time.Minute),
		DisconnectTimeout: config.Dur(cfg.Auth.DisconnectTimeout, 10*time.Second),
	}
}

func mapCampaign(cfg *config.Config) campaign.Config {
	c := cfg.Campaign
	// zero values take the dispatcher defaults
	return campaign.Config{
		ProgressEvery:       c.ProgressEvery,
		ManyErrors:          c.ManyErrors,
		GenericBackoff:      config.Dur(c.GenericBackoff, 0),
		FloodControlBackoff: config.Dur(c.FloodControlBackoff, 0),
		ConnectTimeout:      config.Dur(c.ConnectTimeout, 0),
		DisconnectTimeout:   config.Dur(c.DisconnectTimeout, 0),
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.NotifierOrDefault()
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.Dur(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:   config.Dur(n.RetryMaxDelay, 10*time.Second),
		SendTimeout:     config.Dur(n.SendTimeout, 10*time.Second),
		DedupWindow:     config.Dur(n.DedupWindow, time.Minute),
		DedupMaxEntries: n.DedupMaxEntries,
		HistorySize:     n.HistorySize,
	}
}

func mapRouter(cfg *config.Config) router.Config {
	return router.Config{
		Workers:     cfg.Bot.Workers,
		QueueSize:   cfg.Bot.QueueSize,
		Timeout:     config.Dur(cfg.Bot.HandlerTimeout, 30*time.Second),
		PrivateOnly: cfg.Bot.PrivateOnly,
	}
}

func mapBot(cfg *config.Config) bot.Config {
	return bot.Config{FlowTTL: config.Dur(cfg.Bot.FlowTTL, 15*time.Minute)}
}

func mapHTTP(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	return httpapi.Config{
		Enabled:      h.Enabled,
		Addr:         strings.TrimSpace(h.Addr),
		JWTSecret:    h.JWTSecret,
		TokenTTL:     config.Dur(h.TokenTTL, 12*time.Hour),
		Operators:    h.Operators,
		RatePerSec:   h.RatePerSec,
		Burst:        h.Burst,
		MaxBodyBytes: h.MaxBodyBytes,
		Pprof:        h.Pprof,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	s := cfg.Scheduler
	return scheduler.Config{
		Enabled:        s.Enabled,
		Timezone:       strings.TrimSpace(s.Timezone),
		DefaultTimeout: config.Dur(s.DefaultTimeout, time.Minute),
		HistorySize:    s.HistorySize,
	}
}

func specOr(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}
