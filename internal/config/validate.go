package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var knownDrivers = map[string]bool{
	"": true, "memory": true, "file": true,
	"sqlite": true, "sqlite3": true,
	"postgres": true, "postgresql": true, "pg": true,
	"valkey": true, "redis": true,
}

// durationFields lists every duration string with its config path.
func durationFields(cfg *Config) map[string]string {
	n := cfg.NotifierOrDefault()
	s := cfg.StorageOrDefault()
	return map[string]string{
		"telegram.poll_timeout":          cfg.Telegram.PollTimeout,
		"messaging.connect_timeout":      cfg.Messaging.ConnectTimeout,
		"storage.busy_timeout":           s.BusyTimeout,
		"auth.session_ttl":               cfg.Auth.SessionTTL,
		"auth.disconnect_timeout":        cfg.Auth.DisconnectTimeout,
		"campaign.generic_backoff":       cfg.Campaign.GenericBackoff,
		"campaign.flood_control_backoff": cfg.Campaign.FloodControlBackoff,
		"campaign.connect_timeout":       cfg.Campaign.ConnectTimeout,
		"campaign.disconnect_timeout":    cfg.Campaign.DisconnectTimeout,
		"notifier.retry_base":            n.RetryBase,
		"notifier.retry_max_delay":       n.RetryMaxDelay,
		"notifier.send_timeout":          n.SendTimeout,
		"notifier.dedup_window":          n.DedupWindow,
		"bot.handler_timeout":            cfg.Bot.HandlerTimeout,
		"bot.flow_ttl":                   cfg.Bot.FlowTTL,
		"scheduler.default_timeout":      cfg.Scheduler.DefaultTimeout,
		"http.token_ttl":                 cfg.HTTP.TokenTTL,
	}
}

// Validate checks a parsed config (after env overrides) and reports every
// problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if id <= 0 {
			add("telegram.owner_user_ids: invalid id %d", id)
		}
	}
	if cfg.Messaging.APIID <= 0 {
		add("messaging.api_id is required (or set %s)", EnvAPIID)
	}
	if strings.TrimSpace(cfg.Messaging.APIHash) == "" {
		add("messaging.api_hash is required (or set %s)", EnvAPIHash)
	}
	for i, d := range cfg.Messaging.Devices {
		if strings.TrimSpace(d.Model) == "" || strings.TrimSpace(d.SystemVersion) == "" {
			add("messaging.devices[%d]: model and system_version are required", i)
		}
	}

	for path, raw := range durationFields(cfg) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	s := cfg.StorageOrDefault()
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	switch {
	case !knownDrivers[driver]:
		add("storage.driver: unknown driver %q", s.Driver)
	case (driver == "file" || driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(s.Path) == "":
		add("storage.path is required for driver %q", driver)
	case (driver == "postgres" || driver == "postgresql" || driver == "pg") && strings.TrimSpace(s.DSN) == "":
		add("storage.dsn is required for driver %q (or set %s)", driver, EnvStorageDSN)
	case (driver == "valkey" || driver == "redis") && strings.TrimSpace(s.Addr) == "":
		add("storage.addr is required for driver %q", driver)
	}

	if cfg.Auth.MaxAttempts < 0 {
		add("auth.max_attempts must be >= 0")
	}
	if cfg.Campaign.ProgressEvery < 0 || cfg.Campaign.ManyErrors < 0 {
		add("campaign.progress_every and campaign.many_errors must be >= 0")
	}
	if n := cfg.NotifierOrDefault(); n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		add("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	if cfg.Bot.Workers < 0 || cfg.Bot.QueueSize < 0 {
		add("bot.workers and bot.queue_size must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	if cfg.HTTP.Enabled {
		if len(cfg.HTTP.JWTSecret) < 16 {
			add("http.jwt_secret must be at least 16 bytes (or set %s)", EnvJWTSecret)
		}
		if len(cfg.HTTP.Operators) == 0 {
			add("http.operators must list at least one operator")
		}
		for name, hash := range cfg.HTTP.Operators {
			if !strings.HasPrefix(hash, "$2") {
				add("http.operators.%s: expected a bcrypt hash", name)
			}
		}
	}
	return errors.Join(errs...)
}
