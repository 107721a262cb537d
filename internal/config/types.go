package config

import "tgbroadcast/internal/messaging"

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Sections that are restart-only are marked as such; everything else is
// applied on hot reload.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Messaging MessagingConfig `json:"messaging"`
	Logging   LoggingConfig   `json:"logging"`

	// Storage is restart-only. If omitted, accounts live in memory.
	Storage *StorageConfig `json:"storage,omitempty"`

	Auth     AuthConfig     `json:"auth"`
	Campaign CampaignConfig `json:"campaign"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Bot       BotConfig       `json:"bot"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	// Token may also come from TELEGRAM_TOKEN. Restart-only.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives log lines when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m"). Restart-only.
	PollTimeout string `json:"poll_timeout"`
	// APIURL points at a self-hosted Bot API server. Restart-only.
	APIURL string `json:"api_url,omitempty"`
}

// MessagingConfig describes the user-account (MTProto) application the
// broadcasts are sent through. Restart-only.
type MessagingConfig struct {
	// APIID and APIHash may also come from TG_API_ID / TG_API_HASH.
	APIID          int                `json:"api_id"`
	APIHash        string             `json:"api_hash"`
	AppVersion     string             `json:"app_version,omitempty"`
	ConnectTimeout string             `json:"connect_timeout,omitempty"`
	Devices        []messaging.Device `json:"devices,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the account store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/accounts.db" }
//
// Drivers: memory, file, sqlite, postgres, valkey.
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// DSN may also come from STORAGE_DSN (postgres).
	DSN         string `json:"dsn,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// AuthConfig controls login attempts.
//
// Defaults: max_attempts 3, session_ttl "15m", disconnect_timeout "10s".
type AuthConfig struct {
	MaxAttempts       int    `json:"max_attempts,omitempty"`
	SessionTTL        string `json:"session_ttl,omitempty"`
	DisconnectTimeout string `json:"disconnect_timeout,omitempty"`
}

// CampaignConfig holds send loop tunables.
//
// Defaults: progress_every 10, many_errors 5, generic_backoff "30s",
// flood_control_backoff "60s".
type CampaignConfig struct {
	ProgressEvery       int    `json:"progress_every,omitempty"`
	ManyErrors          int    `json:"many_errors,omitempty"`
	GenericBackoff      string `json:"generic_backoff,omitempty"`
	FloodControlBackoff string `json:"flood_control_backoff,omitempty"`
	ConnectTimeout      string `json:"connect_timeout,omitempty"`
	DisconnectTimeout   string `json:"disconnect_timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// BotConfig controls update routing. Workers and queue_size are
// restart-only; flow_ttl is hot.
type BotConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
	PrivateOnly    bool   `json:"private_only"`
	FlowTTL        string `json:"flow_ttl,omitempty"`
}

// SchedulerConfig controls housekeeping jobs. Specs are cron expressions
// or "@every <duration>". Restart-only.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone.
	Timezone       string `json:"timezone,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`

	AuthReap  string `json:"auth_reap,omitempty"`  // default "@every 1m"
	FlowSweep string `json:"flow_sweep,omitempty"` // default "@every 5m"
	Heartbeat string `json:"heartbeat,omitempty"`  // default "@every 15m"
}

// HTTPConfig controls the operator API. Restart-only.
//
// Security note: bind to localhost unless a reverse proxy terminates TLS.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	// JWTSecret may also come from HTTP_JWT_SECRET (do not log).
	JWTSecret string `json:"jwt_secret,omitempty"`
	TokenTTL  string `json:"token_ttl,omitempty"`
	// Operators maps usernames to bcrypt hashes.
	Operators    map[string]string `json:"operators,omitempty"`
	RatePerSec   float64           `json:"rate_per_sec,omitempty"`
	Burst        int               `json:"burst,omitempty"`
	MaxBodyBytes int64             `json:"max_body_bytes,omitempty"`
	// Pprof mounts /debug/pprof/ behind operator tokens.
	Pprof bool `json:"pprof,omitempty"`
}

// NotifierOrDefault returns the notifier section, or the defaults when it
// was omitted.
func (c *Config) NotifierOrDefault() NotifierConfig {
	if c == nil || c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}

func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

// StorageOrDefault returns the storage section, defaulting to memory.
func (c *Config) StorageOrDefault() StorageConfig {
	if c == nil || c.Storage == nil {
		return StorageConfig{Driver: "memory"}
	}
	return *c.Storage
}
