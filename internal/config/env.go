package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvAPIID         = "TG_API_ID"
	EnvAPIHash       = "TG_API_HASH"
	EnvStorageDSN    = "STORAGE_DSN"
	EnvJWTSecret     = "HTTP_JWT_SECRET"
)

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped and variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", p, err)
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays secrets from the environment onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvAPIID); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAPIID, err)
		}
		cfg.Messaging.APIID = id
	}
	if v, ok := get(EnvAPIHash); ok {
		cfg.Messaging.APIHash = v
	}
	if v, ok := get(EnvStorageDSN); ok {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		cfg.Storage.DSN = v
	}
	if v, ok := get(EnvJWTSecret); ok {
		cfg.HTTP.JWTSecret = v
	}
	return nil
}
