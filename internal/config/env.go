package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	klog "github.com/Frozertiru-gif/Kina/internal/log"
)

// ApplyEnv overrides cfg from KINA_* variables. The unprefixed names used by
// earlier deployments (API_BASE, PORT, DEV_USER_ID, LOG_LEVEL) are still read
// when the KINA_ name is unset.
func ApplyEnv(cfg *Config) {
	logger := klog.WithComponent("config")

	cfg.API.BaseURL = envString(logger, cfg.API.BaseURL, "KINA_API_BASE", "API_BASE")
	cfg.API.Timeout = envDuration(logger, cfg.API.Timeout, "KINA_API_TIMEOUT")
	cfg.API.RatePerSecond = envFloat(logger, cfg.API.RatePerSecond, "KINA_API_RATE")
	cfg.API.Burst = envInt(logger, cfg.API.Burst, "KINA_API_BURST")

	cfg.Identity.Attempts = envInt(logger, cfg.Identity.Attempts, "KINA_IDENTITY_ATTEMPTS")
	cfg.Identity.Delay = envDuration(logger, cfg.Identity.Delay, "KINA_IDENTITY_DELAY")

	cfg.Storage.Backend = envString(logger, cfg.Storage.Backend, "KINA_STORAGE_BACKEND")
	cfg.Storage.Path = envString(logger, cfg.Storage.Path, "KINA_STORAGE_PATH")
	cfg.Storage.Device = envString(logger, cfg.Storage.Device, "KINA_STORAGE_DEVICE")
	cfg.Storage.Redis.Addr = envString(logger, cfg.Storage.Redis.Addr, "KINA_REDIS_ADDR")
	cfg.Storage.Redis.Password = envString(logger, cfg.Storage.Redis.Password, "KINA_REDIS_PASSWORD")
	cfg.Storage.Redis.DB = envInt(logger, cfg.Storage.Redis.DB, "KINA_REDIS_DB")
	cfg.Storage.Mongo.URI = envString(logger, cfg.Storage.Mongo.URI, "KINA_MONGO_URI", "MONGODB_URI")
	cfg.Storage.Mongo.Database = envString(logger, cfg.Storage.Mongo.Database, "KINA_MONGO_DATABASE")

	cfg.Ads.Countdown = envDuration(logger, cfg.Ads.Countdown, "KINA_AD_COUNTDOWN")

	cfg.Server.Listen = envString(logger, cfg.Server.Listen, "KINA_LISTEN")
	if _, set := lookup("KINA_LISTEN"); !set {
		if port, ok := lookup("PORT"); ok {
			cfg.Server.Listen = ":" + strings.TrimPrefix(port, ":")
		}
	}
	cfg.Server.StaticDir = envString(logger, cfg.Server.StaticDir, "KINA_STATIC_DIR")
	cfg.Server.RatePerMinute = envInt(logger, cfg.Server.RatePerMinute, "KINA_RATE_PER_MINUTE")

	cfg.Log.Level = envString(logger, cfg.Log.Level, "KINA_LOG_LEVEL", "LOG_LEVEL")
	cfg.DevUserID = envString(logger, cfg.DevUserID, "KINA_DEV_USER_ID", "DEV_USER_ID")
}

// lookup returns the first non-empty value among keys.
func lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func firstSet(keys []string) string {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
			return k
		}
	}
	return ""
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token") || strings.Contains(k, "uri")
}

func envString(logger zerolog.Logger, def string, keys ...string) string {
	v, ok := lookup(keys...)
	if !ok {
		return def
	}
	key := firstSet(keys)
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v
}

func envInt(logger zerolog.Logger, def int, keys ...string) int {
	v, ok := lookup(keys...)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", firstSet(keys)).Str("value", v).Int("default", def).
			Msg("invalid integer in environment variable, using default")
		return def
	}
	return i
}

func envFloat(logger zerolog.Logger, def float64, keys ...string) float64 {
	v, ok := lookup(keys...)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", firstSet(keys)).Str("value", v).Float64("default", def).
			Msg("invalid number in environment variable, using default")
		return def
	}
	return f
}

func envDuration(logger zerolog.Logger, def time.Duration, keys ...string) time.Duration {
	v, ok := lookup(keys...)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", firstSet(keys)).Str("value", v).Dur("default", def).
			Msg("invalid duration in environment variable, using default")
		return def
	}
	return d
}
