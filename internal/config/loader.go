package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MIRRORBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MIRRORBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "MIRRORBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "MIRRORBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MIRRORBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MIRRORBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "MIRRORBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "MIRRORBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MIRRORBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "MIRRORBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MIRRORBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MIRRORBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MIRRORBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MIRRORBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MIRRORBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MIRRORBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MIRRORBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MIRRORBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "MIRRORBOT_REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.ReservationTTL, "MIRRORBOT_REDIS_RESERVATION_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MIRRORBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MIRRORBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MIRRORBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MIRRORBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MIRRORBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MIRRORBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MIRRORBOT_S3_FORCE_PATH_STYLE")

	// ── Manifold ──
	setStr(&cfg.Manifold.ApiURL, "MIRRORBOT_MANIFOLD_API_URL")
	setStr(&cfg.Manifold.ClientURL, "MIRRORBOT_MANIFOLD_CLIENT_URL")
	setStr(&cfg.Manifold.ApiKey, "MIRRORBOT_MANIFOLD_API_KEY")
	setStr(&cfg.Manifold.UserID, "MIRRORBOT_MANIFOLD_USER_ID")
	setFloat64(&cfg.Manifold.Managrams.MinAmount, "MIRRORBOT_MANIFOLD_MANAGRAMS_MIN_AMOUNT")
	setFloat64(&cfg.Manifold.Managrams.MirrorCost, "MIRRORBOT_MANIFOLD_MANAGRAMS_MIRROR_COST")

	// ── Metaculus ──
	setStr(&cfg.Metaculus.BaseURL, "MIRRORBOT_METACULUS_BASE_URL")
	setStr(&cfg.Metaculus.ApiKey, "MIRRORBOT_METACULUS_API_KEY")
	setInt64(&cfg.Metaculus.MaxClonesPerDay, "MIRRORBOT_METACULUS_MAX_CLONES_PER_DAY")
	setBool(&cfg.Metaculus.FetchCriteria, "MIRRORBOT_METACULUS_FETCH_CRITERIA")
	setInt(&cfg.Metaculus.ListLimit, "MIRRORBOT_METACULUS_LIST_LIMIT")
	setStringSlice(&cfg.Metaculus.AddGroupIDs, "MIRRORBOT_METACULUS_ADD_GROUP_IDS")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.BaseURL, "MIRRORBOT_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.ApiKeyID, "MIRRORBOT_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "MIRRORBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setInt64(&cfg.Kalshi.MaxClonesPerDay, "MIRRORBOT_KALSHI_MAX_CLONES_PER_DAY")
	setBool(&cfg.Kalshi.ExcludeSeries, "MIRRORBOT_KALSHI_EXCLUDE_SERIES")
	setStringSlice(&cfg.Kalshi.AddGroupIDs, "MIRRORBOT_KALSHI_ADD_GROUP_IDS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MIRRORBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MIRRORBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MIRRORBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MIRRORBOT_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MIRRORBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MIRRORBOT_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "MIRRORBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
