// Package config defines the top-level configuration for the mirror bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/admission"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MIRRORBOT_* environment variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Manifold  ManifoldConfig  `toml:"manifold"`
	Metaculus MetaculusConfig `toml:"metaculus"`
	Kalshi    KalshiConfig    `toml:"kalshi"`
	Notify    NotifyConfig    `toml:"notify"`
	Archive   ArchiveConfig   `toml:"archive"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	LockTTL        duration `toml:"lock_ttl"`
	ReservationTTL duration `toml:"reservation_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the cold
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ManifoldConfig holds destination platform credentials and market template
// parameters.
type ManifoldConfig struct {
	ApiURL    string          `toml:"api_url"`
	ClientURL string          `toml:"client_url"`
	ApiKey    string          `toml:"api_key"`
	UserID    string          `toml:"user_id"`
	Template  TemplateConfig  `toml:"template"`
	Managrams ManagramsConfig `toml:"managrams"`
}

// TemplateConfig shapes the title and description of created markets.
type TemplateConfig struct {
	DescriptionFooter string `toml:"description_footer"`
	// TitleRetainEndChars is how many trailing title characters survive
	// truncation. Question titles often end in the disambiguating detail
	// (dates, thresholds), so the cut happens in the middle, not at the end.
	TitleRetainEndChars  int `toml:"title_retain_end_characters"`
	MaxQuestionLength    int `toml:"max_question_length"`
	MaxDescriptionLength int `toml:"max_description_length"`
}

// ManagramsConfig prices the managram command interface.
type ManagramsConfig struct {
	// MinAmount is the platform's minimum transferable amount, also used as
	// the reply amount on success.
	MinAmount float64 `toml:"min_amount"`
	// MirrorCost is what a mirror request costs on top of MinAmount.
	MirrorCost float64 `toml:"mirror_cost"`
}

// MetaculusConfig holds the Metaculus source platform settings.
type MetaculusConfig struct {
	BaseURL         string                 `toml:"base_url"`
	ApiKey          string                 `toml:"api_key"`
	MaxClonesPerDay int64                  `toml:"max_clones_per_day"`
	FetchCriteria   bool                   `toml:"fetch_criteria"`
	ListLimit       int                    `toml:"list_limit"`
	AddGroupIDs     []string               `toml:"add_group_ids"`
	AutoFilter      admission.FilterConfig `toml:"auto_filter"`
	RequestFilter   admission.FilterConfig `toml:"request_filter"`
}

// KalshiConfig holds the Kalshi source platform settings.
type KalshiConfig struct {
	BaseURL           string                 `toml:"base_url"`
	ApiKeyID          string                 `toml:"api_key_id"`
	RsaPrivateKeyPath string                 `toml:"rsa_private_key_path"`
	MaxClonesPerDay   int64                  `toml:"max_clones_per_day"`
	ExcludeSeries     bool                   `toml:"exclude_series"`
	AddGroupIDs       []string               `toml:"add_group_ids"`
	AutoFilter        admission.FilterConfig `toml:"auto_filter"`
	RequestFilter     admission.FilterConfig `toml:"request_filter"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls cold archival of resolved mirrors and processed
// managrams.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "mirrorbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			DB:             0,
			PoolSize:       20,
			MaxRetries:     3,
			TLSEnabled:     false,
			LockTTL:        duration{30 * time.Second},
			ReservationTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mirrorbot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Manifold: ManifoldConfig{
			ApiURL:    "https://api.manifold.markets/v0/",
			ClientURL: "https://manifold.markets/",
			Template: TemplateConfig{
				DescriptionFooter:    "*This market is automatically managed by a bot. Resolution mirrors the source question.*",
				TitleRetainEndChars:  25,
				MaxQuestionLength:    120,
				MaxDescriptionLength: 10000,
			},
			Managrams: ManagramsConfig{
				MinAmount:  10,
				MirrorCost: 25,
			},
		},
		Metaculus: MetaculusConfig{
			BaseURL:         "https://www.metaculus.com/api2/",
			MaxClonesPerDay: 5,
			FetchCriteria:   true,
			ListLimit:       100,
			AutoFilter: admission.FilterConfig{
				RequireOpen:                true,
				ExcludeResolved:            true,
				ExcludeGrouped:             true,
				ExcludeConditional:         true,
				RequireCommunityPrediction: true,
				MinForecasters:             25,
				MinVotes:                   10,
				MinDaysToResolution:        4,
				MaxDaysToResolution:        365,
				MaxAgeDays:                 60,
				MaxLastActiveDays:          30,
				MaxConfidence:              0.97,
			},
			RequestFilter: admission.FilterConfig{
				RequireOpen:         true,
				ExcludeResolved:     true,
				ExcludeGrouped:      true,
				ExcludeConditional:  true,
				MinDaysToResolution: 1,
				MaxDaysToResolution: 3650,
			},
		},
		Kalshi: KalshiConfig{
			BaseURL:         "https://api.elections.kalshi.com/trade-api/v2/",
			MaxClonesPerDay: 5,
			ExcludeSeries:   true,
			AutoFilter: admission.FilterConfig{
				RequireOpen:         true,
				ExcludeResolved:     true,
				MinLiquidity:        10000,
				MinVolume:           2000,
				MinRecentVolume:     200,
				MinOpenInterest:     1000,
				MinDaysToResolution: 4,
				MaxDaysToResolution: 365,
				MaxAgeDays:          60,
				MaxConfidence:       0.93,
			},
			RequestFilter: admission.FilterConfig{
				RequireOpen:         true,
				ExcludeResolved:     true,
				MinDaysToResolution: 1,
				MaxDaysToResolution: 3650,
			},
		},
		Notify: NotifyConfig{
			Events: []string{"mirror_created", "mirror_resolved", "error"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.ReservationTTL.Duration <= 0 {
		errs = append(errs, "redis: reservation_ttl must be positive")
	}

	// S3, only needed when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Manifold
	if c.Manifold.ApiURL == "" {
		errs = append(errs, "manifold: api_url must not be empty")
	}
	if c.Manifold.ClientURL == "" {
		errs = append(errs, "manifold: client_url must not be empty")
	}
	if c.Manifold.ApiKey == "" {
		errs = append(errs, "manifold: api_key must not be empty")
	}
	if t := c.Manifold.Template; t.MaxQuestionLength > 0 && t.TitleRetainEndChars+3 >= t.MaxQuestionLength {
		errs = append(errs, "manifold: template.title_retain_end_characters must leave room for the truncated head")
	}
	if c.Manifold.Managrams.MinAmount < 0 || c.Manifold.Managrams.MirrorCost < 0 {
		errs = append(errs, "manifold: managram amounts must not be negative")
	}

	// Sources
	if c.Metaculus.BaseURL == "" {
		errs = append(errs, "metaculus: base_url must not be empty")
	}
	if c.Metaculus.MaxClonesPerDay < 0 {
		errs = append(errs, "metaculus: max_clones_per_day must not be negative")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Kalshi.MaxClonesPerDay < 0 {
		errs = append(errs, "kalshi: max_clones_per_day must not be negative")
	}
	if c.Kalshi.ApiKeyID != "" && c.Kalshi.RsaPrivateKeyPath == "" {
		errs = append(errs, "kalshi: rsa_private_key_path is required when api_key_id is set")
	}

	for _, f := range []struct {
		name string
		cfg  admission.FilterConfig
	}{
		{"metaculus.auto_filter", c.Metaculus.AutoFilter},
		{"metaculus.request_filter", c.Metaculus.RequestFilter},
		{"kalshi.auto_filter", c.Kalshi.AutoFilter},
		{"kalshi.request_filter", c.Kalshi.RequestFilter},
	} {
		if f.cfg.MaxConfidence < 0 || f.cfg.MaxConfidence > 1 {
			errs = append(errs, f.name+": max_confidence must be in [0, 1]")
		}
		if f.cfg.MaxDaysToResolution > 0 && f.cfg.MinDaysToResolution > f.cfg.MaxDaysToResolution {
			errs = append(errs, f.name+": min_days_to_resolution must not exceed max_days_to_resolution")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
