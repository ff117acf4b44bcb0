// Package config loads and validates marketupdate configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	Store       StoreConfig       `mapstructure:"store"`
	Subscribers SubscribersConfig `mapstructure:"subscribers"`
	Captcha     CaptchaConfig     `mapstructure:"captcha"`
	Quotes      QuotesConfig      `mapstructure:"quotes"`
	Email       EmailConfig       `mapstructure:"email"`
	Digest      DigestConfig      `mapstructure:"digest"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Events      EventsConfig      `mapstructure:"events"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

// ServerConfig controls the signup HTTP server.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the outbound HTTP client shared by the CAPTCHA and quote clients.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// SecretsConfig selects the secret backend and the names looked up at startup.
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"`
	VaultURL string            `mapstructure:"vault_url"`
	Static   map[string]string `mapstructure:"static"`
	Names    SecretNames       `mapstructure:"names"`
}

// SecretNames are the keys under which each credential lives in the secret store.
type SecretNames struct {
	Storage          string `mapstructure:"storage"`
	QuotesAPIKey     string `mapstructure:"quotes_api_key"`
	EmailAPIKey      string `mapstructure:"email_api_key"`
	CaptchaSiteKey   string `mapstructure:"captcha_site_key"`
	CaptchaSecretKey string `mapstructure:"captcha_secret_key"`
}

// StoreConfig selects the table store backend and logical table names.
type StoreConfig struct {
	Provider         string `mapstructure:"provider"`
	SubscribersTable string `mapstructure:"subscribers_table"`
	QuotesTable      string `mapstructure:"quotes_table"`
	RedisKeyPrefix   string `mapstructure:"redis_key_prefix"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
}

// SubscribersConfig holds the partition shared by the signup service and the mailer.
type SubscribersConfig struct {
	Partition string `mapstructure:"partition"`
}

// CaptchaConfig toggles server-side CAPTCHA verification on signup.
type CaptchaConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	VerifyURL string `mapstructure:"verify_url"`
}

// QuotesConfig points the fetcher at the quote API and lists the tracked indices.
type QuotesConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Indices           []IndexConfig `mapstructure:"indices"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
}

// IndexConfig maps an index display name to the ticker used to query it.
type IndexConfig struct {
	Name   string `mapstructure:"name"`
	Symbol string `mapstructure:"symbol"`
}

// EmailConfig selects the transactional email backend.
type EmailConfig struct {
	Provider     string `mapstructure:"provider"`
	Sender       string `mapstructure:"sender"`
	SendGridHost string `mapstructure:"sendgrid_host"`
}

// DigestConfig controls digest rendering.
type DigestConfig struct {
	Subject string `mapstructure:"subject"`
}

// ArchiveConfig controls where rendered digests are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// EventsConfig holds metadata for publish-subscribe notifications.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig holds the cron specs for the scheduled jobs.
type ScheduleConfig struct {
	FetchSpec    string `mapstructure:"fetch_spec"`
	DigestSpec   string `mapstructure:"digest_spec"`
	Timezone     string `mapstructure:"timezone"`
	RunOnStartup bool   `mapstructure:"run_on_startup"`
	MetricsPort  int    `mapstructure:"metrics_port"`
}

// Load builds a Config from an optional .env file, an optional config file and the
// environment. Environment variables use the MARKETUPDATE_ prefix with "." replaced
// by "_" (MARKETUPDATE_STORE_PROVIDER=postgres).
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MARKETUPDATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "MARKETUPDATE_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "marketupdate/1.0")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.names.storage", "marketupdate-storage-emails")
	v.SetDefault("secrets.names.quotes_api_key", "alpha-vantage-api-key")
	v.SetDefault("secrets.names.email_api_key", "acs-email-connection-string")
	v.SetDefault("secrets.names.captcha_site_key", "recaptcha-site-key")
	v.SetDefault("secrets.names.captcha_secret_key", "recaptcha-secret-key")
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.subscribers_table", "EmailSubscriptions")
	v.SetDefault("store.quotes_table", "StockMarketData")
	v.SetDefault("store.redis_key_prefix", "marketupdate:")
	v.SetDefault("subscribers.partition", "Subscription")
	v.SetDefault("captcha.enabled", false)
	v.SetDefault("captcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("quotes.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("quotes.indices", []map[string]string{
		{"name": "S&P 500", "symbol": "SPY"},
		{"name": "Nasdaq-100", "symbol": "QQQ"},
	})
	v.SetDefault("quotes.requests_per_minute", 5)
	v.SetDefault("quotes.burst", 5)
	v.SetDefault("email.provider", "log")
	v.SetDefault("email.sender", "updates@marketupdate.local")
	v.SetDefault("digest.subject", "Daily Market Update: S&P 500 and Nasdaq-100")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "digests")
	v.SetDefault("archive.local_dir", "data/digests")
	v.SetDefault("events.provider", "none")
	v.SetDefault("schedule.fetch_spec", "0 30 21 * * 1-5")
	v.SetDefault("schedule.digest_spec", "0 35 21 * * 1-5")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.metrics_port", 9090)
}

// Validate enforces required values and known provider names.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if !oneOf(c.Secrets.Provider, "env", "keyvault") {
		return fmt.Errorf("secrets.provider %q is not supported", c.Secrets.Provider)
	}
	if c.Secrets.Provider == "keyvault" && c.Secrets.VaultURL == "" {
		return fmt.Errorf("secrets.vault_url must be set when secrets.provider is keyvault")
	}
	if !oneOf(c.Store.Provider, "memory", "postgres", "redis", "aztables") {
		return fmt.Errorf("store.provider %q is not supported", c.Store.Provider)
	}
	if c.Store.SubscribersTable == "" || c.Store.QuotesTable == "" {
		return fmt.Errorf("store.subscribers_table and store.quotes_table are required")
	}
	if strings.TrimSpace(c.Subscribers.Partition) == "" {
		return fmt.Errorf("subscribers.partition is required")
	}
	if c.Captcha.Enabled && c.Captcha.VerifyURL == "" {
		return fmt.Errorf("captcha.verify_url must be set when captcha is enabled")
	}
	if len(c.Quotes.Indices) == 0 {
		return fmt.Errorf("quotes.indices must list at least one index")
	}
	for i, idx := range c.Quotes.Indices {
		if idx.Name == "" || idx.Symbol == "" {
			return fmt.Errorf("quotes.indices[%d] needs both name and symbol", i)
		}
	}
	if c.Quotes.RequestsPerMinute < 0 {
		return fmt.Errorf("quotes.requests_per_minute must be >= 0")
	}
	if !oneOf(c.Email.Provider, "log", "sendgrid") {
		return fmt.Errorf("email.provider %q is not supported", c.Email.Provider)
	}
	if c.Email.Sender == "" {
		return fmt.Errorf("email.sender is required")
	}
	if !oneOf(c.Archive.Provider, "none", "memory", "local", "gcs") {
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	if c.Archive.Provider == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
	}
	if !oneOf(c.Events.Provider, "none", "memory", "pubsub") {
		return fmt.Errorf("events.provider %q is not supported", c.Events.Provider)
	}
	if c.Events.Provider == "pubsub" && (c.Events.ProjectID == "" || c.Events.TopicName == "") {
		return fmt.Errorf("events.project_id and events.topic_name must be set when events.provider is pubsub")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// HTTPTimeout converts the outbound client timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single signup request end to end.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
