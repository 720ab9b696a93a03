package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the funnel services.
type Config struct {
	Environment string           `yaml:"environment"`
	LogLevel    string           `yaml:"log_level"`
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	Redis       RedisConfig      `yaml:"redis"`
	Email       EmailConfig      `yaml:"email"`
	Queue       QueueConfig      `yaml:"queue"`
	Analytics   AnalyticsConfig  `yaml:"analytics"`
	Newsletter  NewsletterConfig `yaml:"newsletter"`
	Security    SecurityConfig   `yaml:"security"`
}

// IsProduction reports whether hosted providers should be used.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig is optional; an empty URL disables Redis-backed features.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// EmailConfig selects and configures the delivery backend.
type EmailConfig struct {
	// Provider forces a backend: smtp, sparkpost, ses or log. Empty means
	// HostedProvider in production and smtp elsewhere.
	Provider       string          `yaml:"provider"`
	HostedProvider string          `yaml:"hosted_provider"`
	FromName       string          `yaml:"from_name"`
	FromEmail      string          `yaml:"from_email"`
	ReplyTo        string          `yaml:"reply_to"`
	SMTP           SMTPConfig      `yaml:"smtp"`
	SparkPost      SparkPostConfig `yaml:"sparkpost"`
	SES            SESConfig       `yaml:"ses"`
	Breaker        BreakerConfig   `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of hosted providers.
type BreakerConfig struct {
	Failures        int `yaml:"failures"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

func (c BreakerConfig) Cooldown() time.Duration { return time.Duration(c.CooldownSeconds) * time.Second }

// SMTPConfig points at a local SMTP sink such as Mailpit.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES credentials. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Region           string `yaml:"region"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// QueueConfig tunes the email queue processor.
type QueueConfig struct {
	BatchSize       int `yaml:"batch_size"`
	MaxAttempts     int `yaml:"max_attempts"`
	IntervalSeconds int `yaml:"interval_seconds"`
	SendDelayMillis int `yaml:"send_delay_ms"`
	LockTTLSeconds  int `yaml:"lock_ttl_seconds"`
	// InProcessWorker runs the processor inside the HTTP server instead of
	// relying on cmd/worker.
	InProcessWorker bool `yaml:"in_process_worker"`
}

func (c QueueConfig) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }
func (c QueueConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMillis) * time.Millisecond
}
func (c QueueConfig) LockTTL() time.Duration { return time.Duration(c.LockTTLSeconds) * time.Second }

// AnalyticsConfig configures the dispatcher and its tracker backends. A
// backend is enabled when its credentials are present.
type AnalyticsConfig struct {
	ConsentCookie           string          `yaml:"consent_cookie"`
	DedupTTLMinutes         int             `yaml:"dedup_ttl_minutes"`
	ReadinessAttempts       int             `yaml:"readiness_attempts"`
	ReadinessIntervalMillis int             `yaml:"readiness_interval_ms"`
	ProbeEndpoints          bool            `yaml:"probe_endpoints"`
	PostHog                 PostHogConfig   `yaml:"posthog"`
	GA                      GAConfig        `yaml:"google_analytics"`
	MetaPixel               MetaPixelConfig `yaml:"meta_pixel"`
	LinkedIn                LinkedInConfig  `yaml:"linkedin"`
	HubSpot                 HubSpotConfig   `yaml:"hubspot"`
}

func (c AnalyticsConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLMinutes) * time.Minute
}
func (c AnalyticsConfig) ReadinessInterval() time.Duration {
	return time.Duration(c.ReadinessIntervalMillis) * time.Millisecond
}

type PostHogConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"`
}

type GAConfig struct {
	MeasurementID string `yaml:"measurement_id"`
	APISecret     string `yaml:"api_secret"`
	Endpoint      string `yaml:"endpoint"`
}

type MetaPixelConfig struct {
	PixelID     string `yaml:"pixel_id"`
	AccessToken string `yaml:"access_token"`
	APIVersion  string `yaml:"api_version"`
	Endpoint    string `yaml:"endpoint"`
}

// LinkedInConfig maps conversion-bearing event kinds to conversion rule ids.
type LinkedInConfig struct {
	AccessToken            string `yaml:"access_token"`
	APIVersion             string `yaml:"api_version"`
	Endpoint               string `yaml:"endpoint"`
	SubmitConversionID     string `yaml:"submit_conversion_id"`
	CompleteConversionID   string `yaml:"complete_conversion_id"`
	NewsletterConversionID string `yaml:"newsletter_conversion_id"`
}

type HubSpotConfig struct {
	AccessToken        string `yaml:"access_token"`
	PortalID           string `yaml:"portal_id"`
	NewsletterFormGUID string `yaml:"newsletter_form_guid"`
	Endpoint           string `yaml:"endpoint"`
	FormsEndpoint      string `yaml:"forms_endpoint"`
}

// NewsletterConfig drives the blog digest and unsubscribe links.
type NewsletterConfig struct {
	FeedURL             string `yaml:"feed_url"`
	SiteURL             string `yaml:"site_url"`
	PollIntervalMinutes int    `yaml:"poll_interval_minutes"`
	MaxItems            int    `yaml:"max_items"`
}

func (c NewsletterConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// SecurityConfig holds the shared secrets for admin and cron endpoints.
type SecurityConfig struct {
	AdminToken string `yaml:"admin_token"`
	CronSecret string `yaml:"cron_secret"`
}

// Load reads the YAML file at path and applies defaults. An empty path
// yields a default configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}

	if cfg.Email.HostedProvider == "" {
		cfg.Email.HostedProvider = "sparkpost"
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = "FounderMatch"
	}
	if cfg.Email.FromEmail == "" {
		cfg.Email.FromEmail = "hello@foundermatch.io"
	}
	if cfg.Email.SMTP.Host == "" {
		cfg.Email.SMTP.Host = "localhost"
	}
	if cfg.Email.SMTP.Port == 0 {
		cfg.Email.SMTP.Port = 1025
	}
	if cfg.Email.SparkPost.BaseURL == "" {
		cfg.Email.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.Email.SparkPost.TimeoutSeconds == 0 {
		cfg.Email.SparkPost.TimeoutSeconds = 30
	}
	if cfg.Email.Breaker.Failures == 0 {
		cfg.Email.Breaker.Failures = 5
	}
	if cfg.Email.Breaker.CooldownSeconds == 0 {
		cfg.Email.Breaker.CooldownSeconds = 30
	}
	if cfg.Email.SES.Region == "" {
		cfg.Email.SES.Region = "us-east-1"
	}

	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 10
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.IntervalSeconds == 0 {
		cfg.Queue.IntervalSeconds = 60
	}
	if cfg.Queue.SendDelayMillis == 0 {
		cfg.Queue.SendDelayMillis = 100
	}
	if cfg.Queue.LockTTLSeconds == 0 {
		cfg.Queue.LockTTLSeconds = 120
	}

	if cfg.Analytics.ConsentCookie == "" {
		cfg.Analytics.ConsentCookie = "analytics_consent"
	}
	if cfg.Analytics.DedupTTLMinutes == 0 {
		cfg.Analytics.DedupTTLMinutes = 24 * 60
	}
	if cfg.Analytics.ReadinessAttempts == 0 {
		cfg.Analytics.ReadinessAttempts = 10
	}
	if cfg.Analytics.ReadinessIntervalMillis == 0 {
		cfg.Analytics.ReadinessIntervalMillis = 500
	}
	if cfg.Analytics.PostHog.Host == "" {
		cfg.Analytics.PostHog.Host = "https://us.i.posthog.com"
	}
	if cfg.Analytics.GA.Endpoint == "" {
		cfg.Analytics.GA.Endpoint = "https://www.google-analytics.com"
	}
	if cfg.Analytics.MetaPixel.Endpoint == "" {
		cfg.Analytics.MetaPixel.Endpoint = "https://graph.facebook.com"
	}
	if cfg.Analytics.MetaPixel.APIVersion == "" {
		cfg.Analytics.MetaPixel.APIVersion = "v19.0"
	}
	if cfg.Analytics.LinkedIn.Endpoint == "" {
		cfg.Analytics.LinkedIn.Endpoint = "https://api.linkedin.com"
	}
	if cfg.Analytics.LinkedIn.APIVersion == "" {
		cfg.Analytics.LinkedIn.APIVersion = "202404"
	}
	if cfg.Analytics.HubSpot.Endpoint == "" {
		cfg.Analytics.HubSpot.Endpoint = "https://api.hubapi.com"
	}
	if cfg.Analytics.HubSpot.FormsEndpoint == "" {
		cfg.Analytics.HubSpot.FormsEndpoint = "https://api.hsforms.com"
	}

	if cfg.Newsletter.SiteURL == "" {
		cfg.Newsletter.SiteURL = "http://localhost:3000"
	}
	if cfg.Newsletter.PollIntervalMinutes == 0 {
		cfg.Newsletter.PollIntervalMinutes = 60
	}
	if cfg.Newsletter.MaxItems == 0 {
		cfg.Newsletter.MaxItems = 5
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "PORT")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")

	setString(&cfg.Email.Provider, "EMAIL_PROVIDER")
	setString(&cfg.Email.FromEmail, "EMAIL_FROM")
	setString(&cfg.Email.FromName, "EMAIL_FROM_NAME")
	setString(&cfg.Email.ReplyTo, "EMAIL_REPLY_TO")
	setString(&cfg.Email.SMTP.Host, "SMTP_HOST")
	setInt(&cfg.Email.SMTP.Port, "SMTP_PORT")
	setString(&cfg.Email.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.Email.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.Email.SparkPost.APIKey, "SPARKPOST_API_KEY")
	setString(&cfg.Email.SparkPost.BaseURL, "SPARKPOST_BASE_URL")
	setString(&cfg.Email.SES.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.Email.SES.SecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.Email.SES.Region, "AWS_SES_REGION")

	setInt(&cfg.Queue.BatchSize, "EMAIL_QUEUE_BATCH_SIZE")
	setInt(&cfg.Queue.MaxAttempts, "EMAIL_QUEUE_MAX_ATTEMPTS")

	setString(&cfg.Analytics.PostHog.APIKey, "POSTHOG_API_KEY")
	setString(&cfg.Analytics.PostHog.Host, "POSTHOG_HOST")
	setString(&cfg.Analytics.GA.MeasurementID, "GA_MEASUREMENT_ID")
	setString(&cfg.Analytics.GA.APISecret, "GA_API_SECRET")
	setString(&cfg.Analytics.MetaPixel.PixelID, "META_PIXEL_ID")
	setString(&cfg.Analytics.MetaPixel.AccessToken, "META_ACCESS_TOKEN")
	setString(&cfg.Analytics.LinkedIn.AccessToken, "LINKEDIN_ACCESS_TOKEN")
	setString(&cfg.Analytics.HubSpot.AccessToken, "HUBSPOT_ACCESS_TOKEN")
	setString(&cfg.Analytics.HubSpot.PortalID, "HUBSPOT_PORTAL_ID")

	setString(&cfg.Newsletter.FeedURL, "BLOG_FEED_URL")
	setString(&cfg.Newsletter.SiteURL, "SITE_URL")

	setString(&cfg.Security.AdminToken, "ADMIN_TOKEN")
	setString(&cfg.Security.CronSecret, "CRON_SECRET")

	return cfg, nil
}

func setString(dst *string, key string) {
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

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
