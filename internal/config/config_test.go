package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
environment: production
server:
  port: 9090
  allowed_origins:
    - "https://foundermatch.io"

email:
  provider: ses
  from_email: "team@foundermatch.io"
  ses:
    region: "eu-west-1"

queue:
  batch_size: 25
  send_delay_ms: 250

analytics:
  posthog:
    api_key: "phc_test"
  linkedin:
    access_token: "li-token"
    complete_conversion_id: "12345"

newsletter:
  feed_url: "https://foundermatch.io/blog/rss.xml"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://foundermatch.io"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, "ses", cfg.Email.Provider)
	assert.Equal(t, "team@foundermatch.io", cfg.Email.FromEmail)
	assert.Equal(t, "eu-west-1", cfg.Email.SES.Region)

	assert.Equal(t, 25, cfg.Queue.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.SendDelay())

	assert.Equal(t, "phc_test", cfg.Analytics.PostHog.APIKey)
	assert.Equal(t, "12345", cfg.Analytics.LinkedIn.CompleteConversionID)
	assert.Equal(t, "https://foundermatch.io/blog/rss.xml", cfg.Newsletter.FeedURL)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, "sparkpost", cfg.Email.HostedProvider)
	assert.Equal(t, "localhost", cfg.Email.SMTP.Host)
	assert.Equal(t, 1025, cfg.Email.SMTP.Port)
	assert.Equal(t, "https://api.sparkpost.com/api/v1", cfg.Email.SparkPost.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Email.SparkPost.Timeout())

	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Queue.SendDelay())
	assert.Equal(t, time.Minute, cfg.Queue.Interval())
	assert.Equal(t, 2*time.Minute, cfg.Queue.LockTTL())

	assert.Equal(t, "analytics_consent", cfg.Analytics.ConsentCookie)
	assert.Equal(t, 24*time.Hour, cfg.Analytics.DedupTTL())
	assert.Equal(t, 10, cfg.Analytics.ReadinessAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Analytics.ReadinessInterval())

	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, time.Hour, cfg.Newsletter.PollInterval())
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("environment: staging\n"), 0644))

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/funnel?sslmode=disable")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("EMAIL_PROVIDER", "smtp")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SPARKPOST_API_KEY", "sp-key")
	t.Setenv("EMAIL_QUEUE_BATCH_SIZE", "50")
	t.Setenv("POSTHOG_API_KEY", "phc_env")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.io, https://b.io")
	t.Setenv("ADMIN_TOKEN", "admin")
	t.Setenv("CRON_SECRET", "cron")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://u:p@db:5432/funnel?sslmode=disable", cfg.Database.URL)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "smtp", cfg.Email.Provider)
	assert.Equal(t, 2525, cfg.Email.SMTP.Port)
	assert.Equal(t, "sp-key", cfg.Email.SparkPost.APIKey)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
	assert.Equal(t, "phc_env", cfg.Analytics.PostHog.APIKey)
	assert.Equal(t, []string{"https://a.io", "https://b.io"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "admin", cfg.Security.AdminToken)
	assert.Equal(t, "cron", cfg.Security.CronSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}
