package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/foundermatch/funnel/internal/config"
	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/service/sending"
)

// ResolveProvider picks the backend for cfg: an explicit provider wins,
// production gets the hosted provider, everything else the SMTP sink.
func ResolveProvider(cfg *config.Config) (domain.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Email.Provider))
	if name == "" {
		if cfg.IsProduction() {
			name = strings.ToLower(cfg.Email.HostedProvider)
		} else {
			name = string(domain.ProviderSMTP)
		}
	}
	switch p := domain.Provider(name); p {
	case domain.ProviderSMTP, domain.ProviderSparkPost, domain.ProviderSES, domain.ProviderLog:
		return p, nil
	}
	return "", fmt.Errorf("unknown email provider %q", name)
}

// NewSender builds the provider chosen by ResolveProvider. Hosted providers
// sit behind a circuit breaker.
func NewSender(ctx context.Context, cfg *config.Config) (sending.Sender, domain.Provider, error) {
	p, err := ResolveProvider(cfg)
	if err != nil {
		return nil, "", err
	}
	ec := cfg.Email
	switch p {
	case domain.ProviderSparkPost:
		if ec.SparkPost.APIKey == "" {
			return nil, p, fmt.Errorf("SPARKPOST_API_KEY is required for the sparkpost provider")
		}
		s := NewSparkPostSender(ec.SparkPost.APIKey, ec.SparkPost.BaseURL, nil, ec.SparkPost.Timeout())
		return NewBreakerSender(string(p), s, ec.Breaker.Failures, ec.Breaker.Cooldown()), p, nil
	case domain.ProviderSES:
		s, err := NewSESSender(ctx, ec.SES.AccessKey, ec.SES.SecretKey, ec.SES.Region, ec.SES.ConfigurationSet)
		if err != nil {
			return nil, p, err
		}
		return NewBreakerSender(string(p), s, ec.Breaker.Failures, ec.Breaker.Cooldown()), p, nil
	case domain.ProviderLog:
		return LogSender{}, p, nil
	default:
		return NewSMTPSender(ec.SMTP.Host, ec.SMTP.Port, ec.SMTP.Username, ec.SMTP.Password), p, nil
	}
}

// NewMailerFromConfig is NewSender plus the configured sender defaults.
func NewMailerFromConfig(ctx context.Context, cfg *config.Config) (*Mailer, error) {
	s, p, err := NewSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewMailer(s, p, Defaults{
		FromName:  cfg.Email.FromName,
		FromEmail: cfg.Email.FromEmail,
		ReplyTo:   cfg.Email.ReplyTo,
	}), nil
}
