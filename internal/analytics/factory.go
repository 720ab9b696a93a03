package analytics

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/foundermatch/funnel/internal/config"
	"github.com/foundermatch/funnel/internal/domain"
)

// NewBackends builds every tracker adapter from cfg. Unconfigured backends
// are still returned; Initialize leaves them un-ready. A nil client gets a
// 10s-timeout http.Client.
func NewBackends(cfg config.AnalyticsConfig, client *http.Client) []Backend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	probe := cfg.ProbeEndpoints

	li := cfg.LinkedIn
	conversions := map[domain.EventKind]string{}
	if li.SubmitConversionID != "" {
		conversions[domain.EventFormSubmit] = li.SubmitConversionID
	}
	if li.CompleteConversionID != "" {
		conversions[domain.EventFormComplete] = li.CompleteConversionID
	}
	if li.NewsletterConversionID != "" {
		conversions[domain.EventNewsletterSubscribe] = li.NewsletterConversionID
	}

	hs := cfg.HubSpot
	return []Backend{
		NewPostHog(cfg.PostHog.APIKey, cfg.PostHog.Host, client, probe),
		NewGA4(cfg.GA.MeasurementID, cfg.GA.APISecret, cfg.GA.Endpoint, client, probe),
		NewMetaPixel(cfg.MetaPixel.PixelID, cfg.MetaPixel.AccessToken, cfg.MetaPixel.APIVersion, cfg.MetaPixel.Endpoint, client, probe),
		NewLinkedIn(conversions, li.APIVersion, li.Endpoint, bearerClient(client, li.AccessToken),
			li.AccessToken != "", probe),
		NewHubSpot(hs.PortalID, hs.NewsletterFormGUID, hs.Endpoint, hs.FormsEndpoint, bearerClient(client, hs.AccessToken),
			hs.AccessToken != "", probe),
	}
}

// bearerClient wraps base so every request carries token as an OAuth2
// bearer credential.
func bearerClient(base *http.Client, token string) *http.Client {
	if token == "" {
		return base
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	c := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	c.Timeout = base.Timeout
	return c
}

// NewDispatcherFromConfig wires the configured backends with a Redis ledger
// when rdb is non-nil and an in-memory ledger otherwise.
func NewDispatcherFromConfig(cfg config.AnalyticsConfig, rdb *redis.Client, client *http.Client) *Dispatcher {
	var ledger Ledger = NewMemoryLedger(cfg.DedupTTL())
	if rdb != nil {
		ledger = NewRedisLedger(rdb, cfg.DedupTTL())
	}
	return NewDispatcher(NewBackends(cfg, client),
		WithLedger(ledger),
		WithReadiness(Readiness{Attempts: cfg.ReadinessAttempts, Interval: cfg.ReadinessInterval()}),
	)
}
