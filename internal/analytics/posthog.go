package analytics

import (
	"context"
	"strings"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httpretry"
)

// PostHog sends events to the PostHog capture endpoint.
type PostHog struct {
	eventRouter
	apiKey string
	host   string
	client httpretry.HTTPDoer
	probe  bool
}

func NewPostHog(apiKey, host string, client httpretry.HTTPDoer, probeEndpoint bool) *PostHog {
	p := &PostHog{apiKey: apiKey, host: strings.TrimRight(host, "/"), client: client, probe: probeEndpoint}
	p.eventRouter = eventRouter{track: p.capture}
	return p
}

func (p *PostHog) Name() string { return "posthog" }

func (p *PostHog) Initialize(ctx context.Context) error {
	if p.apiKey == "" || p.host == "" {
		return ErrNotConfigured
	}
	if p.probe {
		return probe(ctx, p.client, p.host+"/decide/?v=3")
	}
	return nil
}

type posthogEvent struct {
	APIKey     string         `json:"api_key"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

func (p *PostHog) capture(ctx context.Context, ev domain.TrackedEvent) error {
	props := eventProperties(ev)
	props["$session_id"] = ev.SessionID
	name := eventName(ev)
	if ev.Kind == domain.EventPageView {
		name = "$pageview"
		props["$current_url"] = ev.Path
		props["$pathname"] = ev.Path
	}
	distinct := ev.UserID
	if distinct == "" {
		distinct = ev.SessionID
	}
	return postJSON(ctx, p.client, p.host+"/capture/", posthogEvent{
		APIKey:     p.apiKey,
		Event:      name,
		DistinctID: distinct,
		Properties: props,
		Timestamp:  eventTime(ev).Format("2006-01-02T15:04:05.000Z07:00"),
	}, nil)
}

func (p *PostHog) IdentifyUser(ctx context.Context, sessionID string, id domain.Identity) error {
	set := make(map[string]any, len(id.Traits)+3)
	for k, v := range id.Traits {
		set[k] = v
	}
	if id.Email != "" {
		set["email"] = id.Email
	}
	if id.Name != "" {
		set["name"] = id.Name
	}
	if id.Role != "" {
		set["role"] = id.Role
	}
	distinct := id.UserID
	if distinct == "" {
		distinct = strings.ToLower(id.Email)
	}
	return postJSON(ctx, p.client, p.host+"/capture/", posthogEvent{
		APIKey:     p.apiKey,
		Event:      "$identify",
		DistinctID: distinct,
		Properties: map[string]any{
			"$anon_distinct_id": sessionID,
			"$set":              set,
		},
	}, nil)
}
