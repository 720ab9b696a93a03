package analytics

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httpretry"
)

// GA4 sends events through the Google Analytics 4 Measurement Protocol.
type GA4 struct {
	eventRouter
	measurementID string
	apiSecret     string
	endpoint      string
	client        httpretry.HTTPDoer
	probe         bool
}

func NewGA4(measurementID, apiSecret, endpoint string, client httpretry.HTTPDoer, probeEndpoint bool) *GA4 {
	g := &GA4{
		measurementID: measurementID,
		apiSecret:     apiSecret,
		endpoint:      strings.TrimRight(endpoint, "/"),
		client:        client,
		probe:         probeEndpoint,
	}
	g.eventRouter = eventRouter{track: g.send}
	return g
}

func (g *GA4) Name() string { return "google_analytics" }

func (g *GA4) Initialize(ctx context.Context) error {
	if g.measurementID == "" || g.apiSecret == "" {
		return ErrNotConfigured
	}
	if g.probe {
		return probe(ctx, g.client, g.endpoint+"/")
	}
	return nil
}

type gaPayload struct {
	ClientID        string         `json:"client_id"`
	UserID          string         `json:"user_id,omitempty"`
	TimestampMicros int64          `json:"timestamp_micros,omitempty"`
	UserProperties  map[string]any `json:"user_properties,omitempty"`
	Events          []gaEvent      `json:"events"`
}

type gaEvent struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// gaEventNames maps kinds onto GA4 recommended events where one exists.
var gaEventNames = map[domain.EventKind]string{
	domain.EventPageView:            "page_view",
	domain.EventCTAClick:            "select_content",
	domain.EventFormStart:           "application_start",
	domain.EventFormStep:            "application_step",
	domain.EventFormSubmit:          "application_submit",
	domain.EventFormComplete:        "generate_lead",
	domain.EventFormError:           "application_error",
	domain.EventNewsletterSubscribe: "sign_up",
}

var gaNameCleaner = regexp.MustCompile(`[^A-Za-z0-9_]`)

// gaName returns a valid GA4 event name: letters, digits, underscores, at
// most 40 characters, starting with a letter.
func gaName(ev domain.TrackedEvent) string {
	if name, ok := gaEventNames[ev.Kind]; ok {
		return name
	}
	name := gaNameCleaner.ReplaceAllString(eventName(ev), "_")
	if name == "" || !(name[0] >= 'A' && name[0] <= 'Z' || name[0] >= 'a' && name[0] <= 'z') {
		name = "e_" + name
	}
	if len(name) > 40 {
		name = name[:40]
	}
	return name
}

func (g *GA4) send(ctx context.Context, ev domain.TrackedEvent) error {
	params := eventProperties(ev)
	params["session_id"] = ev.SessionID
	switch ev.Kind {
	case domain.EventPageView:
		params["page_location"] = ev.Path
		if ev.Title != "" {
			params["page_title"] = ev.Title
		}
		if ev.Referrer != "" {
			params["page_referrer"] = ev.Referrer
		}
	case domain.EventCTAClick:
		params["content_type"] = "cta"
		params["content_id"] = ev.CTAID
	case domain.EventNewsletterSubscribe:
		params["method"] = "newsletter"
	}

	return postJSON(ctx, g.client, g.collectURL(), gaPayload{
		ClientID:        ev.SessionID,
		UserID:          ev.UserID,
		TimestampMicros: eventTime(ev).UnixMicro(),
		Events:          []gaEvent{{Name: gaName(ev), Params: params}},
	}, nil)
}

func (g *GA4) IdentifyUser(ctx context.Context, sessionID string, id domain.Identity) error {
	props := map[string]any{}
	if id.Role != "" {
		props["role"] = map[string]any{"value": id.Role}
	}
	return postJSON(ctx, g.client, g.collectURL(), gaPayload{
		ClientID:       sessionID,
		UserID:         id.UserID,
		UserProperties: props,
		Events:         []gaEvent{{Name: "login", Params: map[string]any{"method": "application"}}},
	}, nil)
}

func (g *GA4) collectURL() string {
	q := url.Values{}
	q.Set("measurement_id", g.measurementID)
	q.Set("api_secret", g.apiSecret)
	return g.endpoint + "/mp/collect?" + q.Encode()
}
