package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httpretry"
)

// MetaPixel sends events through the Meta Conversions API.
type MetaPixel struct {
	eventRouter
	pixelID     string
	accessToken string
	apiVersion  string
	endpoint    string
	client      httpretry.HTTPDoer
	probe       bool
}

func NewMetaPixel(pixelID, accessToken, apiVersion, endpoint string, client httpretry.HTTPDoer, probeEndpoint bool) *MetaPixel {
	m := &MetaPixel{
		pixelID:     pixelID,
		accessToken: accessToken,
		apiVersion:  apiVersion,
		endpoint:    strings.TrimRight(endpoint, "/"),
		client:      client,
		probe:       probeEndpoint,
	}
	m.eventRouter = eventRouter{track: m.send}
	return m
}

func (m *MetaPixel) Name() string { return "meta_pixel" }

func (m *MetaPixel) Initialize(ctx context.Context) error {
	if m.pixelID == "" || m.accessToken == "" {
		return ErrNotConfigured
	}
	if m.probe {
		return probe(ctx, m.client, m.endpoint+"/")
	}
	return nil
}

// metaEventNames maps kinds onto Meta standard events; the rest are sent
// as custom events under their own name.
var metaEventNames = map[domain.EventKind]string{
	domain.EventPageView:            "PageView",
	domain.EventCTAClick:            "ViewContent",
	domain.EventFormStart:           "InitiateCheckout",
	domain.EventFormSubmit:          "SubmitApplication",
	domain.EventFormComplete:        "CompleteRegistration",
	domain.EventNewsletterSubscribe: "Subscribe",
}

type metaRequest struct {
	Data []metaEvent `json:"data"`
}

type metaEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id,omitempty"`
	ActionSource   string         `json:"action_source"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	UserData       metaUserData   `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

type metaUserData struct {
	ExternalID []string `json:"external_id,omitempty"`
	Email      []string `json:"em,omitempty"`
}

func (m *MetaPixel) send(ctx context.Context, ev domain.TrackedEvent) error {
	name, ok := metaEventNames[ev.Kind]
	if !ok {
		name = eventName(ev)
	}
	external := ev.UserID
	if external == "" {
		external = ev.SessionID
	}
	user := metaUserData{ExternalID: []string{hashSHA256(external)}}
	if ev.Email != "" {
		user.Email = []string{hashSHA256(ev.Email)}
	}

	return postJSON(ctx, m.client, m.eventsURL(), metaRequest{Data: []metaEvent{{
		EventName:      name,
		EventTime:      eventTime(ev).Unix(),
		EventID:        dedupKey(m.Name(), ev.EventName(), ev.SessionID),
		ActionSource:   "website",
		EventSourceURL: ev.Path,
		UserData:       user,
		CustomData:     eventProperties(ev),
	}}}, nil)
}

// IdentifyUser is a no-op: the Conversions API matches users per event.
func (m *MetaPixel) IdentifyUser(context.Context, string, domain.Identity) error { return nil }

func (m *MetaPixel) eventsURL() string {
	return m.endpoint + "/" + m.apiVersion + "/" + url.PathEscape(m.pixelID) +
		"/events?access_token=" + url.QueryEscape(m.accessToken)
}

// hashSHA256 normalises and hashes an identifier the way Meta and LinkedIn
// expect: trimmed, lower-cased, hex-encoded SHA-256.
func hashSHA256(v string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(sum[:])
}
