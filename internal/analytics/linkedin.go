package analytics

import (
	"context"
	"net/http"
	"strings"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httpretry"
)

// LinkedIn reports conversions through the LinkedIn Conversions API. Only
// kinds with a configured conversion rule produce calls, and only when the
// event carries an email to match on.
type LinkedIn struct {
	eventRouter
	conversions map[domain.EventKind]string
	apiVersion  string
	endpoint    string
	client      httpretry.HTTPDoer
	configured  bool
	probe       bool
}

// NewLinkedIn creates the adapter. client must attach the bearer token,
// see NewBackends.
func NewLinkedIn(conversions map[domain.EventKind]string, apiVersion, endpoint string, client httpretry.HTTPDoer, configured, probeEndpoint bool) *LinkedIn {
	l := &LinkedIn{
		conversions: conversions,
		apiVersion:  apiVersion,
		endpoint:    strings.TrimRight(endpoint, "/"),
		client:      client,
		configured:  configured,
		probe:       probeEndpoint,
	}
	l.eventRouter = eventRouter{track: l.send}
	return l
}

func (l *LinkedIn) Name() string { return "linkedin" }

func (l *LinkedIn) Initialize(ctx context.Context) error {
	if !l.configured || len(l.conversions) == 0 {
		return ErrNotConfigured
	}
	if l.probe {
		return probe(ctx, l.client, l.endpoint+"/")
	}
	return nil
}

type linkedInConversion struct {
	Conversion           string       `json:"conversion"`
	ConversionHappenedAt int64        `json:"conversionHappenedAt"`
	EventID              string       `json:"eventId,omitempty"`
	User                 linkedInUser `json:"user"`
}

type linkedInUser struct {
	UserIDs []linkedInUserID `json:"userIds"`
}

type linkedInUserID struct {
	IDType  string `json:"idType"`
	IDValue string `json:"idValue"`
}

func (l *LinkedIn) send(ctx context.Context, ev domain.TrackedEvent) error {
	rule, ok := l.conversions[ev.Kind]
	if !ok || rule == "" || ev.Email == "" {
		return nil
	}
	header := http.Header{}
	header.Set("LinkedIn-Version", l.apiVersion)
	header.Set("X-Restli-Protocol-Version", "2.0.0")

	return postJSON(ctx, l.client, l.endpoint+"/rest/conversionEvents", linkedInConversion{
		Conversion:           "urn:lla:llaPartnerConversion:" + rule,
		ConversionHappenedAt: eventTime(ev).UnixMilli(),
		EventID:              dedupKey(l.Name(), ev.EventName(), ev.SessionID),
		User: linkedInUser{UserIDs: []linkedInUserID{
			{IDType: "SHA256_EMAIL", IDValue: hashSHA256(ev.Email)},
		}},
	}, header)
}

// IdentifyUser is a no-op: conversions carry their own user ids.
func (l *LinkedIn) IdentifyUser(context.Context, string, domain.Identity) error { return nil }
