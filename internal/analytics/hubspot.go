package analytics

import (
	"context"
	"strings"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httpretry"
)

// HubSpot sends custom behavioural events and, for identify and newsletter
// signups, a Forms API submission that creates or updates the contact.
type HubSpot struct {
	eventRouter
	portalID       string
	newsletterForm string
	endpoint       string
	formsEndpoint  string
	client         httpretry.HTTPDoer
	configured     bool
	probe          bool
}

// NewHubSpot creates the adapter. client must attach the private-app
// token, see NewBackends.
func NewHubSpot(portalID, newsletterForm, endpoint, formsEndpoint string, client httpretry.HTTPDoer, configured, probeEndpoint bool) *HubSpot {
	h := &HubSpot{
		portalID:       portalID,
		newsletterForm: newsletterForm,
		endpoint:       strings.TrimRight(endpoint, "/"),
		formsEndpoint:  strings.TrimRight(formsEndpoint, "/"),
		client:         client,
		configured:     configured,
		probe:          probeEndpoint,
	}
	h.eventRouter = eventRouter{track: h.sendEvent}
	return h
}

func (h *HubSpot) Name() string { return "hubspot" }

func (h *HubSpot) Initialize(ctx context.Context) error {
	if !h.configured || h.portalID == "" {
		return ErrNotConfigured
	}
	if h.probe {
		return probe(ctx, h.client, h.endpoint+"/")
	}
	return nil
}

type hubspotEvent struct {
	EventName  string         `json:"eventName"`
	Email      string         `json:"email,omitempty"`
	ObjectID   string         `json:"objectId,omitempty"`
	OccurredAt string         `json:"occurredAt"`
	Properties map[string]any `json:"properties,omitempty"`
}

type hubspotForm struct {
	Fields  []hubspotField    `json:"fields"`
	Context map[string]string `json:"context,omitempty"`
}

type hubspotField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TrackPageView is a no-op: page views come from the HubSpot tracking code.
func (h *HubSpot) TrackPageView(context.Context, domain.TrackedEvent) error { return nil }

// TrackNewsletterSubscribe submits the newsletter form when one is
// configured and falls back to a behavioural event otherwise.
func (h *HubSpot) TrackNewsletterSubscribe(ctx context.Context, ev domain.TrackedEvent) error {
	if h.newsletterForm == "" || ev.Email == "" {
		return h.sendEvent(ctx, ev)
	}
	ctxFields := map[string]string{}
	if ev.Path != "" {
		ctxFields["pageUri"] = ev.Path
	}
	return h.submitForm(ctx, []hubspotField{{Name: "email", Value: ev.Email}}, ctxFields)
}

func (h *HubSpot) sendEvent(ctx context.Context, ev domain.TrackedEvent) error {
	// Behavioural events must be attached to a contact.
	if ev.Email == "" && ev.UserID == "" {
		return nil
	}
	return postJSON(ctx, h.client, h.endpoint+"/events/v3/send", hubspotEvent{
		EventName:  h.eventName(ev),
		Email:      ev.Email,
		ObjectID:   ev.UserID,
		OccurredAt: eventTime(ev).Format("2006-01-02T15:04:05.000Z"),
		Properties: eventProperties(ev),
	}, nil)
}

// eventName builds the fully qualified custom event name pe<portal>_<name>.
func (h *HubSpot) eventName(ev domain.TrackedEvent) string {
	name := strings.ToLower(gaNameCleaner.ReplaceAllString(eventName(ev), "_"))
	return "pe" + h.portalID + "_" + name
}

func (h *HubSpot) IdentifyUser(ctx context.Context, _ string, id domain.Identity) error {
	if id.Email == "" || h.newsletterForm == "" {
		return nil
	}
	fields := []hubspotField{{Name: "email", Value: id.Email}}
	if id.Name != "" {
		first, last, _ := strings.Cut(strings.TrimSpace(id.Name), " ")
		fields = append(fields, hubspotField{Name: "firstname", Value: first})
		if last != "" {
			fields = append(fields, hubspotField{Name: "lastname", Value: strings.TrimSpace(last)})
		}
	}
	if id.Role != "" {
		fields = append(fields, hubspotField{Name: "funnel_role", Value: id.Role})
	}
	return h.submitForm(ctx, fields, nil)
}

func (h *HubSpot) submitForm(ctx context.Context, fields []hubspotField, formCtx map[string]string) error {
	url := h.formsEndpoint + "/submissions/v3/integration/submit/" + h.portalID + "/" + h.newsletterForm
	return postJSON(ctx, h.client, url, hubspotForm{Fields: fields, Context: formCtx}, nil)
}
