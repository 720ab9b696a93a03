package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httpretry"
)

// ErrNotConfigured is returned by Initialize when a backend lacks the
// credentials it needs. The dispatcher does not retry it.
var ErrNotConfigured = errors.New("analytics backend not configured")

// Backend is one tracker. Every method must be safe for concurrent use.
type Backend interface {
	Name() string
	// Initialize reports whether the backend can accept calls. The
	// dispatcher polls it until it succeeds or the retry budget runs out.
	Initialize(ctx context.Context) error

	IdentifyUser(ctx context.Context, sessionID string, id domain.Identity) error
	TrackPageView(ctx context.Context, ev domain.TrackedEvent) error
	TrackCTAClick(ctx context.Context, ev domain.TrackedEvent) error
	TrackFormStart(ctx context.Context, ev domain.TrackedEvent) error
	TrackFormStep(ctx context.Context, ev domain.TrackedEvent) error
	TrackFormSubmit(ctx context.Context, ev domain.TrackedEvent) error
	TrackFormComplete(ctx context.Context, ev domain.TrackedEvent) error
	TrackFormError(ctx context.Context, ev domain.TrackedEvent) error
	TrackNewsletterSubscribe(ctx context.Context, ev domain.TrackedEvent) error
	TrackCustom(ctx context.Context, ev domain.TrackedEvent) error
}

// eventRouter implements every Track method by forwarding to one function.
// Adapters embed it and override the kinds they treat differently.
type eventRouter struct {
	track func(ctx context.Context, ev domain.TrackedEvent) error
}

func (r eventRouter) TrackPageView(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackCTAClick(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackFormStart(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackFormStep(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackFormSubmit(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackFormComplete(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackFormError(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackNewsletterSubscribe(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}
func (r eventRouter) TrackCustom(ctx context.Context, ev domain.TrackedEvent) error {
	return r.track(ctx, ev)
}

// route calls the Backend method matching ev.Kind.
func route(ctx context.Context, b Backend, ev domain.TrackedEvent) error {
	switch ev.Kind {
	case domain.EventPageView:
		return b.TrackPageView(ctx, ev)
	case domain.EventCTAClick:
		return b.TrackCTAClick(ctx, ev)
	case domain.EventFormStart:
		return b.TrackFormStart(ctx, ev)
	case domain.EventFormStep:
		return b.TrackFormStep(ctx, ev)
	case domain.EventFormSubmit:
		return b.TrackFormSubmit(ctx, ev)
	case domain.EventFormComplete:
		return b.TrackFormComplete(ctx, ev)
	case domain.EventFormError:
		return b.TrackFormError(ctx, ev)
	case domain.EventNewsletterSubscribe:
		return b.TrackNewsletterSubscribe(ctx, ev)
	case domain.EventCustom:
		return b.TrackCustom(ctx, ev)
	}
	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

// eventProperties flattens the kind-specific payload into a property map.
func eventProperties(ev domain.TrackedEvent) map[string]any {
	props := make(map[string]any, len(ev.Properties)+4)
	for k, v := range ev.Properties {
		props[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			props[k] = v
		}
	}
	set("path", ev.Path)
	set("title", ev.Title)
	set("referrer", ev.Referrer)
	set("cta_id", ev.CTAID)
	set("cta_label", ev.CTALabel)
	set("form", ev.Form)
	set("step_name", ev.StepName)
	set("error_message", ev.ErrorMessage)
	set("source", ev.Source)
	if ev.Kind == domain.EventFormStep {
		props["step"] = ev.Step
	}
	return props
}

// eventName is the tracker-neutral name: the custom name for custom events,
// the kind otherwise.
func eventName(ev domain.TrackedEvent) string {
	if ev.Kind == domain.EventCustom && ev.Name != "" {
		return ev.Name
	}
	return string(ev.Kind)
}

// postJSON sends body and fails on any non-2xx status.
func postJSON(ctx context.Context, client httpretry.HTTPDoer, url string, body any, header http.Header) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", redactQuery(url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", redactQuery(url), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// probe reports whether endpoint answers at all. Any status below 500
// counts as reachable.
func probe(ctx context.Context, client httpretry.HTTPDoer, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create probe: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", endpoint, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// redactQuery drops query strings, which carry secrets for GA and Meta.
func redactQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

func eventTime(ev domain.TrackedEvent) time.Time {
	if ev.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return ev.Timestamp.UTC()
}
