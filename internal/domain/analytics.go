package domain

import "time"

// EventKind is a semantic analytics event, independent of any tracker.
type EventKind string

const (
	EventPageView            EventKind = "page_view"
	EventCTAClick            EventKind = "cta_click"
	EventFormStart           EventKind = "application_start"
	EventFormStep            EventKind = "application_step"
	EventFormSubmit          EventKind = "application_submit"
	EventFormComplete        EventKind = "application_complete"
	EventFormError           EventKind = "application_error"
	EventNewsletterSubscribe EventKind = "newsletter_subscribe"
	EventCustom              EventKind = "custom"
)

// EventKinds lists every kind in a stable order.
var EventKinds = []EventKind{
	EventPageView, EventCTAClick,
	EventFormStart, EventFormStep, EventFormSubmit, EventFormComplete, EventFormError,
	EventNewsletterSubscribe, EventCustom,
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TrackedEvent is one semantic event. It is never persisted; each tracker
// backend maps it onto its own wire format.
type TrackedEvent struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// page_view
	Path     string `json:"path,omitempty"`
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`

	// cta_click
	CTAID    string `json:"cta_id,omitempty"`
	CTALabel string `json:"cta_label,omitempty"`

	// application_*
	Form         string `json:"form,omitempty"`
	Step         int    `json:"step,omitempty"`
	StepName     string `json:"step_name,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// newsletter_subscribe
	Source string `json:"source,omitempty"`

	// custom
	Name string `json:"name,omitempty"`

	// Email is set only on server-originated events where the visitor has
	// handed it over (applications, newsletter).
	Email      string         `json:"email,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// EventName is the name the event is deduplicated under: the custom event
// name for custom events, the kind otherwise. Together with the session it
// forms the dedup key, so each event fires at most once per session and
// backend.
func (e TrackedEvent) EventName() string {
	if e.Kind == EventCustom && e.Name != "" {
		return e.Name
	}
	return string(e.Kind)
}

// Identity describes a known visitor for IdentifyUser calls.
type Identity struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email,omitempty"`
	Name   string         `json:"name,omitempty"`
	Role   string         `json:"role,omitempty"`
	Traits map[string]any `json:"traits,omitempty"`
}
