package api

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/httputil"
	"github.com/foundermatch/funnel/internal/service/applications"
	"github.com/foundermatch/funnel/internal/service/emailqueue"
	"github.com/foundermatch/funnel/internal/service/newsletter"
)

// QueueService is the email queue surface used by the API.
type QueueService interface {
	ProcessEmailQueue(ctx context.Context, maxBatch int) domain.ProcessResult
	Get(ctx context.Context, id string) (*domain.QueuedEmail, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	ListFailed(ctx context.Context, limit int) ([]domain.QueuedEmail, error)
}

// ApplicationService accepts applications.
type ApplicationService interface {
	Submit(ctx context.Context, role domain.ApplicantRole, in applications.Input) (*domain.Application, error)
	Get(ctx context.Context, id string) (*domain.Application, error)
}

// NewsletterService manages subscriptions and campaigns.
type NewsletterService interface {
	Subscribe(ctx context.Context, email, source, sessionID string) (*domain.Subscriber, error)
	Unsubscribe(ctx context.Context, token string) (*domain.Subscriber, error)
	QueueCampaign(ctx context.Context, subject, html string, scheduledAt time.Time) (newsletter.CampaignResult, error)
}

// Tracker dispatches analytics events.
type Tracker interface {
	Track(ctx context.Context, ev domain.TrackedEvent)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	queue        QueueService
	applications ApplicationService
	newsletter   NewsletterService
	tracker      Tracker
}

// NewHandlers creates the handler set. tracker may be nil.
func NewHandlers(queue QueueService, apps ApplicationService, news NewsletterService, tracker Tracker) *Handlers {
	return &Handlers{queue: queue, applications: apps, newsletter: news, tracker: tracker}
}

// SubmitApplication handles POST /api/applications/{role}.
func (h *Handlers) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	role := domain.ApplicantRole(chi.URLParam(r, "role"))
	if !role.Valid() {
		httputil.NotFound(w, "unknown application form")
		return
	}

	var in applications.Input
	if !httputil.Decode(w, r, &in) {
		return
	}

	a, err := h.applications.Submit(r.Context(), role, in)
	if err != nil {
		var verr *applications.ValidationError
		if errors.As(err, &verr) {
			httputil.ValidationFailed(w, verr.Fields)
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]any{"id": a.ID, "status": "received"})
}

type subscribeRequest struct {
	Email     string `json:"email"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
}

// Subscribe handles POST /api/newsletter/subscribe.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if _, err := h.newsletter.Subscribe(r.Context(), req.Email, req.Source, req.SessionID); err != nil {
		if errors.Is(err, newsletter.ErrInvalidEmail) {
			httputil.ValidationFailed(w, []domain.FieldError{{Field: "email", Message: "must be a valid email address"}})
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"status": "subscribed"})
}

const unsubscribedPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body style="font-family:sans-serif;max-width:480px;margin:64px auto;text-align:center;">
<h1>You're unsubscribed</h1>
<p>%s will no longer receive the FounderMatch newsletter.</p>
</body></html>`

// Unsubscribe handles GET /api/newsletter/unsubscribe?token=. It answers
// with a small HTML page since it is opened from email clients.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	sub, err := h.newsletter.Unsubscribe(r.Context(), r.URL.Query().Get("token"))
	if errors.Is(err, newsletter.ErrNotFound) {
		httputil.NotFound(w, "unknown unsubscribe link")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, unsubscribedPage, html.EscapeString(sub.Email))
}

// Track handles POST /api/track. Consent is enforced by the dispatcher from
// the value the consent middleware put on the request context.
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	var ev domain.TrackedEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	if !ev.Kind.Valid() {
		httputil.ValidationFailed(w, []domain.FieldError{{Field: "kind", Message: "unknown event kind"}})
		return
	}
	if ev.Kind == domain.EventCustom && ev.Name == "" {
		httputil.ValidationFailed(w, []domain.FieldError{{Field: "name", Message: "is required for custom events"}})
		return
	}
	if h.tracker != nil {
		h.tracker.Track(r.Context(), ev)
	}
	httputil.Accepted(w, map[string]string{"status": "accepted"})
}

// ProcessQueue handles POST /api/email-queue/process, the cron trigger.
func (h *Handlers) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	batch, err := intParam(r, "batch", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, h.queue.ProcessEmailQueue(r.Context(), batch))
}

// QueueStats handles GET /api/admin/email-queue/stats.
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.queue.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, st)
}

// FailedEmails handles GET /api/admin/email-queue/failed.
func (h *Handlers) FailedEmails(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	list, err := h.queue.ListFailed(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if list == nil {
		list = []domain.QueuedEmail{}
	}
	httputil.OK(w, map[string]any{"emails": list, "count": len(list)})
}

// GetQueuedEmail handles GET /api/admin/email-queue/{id}.
func (h *Handlers) GetQueuedEmail(w http.ResponseWriter, r *http.Request) {
	e, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, emailqueue.ErrNotFound) {
		httputil.NotFound(w, "queued email not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, e)
}

// GetApplication handles GET /api/admin/applications/{id}.
func (h *Handlers) GetApplication(w http.ResponseWriter, r *http.Request) {
	a, err := h.applications.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, applications.ErrNotFound) {
		httputil.NotFound(w, "application not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, a)
}

type campaignRequest struct {
	Subject     string    `json:"subject"`
	HTML        string    `json:"html"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// QueueCampaign handles POST /api/admin/campaigns.
func (h *Handlers) QueueCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.newsletter.QueueCampaign(r.Context(), req.Subject, req.HTML, req.ScheduledAt)
	if errors.Is(err, newsletter.ErrInvalidInput) {
		httputil.ValidationFailed(w, []domain.FieldError{{Field: "subject", Message: "subject and html are required"}})
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, res)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
