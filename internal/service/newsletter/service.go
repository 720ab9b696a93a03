package newsletter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/logger"
	"github.com/foundermatch/funnel/internal/service/emailqueue"
	"github.com/foundermatch/funnel/internal/templates"
)

// EmailQueuer queues outbound email without failing the caller.
type EmailQueuer interface {
	QueueEmail(ctx context.Context, req emailqueue.QueueRequest) string
}

// Renderer renders a named email template.
type Renderer interface {
	Render(name string, vars templates.Vars) (subject, html string, err error)
}

// Tracker receives funnel analytics events.
type Tracker interface {
	Track(ctx context.Context, ev domain.TrackedEvent)
}

// CampaignResult summarises a queued campaign.
type CampaignResult struct {
	Recipients int `json:"recipients"`
	Queued     int `json:"queued"`
}

// Service handles subscriptions and campaigns.
type Service struct {
	repo     Repository
	queue    EmailQueuer
	renderer Renderer
	tracker  Tracker
	siteURL  string
	log      *logger.Logger
}

// NewService creates a newsletter service. siteURL prefixes unsubscribe
// links; tracker may be nil.
func NewService(repo Repository, queue EmailQueuer, renderer Renderer, tracker Tracker, siteURL string) *Service {
	return &Service{
		repo:     repo,
		queue:    queue,
		renderer: renderer,
		tracker:  tracker,
		siteURL:  strings.TrimRight(siteURL, "/"),
		log:      logger.Named("Newsletter"),
	}
}

// Subscribe activates email. A welcome email goes out only to new or
// re-activated subscribers.
func (s *Service) Subscribe(ctx context.Context, email, source, sessionID string) (*domain.Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !domain.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if source == "" {
		source = "website"
	}

	sub, welcome, err := s.repo.Upsert(ctx, email, source, newToken())
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("newsletter subscribe", "email", email, "source", source, "welcome", welcome)

	if welcome {
		s.queueTemplate(ctx, sub, templates.NewsletterWelcome, domain.CategoryWelcome, time.Time{},
			templates.Vars{"email": sub.Email})
	}
	if sessionID == "" {
		sessionID = "subscriber:" + sub.ID
	}
	if s.tracker != nil {
		s.tracker.Track(ctx, domain.TrackedEvent{
			Kind: domain.EventNewsletterSubscribe, SessionID: sessionID, Source: source, Email: email,
		})
	}
	return sub, nil
}

// Unsubscribe deactivates the subscriber owning token.
func (s *Service) Unsubscribe(ctx context.Context, token string) (*domain.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	sub, err := s.repo.Unsubscribe(ctx, token)
	if err != nil {
		return nil, err
	}
	s.log.Info("newsletter unsubscribe", "email", sub.Email)
	return sub, nil
}

// QueueCampaign queues one campaign email per active subscriber, each
// scheduled at scheduledAt (zero means now).
func (s *Service) QueueCampaign(ctx context.Context, subject, html string, scheduledAt time.Time) (CampaignResult, error) {
	var res CampaignResult
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(html) == "" {
		return res, fmt.Errorf("%w: subject and html are required", ErrInvalidInput)
	}

	subs, err := s.repo.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("list subscribers: %w", err)
	}
	res.Recipients = len(subs)
	for i := range subs {
		if s.queueTemplate(ctx, &subs[i], templates.Campaign, domain.CategoryCampaign, scheduledAt,
			templates.Vars{"subject": subject, "body": html}) {
			res.Queued++
		}
	}
	s.log.Info("campaign queued", "recipients", res.Recipients, "queued", res.Queued,
		"scheduled_at", scheduledAt.Format(time.RFC3339))
	return res, nil
}

// queueTemplate renders name for sub and queues it. It reports whether a
// record was queued.
func (s *Service) queueTemplate(ctx context.Context, sub *domain.Subscriber, name string,
	category domain.EmailCategory, scheduledAt time.Time, vars templates.Vars) bool {
	vars["unsubscribe_url"] = s.UnsubscribeURL(sub.UnsubscribeToken)
	subject, html, err := s.renderer.Render(name, vars)
	if err != nil {
		s.log.Error("render newsletter email failed", "template", name, "error", err)
		return false
	}
	return s.queue.QueueEmail(ctx, emailqueue.QueueRequest{
		To:          sub.Email,
		Subject:     subject,
		HTML:        html,
		Category:    category,
		ScheduledAt: scheduledAt,
	}) != ""
}

// UnsubscribeURL builds the one-click unsubscribe link for token.
func (s *Service) UnsubscribeURL(token string) string {
	if token == "" {
		return ""
	}
	return s.siteURL + "/api/newsletter/unsubscribe?token=" + url.QueryEscape(token)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
