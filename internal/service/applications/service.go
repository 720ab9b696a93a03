package applications

import (
	"context"
	"fmt"
	"strings"

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
	IdentifyUser(ctx context.Context, sessionID string, id domain.Identity)
}

// Input is the raw form submission.
type Input struct {
	FullName  string            `json:"full_name"`
	Email     string            `json:"email"`
	Company   string            `json:"company"`
	Website   string            `json:"website"`
	Stage     string            `json:"stage"`
	CheckSize string            `json:"check_size"`
	Answers   map[string]string `json:"answers"`
	SessionID string            `json:"session_id"`
}

// Service handles application intake.
type Service struct {
	repo     Repository
	queue    EmailQueuer
	renderer Renderer
	tracker  Tracker
	log      *logger.Logger
}

// NewService creates an application service. tracker may be nil.
func NewService(repo Repository, queue EmailQueuer, renderer Renderer, tracker Tracker) *Service {
	return &Service{
		repo:     repo,
		queue:    queue,
		renderer: renderer,
		tracker:  tracker,
		log:      logger.Named("Applications"),
	}
}

// Submit validates and stores an application for role, then queues the
// confirmation email and fires the submit and complete events. Only
// validation and storage errors are returned.
func (s *Service) Submit(ctx context.Context, role domain.ApplicantRole, in Input) (*domain.Application, error) {
	a := &domain.Application{
		Role:      role,
		FullName:  strings.TrimSpace(in.FullName),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Company:   strings.TrimSpace(in.Company),
		Website:   strings.TrimSpace(in.Website),
		Stage:     strings.TrimSpace(in.Stage),
		CheckSize: strings.TrimSpace(in.CheckSize),
		Answers:   in.Answers,
		SessionID: in.SessionID,
	}
	form := string(role)

	if errs := a.Validate(); len(errs) > 0 {
		s.track(ctx, domain.TrackedEvent{Kind: domain.EventFormError, SessionID: in.SessionID,
			Form: form, ErrorMessage: errs[0].Field + " " + errs[0].Message})
		return nil, &ValidationError{Fields: errs}
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("store application: %w", err)
	}
	s.log.Info("application received", "id", a.ID, "role", a.Role, "email", a.Email)

	s.queueConfirmation(ctx, a)

	// Events dedup per session; a sessionless submission stands in for its own.
	session := a.SessionID
	if session == "" {
		session = "application:" + a.ID
	}
	s.track(ctx, domain.TrackedEvent{Kind: domain.EventFormSubmit, SessionID: session, Form: form, Email: a.Email})
	s.track(ctx, domain.TrackedEvent{Kind: domain.EventFormComplete, SessionID: session, Form: form, Email: a.Email})
	if s.tracker != nil {
		s.tracker.IdentifyUser(ctx, session, domain.Identity{
			UserID: a.ID, Email: a.Email, Name: a.FullName, Role: string(a.Role),
		})
	}
	return a, nil
}

func (s *Service) queueConfirmation(ctx context.Context, a *domain.Application) {
	name := templates.FounderConfirmation
	if a.Role == domain.RoleInvestor {
		name = templates.InvestorConfirmation
	}
	subject, html, err := s.renderer.Render(name, templates.Vars{
		"full_name":  a.FullName,
		"company":    a.Company,
		"stage":      a.Stage,
		"check_size": a.CheckSize,
	})
	if err != nil {
		s.log.Error("render confirmation failed", "id", a.ID, "template", name, "error", err)
		return
	}
	s.queue.QueueEmail(ctx, emailqueue.QueueRequest{
		To:       a.Email,
		Subject:  subject,
		HTML:     html,
		Category: domain.CategoryConfirmation,
	})
}

func (s *Service) track(ctx context.Context, ev domain.TrackedEvent) {
	if s.tracker != nil {
		s.tracker.Track(ctx, ev)
	}
}

// Get loads a stored application.
func (s *Service) Get(ctx context.Context, id string) (*domain.Application, error) {
	return s.repo.Get(ctx, id)
}
