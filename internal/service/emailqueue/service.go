package emailqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/distlock"
	"github.com/foundermatch/funnel/internal/pkg/logger"
	"github.com/foundermatch/funnel/internal/service/sending"
)

// LockKey names the distributed lock held by a processing pass.
const LockKey = "email-queue:process"

// Config tunes the processor.
type Config struct {
	BatchSize   int
	MaxAttempts int
	SendDelay   time.Duration
}

// QueueRequest describes one email to queue. A zero ScheduledAt means now;
// zero MaxAttempts means the configured default.
type QueueRequest struct {
	To          string
	Subject     string
	HTML        string
	Category    domain.EmailCategory
	ScheduledAt time.Time
	MaxAttempts int
}

// Service queues and delivers email. It is safe for concurrent use.
type Service struct {
	repo    Repository
	mailer  sending.Mailer
	cfg     Config
	trigger Trigger
	locks   distlock.Factory
	now     func() time.Time
	log     *logger.Logger
}

// NewService creates a queue service. Without SetLockFactory passes are not
// guarded across processes.
func NewService(repo Repository, mailer sending.Mailer, cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	return &Service{
		repo:    repo,
		mailer:  mailer,
		cfg:     cfg,
		trigger: NopTrigger{},
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.Named("EmailQueue"),
	}
}

// SetTrigger sets the processor nudge used after each queued record.
func (s *Service) SetTrigger(t Trigger) {
	if t == nil {
		t = NopTrigger{}
	}
	s.trigger = t
}

// SetLockFactory guards each processing pass with a distributed lock.
func (s *Service) SetLockFactory(f distlock.Factory) { s.locks = f }

// Enqueue validates and stores a pending record, then kicks the processor
// if the record is already due.
func (s *Service) Enqueue(ctx context.Context, req QueueRequest) (*domain.QueuedEmail, error) {
	req.To = strings.TrimSpace(req.To)
	if !domain.ValidEmail(req.To) {
		return nil, fmt.Errorf("%w: invalid recipient %q", ErrInvalidInput, req.To)
	}
	if strings.TrimSpace(req.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.HTML) == "" {
		return nil, fmt.Errorf("%w: html content is required", ErrInvalidInput)
	}
	if !req.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, req.Category)
	}

	now := s.now()
	scheduled := req.ScheduledAt.UTC()
	if req.ScheduledAt.IsZero() {
		scheduled = now
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	e := &domain.QueuedEmail{
		ID:          uuid.New().String(),
		To:          req.To,
		Subject:     req.Subject,
		HTMLContent: req.HTML,
		Category:    req.Category,
		Status:      domain.EmailPending,
		MaxAttempts: maxAttempts,
		ScheduledAt: scheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("insert queued email: %w", err)
	}

	s.log.Info("email queued", "id", e.ID, "to", e.To, "type", e.Category, "scheduled_at", e.ScheduledAt.Format(time.RFC3339))
	if !scheduled.After(now) {
		s.trigger.Kick(ctx)
	}
	return e, nil
}

// QueueEmail is the best-effort form of Enqueue used by request handlers.
// Failures are logged and reported as an empty id; they never reach the
// caller.
func (s *Service) QueueEmail(ctx context.Context, req QueueRequest) string {
	e, err := s.Enqueue(ctx, req)
	if err != nil {
		s.log.Error("queue email failed", "to", req.To, "type", req.Category, "error", err)
		return ""
	}
	return e.ID
}

// ProcessEmailQueue runs one pass over at most maxBatch due records
// (maxBatch <= 0 uses the configured batch size). It never returns an error:
// storage and delivery problems are logged and reflected in the counts. A
// pass that cannot take the lock returns an empty result.
func (s *Service) ProcessEmailQueue(ctx context.Context, maxBatch int) domain.ProcessResult {
	if maxBatch <= 0 {
		maxBatch = s.cfg.BatchSize
	}
	if s.locks == nil {
		return s.processBatch(ctx, maxBatch)
	}

	var result domain.ProcessResult
	ran, err := distlock.WithLock(ctx, s.locks(), func(ctx context.Context) error {
		result = s.processBatch(ctx, maxBatch)
		return nil
	})
	if err != nil {
		s.log.Error("queue lock unavailable", "error", err)
		return domain.ProcessResult{}
	}
	if !ran {
		s.log.Debug("another pass holds the queue lock")
	}
	return result
}

func (s *Service) processBatch(ctx context.Context, limit int) domain.ProcessResult {
	var result domain.ProcessResult

	due, err := s.repo.ListDue(ctx, s.now(), limit)
	if err != nil {
		s.log.Error("list due emails failed", "error", err)
		return result
	}
	if len(due) == 0 {
		return result
	}

	for i := range due {
		if i > 0 && s.cfg.SendDelay > 0 {
			_ = sleep(ctx, s.cfg.SendDelay)
		}
		if ctx.Err() != nil {
			if errors.Is(context.Cause(ctx), distlock.ErrLockLost) {
				s.log.Warn("queue lock lost, ending pass early", "processed", result.Processed, "remaining", len(due)-i)
			}
			break
		}
		result.Processed++
		if s.deliver(ctx, &due[i]) {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	s.log.Info("queue pass complete", "processed", result.Processed, "sent", result.Sent, "failed", result.Failed)
	return result
}

// deliver makes one attempt and records it. It reports whether the email
// was accepted by the provider.
func (s *Service) deliver(ctx context.Context, e *domain.QueuedEmail) bool {
	res := s.mailer.SendEmail(ctx, domain.EmailMessage{
		To:       e.To,
		Subject:  e.Subject,
		HTML:     e.HTMLContent,
		Category: e.Category,
	})
	attempts := e.Attempts + 1
	// the outcome is recorded even if the pass was cancelled mid-send
	store := context.WithoutCancel(ctx)

	if res.Success {
		sentAt := res.SentAt
		if sentAt.IsZero() {
			sentAt = s.now()
		}
		if err := s.repo.MarkSent(store, e.ID, attempts, res.MessageID, sentAt); err != nil {
			s.logUpdateError("mark sent failed", e.ID, err)
		}
		return true
	}

	lastErr := res.Error
	if lastErr == "" {
		lastErr = "unknown delivery error"
	}
	status := domain.EmailPending
	if attempts >= e.MaxAttempts {
		status = domain.EmailFailed
	}
	if err := s.repo.RecordFailure(store, e.ID, attempts, lastErr, status); err != nil {
		s.logUpdateError("record failure failed", e.ID, err)
	}
	s.log.Warn("email delivery failed", "id", e.ID, "to", e.To, "attempts", attempts, "max_attempts", e.MaxAttempts, "status", status, "error", lastErr)
	return false
}

func (s *Service) logUpdateError(msg, id string, err error) {
	if errors.Is(err, ErrNotPending) {
		s.log.Warn(msg, "id", id, "error", err)
		return
	}
	s.log.Error(msg, "id", id, "error", err)
}

// Get loads one record.
func (s *Service) Get(ctx context.Context, id string) (*domain.QueuedEmail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Stats counts records by status.
func (s *Service) Stats(ctx context.Context) (domain.QueueStats, error) {
	return s.repo.Stats(ctx)
}

// ListFailed returns terminal failures, most recent first.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]domain.QueuedEmail, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByStatus(ctx, domain.EmailFailed, limit)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
