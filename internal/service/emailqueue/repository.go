package emailqueue

import (
	"context"
	"time"

	"github.com/foundermatch/funnel/internal/domain"
)

// Repository defines the data access contract for the email queue.
type Repository interface {
	// Insert stores a new pending record.
	Insert(ctx context.Context, e *domain.QueuedEmail) error

	// ListDue returns up to limit pending records with scheduled_at <= now and
	// attempts < max_attempts, oldest scheduled first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error)

	// MarkSent moves a pending record to sent. Returns ErrNotPending if the
	// record is already terminal.
	MarkSent(ctx context.Context, id string, attempts int, messageID string, sentAt time.Time) error

	// RecordFailure stores a failed attempt. status is pending while attempts
	// remain and failed once they are exhausted.
	RecordFailure(ctx context.Context, id string, attempts int, lastError string, status domain.EmailStatus) error

	// Get loads one record. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.QueuedEmail, error)

	// Stats counts records by status.
	Stats(ctx context.Context) (domain.QueueStats, error)

	// ListByStatus returns the most recently updated records in status.
	ListByStatus(ctx context.Context, status domain.EmailStatus, limit int) ([]domain.QueuedEmail, error)
}
