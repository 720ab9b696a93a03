package newsletter

import (
	"context"

	"github.com/foundermatch/funnel/internal/domain"
)

// Repository defines the data access contract for newsletter subscribers.
type Repository interface {
	// Upsert activates the subscriber for email, creating it with token when
	// missing. welcome is true when the row was created or re-activated from
	// unsubscribed.
	Upsert(ctx context.Context, email, source, token string) (sub *domain.Subscriber, welcome bool, err error)

	// Unsubscribe marks the subscriber owning token as unsubscribed. Returns
	// ErrNotFound for an unknown token.
	Unsubscribe(ctx context.Context, token string) (*domain.Subscriber, error)

	// ListActive returns every active subscriber.
	ListActive(ctx context.Context) ([]domain.Subscriber, error)
}

// StateStore persists the GUID of the newest feed item already sent.
type StateStore interface {
	LastGUID(ctx context.Context) (string, error)
	SetLastGUID(ctx context.Context, guid string) error
}
