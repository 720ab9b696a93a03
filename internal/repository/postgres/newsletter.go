package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/service/newsletter"
)

const subscriberColumns = `id, email, source, status, unsubscribe_token, subscribed_at, unsubscribed_at`

// SubscriberRepo implements newsletter.Repository against PostgreSQL.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

func (r *SubscriberRepo) Upsert(ctx context.Context, email, source, token string) (*domain.Subscriber, bool, error) {
	// prev reads the snapshot taken before the insert, so it still holds the
	// old status on conflict.
	row := r.db.QueryRowContext(ctx, `
		WITH prev AS (SELECT status FROM newsletter_subscribers WHERE email = $2)
		INSERT INTO newsletter_subscribers (id, email, source, status, unsubscribe_token, subscribed_at)
		VALUES ($1, $2, $3, 'active', $4, NOW())
		ON CONFLICT (email) DO UPDATE SET
			status = 'active',
			unsubscribed_at = NULL,
			subscribed_at = CASE WHEN newsletter_subscribers.status = 'unsubscribed'
				THEN NOW() ELSE newsletter_subscribers.subscribed_at END
		RETURNING `+subscriberColumns+`, (SELECT status FROM prev)
	`, uuid.New().String(), email, source, token)

	var prev sql.NullString
	sub, err := scanSubscriber(row, &prev)
	if err != nil {
		return nil, false, fmt.Errorf("upsert subscriber: %w", err)
	}
	welcome := !prev.Valid || domain.SubscriberStatus(prev.String) == domain.SubscriberUnsubscribed
	return sub, welcome, nil
}

func (r *SubscriberRepo) Unsubscribe(ctx context.Context, token string) (*domain.Subscriber, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE newsletter_subscribers
		SET status = 'unsubscribed', unsubscribed_at = COALESCE(unsubscribed_at, NOW())
		WHERE unsubscribe_token = $1
		RETURNING `+subscriberColumns, token)
	sub, err := scanSubscriber(row)
	if isNoRows(err) {
		return nil, newsletter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}
	return sub, nil
}

func (r *SubscriberRepo) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriberColumns+`
		FROM newsletter_subscribers
		WHERE status = 'active'
		ORDER BY subscribed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner, extra ...any) (*domain.Subscriber, error) {
	var (
		s            domain.Subscriber
		status       string
		unsubscribed sql.NullTime
	)
	dest := []any{&s.ID, &s.Email, &s.Source, &status, &s.UnsubscribeToken, &s.SubscribedAt, &unsubscribed}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	s.Status = domain.SubscriberStatus(status)
	if unsubscribed.Valid {
		t := unsubscribed.Time
		s.UnsubscribedAt = &t
	}
	return &s, nil
}
