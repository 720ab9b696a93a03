package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/service/emailqueue"
)

const emailQueueColumns = `id, to_email, subject, html_content, type, status, attempts, max_attempts,
	last_error, message_id, scheduled_at, sent_at, created_at, updated_at`

// EmailQueueRepo implements emailqueue.Repository against PostgreSQL.
type EmailQueueRepo struct{ db *sql.DB }

// NewEmailQueueRepo creates a Postgres-backed email queue repository.
func NewEmailQueueRepo(db *sql.DB) *EmailQueueRepo { return &EmailQueueRepo{db: db} }

func (r *EmailQueueRepo) Insert(ctx context.Context, e *domain.QueuedEmail) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO email_queue (id, to_email, subject, html_content, type, status, attempts, max_attempts, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, e.ID, e.To, e.Subject, e.HTMLContent, string(e.Category), string(e.Status),
		e.Attempts, e.MaxAttempts, e.ScheduledAt,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert queued email: %w", err)
	}
	return nil
}

func (r *EmailQueueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailQueueColumns+`
		FROM email_queue
		WHERE status = 'pending' AND scheduled_at <= $1 AND attempts < max_attempts
		ORDER BY scheduled_at ASC, created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due emails: %w", err)
	}
	defer rows.Close()
	return scanQueuedEmails(rows)
}

func (r *EmailQueueRepo) MarkSent(ctx context.Context, id string, attempts int, messageID string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_queue
		SET status = 'sent', attempts = $2, message_id = NULLIF($3, ''), sent_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, attempts, messageID, sentAt)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	return requireOneRow(res)
}

func (r *EmailQueueRepo) RecordFailure(ctx context.Context, id string, attempts int, lastError string, status domain.EmailStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_queue
		SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), attempts, lastError)
	if err != nil {
		return fmt.Errorf("record email failure: %w", err)
	}
	return requireOneRow(res)
}

func (r *EmailQueueRepo) Get(ctx context.Context, id string) (*domain.QueuedEmail, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+emailQueueColumns+` FROM email_queue WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get queued email: %w", err)
	}
	defer rows.Close()
	out, err := scanQueuedEmails(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, emailqueue.ErrNotFound
	}
	return &out[0], nil
}

func (r *EmailQueueRepo) Stats(ctx context.Context) (domain.QueueStats, error) {
	var st domain.QueueStats
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("scan queue stats: %w", err)
		}
		switch domain.EmailStatus(status) {
		case domain.EmailPending:
			st.Pending = n
		case domain.EmailSent:
			st.Sent = n
		case domain.EmailFailed:
			st.Failed = n
		}
		st.Total += n
	}
	return st, rows.Err()
}

func (r *EmailQueueRepo) ListByStatus(ctx context.Context, status domain.EmailStatus, limit int) ([]domain.QueuedEmail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailQueueColumns+`
		FROM email_queue
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s emails: %w", status, err)
	}
	defer rows.Close()
	return scanQueuedEmails(rows)
}

func scanQueuedEmails(rows *sql.Rows) ([]domain.QueuedEmail, error) {
	var out []domain.QueuedEmail
	for rows.Next() {
		var (
			e                domain.QueuedEmail
			category, status string
			lastError, msgID sql.NullString
			sentAt           sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.To, &e.Subject, &e.HTMLContent, &category, &status,
			&e.Attempts, &e.MaxAttempts, &lastError, &msgID, &e.ScheduledAt, &sentAt,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan queued email: %w", err)
		}
		e.Category = domain.EmailCategory(category)
		e.Status = domain.EmailStatus(status)
		e.LastError = lastError.String
		e.MessageID = msgID.String
		if sentAt.Valid {
			t := sentAt.Time
			e.SentAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return emailqueue.ErrNotPending
	}
	return nil
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
