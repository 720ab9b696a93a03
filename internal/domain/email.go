package domain

import "time"

// EmailCategory classifies a queued email. It drives reporting only; the
// queue treats every category the same way.
type EmailCategory string

const (
	CategoryWelcome      EmailCategory = "welcome"
	CategoryConfirmation EmailCategory = "confirmation"
	CategoryNewsletter   EmailCategory = "newsletter"
	CategoryCampaign     EmailCategory = "campaign"
)

// Valid reports whether c is a known category.
func (c EmailCategory) Valid() bool {
	switch c {
	case CategoryWelcome, CategoryConfirmation, CategoryNewsletter, CategoryCampaign:
		return true
	}
	return false
}

// EmailStatus is the delivery state of a queued email.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s EmailStatus) Terminal() bool {
	return s == EmailSent || s == EmailFailed
}

// DefaultMaxAttempts bounds delivery attempts when the caller sets none.
const DefaultMaxAttempts = 3

// QueuedEmail is one persisted outbound email. Rows are never deleted.
type QueuedEmail struct {
	ID          string        `json:"id" db:"id"`
	To          string        `json:"to" db:"to_email"`
	Subject     string        `json:"subject" db:"subject"`
	HTMLContent string        `json:"html_content" db:"html_content"`
	Category    EmailCategory `json:"type" db:"type"`
	Status      EmailStatus   `json:"status" db:"status"`
	Attempts    int           `json:"attempts" db:"attempts"`
	MaxAttempts int           `json:"max_attempts" db:"max_attempts"`
	LastError   string        `json:"last_error,omitempty" db:"last_error"`
	MessageID   string        `json:"message_id,omitempty" db:"message_id"`
	ScheduledAt time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// Due reports whether the record may be attempted at now.
func (e *QueuedEmail) Due(now time.Time) bool {
	return e.Status == EmailPending && !e.ScheduledAt.After(now) && e.Attempts < e.MaxAttempts
}

// ProcessResult summarises one queue processing pass. Failed counts failed
// delivery attempts, whether or not the record stays pending afterwards.
type ProcessResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// QueueStats holds record counts by status.
type QueueStats struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Provider identifies the delivery backend that handled a message.
type Provider string

const (
	ProviderSMTP      Provider = "smtp"
	ProviderSparkPost Provider = "sparkpost"
	ProviderSES       Provider = "ses"
	ProviderLog       Provider = "log"
)

// EmailMessage is a fully rendered message handed to a delivery backend.
type EmailMessage struct {
	To       string            `json:"to"`
	From     string            `json:"from,omitempty"`
	FromName string            `json:"from_name,omitempty"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Subject  string            `json:"subject"`
	HTML     string            `json:"html"`
	Text     string            `json:"text,omitempty"`
	Category EmailCategory     `json:"category,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// SendResult is the outcome of one delivery call.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Provider  Provider  `json:"provider,omitempty"`
	SentAt    time.Time `json:"sent_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}
