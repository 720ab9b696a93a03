// Package sending defines the delivery contracts shared by the queue
// processor, the CLI and the delivery backends.
//
// A Sender is one provider (SMTP sink, SparkPost, SES). A Mailer wraps a
// Sender with defaults and folds every failure into a SendResult, which is
// the shape the queue processor consumes.
package sending

import (
	"context"

	"github.com/foundermatch/funnel/internal/domain"
)

// Sender sends a single email through one provider. Implementations must be
// safe for concurrent use. A provider rejection is reported as a result with
// Success=false; a returned error means the call could not be made at all.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// Mailer is the provider-neutral send contract. It never returns an error;
// failures come back as {Success: false, Error: ...}.
type Mailer interface {
	SendEmail(ctx context.Context, msg domain.EmailMessage) domain.SendResult
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg domain.EmailMessage) domain.SendResult

func (f MailerFunc) SendEmail(ctx context.Context, msg domain.EmailMessage) domain.SendResult {
	return f(ctx, msg)
}
