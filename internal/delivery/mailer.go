package delivery

import (
	"context"
	"time"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/logger"
	"github.com/foundermatch/funnel/internal/service/sending"
)

// Defaults are applied to messages that leave the fields empty.
type Defaults struct {
	FromName  string
	FromEmail string
	ReplyTo   string
}

// Mailer implements sending.Mailer on top of one provider.
type Mailer struct {
	sender   sending.Sender
	provider domain.Provider
	defaults Defaults
	log      *logger.Logger
}

// NewMailer wraps sender.
func NewMailer(sender sending.Sender, provider domain.Provider, defaults Defaults) *Mailer {
	return &Mailer{
		sender:   sender,
		provider: provider,
		defaults: defaults,
		log:      logger.Named("Mailer"),
	}
}

// Provider names the backend in use.
func (m *Mailer) Provider() domain.Provider { return m.provider }

// SendEmail fills defaults, derives the text part from HTML when missing and
// delivers. Errors never escape; they are returned in the result.
func (m *Mailer) SendEmail(ctx context.Context, msg domain.EmailMessage) domain.SendResult {
	if msg.To == "" {
		return domain.SendResult{Success: false, Provider: m.provider, Error: "recipient is required"}
	}
	if msg.From == "" {
		msg.From = m.defaults.FromEmail
		if msg.FromName == "" {
			msg.FromName = m.defaults.FromName
		}
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = m.defaults.ReplyTo
	}
	if msg.Text == "" {
		msg.Text = HTMLToText(msg.HTML)
	}

	res, err := m.sender.Send(ctx, &msg)
	if err != nil {
		m.log.Warn("send failed", "to", msg.To, "provider", m.provider, "error", err)
		return domain.SendResult{Success: false, Provider: m.provider, Error: err.Error()}
	}
	if res == nil {
		return domain.SendResult{Success: false, Provider: m.provider, Error: "provider returned no result"}
	}
	if res.Provider == "" {
		res.Provider = m.provider
	}
	if res.Success && res.SentAt.IsZero() {
		res.SentAt = time.Now().UTC()
	}
	if !res.Success {
		m.log.Warn("send rejected", "to", msg.To, "provider", res.Provider, "error", res.Error)
	}
	return *res
}

var _ sending.Mailer = (*Mailer)(nil)
