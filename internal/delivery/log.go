package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/logger"
)

// LogSender only logs. It is for development without an SMTP sink.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	id := uuid.New().String()
	logger.Info("email (log provider)",
		"to", msg.To,
		"subject", msg.Subject,
		"category", msg.Category,
		"message_id", id,
		"text", msg.Text,
	)
	return &domain.SendResult{Success: true, MessageID: id, Provider: domain.ProviderLog, SentAt: time.Now().UTC()}, nil
}
