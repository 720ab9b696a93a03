package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/logger"
	"github.com/foundermatch/funnel/internal/service/sending"
)

// ErrCircuitOpen is returned while a provider's breaker rejects calls.
var ErrCircuitOpen = errors.New("email provider circuit open")

// BreakerSender stops calling a hosted provider after consecutive transport
// failures and probes it again after the cooldown. Rejections reported in a
// SendResult do not count as failures.
type BreakerSender struct {
	next sending.Sender
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSender wraps next. failures is the number of consecutive errors
// that opens the circuit; cooldown is how long it stays open.
func NewBreakerSender(name string, next sending.Sender, failures int, cooldown time.Duration) *BreakerSender {
	if failures <= 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	log := logger.Named("Breaker")
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerSender{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, b.cb.Name())
	}
	if err != nil {
		return nil, err
	}
	res, _ := out.(*domain.SendResult)
	return res, nil
}

// State reports the breaker state for diagnostics.
func (b *BreakerSender) State() string { return b.cb.State().String() }

var _ sending.Sender = (*BreakerSender)(nil)
