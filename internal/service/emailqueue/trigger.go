package emailqueue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/foundermatch/funnel/internal/pkg/logger"
)

// Trigger nudges the background processor after a record is queued. Kick
// never blocks on delivery and never fails the caller.
type Trigger interface {
	Kick(ctx context.Context)
}

// NopTrigger ignores kicks; the worker's ticker still picks records up.
type NopTrigger struct{}

func (NopTrigger) Kick(context.Context) {}

// ChannelTrigger signals an in-process Worker. Kicks coalesce: while one is
// pending, further kicks are dropped.
type ChannelTrigger struct {
	ch chan struct{}
}

func NewChannelTrigger() *ChannelTrigger {
	return &ChannelTrigger{ch: make(chan struct{}, 1)}
}

func (t *ChannelTrigger) Kick(context.Context) {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// C is the kick channel to hand to NewWorker.
func (t *ChannelTrigger) C() <-chan struct{} { return t.ch }

// DefaultKickChannel is the Redis pub/sub channel used between the HTTP
// server and cmd/worker.
const DefaultKickChannel = "email-queue:kick"

// RedisTrigger publishes kicks so a worker in another process can react.
type RedisTrigger struct {
	client  *redis.Client
	channel string
}

func NewRedisTrigger(client *redis.Client, channel string) *RedisTrigger {
	if channel == "" {
		channel = DefaultKickChannel
	}
	return &RedisTrigger{client: client, channel: channel}
}

func (t *RedisTrigger) Kick(ctx context.Context) {
	if err := t.client.Publish(ctx, t.channel, "kick").Err(); err != nil {
		logger.Warn("email queue kick not published", "channel", t.channel, "error", err)
	}
}

// Listen subscribes to the kick channel. The returned channel carries
// coalesced kicks and is closed when ctx ends.
func (t *RedisTrigger) Listen(ctx context.Context) (<-chan struct{}, error) {
	sub := t.client.Subscribe(ctx, t.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", t.channel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
