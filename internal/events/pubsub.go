package events

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/redis/go-redis/v9"
)

// PubSub is a push-based Source on a redis pub/sub channel.
type PubSub struct {
	client  *redis.Client
	channel string
	logger  log.Logger
}

// NewPubSub creates a pub/sub source for the named channel.
func NewPubSub(client *redis.Client, channel string, logger log.Logger) *PubSub {
	if logger == nil {
		logger = log.Nop()
	}
	return &PubSub{client: client, channel: channel, logger: logger}
}

// Run subscribes and delivers messages until the context is done.
func (p *PubSub) Run(ctx context.Context, deliver func(ctx context.Context, payload []byte)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer func() { _ = sub.Close() }()

	// wait for the subscription confirmation before consuming
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %q: %w", p.channel, err)
	}

	p.logger.Info(ctx, "listening for incident events", "transport", "pubsub", "channel", p.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub channel %q closed", p.channel)
			}
			deliver(ctx, []byte(msg.Payload))
		}
	}
}
