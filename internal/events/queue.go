package events

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPollInterval is the idle polling cadence.
	DefaultPollInterval = time.Second

	// errPollInterval backs off polling after a transport error.
	errPollInterval = 5 * time.Second
)

// Queue is an interval-based Source polling a named redis queue key with
// GETDEL, so a message is removed in the same operation that reads it.
// Redelivery is still possible if the process dies after the read.
type Queue struct {
	client   *redis.Client
	channel  string
	interval time.Duration
	logger   log.Logger
}

// NewQueue creates a polling source for the queue key derived from the
// channel name. Zero interval gets DefaultPollInterval.
func NewQueue(client *redis.Client, channel string, interval time.Duration, logger log.Logger) *Queue {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Queue{client: client, channel: channel, interval: interval, logger: logger}
}

func (q *Queue) key() string { return "queue:" + q.channel }

// Run polls and delivers messages until the context is done.
func (q *Queue) Run(ctx context.Context, deliver func(ctx context.Context, payload []byte)) error {
	q.logger.Info(ctx, "listening for incident events", "transport", "poll", "key", q.key(), "interval", q.interval.String())

	delay := q.interval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		payload, err := q.client.GetDel(ctx, q.key()).Result()
		switch {
		case errors.Is(err, redis.Nil):
			delay = q.interval
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Warn(ctx, "queue poll failed", "key", q.key(), "error", err)
			delay = errPollInterval
		default:
			deliver(ctx, []byte(payload))
			delay = q.interval
		}
	}
}
