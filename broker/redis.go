package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
)

const (
	redisPublishRetries = 3
	redisInitialBackoff = 100 * time.Millisecond
	redisMaxBackoff     = 2 * time.Second
)

// RedisBroker implements MessageBroker over redis pub/sub. This is the
// default backend; the shared channel matches what the rest of the platform
// publishes review events on. Note redis echoes publications back to the
// publisher, so consumers must filter on Envelope.Origin.
type RedisBroker struct {
	client  *redis.Client
	channel string
	mu      sync.RWMutex
	closed  bool
}

// NewRedisBroker wraps an existing redis client. The caller owns the client
// lifecycle; Close only marks the broker unusable.
func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	return &RedisBroker{client: client, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, envelope Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("broker is closed")
	}
	b.mu.RUnlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	operation := func() error {
		return b.client.Publish(ctx, b.channel, data).Err()
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(redisInitialBackoff),
				backoff.WithMaxInterval(redisMaxBackoff),
			),
			redisPublishRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		slog.Warn("retrying redis publish", "session", envelope.SessionID, "error", err, "next_attempt_in", d)
	})
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, fmt.Errorf("broker is closed")
	}
	b.mu.RUnlock()

	// go-redis reconnects the pub/sub connection itself; messages published
	// while disconnected are lost, which matches the bus's best-effort
	// contract.
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	envelopes := make(chan Envelope, 100)
	go func() {
		defer close(envelopes)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var envelope Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					slog.Warn("dropping malformed bus message", "channel", b.channel, "error", err)
					continue
				}
				select {
				case envelopes <- envelope:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return envelopes, nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *RedisBroker) Type() string { return "redis" }
