package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsBroker implements MessageBroker over a NATS subject. NATS never echoes
// a publication back to the publishing connection, but consumers still filter
// on Envelope.Origin so behavior is uniform across backends.
type NatsBroker struct {
	conn    *nats.Conn
	subject string
	mu      sync.RWMutex
	closed  bool
}

// NewNatsBroker connects to the NATS server with unlimited reconnects so a
// bus outage degrades the relay to single-instance delivery instead of
// killing it.
func NewNatsBroker(url, name, subject string) (*NatsBroker, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NatsBroker{conn: conn, subject: subject}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, envelope Envelope) error {
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
	// The client library buffers during reconnects, so no retry loop here.
	return b.conn.Publish(b.subject, data)
}

func (b *NatsBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, fmt.Errorf("broker is closed")
	}
	b.mu.RUnlock()

	envelopes := make(chan Envelope, 100)

	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			slog.Warn("dropping malformed bus message", "subject", b.subject, "error", err)
			return
		}
		select {
		case envelopes <- envelope:
		default:
			// Best-effort bus: shed rather than block the nats callback.
			slog.Warn("bus receive buffer full, dropping envelope", "session", envelope.SessionID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("nats unsubscribe failed", "error", err)
		}
		close(envelopes)
	}()

	return envelopes, nil
}

func (b *NatsBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}

func (b *NatsBroker) Type() string { return "nats" }
