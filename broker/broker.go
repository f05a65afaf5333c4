// Package broker bridges relay instances over a shared pub/sub bus. Every
// instance publishes the events it originates to one shared topic and
// subscribes to the same topic to pick up events originated elsewhere.
package broker

import (
	"context"
	"encoding/json"
)

// Envelope is the cross-instance wire format. Origin carries the publishing
// instance's id so a subscriber can ignore its own publications; without it
// a bus that echoes publishers (redis pub/sub does) would double-deliver
// events to the originating instance's connections.
type Envelope struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"sessionId"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
}

// MessageBroker abstracts the shared bus. Implementations publish to and
// consume from a single topic fixed at construction time. All methods are
// safe for concurrent use.
type MessageBroker interface {
	// Publish sends an envelope to the shared topic. Failures are returned
	// to the caller, which logs and moves on; local delivery never depends
	// on the bus.
	Publish(ctx context.Context, envelope Envelope) error
	// Subscribe starts the standing subscription and returns the channel
	// envelopes arrive on. The channel closes when ctx is cancelled or the
	// broker shuts down.
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	// Close releases broker resources.
	Close() error
	// Type reports the backend name for logs and metrics labels.
	Type() string
}
