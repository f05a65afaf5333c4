package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/broker"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/event"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/metrics"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/session"
)

const publishTimeout = 10 * time.Second

// deliveryPolicy decides whether the sender's own connection is part of an
// event's delivery set. Comment and AI-suggestion events echo to the sender
// so the same channel doubles as the sender's acknowledgement;
// direct-manipulation events (code, cursor, typing) and presence signals
// exclude the sender to avoid redundant self-updates. The participant list
// goes to the joiner alone. Changing a row here changes the client protocol.
type deliveryPolicy int

const (
	excludeSender deliveryPolicy = iota
	includeSender
	senderOnly
)

var policyByKind = map[string]deliveryPolicy{
	event.KindUserJoined:           excludeSender,
	event.KindUserLeft:             excludeSender,
	event.KindSessionParticipants:  senderOnly,
	event.KindCodeUpdated:          excludeSender,
	event.KindCursorUpdated:        excludeSender,
	event.KindCommentAdded:         includeSender,
	event.KindAISuggestionReceived: includeSender,
	event.KindUserTyping:           excludeSender,
}

// Router fans a typed outbound event out to the local members of its session
// and mirrors bus-visible events to the shared broker so other relay
// instances reach their own connections.
type Router struct {
	registry *session.Registry
	manager  *Manager
	bus      broker.MessageBroker
	origin   string // this instance's id, used to drop our own bus echo
}

// NewRouter creates a broadcast router. bus may be nil, in which case the
// relay runs single-instance.
func NewRouter(registry *session.Registry, manager *Manager, bus broker.MessageBroker, origin string) *Router {
	return &Router{
		registry: registry,
		manager:  manager,
		bus:      bus,
		origin:   origin,
	}
}

// Route delivers ev to the local members of sessionID according to the
// per-kind delivery policy and returns the ids actually delivered to.
// Delivery is best-effort: a failed write is dropped, logged and does not
// abort delivery to the remaining members.
func (rt *Router) Route(ev event.Outbound, sessionID, senderConnID string) []string {
	policy, known := policyByKind[ev.Event]
	if !known {
		slog.Warn("refusing to route event of unknown kind", "kind", ev.Event)
		return nil
	}

	var targets []string
	if policy == senderOnly {
		if senderConnID != "" {
			targets = []string{senderConnID}
		}
	} else {
		for _, connID := range rt.registry.MembersOf(sessionID) {
			if policy == excludeSender && connID == senderConnID {
				continue
			}
			targets = append(targets, connID)
		}
	}

	delivered := make([]string, 0, len(targets))
	for _, connID := range targets {
		w, ok := rt.manager.Get(connID)
		if !ok {
			continue
		}
		if err := w.WriteEvent(ev); err != nil {
			metrics.DroppedWrites.Inc()
			slog.Debug("dropping failed delivery", "connection", connID, "kind", ev.Event, "error", err)
			continue
		}
		metrics.EventsDelivered.WithLabelValues(ev.Event).Inc()
		delivered = append(delivered, connID)
	}
	return delivered
}

// Broadcast routes ev locally and, unless the kind is sender-only, publishes
// it to the shared bus for the other relay instances.
func (rt *Router) Broadcast(ctx context.Context, ev event.Outbound, sessionID, senderConnID string) []string {
	delivered := rt.Route(ev, sessionID, senderConnID)
	if policyByKind[ev.Event] != senderOnly {
		rt.publish(ctx, sessionID, ev)
	}
	return delivered
}

// publish hands the event to the bus asynchronously. Failures degrade to
// single-instance delivery; they never propagate to the sender.
func (rt *Router) publish(ctx context.Context, sessionID string, ev event.Outbound) {
	if rt.bus == nil {
		return
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		slog.Error("failed to marshal event for bus", "kind", ev.Event, "error", err)
		return
	}
	envelope := broker.Envelope{
		Origin:    rt.origin,
		SessionID: sessionID,
		Kind:      ev.Event,
		Data:      data,
	}

	rt.manager.IncreaseWaitGroup()
	go func() {
		defer rt.manager.DecreaseWaitGroup()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := rt.bus.Publish(pubCtx, envelope); err != nil {
			metrics.BusErrors.WithLabelValues(rt.bus.Type()).Inc()
			slog.Warn("bus publish failed, event delivered locally only", "kind", ev.Event, "session", sessionID, "error", err)
			return
		}
		metrics.BusPublished.WithLabelValues(rt.bus.Type()).Inc()
	}()
}

// HandleEnvelope re-enters the local router with an event received from the
// bus. Envelopes this instance published are dropped: their local delivery
// already happened synchronously at origin. The sender's connection lives on
// the originating instance, so remote delivery targets every local member.
func (rt *Router) HandleEnvelope(envelope broker.Envelope) []string {
	if envelope.Origin == rt.origin {
		return nil
	}
	if rt.bus != nil {
		metrics.BusReceived.WithLabelValues(rt.bus.Type()).Inc()
	}
	ev := event.Outbound{Event: envelope.Kind, Data: json.RawMessage(envelope.Data)}
	return rt.Route(ev, envelope.SessionID, "")
}

// ListenBus runs the standing bus subscription until ctx is cancelled,
// re-subscribing with exponential backoff whenever the subscription fails or
// its channel closes. Bus outages degrade the relay to single-instance
// delivery; they never crash the process.
func (rt *Router) ListenBus(ctx context.Context) {
	if rt.bus == nil {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // keep retrying for the life of the process

	for {
		envelopes, err := rt.bus.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.BusErrors.WithLabelValues(rt.bus.Type()).Inc()
			wait := bo.NextBackOff()
			slog.Warn("bus subscribe failed, retrying", "broker", rt.bus.Type(), "error", err, "next_attempt_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}

		bo.Reset()
		for envelope := range envelopes {
			rt.HandleEnvelope(envelope)
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("bus subscription closed, re-subscribing", "broker", rt.bus.Type())
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
