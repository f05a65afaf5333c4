package websocket

import (
	"context"

	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/event"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/metrics"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/session"
)

// Presence turns registry transitions into the join/leave/participant-list
// events clients observe. It is a side effect of Join and Leave, never
// invoked on its own.
type Presence struct {
	router   *Router
	registry *session.Registry
}

func NewPresence(router *Router, registry *session.Registry) *Presence {
	return &Presence{router: router, registry: registry}
}

// NotifyJoin announces a completed join: a user-joined event to the other
// members of the session (local and cross-instance) and the full post-join
// participant list to the joiner alone. When the join implicitly moved the
// connection out of another session, that session's members get a user-left
// first.
func (p *Presence) NotifyJoin(ctx context.Context, res session.JoinResult, joinerConnID string) {
	if res.Left != nil {
		p.notifyLeft(ctx, *res.Left)
	}

	var joiner session.Member
	for _, m := range res.Members {
		if m.ConnectionID == joinerConnID {
			joiner = m
			break
		}
	}

	p.router.Broadcast(ctx, event.Outbound{
		Event: event.KindUserJoined,
		Data: event.UserJoined{
			UserID:       joiner.UserID,
			Username:     joiner.Username,
			ConnectionID: joinerConnID,
		},
	}, res.SessionID, joinerConnID)

	participants := make([]event.Participant, 0, len(res.Members))
	for _, m := range res.Members {
		participants = append(participants, event.Participant{
			ConnectionID: m.ConnectionID,
			UserID:       m.UserID,
			Username:     m.Username,
		})
	}
	p.router.Route(event.Outbound{
		Event: event.KindSessionParticipants,
		Data:  event.SessionParticipants{Participants: participants},
	}, res.SessionID, joinerConnID)

	metrics.ActiveSessions.Set(float64(p.registry.SessionCount()))
}

// NotifyLeave announces an explicit leave or disconnect to the session's
// remaining members.
func (p *Presence) NotifyLeave(ctx context.Context, res session.LeaveResult) {
	p.notifyLeft(ctx, res)
	metrics.ActiveSessions.Set(float64(p.registry.SessionCount()))
}

// notifyLeft broadcasts user-left. The local member set may already be empty
// (the session garbage-collected), but the event still goes to the bus:
// other instances may hold members of the same session.
func (p *Presence) notifyLeft(ctx context.Context, res session.LeaveResult) {
	p.router.Broadcast(ctx, event.Outbound{
		Event: event.KindUserLeft,
		Data:  event.UserLeft{ConnectionID: res.Member.ConnectionID},
	}, res.SessionID, res.Member.ConnectionID)
}
