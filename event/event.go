// Package event defines the wire vocabulary exchanged with review-session
// clients. Inbound frames are decoded into a closed set of typed variants;
// anything outside that set, or missing required fields, is rejected so
// untyped payloads never propagate into the relay.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound event kinds (client -> relay).
const (
	KindJoinSession  = "join-session"
	KindCodeChange   = "code-change"
	KindCursorMove   = "cursor-move"
	KindAddComment   = "add-comment"
	KindAISuggestion = "ai-suggestion"
	KindTypingStart  = "typing-start"
	KindTypingStop   = "typing-stop"
)

// Outbound event kinds (relay -> client).
const (
	KindUserJoined           = "user-joined"
	KindSessionParticipants  = "session-participants"
	KindCodeUpdated          = "code-updated"
	KindCursorUpdated        = "cursor-updated"
	KindCommentAdded         = "comment-added"
	KindAISuggestionReceived = "ai-suggestion-received"
	KindUserTyping           = "user-typing"
	KindUserLeft             = "user-left"
)

var (
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrInvalidPayload = errors.New("invalid event payload")
)

var validate = validator.New()

// Frame is the raw envelope every client message arrives in.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound is implemented by every decoded client event variant.
type Inbound interface {
	Kind() string
	Session() string
}

type JoinSession struct {
	SessionID string `json:"sessionId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	Username  string `json:"username" validate:"required"`
}

func (JoinSession) Kind() string      { return KindJoinSession }
func (e JoinSession) Session() string { return e.SessionID }

type CodeChange struct {
	SessionID string `json:"sessionId" validate:"required"`
	Code      string `json:"code"`
	UserID    string `json:"userId" validate:"required"`
}

func (CodeChange) Kind() string      { return KindCodeChange }
func (e CodeChange) Session() string { return e.SessionID }

type CursorMove struct {
	SessionID string          `json:"sessionId" validate:"required"`
	Position  json.RawMessage `json:"position" validate:"required"`
	UserID    string          `json:"userId" validate:"required"`
}

func (CursorMove) Kind() string      { return KindCursorMove }
func (e CursorMove) Session() string { return e.SessionID }

type AddComment struct {
	SessionID string          `json:"sessionId" validate:"required"`
	Comment   json.RawMessage `json:"comment" validate:"required"`
	UserID    string          `json:"userId" validate:"required"`
}

func (AddComment) Kind() string      { return KindAddComment }
func (e AddComment) Session() string { return e.SessionID }

type AISuggestion struct {
	SessionID  string `json:"sessionId" validate:"required"`
	Suggestion string `json:"suggestion" validate:"required"`
	UserID     string `json:"userId" validate:"required"`
}

func (AISuggestion) Kind() string      { return KindAISuggestion }
func (e AISuggestion) Session() string { return e.SessionID }

type TypingStart struct {
	SessionID string `json:"sessionId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
}

func (TypingStart) Kind() string      { return KindTypingStart }
func (e TypingStart) Session() string { return e.SessionID }

type TypingStop struct {
	SessionID string `json:"sessionId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
}

func (TypingStop) Kind() string      { return KindTypingStop }
func (e TypingStop) Session() string { return e.SessionID }

// Decode parses a raw client message into its typed variant. It returns
// ErrUnknownKind for kinds outside the closed set and a wrapped
// ErrInvalidPayload when required fields are missing or the JSON is
// malformed; callers discard such frames without dropping the connection.
func Decode(raw []byte) (Inbound, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var ev Inbound
	switch frame.Event {
	case KindJoinSession:
		ev = &JoinSession{}
	case KindCodeChange:
		ev = &CodeChange{}
	case KindCursorMove:
		ev = &CursorMove{}
	case KindAddComment:
		ev = &AddComment{}
	case KindAISuggestion:
		ev = &AISuggestion{}
	case KindTypingStart:
		ev = &TypingStart{}
	case KindTypingStop:
		ev = &TypingStop{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, frame.Event)
	}

	if err := json.Unmarshal(frame.Data, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return deref(ev), nil
}

// deref returns the value variant so callers can type-switch on concrete
// structs rather than pointers.
func deref(ev Inbound) Inbound {
	switch v := ev.(type) {
	case *JoinSession:
		return *v
	case *CodeChange:
		return *v
	case *CursorMove:
		return *v
	case *AddComment:
		return *v
	case *AISuggestion:
		return *v
	case *TypingStart:
		return *v
	case *TypingStop:
		return *v
	default:
		return ev
	}
}

// Outbound is a relay-to-client frame. Data marshals as the event payload.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type UserJoined struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
}

type SessionParticipants struct {
	Participants []Participant `json:"participants"`
}

type CodeUpdated struct {
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

type CursorUpdated struct {
	Position     json.RawMessage `json:"position"`
	UserID       string          `json:"userId"`
	ConnectionID string          `json:"connectionId"`
}

type CommentAdded struct {
	Comment   json.RawMessage `json:"comment"`
	UserID    string          `json:"userId"`
	Timestamp string          `json:"timestamp"`
}

type AISuggestionReceived struct {
	Suggestion string `json:"suggestion"`
	UserID     string `json:"userId"`
	Timestamp  string `json:"timestamp"`
}

type UserTyping struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type UserLeft struct {
	ConnectionID string `json:"connectionId"`
}
