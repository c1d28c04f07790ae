package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventName identifies websocket payload variants. Inbound and outbound
// names are shared with the browser client and must stay stable.
type EventName string

const (
	// Client -> server.
	EventJoinRoom      EventName = "email_tool_join_room"
	EventUserApproved  EventName = "email_tool_user_approved"
	EventAuthCompleted EventName = "email_tool_auth_completed"

	// Server -> client, connection scoped.
	EventConnected        EventName = "connected"
	EventRoomJoined       EventName = "room_joined"
	EventError            EventName = "error"
	EventApprovalReceived EventName = "approval_received"
	EventAuthCompletedAck EventName = "auth_completed_ack"

	// Server -> client, room scoped.
	EventNeedsAuth       EventName = "email_tool_needs_auth"
	EventProgress        EventName = "email_tool_progress"
	EventRequestApproval EventName = "email_tool_request_approval"
	EventCompleted       EventName = "email_tool_completed"
	EventTaskError       EventName = "email_tool_error"
)

var ErrUnsupportedEvent = errors.New("unsupported event")

// Envelope frames every websocket message as {"event": ..., "data": {...}}.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ID is a user or session identifier. Clients are inconsistent about
// sending these as JSON strings or numbers; both decode to the same
// canonical string form.
type ID string

func (id *ID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		*id = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("identifier must be string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// JoinRoom binds the sending connection to the (user, session) room.
// Either UserID or UserEmail must be present; email is resolved to a
// user ID at the boundary.
type JoinRoom struct {
	UserID    ID     `json:"user_id"`
	UserEmail string `json:"user_email"`
	SessionID ID     `json:"session_id"`
}

// UserApproved resolves an open approval gate.
type UserApproved struct {
	UserID    ID   `json:"user_id"`
	SessionID ID   `json:"session_id"`
	Approved  bool `json:"approved"`
}

// AuthCompleted resolves an open auth gate after the OAuth round trip.
type AuthCompleted struct {
	UserID    ID   `json:"user_id"`
	SessionID ID   `json:"session_id"`
	Success   bool `json:"success"`
}

type Connected struct {
	Status string `json:"status"`
}

type RoomJoined struct {
	Room      string `json:"room"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// ApprovalReceived acknowledges an email_tool_user_approved event. Error
// is set instead of Approved when no gate was open for the session.
type ApprovalReceived struct {
	Approved *bool  `json:"approved,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AuthCompletedAck acknowledges an email_tool_auth_completed event.
type AuthCompletedAck struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	AuthStatusReady  = "ready"
	AuthStatusFailed = "failed"
)

// ParseClientMessage decodes and validates a raw inbound frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventJoinRoom:
		var msg JoinRoom
		if err := unmarshalData(env.Data, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" && strings.TrimSpace(msg.UserEmail) == "" {
			return nil, errors.New("user_id (or valid user_email) and session_id required")
		}
		if msg.SessionID == "" {
			return nil, errors.New("user_id (or valid user_email) and session_id required")
		}
		return msg, nil
	case EventUserApproved:
		var msg UserApproved
		if err := unmarshalData(env.Data, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" || msg.SessionID == "" {
			return nil, errors.New("user_id and session_id required")
		}
		return msg, nil
	case EventAuthCompleted:
		var msg AuthCompleted
		if err := unmarshalData(env.Data, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" || msg.SessionID == "" {
			return nil, errors.New("user_id and session_id required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

func unmarshalData(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}
