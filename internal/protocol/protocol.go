package protocol

import (
	"encoding/json"

	"chat-sync/internal/models"
)

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	// Client -> Server
	TypeJoin   EventType = "join"
	TypeLeave  EventType = "leave"
	TypeTyping EventType = "typing"

	// Server -> Client
	TypeConnected EventType = "connected"
	TypeJoined    EventType = "joined"
	TypeMessage   EventType = "message"
	TypeStatus    EventType = "status"
	TypeError     EventType = "error"
	// TypeTyping is fanned out server -> client as well.
)

// Envelope wraps every WebSocket event with a type discriminator. Typing
// indicators are a first-class event kind here rather than a magic string
// smuggled through the chat-message channel.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinEvent subscribes the connection to a room's live events.
type JoinEvent struct {
	RoomID string `json:"room_id"`
}

// LeaveEvent unsubscribes the connection from its current room.
type LeaveEvent struct {
	RoomID string `json:"room_id,omitempty"`
}

// MessageEvent carries a newly stored chat message.
type MessageEvent struct {
	Message models.Message `json:"message"`
}

// StatusEvent reports a delivery-status change for one message.
type StatusEvent struct {
	MessageID string        `json:"message_id"`
	RoomID    string        `json:"room_id"`
	Status    models.Status `json:"status"`
}

// TypingEvent is the first-class typing indicator. Client -> server it names
// only the room and flag; the server stamps the sender before fan-out.
type TypingEvent struct {
	RoomID   string `json:"room_id"`
	UserID   int    `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// ErrorEvent is sent by the server when a client event cannot be applied.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidEvent = "invalid_event"
	ErrCodeNotInRoom    = "not_in_room"
	ErrCodeInternal     = "internal_error"
)

// NewEnvelope creates an envelope with the given type and payload.
func NewEnvelope(eventType EventType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: eventType, Data: raw}, nil
}

// ParseEnvelope parses a raw frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
