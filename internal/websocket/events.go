package websocket

import (
	"encoding/json"
	"fmt"
)

// EventType names the event carried by an Envelope.
type EventType string

// Inbound events
const (
	EventJoinRoom    EventType = "join-room"
	EventLeaveRoom   EventType = "leave-room"
	EventSignal      EventType = "signal"
	EventSendMessage EventType = "send-message"
	EventCallStarted EventType = "call-started"
)

// Outbound events
const (
	EventUserConnected    EventType = "user-connected"
	EventUsersInRoom      EventType = "users-in-room"
	EventUserDisconnected EventType = "user-disconnected"
	EventReceiveMessage   EventType = "receive-message"
	EventError            EventType = "error"
)

func (et EventType) String() string {
	return string(et)
}

// IsInbound reports whether clients may send this event.
func (et EventType) IsInbound() bool {
	switch et {
	case EventJoinRoom, EventLeaveRoom, EventSignal, EventSendMessage, EventCallStarted:
		return true
	default:
		return false
	}
}

// Envelope is the frame exchanged in both directions: an event name and its
// JSON payload.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a single inbound frame.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrInvalidPayload)
	}
	return &env, nil
}

// NewEnvelope encodes data as the payload of event.
func NewEnvelope(event EventType, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// Inbound payloads

// RoomPayload identifies a room. On the wire it is either a bare string or
// an object with a roomId field.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

func (p *RoomPayload) UnmarshalJSON(data []byte) error {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err == nil {
		p.RoomID = roomID
		return nil
	}

	type plain RoomPayload
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = RoomPayload(obj)
	return nil
}

type SignalPayload struct {
	Signal json.RawMessage `json:"signal"`
	To     string          `json:"to"`
	From   string          `json:"from"`
	RoomID string          `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID  string          `json:"roomId"`
	Message json.RawMessage `json:"message"`
	UserID  string          `json:"userId,omitempty"`
}

type CallStartedPayload struct {
	RoomID   string          `json:"roomId"`
	Duration json.RawMessage `json:"duration"`
}

// Outbound payloads

type UserPresence struct {
	UserID string `json:"userId"`
}

type UsersInRoom struct {
	Users []string `json:"users"`
}

type SignalRelay struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

type ReceiveMessage struct {
	Message json.RawMessage `json:"message"`
	UserID  string          `json:"userId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodePayload unmarshals data into dst, reporting decode failures as
// ErrInvalidPayload.
func decodePayload(event EventType, data json.RawMessage, dst any) error {
	if isEmptyJSON(data) {
		return fmt.Errorf("%w: %s requires a payload", ErrInvalidPayload, event)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
	}
	return nil
}

func decodeRoom(event EventType, data json.RawMessage) (string, error) {
	var room RoomPayload
	if err := decodePayload(event, data, &room); err != nil {
		return "", err
	}
	// Room ids are matched byte for byte by every event.
	if room.RoomID == "" {
		return "", fmt.Errorf("%w: %s requires a room id", ErrInvalidPayload, event)
	}
	return room.RoomID, nil
}

func isEmptyJSON(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}
