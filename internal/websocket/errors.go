package websocket

import "errors"

// Relay errors. None of them close a connection; they are logged and
// reported to the sender as an error event.
var (
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrUnknownEvent       = errors.New("unknown event")
	ErrNotInRoom          = errors.New("sender is not a member of the room")
	ErrPeerNotInRoom      = errors.New("recipient is not a member of the room")
	ErrClientDisconnected = errors.New("client disconnected")
)

// Error codes carried by outbound error events.
const (
	CodeInvalidPayload = "invalid-payload"
	CodeUnknownEvent   = "unknown-event"
	CodeNotInRoom      = "not-in-room"
	CodePeerNotInRoom  = "peer-not-in-room"
	CodeInternal       = "internal-error"
)

// errorCode maps a relay error to the code reported to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, ErrUnknownEvent):
		return CodeUnknownEvent
	case errors.Is(err, ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, ErrPeerNotInRoom):
		return CodePeerNotInRoom
	default:
		return CodeInternal
	}
}
