package websocket

import (
	"context"
	"encoding/json"
	"time"
)

// PresenceTracker mirrors who is online and which rooms they are in to an
// external store. Failures are logged and otherwise ignored.
type PresenceTracker interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	AddRoomMember(ctx context.Context, roomID, userID string) error
	RemoveRoomMember(ctx context.Context, roomID, userID string) error
}

// CallStarted is published when a participant reports the start of a call.
type CallStarted struct {
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId"`
	Duration  json.RawMessage `json:"duration,omitempty"`
	StartedAt time.Time       `json:"startedAt"`
}

// CallEventSink receives call notifications. Implementations must not block
// the caller.
type CallEventSink interface {
	PublishCallStarted(event CallStarted)
}

const (
	presenceQueueSize = 1024
	presenceTimeout   = 3 * time.Second
)

type presenceKind int

const (
	presenceOnline presenceKind = iota
	presenceOffline
	presenceJoin
	presenceLeave
)

func (k presenceKind) String() string {
	switch k {
	case presenceOnline:
		return "online"
	case presenceOffline:
		return "offline"
	case presenceJoin:
		return "join"
	case presenceLeave:
		return "leave"
	default:
		return "unknown"
	}
}

type presenceUpdate struct {
	kind   presenceKind
	userID string
	roomID string
}

// queuePresence hands an update to the presence worker, dropping it when the
// queue is full or the hub has shut down.
func (h *Hub) queuePresence(kind presenceKind, userID, roomID string) {
	if h.presence == nil || h.presenceClosed {
		return
	}

	select {
	case h.presenceQueue <- presenceUpdate{kind: kind, userID: userID, roomID: roomID}:
	default:
		h.logger.Warn("Presence queue full, dropping update", "kind", kind, "userID", userID, "roomID", roomID)
	}
}

// presenceLoop applies queued updates until the queue is closed.
func (h *Hub) presenceLoop() {
	for update := range h.presenceQueue {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		if err := h.applyPresence(ctx, update); err != nil {
			h.logger.Error("Failed to mirror presence", "kind", update.kind, "userID", update.userID, "roomID", update.roomID, "error", err)
		}
		cancel()
	}
}

func (h *Hub) applyPresence(ctx context.Context, update presenceUpdate) error {
	switch update.kind {
	case presenceOnline:
		return h.presence.SetUserOnline(ctx, update.userID)
	case presenceOffline:
		return h.presence.SetUserOffline(ctx, update.userID)
	case presenceJoin:
		return h.presence.AddRoomMember(ctx, update.roomID, update.userID)
	case presenceLeave:
		return h.presence.RemoveRoomMember(ctx, update.roomID, update.userID)
	default:
		return nil
	}
}
