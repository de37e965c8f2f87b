package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// sendBufferSize bounds the outbound queue of a client. A client whose queue
// is full is treated as too slow and closed.
const sendBufferSize = 256

// ClientState tracks where a connection is in its lifecycle.
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateAuthenticated
	StateDisconnected
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Client is one authenticated WebSocket connection. Its user identity is fixed
// at creation and never taken from event payloads.
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	userID      string
	connectedAt time.Time
	limiter     *rate.Limiter
	logger      *slog.Logger

	// rooms is the set of room IDs this connection has joined
	rooms map[string]struct{}
	mu    sync.RWMutex

	state atomic.Int32

	sendMu     sync.Mutex
	sendClosed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for userID bound to hub. conn may be nil for a
// client that is driven without a transport.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	limit := rate.Inf
	if hub.settings.RateLimit > 0 {
		limit = rate.Limit(hub.settings.RateLimit)
	}

	c := &Client{
		id:          id,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		userID:      userID,
		connectedAt: time.Now(),
		limiter:     rate.NewLimiter(limit, hub.settings.RateBurst),
		logger:      hub.logger.With("clientID", id, "userID", userID),
		rooms:       make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// Rooms returns the joined room IDs in sorted order.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Client) IsInRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Client) addRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Client) removeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *Client) markAuthenticated() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated))
}

// markDisconnected moves the client to its terminal state. It reports false
// when the client was already disconnected.
func (c *Client) markDisconnected() bool {
	for {
		current := c.state.Load()
		if ClientState(current) == StateDisconnected {
			return false
		}
		if c.state.CompareAndSwap(current, int32(StateDisconnected)) {
			c.cancel()
			return true
		}
	}
}

// Send queues an event for delivery without blocking. A full queue closes the
// client.
func (c *Client) Send(event EventType, data any) error {
	frame, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.sendFrame(frame)
}

func (c *Client) sendFrame(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return ErrClientDisconnected
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("Send buffer full, closing client")
		c.sendClosed = true
		close(c.send)
		return ErrClientDisconnected
	}
}

// closeSendChannel closes the outbound queue once. The write pump answers by
// sending a close frame and closing the socket.
func (c *Client) closeSendChannel() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) sendError(err error) {
	payload := ErrorPayload{Code: errorCode(err), Message: err.Error()}
	if sendErr := c.Send(EventError, payload); sendErr != nil {
		c.logger.Debug("Failed to send error event", "error", sendErr)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.requestUnregister(c)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Error closing connection", "error", err)
		}
	}()

	settings := c.hub.settings
	c.conn.SetReadLimit(settings.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(settings.PongWait))
		return nil
	})

	c.logger.Debug("ReadPump started")

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", "error", err)
			} else {
				c.logger.Debug("WebSocket connection closed", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("Rate limit exceeded, dropping event")
			continue
		}

		env, err := ParseEnvelope(raw)
		if err != nil {
			c.logger.Debug("Dropping malformed frame", "error", err)
			c.sendError(err)
			continue
		}

		if !c.hub.enqueue(c, env) {
			return
		}
	}
}

func (c *Client) writePump() {
	settings := c.hub.settings
	ticker := time.NewTicker(settings.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("WritePump finished")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("Error writing message", "error", err)
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending ping", "error", err)
				return
			}
		}
	}
}
