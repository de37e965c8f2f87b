package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signaling-service/internal/config"

	"github.com/gorilla/websocket"
)

// Settings tune the relay and the per-connection pumps.
type Settings struct {
	DuplicateLoginPolicy config.DuplicateLoginPolicy
	SignalRouting        config.SignalRouting
	AllowedOrigins       []string
	MaxMessageSize       int64
	PongWait             time.Duration
	WriteWait            time.Duration
	RateLimit            float64
	RateBurst            int
}

func DefaultSettings() Settings {
	return Settings{
		DuplicateLoginPolicy: config.DuplicateLoginKeep,
		SignalRouting:        config.SignalRoutingBroadcast,
		AllowedOrigins:       []string{"*"},
		MaxMessageSize:       64 * 1024,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		RateLimit:            20,
		RateBurst:            40,
	}
}

// SettingsFromConfig converts the WebSocket section of the process config,
// keeping defaults for unset values.
func SettingsFromConfig(cfg config.WebSocketConfig) Settings {
	return Settings{
		DuplicateLoginPolicy: cfg.DuplicateLoginPolicy,
		SignalRouting:        cfg.SignalRouting,
		AllowedOrigins:       cfg.AllowedOrigins,
		MaxMessageSize:       cfg.MaxMessageSize,
		PongWait:             cfg.PongWait,
		WriteWait:            cfg.WriteWait,
		RateLimit:            cfg.RateLimit,
		RateBurst:            cfg.RateBurst,
	}.withDefaults()
}

// withDefaults fills every unset field from DefaultSettings. A zero RateLimit
// stays zero and disables the per-connection limiter. AllowedOrigins is kept
// as given, so an empty list admits only clients that send no Origin.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.DuplicateLoginPolicy == "" {
		s.DuplicateLoginPolicy = d.DuplicateLoginPolicy
	}
	if s.SignalRouting == "" {
		s.SignalRouting = d.SignalRouting
	}
	if s.MaxMessageSize <= 0 {
		s.MaxMessageSize = d.MaxMessageSize
	}
	if s.PongWait <= 0 {
		s.PongWait = d.PongWait
	}
	if s.WriteWait <= 0 {
		s.WriteWait = d.WriteWait
	}
	if s.RateLimit < 0 {
		s.RateLimit = 0
	}
	if s.RateBurst <= 0 {
		s.RateBurst = d.RateBurst
	}
	return s
}

// pingPeriod must stay below PongWait so a healthy peer never times out.
func (s Settings) pingPeriod() time.Duration {
	return (s.PongWait * 9) / 10
}

// Options wires a Hub to its settings and optional side channels.
type Options struct {
	Settings   Settings
	Presence   PresenceTracker
	CallEvents CallEventSink
	Logger     *slog.Logger
}

type inboundEvent struct {
	client   *Client
	envelope *Envelope
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
}

// Hub owns every relay state transition. Register, unregister and inbound
// events are processed one at a time by Run, so room updates and their
// notifications never interleave.
type Hub struct {
	connections *ConnectionRegistry
	rooms       *RoomRegistry

	// clients and sessions are only touched by the goroutine running the hub
	clients  map[*Client]struct{}
	sessions map[string][]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent

	settings Settings
	upgrader *websocket.Upgrader

	presence       PresenceTracker
	presenceQueue  chan presenceUpdate
	presenceClosed bool

	callEvents CallEventSink

	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

func NewHub(opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := opts.Settings.withDefaults()

	h := &Hub{
		connections: NewConnectionRegistry(),
		rooms:       NewRoomRegistry(),
		clients:     make(map[*Client]struct{}),
		sessions:    make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		inbound:     make(chan inboundEvent, 256),
		settings:    settings,
		presence:    opts.Presence,
		callEvents:  opts.CallEvents,
		logger:      logger.With("component", "hub"),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	h.upgrader = h.newUpgrader()
	if h.presence != nil {
		h.presenceQueue = make(chan presenceUpdate, presenceQueueSize)
	}
	return h
}

func (h *Hub) Connections() *ConnectionRegistry {
	return h.connections
}

func (h *Hub) Rooms() *RoomRegistry {
	return h.rooms
}

func (h *Hub) Settings() Settings {
	return h.settings
}

func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.connections.Count(),
		Rooms:       h.rooms.Snapshot(),
	}
}

// Run processes hub requests until Stop is called. On the way out every
// connected client is torn down.
func (h *Hub) Run() {
	h.started.Store(true)
	defer close(h.done)

	var workers sync.WaitGroup
	if h.presence != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			h.presenceLoop()
		}()
	}

	h.logger.Info("WebSocket hub started")

	for {
		select {
		case client := <-h.register:
			h.Connect(client)

		case client := <-h.unregister:
			h.Disconnect(client)

		case msg := <-h.inbound:
			h.Dispatch(msg.client, msg.envelope)

		case <-h.ctx.Done():
			h.shutdown()
			workers.Wait()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

// Stop cancels the hub and waits for Run to return.
func (h *Hub) Stop() {
	h.cancel()
	if h.started.Load() {
		<-h.done
	}
}

func (h *Hub) shutdown() {
	h.logger.Info("WebSocket hub shutting down", "clients", len(h.clients))
	for client := range h.clients {
		h.Disconnect(client)
	}
	if h.presenceQueue != nil && !h.presenceClosed {
		h.presenceClosed = true
		close(h.presenceQueue)
	}
}

// requestRegister hands a new client to the hub. It reports false when the
// hub has stopped.
func (h *Hub) requestRegister(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) requestUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// enqueue forwards an inbound event to the hub. It reports false once either
// the hub or the client is gone.
func (h *Hub) enqueue(c *Client, env *Envelope) bool {
	select {
	case h.inbound <- inboundEvent{client: c, envelope: env}:
		return true
	case <-c.ctx.Done():
		return false
	case <-h.ctx.Done():
		return false
	}
}

// Connect registers an authenticated client and applies the duplicate login
// policy to any connection it supersedes.
func (h *Hub) Connect(c *Client) {
	if !c.markAuthenticated() {
		return
	}

	h.clients[c] = struct{}{}
	h.sessions[c.userID] = append(h.sessions[c.userID], c)
	previous := h.connections.Register(c.userID, c)

	h.logger.Info("Client connected", "clientID", c.id, "userID", c.userID)

	if previous != nil {
		switch h.settings.DuplicateLoginPolicy {
		case config.DuplicateLoginClose:
			h.logger.Info("Closing superseded connection", "userID", c.userID, "clientID", previous.id)
			h.Disconnect(previous)
		default:
			h.logger.Info("Connection superseded, previous left open", "userID", c.userID, "clientID", previous.id)
		}
	}

	h.queuePresence(presenceOnline, c.userID, "")
}

// Disconnect tears a client down: it leaves its rooms, notifies the members
// left behind, releases the registry entry and closes the outbound queue.
// Repeated calls are no-ops.
func (h *Hub) Disconnect(c *Client) {
	if !c.markDisconnected() {
		return
	}

	delete(h.clients, c)
	remaining := h.removeSession(c)

	var departures []RoomDeparture
	if len(remaining) == 0 {
		departures = h.rooms.LeaveAll(c.userID)
	} else {
		// Another live connection of the same user keeps its own rooms.
		for _, roomID := range c.Rooms() {
			if anyInRoom(remaining, roomID) {
				continue
			}
			if h.rooms.Leave(roomID, c.userID) {
				departures = append(departures, RoomDeparture{RoomID: roomID, Remaining: h.rooms.Members(roomID)})
			}
		}
	}

	for _, departure := range departures {
		h.deliver(departure.RoomID, departure.Remaining, EventUserDisconnected, UserPresence{UserID: c.userID})
		h.queuePresence(presenceLeave, c.userID, departure.RoomID)
	}

	if current, ok := h.connections.Lookup(c.userID); ok && current == c {
		if len(remaining) > 0 {
			h.connections.Register(c.userID, remaining[len(remaining)-1])
		} else {
			h.connections.Release(c.userID, c.id)
		}
	}
	if len(remaining) == 0 {
		h.queuePresence(presenceOffline, c.userID, "")
	}

	c.closeSendChannel()

	h.logger.Info("Client disconnected",
		"clientID", c.id,
		"userID", c.userID,
		"rooms", len(departures),
		"connectedFor", time.Since(c.ConnectedAt()).Round(time.Millisecond),
	)
}

func (h *Hub) removeSession(c *Client) []*Client {
	sessions := h.sessions[c.userID]
	remaining := make([]*Client, 0, len(sessions))
	for _, s := range sessions {
		if s != c {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(h.sessions, c.userID)
		return nil
	}
	h.sessions[c.userID] = remaining
	return remaining
}

func anyInRoom(clients []*Client, roomID string) bool {
	for _, c := range clients {
		if c.IsInRoom(roomID) {
			return true
		}
	}
	return false
}

// Dispatch handles one inbound event from c. Invalid events are answered with
// an error event and never close the connection.
func (h *Hub) Dispatch(c *Client, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic while handling event", "event", env.Event, "clientID", c.id, "userID", c.userID, "panic", r)
		}
	}()

	if c.State() != StateAuthenticated {
		h.logger.Debug("Dropping event from inactive client", "event", env.Event, "clientID", c.id, "state", c.State())
		return
	}

	if !env.Event.IsInbound() {
		h.logger.Warn("Rejected event", "event", env.Event, "clientID", c.id, "userID", c.userID)
		c.sendError(fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event))
		return
	}

	var err error
	switch env.Event {
	case EventJoinRoom:
		err = h.handleJoinRoom(c, env.Data)
	case EventLeaveRoom:
		err = h.handleLeaveRoom(c, env.Data)
	case EventSignal:
		err = h.handleSignal(c, env.Data)
	case EventSendMessage:
		err = h.handleSendMessage(c, env.Data)
	case EventCallStarted:
		err = h.handleCallStarted(c, env.Data)
	}

	if err != nil {
		h.logger.Warn("Rejected event", "event", env.Event, "clientID", c.id, "userID", c.userID, "error", err)
		c.sendError(err)
	}
}

func (h *Hub) handleJoinRoom(c *Client, data json.RawMessage) error {
	roomID, err := decodeRoom(EventJoinRoom, data)
	if err != nil {
		return err
	}

	h.rooms.Join(roomID, c.userID)
	c.addRoom(roomID)

	peers := h.rooms.MembersExcluding(roomID, c.userID)
	h.deliver(roomID, peers, EventUserConnected, UserPresence{UserID: c.userID})
	if err := c.Send(EventUsersInRoom, UsersInRoom{Users: peers}); err != nil {
		h.logger.Debug("Failed to send room members", "clientID", c.id, "error", err)
	}

	h.queuePresence(presenceJoin, c.userID, roomID)
	h.logger.Debug("User joined room", "userID", c.userID, "roomID", roomID, "peers", len(peers))
	return nil
}

func (h *Hub) handleLeaveRoom(c *Client, data json.RawMessage) error {
	roomID, err := decodeRoom(EventLeaveRoom, data)
	if err != nil {
		return err
	}
	if !c.IsInRoom(roomID) {
		return nil
	}

	c.removeRoom(roomID)
	if anyInRoom(h.otherSessions(c), roomID) {
		return nil
	}
	if !h.rooms.Leave(roomID, c.userID) {
		return nil
	}

	h.deliver(roomID, h.rooms.Members(roomID), EventUserDisconnected, UserPresence{UserID: c.userID})
	h.queuePresence(presenceLeave, c.userID, roomID)
	h.logger.Debug("User left room", "userID", c.userID, "roomID", roomID)
	return nil
}

func (h *Hub) handleSignal(c *Client, data json.RawMessage) error {
	var payload SignalPayload
	if err := decodePayload(EventSignal, data, &payload); err != nil {
		return err
	}
	if payload.RoomID == "" {
		return fmt.Errorf("%w: signal requires a room id", ErrInvalidPayload)
	}
	if !c.IsInRoom(payload.RoomID) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, payload.RoomID)
	}

	relay := SignalRelay{Signal: payload.Signal, From: c.userID, To: payload.To}

	if h.settings.SignalRouting == config.SignalRoutingDirect {
		if payload.To == "" || payload.To == c.userID || !h.rooms.Contains(payload.RoomID, payload.To) {
			return fmt.Errorf("%w: %q", ErrPeerNotInRoom, payload.To)
		}
		h.deliver(payload.RoomID, []string{payload.To}, EventSignal, relay)
		return nil
	}

	h.deliver(payload.RoomID, h.rooms.MembersExcluding(payload.RoomID, c.userID), EventSignal, relay)
	return nil
}

func (h *Hub) handleSendMessage(c *Client, data json.RawMessage) error {
	var payload SendMessagePayload
	if err := decodePayload(EventSendMessage, data, &payload); err != nil {
		return err
	}
	if payload.RoomID == "" {
		return fmt.Errorf("%w: send-message requires a room id", ErrInvalidPayload)
	}
	if !c.IsInRoom(payload.RoomID) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, payload.RoomID)
	}

	h.deliver(payload.RoomID, h.rooms.MembersExcluding(payload.RoomID, c.userID), EventReceiveMessage, ReceiveMessage{
		Message: payload.Message,
		UserID:  c.userID,
	})
	return nil
}

func (h *Hub) handleCallStarted(c *Client, data json.RawMessage) error {
	var payload CallStartedPayload
	if err := decodePayload(EventCallStarted, data, &payload); err != nil {
		return err
	}

	h.logger.Info("Call started", "roomID", payload.RoomID, "userID", c.userID, "duration", string(payload.Duration))

	if h.callEvents != nil {
		h.callEvents.PublishCallStarted(CallStarted{
			RoomID:    payload.RoomID,
			UserID:    c.userID,
			Duration:  payload.Duration,
			StartedAt: time.Now().UTC(),
		})
	}
	return nil
}

func (h *Hub) otherSessions(c *Client) []*Client {
	var others []*Client
	for _, s := range h.sessions[c.userID] {
		if s != c {
			others = append(others, s)
		}
	}
	return others
}

// deliver sends event to every connection of userIDs that has joined roomID.
func (h *Hub) deliver(roomID string, userIDs []string, event EventType, data any) {
	if len(userIDs) == 0 {
		return
	}

	frame, err := NewEnvelope(event, data)
	if err != nil {
		h.logger.Error("Failed to encode event", "event", event, "roomID", roomID, "error", err)
		return
	}

	for _, userID := range userIDs {
		for _, s := range h.sessions[userID] {
			if !s.IsInRoom(roomID) {
				continue
			}
			if err := s.sendFrame(frame); err != nil {
				h.logger.Debug("Dropped event for client", "event", event, "clientID", s.id, "userID", userID, "error", err)
			}
		}
	}
}
