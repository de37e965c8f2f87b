package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"signaling-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, mutate func(*Options)) *Hub {
	t.Helper()
	opts := Options{
		Settings: DefaultSettings(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewHub(opts)
}

// connect creates a transport-less client for userID and registers it.
func connect(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(h, nil, userID)
	h.Connect(c)
	require.Equal(t, StateAuthenticated, c.State())
	return c
}

func dispatch(t *testing.T, h *Hub, c *Client, event EventType, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	h.Dispatch(c, &Envelope{Event: event, Data: raw})
}

// drain returns every queued outbound envelope of c.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func requireSingle(t *testing.T, c *Client, event EventType) Envelope {
	t.Helper()
	events := drain(t, c)
	require.Len(t, events, 1, "events for %s", c.UserID())
	require.Equal(t, event, events[0].Event)
	return events[0]
}

func TestHub_JoinRoomScenario(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")

	dispatch(t, h, a, EventJoinRoom, "r1")
	env := requireSingle(t, a, EventUsersInRoom)
	assert.Equal(t, []string{}, decode[UsersInRoom](t, env).Users)

	dispatch(t, h, b, EventJoinRoom, "r1")
	env = requireSingle(t, a, EventUserConnected)
	assert.Equal(t, "B", decode[UserPresence](t, env).UserID)
	env = requireSingle(t, b, EventUsersInRoom)
	assert.Equal(t, []string{"A"}, decode[UsersInRoom](t, env).Users)

	assert.Equal(t, []string{"A", "B"}, h.Rooms().Members("r1"))
	assert.True(t, a.IsInRoom("r1"))
}

func TestHub_JoinRoomAcceptsObjectPayload(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")

	dispatch(t, h, a, EventJoinRoom, map[string]string{"roomId": "r9"})
	requireSingle(t, a, EventUsersInRoom)
	assert.True(t, h.Rooms().Contains("r9", "A"))
}

func TestHub_JoinRoomTwiceKeepsMembership(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")

	dispatch(t, h, a, EventJoinRoom, "r1")
	dispatch(t, h, a, EventJoinRoom, "r1")

	assert.Equal(t, []string{"A"}, h.Rooms().Members("r1"))
	assert.Equal(t, []string{"r1"}, a.Rooms())
}

func TestHub_SendMessageNoEcho(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	outsider := connect(t, h, "C")

	dispatch(t, h, a, EventJoinRoom, "r1")
	dispatch(t, h, b, EventJoinRoom, "r1")
	dispatch(t, h, outsider, EventJoinRoom, "r2")
	drain(t, a)
	drain(t, b)
	drain(t, outsider)

	dispatch(t, h, a, EventSendMessage, map[string]string{"roomId": "r1", "message": "hi", "userId": "B"})

	env := requireSingle(t, b, EventReceiveMessage)
	msg := decode[ReceiveMessage](t, env)
	assert.Equal(t, "A", msg.UserID, "sender id comes from the connection")
	assert.JSONEq(t, `"hi"`, string(msg.Message))

	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, outsider))
}

func TestHub_RoomIDsMatchExactly(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	spaced := connect(t, h, "C")

	dispatch(t, h, a, EventJoinRoom, " r1")
	dispatch(t, h, b, EventJoinRoom, map[string]string{"roomId": " r1"})
	dispatch(t, h, spaced, EventJoinRoom, "r1")
	drain(t, a)
	drain(t, b)
	drain(t, spaced)

	assert.Equal(t, map[string]int{" r1": 2, "r1": 1}, h.Rooms().Snapshot())
	assert.Equal(t, []string{" r1"}, a.Rooms())

	dispatch(t, h, a, EventSendMessage, map[string]string{"roomId": " r1", "message": "hi"})
	env := requireSingle(t, b, EventReceiveMessage)
	assert.Equal(t, "A", decode[ReceiveMessage](t, env).UserID)

	dispatch(t, h, b, EventSignal, map[string]any{"roomId": " r1", "signal": map[string]string{"type": "offer"}})
	env = requireSingle(t, a, EventSignal)
	assert.Equal(t, "B", decode[SignalRelay](t, env).From)

	assert.Empty(t, drain(t, spaced))

	dispatch(t, h, a, EventSendMessage, map[string]string{"roomId": "r1", "message": "hi"})
	env = requireSingle(t, a, EventError)
	assert.Equal(t, CodeNotInRoom, decode[ErrorPayload](t, env).Code)
	assert.Empty(t, drain(t, spaced))

	dispatch(t, h, a, EventLeaveRoom, " r1")
	env = requireSingle(t, b, EventUserDisconnected)
	assert.Equal(t, "A", decode[UserPresence](t, env).UserID)
	assert.Equal(t, map[string]int{" r1": 1, "r1": 1}, h.Rooms().Snapshot())
}

func TestHub_SignalBroadcast(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	c := connect(t, h, "C")
	for _, client := range []*Client{a, b, c} {
		dispatch(t, h, client, EventJoinRoom, "r1")
	}
	drain(t, a)
	drain(t, b)
	drain(t, c)

	dispatch(t, h, a, EventSignal, map[string]any{
		"roomId": "r1",
		"to":     "B",
		"from":   "C",
		"signal": map[string]string{"type": "offer", "sdp": "v=0"},
	})

	for _, peer := range []*Client{b, c} {
		env := requireSingle(t, peer, EventSignal)
		relay := decode[SignalRelay](t, env)
		assert.Equal(t, "A", relay.From)
		assert.Equal(t, "B", relay.To)
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(relay.Signal))
	}
	assert.Empty(t, drain(t, a))
}

func TestHub_SignalDirect(t *testing.T) {
	h := newTestHub(t, func(o *Options) {
		o.Settings.SignalRouting = config.SignalRoutingDirect
	})
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	c := connect(t, h, "C")
	for _, client := range []*Client{a, b, c} {
		dispatch(t, h, client, EventJoinRoom, "r1")
	}
	drain(t, a)
	drain(t, b)
	drain(t, c)

	dispatch(t, h, a, EventSignal, map[string]any{"roomId": "r1", "to": "B", "signal": "candidate"})
	env := requireSingle(t, b, EventSignal)
	assert.Equal(t, "A", decode[SignalRelay](t, env).From)
	assert.Empty(t, drain(t, c))

	dispatch(t, h, a, EventSignal, map[string]any{"roomId": "r1", "to": "Z", "signal": "candidate"})
	env = requireSingle(t, a, EventError)
	assert.Equal(t, CodePeerNotInRoom, decode[ErrorPayload](t, env).Code)
	assert.Empty(t, drain(t, b))
	assert.Empty(t, drain(t, c))
}

func TestHub_RelayRequiresMembership(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	dispatch(t, h, b, EventJoinRoom, "r1")
	drain(t, b)

	dispatch(t, h, a, EventSendMessage, map[string]string{"roomId": "r1", "message": "hi"})
	env := requireSingle(t, a, EventError)
	assert.Equal(t, CodeNotInRoom, decode[ErrorPayload](t, env).Code)

	dispatch(t, h, a, EventSignal, map[string]string{"roomId": "r1", "to": "B"})
	env = requireSingle(t, a, EventError)
	assert.Equal(t, CodeNotInRoom, decode[ErrorPayload](t, env).Code)

	assert.Empty(t, drain(t, b))
}

func TestHub_InvalidEvents(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")

	tests := []struct {
		name  string
		event EventType
		data  json.RawMessage
		code  string
	}{
		{"unknown event", "dance", json.RawMessage(`{}`), CodeUnknownEvent},
		{"join without payload", EventJoinRoom, nil, CodeInvalidPayload},
		{"join with empty room", EventJoinRoom, json.RawMessage(`""`), CodeInvalidPayload},
		{"join with empty room object", EventJoinRoom, json.RawMessage(`{"roomId":""}`), CodeInvalidPayload},
		{"join with number", EventJoinRoom, json.RawMessage(`17`), CodeInvalidPayload},
		{"signal without room", EventSignal, json.RawMessage(`{"to":"B"}`), CodeInvalidPayload},
		{"message not an object", EventSendMessage, json.RawMessage(`"hi"`), CodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.Dispatch(a, &Envelope{Event: tt.event, Data: tt.data})
			env := requireSingle(t, a, EventError)
			assert.Equal(t, tt.code, decode[ErrorPayload](t, env).Code)
			assert.Equal(t, StateAuthenticated, a.State())
		})
	}
	assert.Equal(t, 0, h.Rooms().Count())
}

func TestHub_LeaveRoom(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	dispatch(t, h, a, EventJoinRoom, "r1")
	dispatch(t, h, b, EventJoinRoom, "r1")
	drain(t, a)
	drain(t, b)

	dispatch(t, h, b, EventLeaveRoom, "r1")
	env := requireSingle(t, a, EventUserDisconnected)
	assert.Equal(t, "B", decode[UserPresence](t, env).UserID)
	assert.False(t, b.IsInRoom("r1"))
	assert.Equal(t, []string{"A"}, h.Rooms().Members("r1"))

	dispatch(t, h, b, EventLeaveRoom, "r1")
	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
}

func TestHub_DisconnectFromTwoRooms(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	c := connect(t, h, "C")
	dispatch(t, h, a, EventJoinRoom, "r1")
	dispatch(t, h, a, EventJoinRoom, "r2")
	dispatch(t, h, b, EventJoinRoom, "r1")
	dispatch(t, h, c, EventJoinRoom, "r2")
	dispatch(t, h, a, EventJoinRoom, "solo-a")
	drain(t, a)
	drain(t, b)
	drain(t, c)

	h.Disconnect(a)

	for _, peer := range []*Client{b, c} {
		env := requireSingle(t, peer, EventUserDisconnected)
		assert.Equal(t, "A", decode[UserPresence](t, env).UserID)
	}

	assert.Equal(t, StateDisconnected, a.State())
	_, ok := h.Connections().Lookup("A")
	assert.False(t, ok)
	assert.Equal(t, map[string]int{"r1": 1, "r2": 1}, h.Rooms().Snapshot())

	_, open := <-a.send
	assert.False(t, open, "send queue is closed on teardown")

	h.Disconnect(a)
	assert.Empty(t, drain(t, b))
}

func TestHub_DuplicateLoginKeep(t *testing.T) {
	h := newTestHub(t, nil)
	peer := connect(t, h, "B")
	first := connect(t, h, "A")
	dispatch(t, h, peer, EventJoinRoom, "r1")
	dispatch(t, h, first, EventJoinRoom, "r1")
	drain(t, peer)
	drain(t, first)

	second := connect(t, h, "A")
	assert.Equal(t, StateAuthenticated, first.State(), "superseded connection stays open")
	current, _ := h.Connections().Lookup("A")
	assert.Same(t, second, current)

	dispatch(t, h, peer, EventSendMessage, map[string]string{"roomId": "r1", "message": "still there?"})
	requireSingle(t, first, EventReceiveMessage)
	assert.Empty(t, drain(t, second), "second connection has not joined r1")

	// The successor's registry entry survives the old connection closing.
	h.Disconnect(first)
	current, ok := h.Connections().Lookup("A")
	require.True(t, ok)
	assert.Same(t, second, current)
	requireSingle(t, peer, EventUserDisconnected)
	assert.False(t, h.Rooms().Contains("r1", "A"))
}

func TestHub_DuplicateLoginKeepSharedRoom(t *testing.T) {
	h := newTestHub(t, nil)
	peer := connect(t, h, "B")
	first := connect(t, h, "A")
	second := connect(t, h, "A")
	dispatch(t, h, peer, EventJoinRoom, "r1")
	dispatch(t, h, first, EventJoinRoom, "r1")
	dispatch(t, h, second, EventJoinRoom, "r1")
	drain(t, peer)

	h.Disconnect(second)

	assert.True(t, h.Rooms().Contains("r1", "A"), "first connection still holds the room")
	assert.Empty(t, drain(t, peer))
	current, ok := h.Connections().Lookup("A")
	require.True(t, ok)
	assert.Same(t, first, current, "registry falls back to the remaining connection")
}

func TestHub_DuplicateLoginClose(t *testing.T) {
	h := newTestHub(t, func(o *Options) {
		o.Settings.DuplicateLoginPolicy = config.DuplicateLoginClose
	})
	peer := connect(t, h, "B")
	first := connect(t, h, "A")
	dispatch(t, h, peer, EventJoinRoom, "r1")
	dispatch(t, h, first, EventJoinRoom, "r1")
	drain(t, peer)
	drain(t, first)

	second := connect(t, h, "A")

	assert.Equal(t, StateDisconnected, first.State())
	env := requireSingle(t, peer, EventUserDisconnected)
	assert.Equal(t, "A", decode[UserPresence](t, env).UserID)

	current, ok := h.Connections().Lookup("A")
	require.True(t, ok)
	assert.Same(t, second, current)
	assert.False(t, h.Rooms().Contains("r1", "A"))
}

func TestHub_DropsEventsFromInactiveClients(t *testing.T) {
	h := newTestHub(t, nil)
	pending := NewClient(h, nil, "A")
	dispatch(t, h, pending, EventJoinRoom, "r1")
	assert.Equal(t, 0, h.Rooms().Count())
	assert.Empty(t, drain(t, pending))

	gone := connect(t, h, "B")
	h.Disconnect(gone)
	dispatch(t, h, gone, EventJoinRoom, "r1")
	assert.Equal(t, 0, h.Rooms().Count())
}

func TestHub_SlowClientIsClosed(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, a.Send(EventUsersInRoom, UsersInRoom{}))
	}
	assert.ErrorIs(t, a.Send(EventUsersInRoom, UsersInRoom{}), ErrClientDisconnected)
	assert.ErrorIs(t, a.Send(EventUsersInRoom, UsersInRoom{}), ErrClientDisconnected)
}

type recordingSink struct {
	events []CallStarted
}

func (s *recordingSink) PublishCallStarted(event CallStarted) {
	s.events = append(s.events, event)
}

func TestHub_CallStartedForwarded(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHub(t, func(o *Options) {
		o.CallEvents = sink
	})
	a := connect(t, h, "A")

	dispatch(t, h, a, EventCallStarted, map[string]any{"roomId": "r1", "duration": 30, "userId": "spoofed"})

	require.Len(t, sink.events, 1)
	assert.Equal(t, "r1", sink.events[0].RoomID)
	assert.Equal(t, "A", sink.events[0].UserID)
	assert.JSONEq(t, `30`, string(sink.events[0].Duration))
	assert.Empty(t, drain(t, a))
}

type presenceCall struct {
	op     string
	userID string
	roomID string
}

type recordingPresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (p *recordingPresence) record(op, userID, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{op: op, userID: userID, roomID: roomID})
	return nil
}

func (p *recordingPresence) SetUserOnline(_ context.Context, userID string) error {
	return p.record("online", userID, "")
}

func (p *recordingPresence) SetUserOffline(_ context.Context, userID string) error {
	return p.record("offline", userID, "")
}

func (p *recordingPresence) AddRoomMember(_ context.Context, roomID, userID string) error {
	return p.record("join", userID, roomID)
}

func (p *recordingPresence) RemoveRoomMember(_ context.Context, roomID, userID string) error {
	return p.record("leave", userID, roomID)
}

func (p *recordingPresence) snapshot() []presenceCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presenceCall(nil), p.calls...)
}

func TestHub_RunMirrorsPresence(t *testing.T) {
	presence := &recordingPresence{}
	h := newTestHub(t, func(o *Options) {
		o.Presence = presence
	})
	go h.Run()

	c := NewClient(h, nil, "A")
	require.True(t, h.requestRegister(c))
	raw, err := json.Marshal("r1")
	require.NoError(t, err)
	require.True(t, h.enqueue(c, &Envelope{Event: EventJoinRoom, Data: raw}))

	require.Eventually(t, func() bool {
		return h.Rooms().Contains("r1", "A")
	}, time.Second, 10*time.Millisecond)

	h.Stop()

	assert.Equal(t, []presenceCall{
		{op: "online", userID: "A"},
		{op: "join", userID: "A", roomID: "r1"},
		{op: "leave", userID: "A", roomID: "r1"},
		{op: "offline", userID: "A"},
	}, presence.snapshot())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, h.Stats().Connections)
}

func TestNewHub_FillsUnsetSettings(t *testing.T) {
	h := NewHub(Options{Settings: Settings{PongWait: 30 * time.Second, RateLimit: 5}})
	s := h.Settings()

	assert.Equal(t, 30*time.Second, s.PongWait)
	assert.Equal(t, 5.0, s.RateLimit)
	assert.Equal(t, DefaultSettings().RateBurst, s.RateBurst)
	assert.Equal(t, DefaultSettings().WriteWait, s.WriteWait)
	assert.Equal(t, DefaultSettings().MaxMessageSize, s.MaxMessageSize)
	assert.Equal(t, config.DuplicateLoginKeep, s.DuplicateLoginPolicy)
	assert.Equal(t, config.SignalRoutingBroadcast, s.SignalRouting)
	assert.Empty(t, s.AllowedOrigins)

	c := NewClient(h, nil, "alice")
	assert.True(t, c.limiter.Allow(), "a partial config must not starve the limiter")
	assert.WithinDuration(t, time.Now(), c.ConnectedAt(), time.Second)
}

func TestHub_RejectsOutboundEventNames(t *testing.T) {
	h := newTestHub(t, nil)
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	dispatch(t, h, a, EventJoinRoom, "r1")
	dispatch(t, h, b, EventJoinRoom, "r1")
	drain(t, a)
	drain(t, b)

	for _, event := range []EventType{EventReceiveMessage, EventUserConnected, EventError} {
		assert.False(t, event.IsInbound(), event)
		dispatch(t, h, a, event, map[string]string{"roomId": "r1", "message": "spoof"})
		env := requireSingle(t, a, EventError)
		assert.Equal(t, CodeUnknownEvent, decode[ErrorPayload](t, env).Code)
	}
	assert.Empty(t, drain(t, b))
}
