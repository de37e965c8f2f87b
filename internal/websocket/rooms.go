package websocket

import (
	"sort"
	"sync"
)

// RoomDeparture reports the members left behind in a room after a user was
// removed from it.
type RoomDeparture struct {
	RoomID    string
	Remaining []string
}

// RoomRegistry tracks which users are joined to which rooms. A room exists
// only while it has at least one member.
type RoomRegistry struct {
	// roomUsers maps room ID to the set of user IDs joined to it
	roomUsers map[string]map[string]struct{}

	mu sync.RWMutex
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		roomUsers: make(map[string]map[string]struct{}),
	}
}

// Join adds userID to roomID, creating the room on first use. It reports
// whether the membership changed.
func (r *RoomRegistry) Join(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.roomUsers[roomID]
	if !ok {
		users = make(map[string]struct{})
		r.roomUsers[roomID] = users
	}
	if _, member := users[userID]; member {
		return false
	}
	users[userID] = struct{}{}
	return true
}

// Leave removes userID from roomID and drops the room once it is empty. It
// reports whether the user was a member.
func (r *RoomRegistry) Leave(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, userID)
}

func (r *RoomRegistry) leaveLocked(roomID, userID string) bool {
	users, ok := r.roomUsers[roomID]
	if !ok {
		return false
	}
	if _, member := users[userID]; !member {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.roomUsers, roomID)
	}
	return true
}

// LeaveAll removes userID from every room it belongs to and returns, per
// affected room, the members that remain. Results are ordered by room ID.
func (r *RoomRegistry) LeaveAll(userID string) []RoomDeparture {
	r.mu.Lock()
	defer r.mu.Unlock()

	var departures []RoomDeparture
	for roomID, users := range r.roomUsers {
		if _, member := users[userID]; !member {
			continue
		}
		r.leaveLocked(roomID, userID)
		departures = append(departures, RoomDeparture{
			RoomID:    roomID,
			Remaining: sortedMembers(r.roomUsers[roomID], ""),
		})
	}

	sort.Slice(departures, func(i, j int) bool {
		return departures[i].RoomID < departures[j].RoomID
	})
	return departures
}

// MembersExcluding returns the members of roomID other than userID. An absent
// room yields an empty slice.
func (r *RoomRegistry) MembersExcluding(roomID, userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedMembers(r.roomUsers[roomID], userID)
}

func (r *RoomRegistry) Members(roomID string) []string {
	return r.MembersExcluding(roomID, "")
}

func (r *RoomRegistry) Contains(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.roomUsers[roomID][userID]
	return ok
}

// Snapshot returns the member count of every room.
func (r *RoomRegistry) Snapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.roomUsers))
	for roomID, users := range r.roomUsers {
		counts[roomID] = len(users)
	}
	return counts
}

func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomUsers)
}

func sortedMembers(users map[string]struct{}, exclude string) []string {
	members := make([]string, 0, len(users))
	for userID := range users {
		if userID != exclude {
			members = append(members, userID)
		}
	}
	sort.Strings(members)
	return members
}
