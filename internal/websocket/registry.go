package websocket

import (
	"sort"
	"sync"
)

// ConnectionRegistry maps each authenticated user to the single connection
// that currently speaks for them.
type ConnectionRegistry struct {
	// userConnections maps user ID to their active client connection
	userConnections map[string]*Client

	mu sync.RWMutex
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		userConnections: make(map[string]*Client),
	}
}

// Register records client as the live connection of userID, overwriting any
// previous mapping. The superseded client is returned, or nil when there was
// none or it was client itself.
func (r *ConnectionRegistry) Register(userID string, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.userConnections[userID]
	r.userConnections[userID] = client
	if previous == client {
		return nil
	}
	return previous
}

// Unregister removes the mapping for userID. Absent users are ignored.
func (r *ConnectionRegistry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.userConnections, userID)
}

// Release removes the mapping for userID only while it still points at the
// connection connID, and reports whether it did.
func (r *ConnectionRegistry) Release(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.userConnections[userID]
	if !ok || current.ID() != connID {
		return false
	}
	delete(r.userConnections, userID)
	return true
}

func (r *ConnectionRegistry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.userConnections[userID]
	return client, ok
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConnections)
}

// Users returns the registered user IDs in sorted order.
func (r *ConnectionRegistry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.userConnections))
	for userID := range r.userConnections {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
