package gateway

import (
	"sort"
	"sync"
	"time"
)

// idleAfter is how long a client may stay silent before it is reported idle
const idleAfter = 5 * time.Minute

// ClientRegistry tracks websocket clients and the sessions each one watches.
// A client that watches nothing receives notifications for every session.
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	watchers map[string]map[string]struct{} // session ID -> client IDs
}

// NewClientRegistry creates an empty registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients:  make(map[string]*Client),
		watchers: make(map[string]map[string]struct{}),
	}
}

// Add registers a client
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client.watching == nil {
		client.watching = make(map[string]struct{})
	}
	r.clients[client.ID] = client
}

// Remove drops a client and its watches, reporting whether it was registered
func (r *ClientRegistry) Remove(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		return false
	}
	for sessionID := range client.watching {
		r.unwatchLocked(client, sessionID)
	}
	delete(r.clients, clientID)
	return true
}

// Get retrieves a client by ID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// All returns every registered client
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// Watch narrows a client's session notifications to the sessions it watches.
// It returns false when the client is unknown.
func (r *ClientRegistry) Watch(clientID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		return false
	}
	client.watching[sessionID] = struct{}{}
	ids, ok := r.watchers[sessionID]
	if !ok {
		ids = make(map[string]struct{})
		r.watchers[sessionID] = ids
	}
	ids[clientID] = struct{}{}
	return true
}

// Unwatch stops a client watching a session. It returns false when the
// client did not watch it.
func (r *ClientRegistry) Unwatch(clientID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		return false
	}
	if _, watched := client.watching[sessionID]; !watched {
		return false
	}
	r.unwatchLocked(client, sessionID)
	return true
}

// ForgetSession drops every watch on a deleted session
func (r *ClientRegistry) ForgetSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for clientID := range r.watchers[sessionID] {
		if client, ok := r.clients[clientID]; ok {
			delete(client.watching, sessionID)
		}
	}
	delete(r.watchers, sessionID)
}

func (r *ClientRegistry) unwatchLocked(client *Client, sessionID string) {
	delete(client.watching, sessionID)
	if ids, ok := r.watchers[sessionID]; ok {
		delete(ids, client.ID)
		if len(ids) == 0 {
			delete(r.watchers, sessionID)
		}
	}
}

// Audience returns the clients that should hear about sessionID: its
// watchers plus every client that watches nothing.
func (r *ClientRegistry) Audience(sessionID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Client
	for _, client := range r.clients {
		if len(client.watching) == 0 {
			out = append(out, client)
			continue
		}
		if _, ok := r.watchers[sessionID][client.ID]; ok {
			out = append(out, client)
		}
	}
	return out
}

// Snapshot describes every connected client
func (r *ClientRegistry) Snapshot() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		var watching []string
		for sessionID := range client.watching {
			watching = append(watching, sessionID)
		}
		sort.Strings(watching)

		infos = append(infos, ClientInfo{
			ID:           client.ID,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: client.LastActivity,
			IPAddress:    client.IPAddress,
			Idle:         now.Sub(client.LastActivity) > idleAfter,
			Watching:     watching,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// Touch records activity from a client
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[clientID]; exists {
		client.LastActivity = time.Now()
	}
}
