// Package server tracks which live connections have joined the room and
// under which display name.
package server

import (
	"sync"

	"github.com/samber/lo"
)

type sessionEntry struct {
	client *Client
	name   string
}

// SessionRegistry maps joined connections to their display names. Entries
// keep the order in which connections first joined.
type SessionRegistry struct {
	mu      sync.RWMutex
	entries []sessionEntry
	index   map[*Client]int
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		index: make(map[*Client]int),
	}
}

// Register binds the client to name. Registering an already known client
// replaces its name in place.
func (r *SessionRegistry) Register(client *Client, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[client]; ok {
		r.entries[i].name = name
		return
	}
	r.index[client] = len(r.entries)
	r.entries = append(r.entries, sessionEntry{client: client, name: name})
}

// Unregister removes the client. It reports whether an entry was removed;
// unknown clients are a no-op.
func (r *SessionRegistry) Unregister(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[client]
	if !ok {
		return false
	}
	delete(r.index, client)
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].client] = j
	}
	return true
}

// Lookup returns the display name registered for client.
func (r *SessionRegistry) Lookup(client *Client) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[client]
	if !ok {
		return "", false
	}
	return r.entries[i].name, true
}

// NamesSnapshot returns the roster in join order. Duplicate names are kept.
func (r *SessionRegistry) NamesSnapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.entries, func(e sessionEntry, _ int) string {
		return e.name
	})
}

// Clients returns the joined clients in join order.
func (r *SessionRegistry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.entries, func(e sessionEntry, _ int) *Client {
		return e.client
	})
}

// Len reports the number of joined clients.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
