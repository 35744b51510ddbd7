// Package registry is the sole authority over the channel<->connection
// subscription relation. All structural mutation is serialized behind one
// lock so the bidirectional invariant (a connection is in a channel's
// subscriber set iff the channel is in the connection's subscribed set) holds
// at every quiescent point, and a channel is garbage-collected the instant
// its subscriber set empties.
package registry

import (
	"sync"

	"pubsubd/conn"
)

type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*conn.Conn
	channels map[string]map[string]*conn.Conn // channel -> connID -> conn
	subs     map[string]map[string]struct{}   // connID -> subscribed channels
	maxConns int
}

func New(maxConns int) *Registry {
	if maxConns <= 0 {
		maxConns = 100000
	}
	return &Registry{
		conns:    make(map[string]*conn.Conn),
		channels: make(map[string]map[string]*conn.Conn),
		subs:     make(map[string]map[string]struct{}),
		maxConns: maxConns,
	}
}

// Register adds a new connection. Returns false when the server is full or
// the ID is already taken.
func (r *Registry) Register(c *conn.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) >= r.maxConns {
		return false
	}
	if _, ok := r.conns[c.ID]; ok {
		return false
	}
	r.conns[c.ID] = c
	r.subs[c.ID] = make(map[string]struct{})
	return true
}

func (r *Registry) Get(id string) (*conn.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Subscribe adds the connection to the channel, creating the channel lazily.
// Subscribing twice, or subscribing an unregistered connection (one already
// mid-teardown), is a no-op.
func (r *Registry) Subscribe(id, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return
	}
	subscribers, ok := r.channels[channel]
	if !ok {
		subscribers = make(map[string]*conn.Conn)
		r.channels[channel] = subscribers
	}
	subscribers[id] = c
	r.subs[id][channel] = struct{}{}
}

// Unsubscribe removes the connection from the channel. Unsubscribing from a
// channel never joined, or from a nonexistent channel, is a no-op. An emptied
// channel is removed immediately.
func (r *Registry) Unsubscribe(id, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(id, channel)
}

func (r *Registry) unsubscribeLocked(id, channel string) {
	subscribers, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(subscribers, id)
	if len(subscribers) == 0 {
		delete(r.channels, channel)
	}
	if set, ok := r.subs[id]; ok {
		delete(set, channel)
	}
}

// Snapshot returns the channel's current subscribers for dispatch. An unknown
// or empty channel yields an empty snapshot, never an error. Snapshotting is
// mutually exclusive with structural mutation, so a fully removed connection
// can never appear in the result.
func (r *Registry) Snapshot(channel string) []*conn.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subscribers, ok := r.channels[channel]
	if !ok {
		return nil
	}
	out := make([]*conn.Conn, 0, len(subscribers))
	for _, c := range subscribers {
		if !c.IsClosed() {
			out = append(out, c)
		}
	}
	return out
}

// RemoveConnection atomically removes the connection from every channel it
// subscribed to, destroying channels left empty, and discards its state.
// Safe to call more than once.
func (r *Registry) RemoveConnection(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[id]
	if !ok {
		return
	}
	for channel := range set {
		r.unsubscribeLocked(id, channel)
	}
	delete(r.subs, id)
	delete(r.conns, id)
}

// IsSubscribed reports whether the connection is currently in the channel.
func (r *Registry) IsSubscribed(id, channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subscribers, ok := r.channels[channel]
	if !ok {
		return false
	}
	_, ok = subscribers[id]
	return ok
}

// SubscribedChannels returns the channels the connection is subscribed to.
func (r *Registry) SubscribedChannels(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.subs[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for channel := range set {
		out = append(out, channel)
	}
	return out
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Stats returns subscriber counts per channel.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]int, len(r.channels))
	for name, subscribers := range r.channels {
		stats[name] = len(subscribers)
	}
	return stats
}

// Conns returns a snapshot of all registered connections.
func (r *Registry) Conns() []*conn.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conn.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
