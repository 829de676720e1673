package hostlink

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Conn is one authenticated host connection.
type Conn struct {
	mu          sync.Mutex
	ID          string
	Host        string
	Remote      string
	ConnectedAt time.Time
	LastSeenAt  time.Time
	Requests    int
	conn        *websocket.Conn
}

func (c *Conn) touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastSeenAt = now
	c.Requests++
}

// Info is a snapshot of a connection, safe to serialize.
type Info struct {
	ID          string    `json:"id"`
	Host        string    `json:"host"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Requests    int       `json:"requests"`
}

func (c *Conn) info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:          c.ID,
		Host:        c.Host,
		Remote:      c.Remote,
		ConnectedAt: c.ConnectedAt,
		LastSeenAt:  c.LastSeenAt,
		Requests:    c.Requests,
	}
}

// ConnStore is a concurrent-safe in-memory store of live connections.
type ConnStore struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewConnStore creates an empty ConnStore.
func NewConnStore() *ConnStore {
	return &ConnStore{conns: make(map[string]*Conn)}
}

// AddIfUnder registers c unless the store already holds limit connections.
// Check and insert happen under one lock.
func (s *ConnStore) AddIfUnder(c *Conn, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) >= limit {
		return false
	}
	s.conns[c.ID] = c
	return true
}

// Get returns the connection with the given ID, or false if not found.
func (s *ConnStore) Get(id string) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// Remove deletes a connection from the store.
func (s *ConnStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// Len returns the number of connections in the store.
func (s *ConnStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// List returns a snapshot of every connection ordered by connect time.
func (s *ConnStore) List() []Info {
	s.mu.RLock()
	out := make([]Info, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.info())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Range iterates over all connections, calling fn for each. If fn returns
// false, iteration stops.
func (s *ConnStore) Range(fn func(id string, c *Conn) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, c := range s.conns {
		if !fn(id, c) {
			return
		}
	}
}
