// Package connmgr implements the Connection Manager registry of spec.md
// §4.6: a concurrent-safe index of live connections keyed by id, used for
// broadcast and bulk disposal (e.g. on shutdown).
package connmgr

import (
	"log/slog"
	"sync"

	"github.com/ocx/gateway/internal/connection"
)

// Manager is a concurrent-safe registry of live connections. Add/Remove may
// run from any accept or teardown goroutine; Range tolerates concurrent
// removal of the entry it is currently visiting.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*connection.Connection
	log   *slog.Logger
}

// New creates an empty Manager.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{conns: make(map[string]*connection.Connection), log: logger}
}

// Add registers a connection under its ID.
func (m *Manager) Add(c *connection.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID] = c
}

// Remove unregisters a connection by ID. It does not dispose the
// connection; callers that own the lifecycle decide whether to dispose
// before or after removing.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

// Get returns the connection registered under id, if any.
func (m *Manager) Get(id string) (*connection.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// Len reports the number of registered connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Range calls fn for every registered connection at the time of the call.
// fn must not call Add/Remove on this Manager.
func (m *Manager) Range(fn func(*connection.Connection)) {
	m.mu.RLock()
	snapshot := make([]*connection.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// Broadcast sends frame to every registered connection, logging (but not
// failing) individual send errors.
func (m *Manager) Broadcast(frame []byte) {
	m.Range(func(c *connection.Connection) {
		if _, err := c.Send(frame); err != nil {
			m.log.Warn("broadcast send failed", "conn_id", c.ID, "error", err)
		}
	})
}

// DisposeAll disposes every registered connection and empties the registry,
// used on graceful shutdown.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	snapshot := make([]*connection.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		snapshot = append(snapshot, c)
	}
	m.conns = make(map[string]*connection.Connection)
	m.mu.Unlock()

	for _, c := range snapshot {
		if err := c.Dispose(); err != nil {
			m.log.Warn("dispose failed", "conn_id", c.ID, "error", err)
		}
	}
}
