// Package session owns the per-user Session map and serializes access to each
// entry. Different users proceed concurrently.
package session

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/metrics"
	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
)

type entry struct {
	mu       sync.Mutex
	session  *sessionmodel.Session
	lastUsed time.Time
	// removed is set once the entry left the map; a caller that raced with
	// the removal must look the user up again.
	removed bool
}

// Manager is the in-memory session registry.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry), now: time.Now}
}

// With runs fn while holding userID's session lock, creating an anonymous
// session on first use. Calls for the same user never overlap.
func (m *Manager) With(userID string, fn func(*sessionmodel.Session) error) error {
	for {
		e := m.getOrCreate(userID)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		err := fn(e.session)
		e.lastUsed = m.now()
		e.mu.Unlock()
		return err
	}
}

// Remove logs the user out and forgets the session.
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	e, ok := m.entries[userID]
	delete(m.entries, userID)
	size := len(m.entries)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(size))

	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.session.Logout()
	e.mu.Unlock()
}

// Sweep forgets sessions untouched for longer than idle, logging them out.
// Sessions busy with an event are skipped. It returns how many were removed.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var expired []*entry
	for userID, e := range m.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			e.removed = true
			delete(m.entries, userID)
			expired = append(expired, e)
		} else {
			e.mu.Unlock()
		}
	}
	size := len(m.entries)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(size))

	for _, e := range expired {
		e.session.Logout()
		e.mu.Unlock()
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(idle); n > 0 {
				log.WithField("removed", n).Debug("idle sessions evicted")
			}
		}
	}
}

// Len returns the number of sessions held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// CloseAll logs every session out. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(0)

	for _, e := range entries {
		e.mu.Lock()
		e.removed = true
		e.session.Logout()
		e.mu.Unlock()
	}
}

func (m *Manager) getOrCreate(userID string) *entry {
	m.mu.RLock()
	e, ok := m.entries[userID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[userID]; ok {
		return e
	}
	e = &entry{session: sessionmodel.New(userID), lastUsed: m.now()}
	m.entries[userID] = e
	metrics.ActiveSessions.Set(float64(len(m.entries)))
	return e
}
