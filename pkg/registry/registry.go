// Package registry implements the session registry (spec component C7):
// a name-to-session map that holds at most one session, clearing all
// prior sessions whenever a new id is created.
package registry

import (
	"sync"

	"github.com/MainListActivity/MaPlayer/pkg/proxyerr"
	"github.com/MainListActivity/MaPlayer/pkg/session"
	"github.com/MainListActivity/MaPlayer/pkg/stats"
)

// Registry is a reader-writer-locked name->session map. Session
// creation holds the reader lock briefly to test for reuse by id; on a
// miss it takes the writer lock, clears every existing session, and
// inserts the new one — the host application streams one file at a
// time, so retaining old cache files only wastes disk.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Lookup returns the session for id, if present, without mutating the
// map.
func (r *Registry) Lookup(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Insert clears every existing session and installs s as the sole
// entry, unless a session with the same id is already present (in
// which case the existing one is returned, unchanged).
func (r *Registry) Insert(s *session.Session) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[s.ID]; ok {
		return existing
	}

	for _, old := range r.sessions {
		old.Close()
	}
	r.sessions = map[string]*session.Session{s.ID: s}
	return s
}

// Close removes id's session, if present, and tears it down.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return proxyerr.New(proxyerr.KindNotFound, "registry.close_session", nil)
	}
	delete(r.sessions, id)
	s.Close()
	return nil
}

// CloseAll tears down every session and empties the map.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.Close()
	}
	r.sessions = make(map[string]*session.Session)
}

// Stats returns id's snapshot, or the aggregate across every session
// when id is empty.
func (r *Registry) Stats(id string) (stats.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		s, ok := r.sessions[id]
		if !ok {
			return stats.Snapshot{}, proxyerr.New(proxyerr.KindNotFound, "registry.get_stats", nil)
		}
		return s.Snapshot(), nil
	}

	snaps := make([]stats.Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return stats.Aggregate(snaps), nil
}
