// ABOUTME: Repository interface for session state plus the in-memory implementation.
// ABOUTME: The memory repository backs tests and ephemeral deployments.

package session

import (
	"sync"
	"time"
)

// Repository is the session storage contract. Get creates the session if
// absent and renews its sliding TTL. Concurrent access to the same id is
// serialized by the caller; implementations only guard their own maps.
type Repository interface {
	// Get returns the session for id, creating it if absent or expired.
	// created reports whether a fresh session was returned.
	Get(id string, now time.Time) (s *Session, created bool, err error)
	// Persist writes the session's durable snapshot.
	Persist(s *Session) error
	// Clear removes the session from memory and durable storage.
	Clear(id string) error
	// All returns the sessions currently held in memory.
	All() []*Session
	// Sweep drops expired sessions and returns how many were removed.
	Sweep(now time.Time) int
}

// MemoryRepository keeps sessions in a map with no durable backing.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewMemoryRepository creates an in-memory repository with the given
// sliding TTL.
func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (r *MemoryRepository) Get(id string, now time.Time) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && !s.Expired(now) {
		s.Touch(r.ttl, now)
		return s, false, nil
	}

	s := New(id)
	s.Touch(r.ttl, now)
	r.sessions[id] = s
	return s, true, nil
}

func (r *MemoryRepository) Persist(*Session) error { return nil }

func (r *MemoryRepository) Clear(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *MemoryRepository) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
