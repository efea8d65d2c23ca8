package realm

import (
	"sync"

	"github.com/chromedp/cdproto/target"
)

// Storage indexes realms by id, context, and session, per spec.md's
// RealmStorage component ("Index of execution realms by id/context/session").
type Storage struct {
	mu       sync.RWMutex
	byID     map[string]*Realm
	byCtx    map[string]map[string]bool // contextID -> set of realm ids
	bySess   map[target.SessionID]map[string]bool
}

// New creates an empty Storage.
func New() *Storage {
	return &Storage{
		byID:   make(map[string]*Realm),
		byCtx:  make(map[string]map[string]bool),
		bySess: make(map[target.SessionID]map[string]bool),
	}
}

// Insert adds r to the index.
func (s *Storage) Insert(r *Realm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[r.id] = r
	if r.contextID != "" {
		if s.byCtx[r.contextID] == nil {
			s.byCtx[r.contextID] = make(map[string]bool)
		}
		s.byCtx[r.contextID][r.id] = true
	}
	if s.bySess[r.sessionID] == nil {
		s.bySess[r.sessionID] = make(map[string]bool)
	}
	s.bySess[r.sessionID][r.id] = true
}

// FindByID returns the realm for id, or nil.
func (s *Storage) FindByID(id string) *Realm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// FindByContext returns every realm owned by contextID.
func (s *Storage) FindByContext(contextID string) []*Realm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCtx[contextID]
	out := make([]*Realm, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// DefaultRealm returns the non-sandboxed window realm for contextID, or
// nil. spec.md §3 invariant (a): at most one default realm per context
// at a time.
func (s *Storage) DefaultRealm(contextID string) *Realm {
	for _, r := range s.FindByContext(contextID) {
		if r.IsDefault() {
			return r
		}
	}
	return nil
}

// FindBySession returns every realm owned by sessionID.
func (s *Storage) FindBySession(sessionID target.SessionID) []*Realm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySess[sessionID]
	out := make([]*Realm, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Remove deletes realm id from every index.
func (s *Storage) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if r.contextID != "" {
		delete(s.byCtx[r.contextID], id)
	}
	delete(s.bySess[r.sessionID], id)
}

// InvalidateContext removes every realm owned by contextID — called on
// navigation, per spec.md §3 invariant (b): "navigating a context
// invalidates all its realms before creating new ones".
func (s *Storage) InvalidateContext(contextID string) []*Realm {
	removed := s.FindByContext(contextID)
	for _, r := range removed {
		s.Remove(r.id)
	}
	return removed
}

// RemoveBySession deletes every realm owned by sessionID — called on
// session detach or target crash, per spec.md §3 invariant (c).
func (s *Storage) RemoveBySession(sessionID target.SessionID) []*Realm {
	removed := s.FindBySession(sessionID)
	for _, r := range removed {
		s.Remove(r.id)
	}
	return removed
}
