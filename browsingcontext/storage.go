package browsingcontext

import (
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
)

// Storage indexes the browsing-context tree by id, per spec.md §4.1.
// Lookup by id is O(1) via the map; parent pointers never cycle because
// every insertion either creates a root or attaches under an
// already-present parent. Mutation is serialised by the mapper's single
// task runner (spec.md §5), so Storage itself needs no locking beyond
// what protects concurrent reads from goroutines outside that runner
// (e.g. a status/debug endpoint); the mutex below exists for that
// belt-and-braces case, not for correctness under the runner's own
// single-threaded discipline.
type Storage struct {
	mu        sync.RWMutex
	contexts  map[string]*Context
	topLevel  map[string]bool
}

// New creates an empty Storage.
func New() *Storage {
	return &Storage{
		contexts: make(map[string]*Context),
		topLevel: make(map[string]bool),
	}
}

// Insert adds a new context. If parentID is "", the context is
// top-level. The caller must already have validated that parentID (if
// non-empty) exists.
func (s *Storage) Insert(id, parentID, userContext string, target interface{}) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := &Context{
		id:        id,
		parentID:  parentID,
		userCtx:   userContext,
		readiness: ReadinessNone,
		children:  make(map[string]bool),
		target:    target,
	}
	s.contexts[id] = ctx
	if parentID == "" {
		s.topLevel[id] = true
	} else if parent, ok := s.contexts[parentID]; ok {
		parent.addChild(id)
	}
	return ctx
}

// GetByID returns the context for id, or a *bidi.Error with
// ErrorCodeNoSuchFrame if it does not exist.
func (s *Storage) GetByID(id string) (*Context, error) {
	c := s.FindByID(id)
	if c == nil {
		return nil, bidi.NewError(bidi.ErrorCodeNoSuchFrame, "no such context: "+id)
	}
	return c, nil
}

// FindByID returns the context for id, or nil.
func (s *Storage) FindByID(id string) *Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contexts[id]
}

// FindBySession returns every context currently owned (directly — not
// via inheritance) by the CDP session sessionID, used to resolve
// Target.detachedFromTarget (spec.md §4.3).
func (s *Storage) FindBySession(sessionID target.SessionID) []*Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Context
	for _, c := range s.contexts {
		if sid, ok := sessionIDOf(c.Target()); ok && sid == sessionID {
			out = append(out, c)
		}
	}
	return out
}

func sessionIDOf(t interface{}) (target.SessionID, bool) {
	if s, ok := t.(SessionIDer); ok {
		return s.SessionID(), true
	}
	return "", false
}

// IsAncestor reports whether ancestorID is an ancestor of (or equal to)
// contextID, satisfying session.AncestorResolver for the subscription
// manager's tree-aware matching (spec.md §4.6).
func (s *Storage) IsAncestor(contextID, ancestorID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.contexts[contextID]
	for cur != nil {
		if cur.id == ancestorID {
			return true
		}
		if cur.parentID == "" {
			return false
		}
		cur = s.contexts[cur.parentID]
	}
	return false
}

// TopLevelContexts returns every top-level (root) context.
func (s *Storage) TopLevelContexts() []*Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Context, 0, len(s.topLevel))
	for id := range s.topLevel {
		out = append(out, s.contexts[id])
	}
	return out
}

// FindTopLevelContextID walks parent pointers from id up to its
// top-level ancestor and returns that ancestor's id, or "" if id is
// unknown.
func (s *Storage) FindTopLevelContextID(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.contexts[id]
	for cur != nil {
		if cur.parentID == "" {
			return cur.id
		}
		cur = s.contexts[cur.parentID]
	}
	return ""
}

// Remove deletes the subtree rooted at id, atomically from the caller's
// point of view (spec.md §4.1): children are removed before the parent,
// and the returned slice lists every removed context, deepest-first.
// The whole subtree is already gone from the storage when Remove
// returns, so the caller emits "contextDestroyed" for each afterwards.
func (s *Storage) Remove(id string) []*Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*Context
	s.removeSubtree(id, &removed)
	return removed
}

func (s *Storage) removeSubtree(id string, removed *[]*Context) {
	c, ok := s.contexts[id]
	if !ok {
		return
	}
	for _, childID := range c.ChildIDs() {
		s.removeSubtree(childID, removed)
	}
	if c.parentID != "" {
		if parent, ok := s.contexts[c.parentID]; ok {
			parent.removeChild(id)
		}
	}
	delete(s.contexts, id)
	delete(s.topLevel, id)
	*removed = append(*removed, c)
}

// All returns a snapshot of every context currently stored.
func (s *Storage) All() []*Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	return out
}
