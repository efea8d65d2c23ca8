// Package browsingcontext implements the BrowsingContext data model and
// storage described in spec.md §3/§4.1: the tree of windows, tabs and
// frames the mapper exposes to BiDi clients, indexed for O(1) lookup.
package browsingcontext

import (
	"sync"

	"github.com/chromedp/cdproto/target"
)

// ReadinessState is a browsing context's document readiness, mirroring
// the CDP lifecycle events the Processor folds into it.
type ReadinessState string

// Readiness states, per spec.md §3.
const (
	ReadinessNone        ReadinessState = "none"
	ReadinessInteractive ReadinessState = "interactive"
	ReadinessComplete    ReadinessState = "complete"
)

// DefaultUserContext is the sentinel id for the browser's default
// profile partition (spec.md §3: "`"default"` sentinel").
const DefaultUserContext = "default"

// Context is a single BiDi browsing context: a window, tab, or frame.
//
// Target is the owning CdpTarget; it is stored as an opaque interface{}
// (rather than a concrete *cdptarget.CdpTarget) so this package has no
// import-cycle dependency on cdptarget — per spec.md §9's "cyclic
// references" design note, storages hold indices, not owning pointers.
type Context struct {
	mu sync.RWMutex

	id       string
	parentID string // empty for a top-level context
	userCtx  string

	url       string
	readiness ReadinessState

	children map[string]bool

	target interface{}
}

// ID returns the context's opaque id.
func (c *Context) ID() string { return c.id }

// ParentID returns the parent context's id, or "" if this is top-level.
func (c *Context) ParentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parentID
}

// IsTopLevel reports whether this context has no parent.
func (c *Context) IsTopLevel() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parentID == ""
}

// UserContext returns the owning profile partition id.
func (c *Context) UserContext() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userCtx
}

// URL returns the context's current url.
func (c *Context) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// SetURL updates the context's current url.
func (c *Context) SetURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = u
}

// Readiness returns the context's document readiness state.
func (c *Context) Readiness() ReadinessState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readiness
}

// SetReadiness updates the context's document readiness state.
func (c *Context) SetReadiness(r ReadinessState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readiness = r
}

// ChildIDs returns a snapshot of this context's direct children.
func (c *Context) ChildIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.children))
	for id := range c.children {
		ids = append(ids, id)
	}
	return ids
}

func (c *Context) addChild(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children[id] = true
}

func (c *Context) removeChild(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.children, id)
}

// Target returns the owning CdpTarget (opaque; see the Context doc comment).
func (c *Context) Target() interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target
}

// SetTarget rebinds the owning CdpTarget, used for the OOPIF swap case
// (spec.md §4.3 S4): the context id, children and subscriptions are
// untouched, only the CdpTarget pointer changes.
func (c *Context) SetTarget(t interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = t
}

// SessionIDer is implemented by a Target that can report its CDP
// session id; storages that don't need the concrete CdpTarget type can
// still recover its session id for CDP calls.
type SessionIDer interface {
	SessionID() target.SessionID
}
