// Package realm indexes JavaScript execution realms (window, sandbox,
// and worker) as described in spec.md §3/component table ("RealmStorage").
package realm

import (
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// Type distinguishes the realm variants in spec.md §3.
type Type string

// Realm variants.
const (
	TypeWindow         Type = "window"
	TypeDedicatedWorker Type = "dedicated-worker"
	TypeSharedWorker    Type = "shared-worker"
	TypeServiceWorker   Type = "service-worker"
)

// Realm is a single JavaScript execution environment.
type Realm struct {
	mu sync.RWMutex

	id        string
	typ       Type
	contextID string // window realms only
	sandbox   string // window realms only; "" = the default realm

	origin    string
	execCtxID runtime.ExecutionContextID
	sessionID target.SessionID

	owners map[string]bool // owning parent realm ids, for worker realms
}

// NewWindowRealm creates a window (or sandbox) realm bound to a
// browsing context.
func NewWindowRealm(id, contextID, sandbox, origin string, execCtxID runtime.ExecutionContextID, sessionID target.SessionID) *Realm {
	return &Realm{
		id:        id,
		typ:       TypeWindow,
		contextID: contextID,
		sandbox:   sandbox,
		origin:    origin,
		execCtxID: execCtxID,
		sessionID: sessionID,
		owners:    make(map[string]bool),
	}
}

// NewWorkerRealm creates a worker realm (dedicated, shared, or service),
// optionally owned by one or more parent realms (spec.md §3: "owners
// (set of parent realms for workers)").
func NewWorkerRealm(id string, typ Type, origin string, execCtxID runtime.ExecutionContextID, sessionID target.SessionID, owners ...*Realm) *Realm {
	r := &Realm{
		id:        id,
		typ:       typ,
		origin:    origin,
		execCtxID: execCtxID,
		sessionID: sessionID,
		owners:    make(map[string]bool),
	}
	for _, o := range owners {
		r.owners[o.id] = true
	}
	return r
}

// ID returns the realm's opaque id.
func (r *Realm) ID() string { return r.id }

// Type returns the realm variant.
func (r *Realm) Type() Type { return r.typ }

// ContextID returns the owning browsing context id (window realms only).
func (r *Realm) ContextID() string { return r.contextID }

// Sandbox returns the sandbox name, or "" for the default realm.
func (r *Realm) Sandbox() string { return r.sandbox }

// IsDefault reports whether this is a context's default (non-sandboxed) realm.
func (r *Realm) IsDefault() bool { return r.typ == TypeWindow && r.sandbox == "" }

// Origin returns the realm's origin string.
func (r *Realm) Origin() string { return r.origin }

// ExecutionContextID returns the CDP execution context id backing this realm.
func (r *Realm) ExecutionContextID() runtime.ExecutionContextID { return r.execCtxID }

// SessionID returns the owning CDP session id.
func (r *Realm) SessionID() target.SessionID { return r.sessionID }

// Owners returns the ids of this realm's owning parent realms (workers only).
func (r *Realm) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.owners))
	for id := range r.owners {
		out = append(out, id)
	}
	return out
}
