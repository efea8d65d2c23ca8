package mapper

import (
	"sync"

	"github.com/Lightning00Blade/chromium-bidi/browsingcontext"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
)

// userContextRegistry maps BiDi user-context ids to CDP browserContextIds
// (SPEC_FULL.md §5's supplemented UserContext). The default profile
// partition always exists under the "default" sentinel and is never
// removable, mirroring a real CDP mapper's handling of the implicit
// browser context.
type userContextRegistry struct {
	mu  sync.Mutex
	ids map[string]string // bidi user-context id -> CDP browserContextId ("" for default)
}

func newUserContextRegistry() *userContextRegistry {
	return &userContextRegistry{
		ids: map[string]string{browsingcontext.DefaultUserContext: ""},
	}
}

// Create registers the BiDi user-context id bound to
// cdpBrowserContextID; the caller chooses id.
func (r *userContextRegistry) Create(id, cdpBrowserContextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = cdpBrowserContextID
}

// Remove deletes a non-default user context.
func (r *userContextRegistry) Remove(id string) error {
	if id == browsingcontext.DefaultUserContext {
		return bidi.NewError(bidi.ErrorCodeInvalidArgument, "the default user context cannot be removed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		return bidi.NewError(bidi.ErrorCodeNoSuchUserContext, "no such user context: "+id)
	}
	delete(r.ids, id)
	return nil
}

// CDPBrowserContextID resolves a BiDi user-context id to its CDP
// browserContextId, or ("", false) if unknown.
func (r *userContextRegistry) CDPBrowserContextID(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.ids[id]
	return v, ok
}

// BiDiID resolves a CDP browserContextId back to its BiDi user-context
// id, falling back to the default sentinel per spec.md §4.3's "unless
// that equals the default user-context sentinel, in which case
// `default`" rule.
func (r *userContextRegistry) BiDiID(cdpBrowserContextID string) string {
	if cdpBrowserContextID == "" {
		return browsingcontext.DefaultUserContext
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cdpID := range r.ids {
		if cdpID == cdpBrowserContextID {
			return id
		}
	}
	return browsingcontext.DefaultUserContext
}

// All returns every registered BiDi user-context id.
func (r *userContextRegistry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}
