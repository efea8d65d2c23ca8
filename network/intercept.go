package network

import (
	"github.com/google/uuid"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
)

// Phase is a point in a request's lifecycle at which it can be paused
// for client decision, per spec.md's GLOSSARY.
type Phase string

// The three interception phases.
const (
	PhaseBeforeRequestSent Phase = "beforeRequestSent"
	PhaseResponseStarted   Phase = "responseStarted"
	PhaseAuthRequired      Phase = "authRequired"
)

// Intercept is a BiDi-level network interception filter, spec.md §3.
type Intercept struct {
	ID       string
	Patterns []*bidi.ParsedURLPattern
	Phases   map[Phase]bool
	// Contexts, if non-empty, scopes the intercept to these top-level
	// context subtrees (supplemented: spec.md's data model names
	// url-pattern and phases but network.addIntercept also accepts a
	// "contexts" param in the real protocol; Chromium-vintage mappers
	// honour it the same way subscriptions honour context scoping).
	Contexts map[string]bool
}

// HasPhase reports whether the intercept is registered for phase p.
func (i *Intercept) HasPhase(p Phase) bool { return i.Phases[p] }

// Matches reports whether the intercept applies to a request at url
// within the given top-level context subtree.
func (i *Intercept) Matches(url string, ancestry AncestorChecker, topLevelID string) bool {
	if len(i.Contexts) > 0 && !contextInScope(i.Contexts, topLevelID, ancestry) {
		return false
	}
	return bidi.MatchAny(i.Patterns, url)
}

// AncestorChecker lets Intercept.Matches scope by context subtree
// without importing browsingcontext (spec.md §9's "indices, not owning
// pointers" design note).
type AncestorChecker interface {
	IsAncestor(contextID, ancestorID string) bool
}

func contextInScope(scoped map[string]bool, topLevelID string, ancestry AncestorChecker) bool {
	for c := range scoped {
		if c == topLevelID {
			return true
		}
		if ancestry != nil && ancestry.IsAncestor(topLevelID, c) {
			return true
		}
	}
	return false
}

// newInterceptID generates a fresh UUID, matching spec.md §3's
// "intercept id (UUID)".
func newInterceptID() string { return uuid.NewString() }
