package network

import (
	"context"
	"sync"

	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/cdp"
)

// TargetSync is the narrow view of a CDP target that Storage needs to
// keep the Network and Fetch domains in sync, per spec.md §4.4's
// "one Fetch.enable per target, recomputed whenever the set of
// interested intercepts changes." Implemented by cdptarget.CdpTarget;
// Storage never imports that package, per spec.md §9's indices-not-
// pointers design note.
type TargetSync interface {
	TopLevelID() string
	Client() cdp.Client
	FetchEnabled() bool
	SetFetchEnabled(bool)
}

// Storage owns every in-flight Request and every registered Intercept,
// and drives per-target Fetch domain enablement, per spec.md §3/§4.4.
type Storage struct {
	ancestry AncestorChecker

	mu         sync.Mutex
	intercepts map[string]*Intercept
	requests   map[cdpnetwork.RequestID]*Request
	byFetchID  map[cdpfetch.RequestID]cdpnetwork.RequestID

	targets map[string]TargetSync // topLevelID -> target
}

// New creates an empty Storage. ancestry resolves context-scoped
// intercepts against the live browsing-context tree.
func New(ancestry AncestorChecker) *Storage {
	return &Storage{
		ancestry:   ancestry,
		intercepts: make(map[string]*Intercept),
		requests:   make(map[cdpnetwork.RequestID]*Request),
		byFetchID:  make(map[cdpfetch.RequestID]cdpnetwork.RequestID),
		targets:    make(map[string]TargetSync),
	}
}

// RegisterTarget makes t known to Storage so future AddIntercept/
// RemoveIntercept calls can resync its Fetch domain, and immediately
// syncs it against whatever intercepts are already registered (a target
// can attach after intercepts already exist, per spec.md §4.2 step 4).
func (s *Storage) RegisterTarget(ctx context.Context, t TargetSync) {
	s.mu.Lock()
	s.targets[t.TopLevelID()] = t
	s.mu.Unlock()

	s.resyncTargets(ctx, []TargetSync{t})
}

// UnregisterTarget drops a target that has gone away.
func (s *Storage) UnregisterTarget(topLevelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, topLevelID)
}

// AddIntercept registers a new intercept and returns its generated id,
// then resyncs every affected target's Fetch domain (spec.md §4.4).
func (s *Storage) AddIntercept(ctx context.Context, patterns []*bidi.ParsedURLPattern, phases map[Phase]bool, contexts map[string]bool) (string, error) {
	it := &Intercept{
		ID:       newInterceptID(),
		Patterns: patterns,
		Phases:   phases,
		Contexts: contexts,
	}

	s.mu.Lock()
	s.intercepts[it.ID] = it
	targets := s.targetsSnapshot()
	s.mu.Unlock()

	s.resyncTargets(ctx, targets)
	return it.ID, nil
}

// RemoveIntercept drops an intercept by id, or returns
// ErrorCodeNoSuchIntercept if unknown, then resyncs targets.
func (s *Storage) RemoveIntercept(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.intercepts[id]; !ok {
		s.mu.Unlock()
		return bidi.NewError(bidi.ErrorCodeNoSuchIntercept, "no such intercept: "+id)
	}
	delete(s.intercepts, id)
	targets := s.targetsSnapshot()
	s.mu.Unlock()

	s.resyncTargets(ctx, targets)
	return nil
}

func (s *Storage) targetsSnapshot() []TargetSync {
	out := make([]TargetSync, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	return out
}

// GetInterceptionStages returns the union of phases that any
// currently-registered intercept scoped to topLevelID's subtree is
// watching for. URL patterns are deliberately not applied here: CDP's
// own Fetch.enable patterns stay "*" for whichever stage is wanted
// (spec.md §4.4), and per-request URL matching happens later, at pause
// time, via RequestBlockedBy.
func (s *Storage) GetInterceptionStages(topLevelID string) map[Phase]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stages := make(map[Phase]bool)
	for _, it := range s.intercepts {
		if len(it.Contexts) > 0 && !contextInScope(it.Contexts, topLevelID, s.ancestry) {
			continue
		}
		for p, on := range it.Phases {
			if on {
				stages[p] = true
			}
		}
	}
	return stages
}

// RequestBlockedBy returns the ids of every intercept that currently
// blocks a request at url/phase within topLevelID's subtree, per
// spec.md §4.4's "blockedBy" accounting.
func (s *Storage) RequestBlockedBy(url string, phase Phase, topLevelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, it := range s.intercepts {
		if it.HasPhase(phase) && it.Matches(url, s.ancestry, topLevelID) {
			ids = append(ids, id)
		}
	}
	return ids
}

// resyncTargets issues Fetch.enable/disable against every target whose
// desired enablement differs from its current state, per spec.md §4.2
// step 4 / §4.4: {*/Request if request∨auth, */Response if response},
// handleAuthRequests = auth. Errors are swallowed per-target; a single
// unreachable target must not block the rest from resyncing (mirrors
// the teacher's browser.go run-loop tolerance of individual session
// send failures).
func (s *Storage) resyncTargets(ctx context.Context, targets []TargetSync) {
	for _, t := range targets {
		stages := s.GetInterceptionStages(t.TopLevelID())
		needRequest := stages[PhaseBeforeRequestSent] || stages[PhaseAuthRequired]
		needResponse := stages[PhaseResponseStarted]
		handleAuth := stages[PhaseAuthRequired]
		want := needRequest || needResponse

		if t.FetchEnabled() == want {
			continue
		}

		var err error
		if want {
			var patterns []*cdpfetch.RequestPattern
			if needRequest {
				patterns = append(patterns, &cdpfetch.RequestPattern{URLPattern: "*", RequestStage: cdpfetch.RequestStageRequest})
			}
			if needResponse {
				patterns = append(patterns, &cdpfetch.RequestPattern{URLPattern: "*", RequestStage: cdpfetch.RequestStageResponse})
			}
			err = t.Client().SendCommand(ctx, "Fetch.enable", &cdpfetch.EnableParams{
				Patterns:           patterns,
				HandleAuthRequests: handleAuth,
			}, nil)
		} else if s.hasPausedRequests(t.TopLevelID()) {
			// Disabling now would orphan every request still parked at
			// a Fetch pause on this target, per spec.md §4.4. Leave it
			// enabled; MaybeDisable retries once the drain completes.
			continue
		} else {
			err = t.Client().SendCommand(ctx, "Fetch.disable", nil, nil)
		}
		if err == nil {
			t.SetFetchEnabled(want)
		}
	}
}

// hasPausedRequests reports whether any in-flight request for
// topLevelID is currently parked at a Fetch pause (holds a live
// fetchId), i.e. CDP itself is still blocking it.
func (s *Storage) hasPausedRequests(topLevelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.TopLevelID() != topLevelID {
			continue
		}
		if _, ok := r.FetchID(); ok {
			return true
		}
	}
	return false
}

// MaybeDisable retries a Fetch.disable that resyncTargets deferred
// because requests were still paused on topLevelID, per spec.md §4.4's
// drain requirement. Callers invoke it once a paused request's fetchId
// clears (its pause resolved), so the disable eventually lands instead
// of leaving Fetch enabled forever after the last intercept is removed.
func (s *Storage) MaybeDisable(ctx context.Context, topLevelID string) {
	s.mu.Lock()
	t, ok := s.targets[topLevelID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.resyncTargets(ctx, []TargetSync{t})
}

// AddRequest begins tracking a new in-flight request.
func (s *Storage) AddRequest(r *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID()] = r
}

// GetRequest returns the tracked request for id, or nil.
func (s *Storage) GetRequest(id cdpnetwork.RequestID) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

// BindFetchID associates fetchID with an already-tracked request, so a
// later Fetch.continueRequest/failRequest/fulfillRequest can be routed
// back by fetchID alone (Network.requestId is not echoed on those).
func (s *Storage) BindFetchID(fetchID cdpfetch.RequestID, requestID cdpnetwork.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFetchID[fetchID] = requestID
	if r, ok := s.requests[requestID]; ok {
		r.SetFetchID(fetchID)
	}
}

// GetRequestByFetchID resolves a fetchId back to its Request.
func (s *Storage) GetRequestByFetchID(fetchID cdpfetch.RequestID) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byFetchID[fetchID]
	if !ok {
		return nil
	}
	return s.requests[id]
}

// RemoveRequest stops tracking a request that has reached its terminal
// state, per spec.md testable property 5 ("removed from the in-flight
// table exactly once").
func (s *Storage) RemoveRequest(id cdpnetwork.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.requests[id]; ok {
		if fid, ok := r.FetchID(); ok {
			delete(s.byFetchID, fid)
		}
	}
	delete(s.requests, id)
}

// RequestsForTopLevel returns every currently in-flight request whose
// top-level context is topLevelID, used to dispose of them when their
// session detaches (spec.md §4.5 Disposal).
func (s *Storage) RequestsForTopLevel(topLevelID string) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if r.TopLevelID() == topLevelID {
			out = append(out, r)
		}
	}
	return out
}

// DisposeTopLevel disposes and stops tracking every in-flight request
// belonging to topLevelID's session, settling their phase waiters with
// err, per spec.md §4.5 Disposal.
func (s *Storage) DisposeTopLevel(topLevelID string, err error) {
	for _, r := range s.RequestsForTopLevel(topLevelID) {
		r.DisposeWaiters(err)
		r.MarkTerminal()
		s.RemoveRequest(r.ID())
	}
}
