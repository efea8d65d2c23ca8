package network

import (
	"sync"

	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/Lightning00Blade/chromium-bidi/deferred"
)

// State is a NetworkRequest's position in the lifecycle FSM, spec.md §4.5.
type State string

// Request states.
const (
	StateInitial        State = "initial"
	StatePaused         State = "paused" // parked at Phase awaiting client decision
	StateResponded      State = "responded"
	StateServedFromCache State = "servedFromCache"
	StateTerminal       State = "terminal" // fetchError or responseCompleted emitted
)

// Request is a single in-flight network request, spec.md §3/§4.5.
type Request struct {
	mu sync.Mutex

	id     cdpnetwork.RequestID
	sessionID string

	fetchID *cdpfetch.RequestID

	url    string
	method string
	headers map[string]string

	redirectCount int
	phase         Phase // "" when not currently paused
	state         State

	blockedBy map[string]bool

	topLevelID string

	// extra-info merge bookkeeping: both orders (extra-info before or
	// after the primary event) must be tolerated, per spec.md §4.5.
	haveRequestWillBeSent      bool
	haveRequestExtraInfo       bool
	haveResponseReceived       bool
	haveResponseExtraInfo      bool

	shortCircuited bool // requestServedFromCache seen

	waiters map[Phase]*deferred.Deferred[PhaseResolution]
}

// PhaseResolution is what a client's continue/fail/provideResponse (or
// continueWithAuth) decision resolves a phase waiter to.
type PhaseResolution struct {
	Action string // "continue" | "fail" | "provideResponse" | "continueWithAuth" | "disposed"
	Err    error

	// Override fields for "continue" (network.continueRequest), applied
	// on top of the original request when set.
	OverrideURL     string
	OverrideMethod  string
	OverrideHeaders map[string]string
	OverrideBody    string // already base64-encoded, Fetch.continueRequest's postData shape

	// Fields for "provideResponse" (network.provideResponse).
	StatusCode      int64
	ResponseHeaders map[string]string
	ResponseBody    string // already base64-encoded, Fetch.fulfillRequest's body shape

	// Fields for "continueWithAuth" (network.continueWithAuth).
	AuthAction string // "default" | "provideCredentials" | "cancel"
	Username   string
	Password   string
}

// NewRequest creates a Request in its initial state.
func NewRequest(id cdpnetwork.RequestID, sessionID, topLevelID string) *Request {
	return &Request{
		id:         id,
		sessionID:  sessionID,
		topLevelID: topLevelID,
		state:      StateInitial,
		blockedBy:  make(map[string]bool),
		waiters:    make(map[Phase]*deferred.Deferred[PhaseResolution]),
		headers:    make(map[string]string),
	}
}

// ID returns the BiDi request id (equal to the CDP requestId).
func (r *Request) ID() cdpnetwork.RequestID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// TopLevelID returns the top-level context id this request belongs to.
func (r *Request) TopLevelID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topLevelID
}

// SetURLMethod records the request's url and method (from requestWillBeSent).
func (r *Request) SetURLMethod(url, method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.url, r.method = url, method
}

// URL returns the request's url.
func (r *Request) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// Method returns the request's HTTP method.
func (r *Request) Method() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.method
}

// Headers returns a copy of the request's currently recorded headers.
func (r *Request) Headers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// SetHeaders merges h into the request's recorded headers (used by both
// the primary event and the *ExtraInfo events, which may arrive in
// either order per spec.md §4.5).
func (r *Request) SetHeaders(h map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range h {
		r.headers[k] = v
	}
}

// SetFetchID records the fetchId assigned when the request is paused.
func (r *Request) SetFetchID(id cdpfetch.RequestID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchID = &id
}

// FetchID returns the current fetchId, if the request is paused.
func (r *Request) FetchID() (cdpfetch.RequestID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchID == nil {
		return "", false
	}
	return *r.fetchID, true
}

// ClearFetchID drops the fetchId once a pause is resolved.
func (r *Request) ClearFetchID() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchID = nil
}

// RedirectCount returns the number of redirects observed so far.
func (r *Request) RedirectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirectCount
}

// BeginRedirectAttempt increments the redirect count and resets
// per-attempt state so the lifecycle can restart, per spec.md §4.5's
// "re-key the new attempt, and restart the lifecycle."
func (r *Request) BeginRedirectAttempt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirectCount++
	r.phase = ""
	r.fetchID = nil
	r.blockedBy = make(map[string]bool)
	r.state = StateInitial
	r.haveRequestWillBeSent = false
	r.haveRequestExtraInfo = false
	r.haveResponseReceived = false
	r.haveResponseExtraInfo = false
}

// SetPaused parks the request at phase with the given blocking
// intercept ids; the caller must already have decided isBlocked.
func (r *Request) SetPaused(phase Phase, blockedBy []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
	r.state = StatePaused
	r.blockedBy = make(map[string]bool, len(blockedBy))
	for _, id := range blockedBy {
		r.blockedBy[id] = true
	}
}

// Phase returns the current pause phase, or "" if not paused.
func (r *Request) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// BlockedBy returns the intercept ids currently blocking this request.
func (r *Request) BlockedBy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.blockedBy))
	for id := range r.blockedBy {
		out = append(out, id)
	}
	return out
}

// IsBlocked reports whether any intercept currently blocks the request.
func (r *Request) IsBlocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blockedBy) > 0
}

// MarkTerminal transitions the request to its terminal state. Per
// spec.md testable property 5, this must happen exactly once per
// request; callers own that discipline by calling Storage.RemoveRequest
// right after it, so later CDP events for the id no longer find it.
func (r *Request) MarkTerminal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateTerminal
}

// State returns the request's current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MarkServedFromCache records the short-circuit and suppresses further
// paused handling, per spec.md §4.5.
func (r *Request) MarkServedFromCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shortCircuited = true
}

// ServedFromCache reports whether requestServedFromCache was observed.
func (r *Request) ServedFromCache() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortCircuited
}

// MarkHaveRequestWillBeSent, MarkHaveRequestExtraInfo,
// MarkHaveResponseReceived and MarkHaveResponseExtraInfo record which of
// the paired CDP events have arrived for the current attempt
// (BeginRedirectAttempt clears them). Nothing reads these flags: events
// are emitted from the primary CDP event alone (SPEC_FULL.md §12.3).
func (r *Request) MarkHaveRequestWillBeSent() { r.setFlag(&r.haveRequestWillBeSent) }
func (r *Request) MarkHaveRequestExtraInfo()  { r.setFlag(&r.haveRequestExtraInfo) }
func (r *Request) MarkHaveResponseReceived()  { r.setFlag(&r.haveResponseReceived) }
func (r *Request) MarkHaveResponseExtraInfo() { r.setFlag(&r.haveResponseExtraInfo) }

func (r *Request) setFlag(f *bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*f = true
}

// WaitPhase returns (creating if necessary) the single-assignment
// resolution signal for phase.
func (r *Request) WaitPhase(phase Phase) *deferred.Deferred[PhaseResolution] {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.waiters[phase]
	if !ok {
		w = deferred.New[PhaseResolution]()
		r.waiters[phase] = w
	}
	return w
}

// DisposeWaiters resolves every still-unresolved phase waiter with a
// fetchError, per spec.md §4.5 Disposal: "any BiDi promise awaiting a
// phase is settled with a fetchError."
func (r *Request) DisposeWaiters(err error) {
	r.mu.Lock()
	waiters := make([]*deferred.Deferred[PhaseResolution], 0, len(r.waiters))
	for _, w := range r.waiters {
		waiters = append(waiters, w)
	}
	r.mu.Unlock()
	for _, w := range waiters {
		if !w.Resolved() {
			w.Resolve(PhaseResolution{Action: "disposed", Err: err})
		}
	}
}
