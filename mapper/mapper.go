// Package mapper implements the BrowsingContextProcessor and command
// dispatcher (spec.md §2, §4.3, §6): the root component that owns every
// storage, reacts to CDP target/page events, and routes BiDi commands.
package mapper

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto"
	cdpinspector "github.com/chromedp/cdproto/inspector"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	cdptargetdomain "github.com/chromedp/cdproto/target"
	"github.com/google/uuid"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/browsingcontext"
	"github.com/Lightning00Blade/chromium-bidi/cdp"
	"github.com/Lightning00Blade/chromium-bidi/cdptarget"
	"github.com/Lightning00Blade/chromium-bidi/network"
	"github.com/Lightning00Blade/chromium-bidi/preload"
	"github.com/Lightning00Blade/chromium-bidi/realm"
	"github.com/Lightning00Blade/chromium-bidi/session"
)

// Sink delivers one outbound BiDi wire frame (a *bidi.SuccessResult,
// *bidi.ErrorResult, or *bidi.Event) to the connected client. Supplied
// by whatever owns the transport (the thin launcher, in this repo).
type Sink func(frame interface{})

// Mapper is the root component: it owns every storage, drives the
// per-target unblock sequences, reacts to CDP events, and dispatches
// BiDi commands, per spec.md §2's component table collapsed onto one
// type the way a single BrowsingContextProcessor does in the source.
type Mapper struct {
	cfg *Config
	out Sink

	conn cdp.Connection

	contexts *browsingcontext.Storage
	realms   *realm.Storage
	preloads *preload.Storage
	network  *network.Storage
	subs     *session.SubscriptionManager
	events   *session.EventManager
	userCtxs *userContextRegistry

	loop *loop

	mu      sync.Mutex
	targets map[cdptargetdomain.ID]*cdptarget.CdpTarget
	bySess  map[cdptargetdomain.SessionID]*cdptarget.CdpTarget
}

// New builds a Mapper wired to conn, delivering outbound frames to out.
// It does not start processing CDP events until Start is called.
func New(conn cdp.Connection, out Sink, opts ...Option) (*Mapper, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	contexts := browsingcontext.New()
	subs := session.New(contexts)

	m := &Mapper{
		cfg:      cfg,
		out:      out,
		conn:     conn,
		contexts: contexts,
		realms:   realm.New(),
		preloads: preload.New(),
		subs:     subs,
		userCtxs: newUserContextRegistry(),
		loop:     newLoop(),
		targets:  make(map[cdptargetdomain.ID]*cdptarget.CdpTarget),
		bySess:   make(map[cdptargetdomain.SessionID]*cdptarget.CdpTarget),
	}
	m.network = network.New(contexts)
	m.events = session.NewEventManager(subs, m.deliverEvent)
	return m, nil
}

// Start launches the task runner and registers the browser-level event
// listeners (spec.md §4.3). It returns once listening; the task runner
// keeps running until ctx is cancelled.
func (m *Mapper) Start(ctx context.Context) error {
	go m.loop.run(ctx)

	browserClient := m.conn.BrowserClient()
	if browserClient == nil {
		return ErrNoBrowserClient
	}
	m.registerAttachDetachHandlers(ctx, browserClient, "")
	return nil
}

// registerAttachDetachHandlers wires Target.attachedToTarget and
// Target.detachedFromTarget on client. parentSessionID records which
// session this listener is scoped to, so worker owner-realm lookup
// (spec.md §4.3: "find the owning realm by parent session id") can use
// it; it is "" for the browser-level client.
func (m *Mapper) registerAttachDetachHandlers(ctx context.Context, client cdp.Client, parentSessionID cdptargetdomain.SessionID) {
	client.On(cdproto.EventTargetAttachedToTarget, func(ev interface{}) {
		e, ok := ev.(*cdptargetdomain.EventAttachedToTarget)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onAttachedToTarget(ctx, e, parentSessionID) })
	})
	client.On(cdproto.EventTargetDetachedFromTarget, func(ev interface{}) {
		e, ok := ev.(*cdptargetdomain.EventDetachedFromTarget)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onDetachedFromTarget(e.SessionID) })
	})
}

// deliverEvent adapts session.EventManager's Sink shape to the wire
// envelope and hands it to the configured out Sink.
func (m *Mapper) deliverEvent(method string, params interface{}) {
	m.out(bidi.NewEvent(method, params))
}

// onAttachedToTarget implements spec.md §4.3's attach branching.
func (m *Mapper) onAttachedToTarget(ctx context.Context, ev *cdptargetdomain.EventAttachedToTarget, parentSessionID cdptargetdomain.SessionID) {
	info := ev.TargetInfo
	if info == nil {
		return
	}

	if m.cfg.selfTargetID != "" && string(info.TargetID) == m.cfg.selfTargetID {
		m.detachSilently(ctx, ev.SessionID)
		return
	}

	switch info.Type {
	case "page", "iframe":
		m.attachPageOrIframe(ctx, ev.SessionID, info)
	case "worker", "service_worker":
		m.attachWorker(ctx, ev.SessionID, info, parentSessionID)
	case "shared_worker":
		m.attachSharedWorker(ctx, ev.SessionID, info)
	default:
		m.detachSilently(ctx, ev.SessionID)
	}
}

// detachSilently releases the debugger and detaches, for self-targets
// and target types this core does not model, per spec.md §4.3.
func (m *Mapper) detachSilently(ctx context.Context, sessionID cdptargetdomain.SessionID) {
	client, err := m.conn.GetCdpClient(sessionID)
	if err != nil {
		return
	}
	_ = client.SendCommand(ctx, "Runtime.runIfWaitingForDebugger", cdpruntime.RunIfWaitingForDebugger(), nil)
	browser := m.conn.BrowserClient()
	if browser == nil {
		return
	}
	_ = browser.SendCommand(ctx, "Target.detachFromTarget", cdptargetdomain.DetachFromTarget().WithSessionID(sessionID), nil)
}

func (m *Mapper) attachPageOrIframe(ctx context.Context, sessionID cdptargetdomain.SessionID, info *cdptargetdomain.Info) {
	client, err := m.conn.GetCdpClient(sessionID)
	if err != nil {
		m.cfg.errorf("mapper: no cdp client for session %s: %v", sessionID, err)
		return
	}

	contextID := string(info.TargetID)
	userContext := m.userCtxs.BiDiID(string(info.BrowserContextID))

	existing := m.contexts.FindByID(contextID)

	wantNetwork := m.subs.IsSubscribedToModuleAnywhere("network", contextID)
	t := cdptarget.New(
		cdptarget.TargetInfo{TargetID: info.TargetID, Type: info.Type, OpenerID: info.OpenerID},
		contextID, contextID, client,
		m.cfg.acceptInsecureCerts, m.cfg.acceptInsecureCerts,
		m.preloads, m.network,
	)
	m.registerTarget(t)
	m.registerEventListeners(ctx, client, t, sessionID)

	if existing != nil {
		// OOPIF swap (spec.md §4.3/S4): same context id reattaches to a
		// new renderer. Keep the context's id, children and
		// subscriptions; only its CdpTarget pointer changes.
		existing.SetTarget(t)
	} else {
		m.contexts.Insert(contextID, "", userContext, t)
	}

	go func() {
		t.Unblock(ctx, wantNetwork)
		status, ok := t.Unblocked().Wait(ctx.Done())
		if ok && status.Fatal {
			m.cfg.errorf("mapper: unblock failed for target %s: %v", info.TargetID, status.Err)
		}
	}()
}

func (m *Mapper) attachWorker(ctx context.Context, sessionID cdptargetdomain.SessionID, info *cdptargetdomain.Info, parentSessionID cdptargetdomain.SessionID) {
	owner := m.defaultRealmForSession(parentSessionID)
	if owner == nil {
		// spec.md §4.3: "the worker is already terminated — ignore."
		return
	}
	client, err := m.conn.GetCdpClient(sessionID)
	if err != nil {
		return
	}
	t := cdptarget.New(
		cdptarget.TargetInfo{TargetID: info.TargetID, Type: info.Type, OpenerID: info.OpenerID},
		"", string(info.TargetID), client,
		m.cfg.acceptInsecureCerts, m.cfg.acceptInsecureCerts,
		m.preloads, m.network,
	)
	m.registerTarget(t)
	m.registerEventListeners(ctx, client, t, sessionID)

	typ := realm.TypeDedicatedWorker
	if info.Type == "service_worker" {
		typ = realm.TypeServiceWorker
	}
	client.On(cdproto.EventRuntimeExecutionContextCreated, func(ev interface{}) {
		e, ok := ev.(*cdpruntime.EventExecutionContextCreated)
		if !ok || e.Context == nil {
			return
		}
		m.loop.post(ctx, func() {
			m.realms.Insert(realm.NewWorkerRealm(uuid.NewString(), typ, e.Context.Origin, e.Context.ID, sessionID, owner))
		})
	})
	go t.Unblock(ctx, false)
}

func (m *Mapper) attachSharedWorker(ctx context.Context, sessionID cdptargetdomain.SessionID, info *cdptargetdomain.Info) {
	client, err := m.conn.GetCdpClient(sessionID)
	if err != nil {
		return
	}
	t := cdptarget.New(
		cdptarget.TargetInfo{TargetID: info.TargetID, Type: info.Type},
		"", string(info.TargetID), client,
		m.cfg.acceptInsecureCerts, m.cfg.acceptInsecureCerts,
		m.preloads, m.network,
	)
	m.registerTarget(t)
	m.registerEventListeners(ctx, client, t, sessionID)

	client.On(cdproto.EventRuntimeExecutionContextCreated, func(ev interface{}) {
		e, ok := ev.(*cdpruntime.EventExecutionContextCreated)
		if !ok || e.Context == nil {
			return
		}
		m.loop.post(ctx, func() {
			// spec.md §4.3: shared workers have no owner realm.
			m.realms.Insert(realm.NewWorkerRealm(uuid.NewString(), realm.TypeSharedWorker, e.Context.Origin, e.Context.ID, sessionID))
		})
	})
	go t.Unblock(ctx, false)
}

// defaultRealmForSession finds the default window realm owned by
// sessionID, the lookup spec.md §4.3 calls "the owning realm by parent
// session id".
func (m *Mapper) defaultRealmForSession(sessionID cdptargetdomain.SessionID) *realm.Realm {
	for _, r := range m.realms.FindBySession(sessionID) {
		if r.IsDefault() {
			return r
		}
	}
	return nil
}

func (m *Mapper) onDetachedFromTarget(sessionID cdptargetdomain.SessionID) {
	removedAny := false
	for _, ctxObj := range m.contexts.FindBySession(sessionID) {
		for _, removed := range m.contexts.Remove(ctxObj.ID()) {
			m.network.DisposeTopLevel(removed.ID(), bidi.NewError(bidi.ErrorCodeUnknownError, "target detached"))
			m.events.RegisterEvent("browsingContext.contextDestroyed", removed.ID(), contextInfo(removed))
			m.events.ContextDestroyed(removed.ID())
		}
		removedAny = true
	}
	m.realms.RemoveBySession(sessionID)
	if removedAny {
		return
	}

	m.mu.Lock()
	t, ok := m.bySess[sessionID]
	if ok {
		delete(m.bySess, sessionID)
		delete(m.targets, t.TargetID())
	}
	m.mu.Unlock()
	if ok {
		m.network.UnregisterTarget(t.TopLevelID())
	}
}

func (m *Mapper) registerTarget(t *cdptarget.CdpTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.TargetID()] = t
	m.bySess[t.SessionID()] = t
}

// registerEventListeners installs the recursive per-target listeners
// spec.md §4.3 requires: Page lifecycle, frame attach/detach, execution
// contexts, target crash, nested auto-attach, and (wired separately)
// Network/Fetch.
func (m *Mapper) registerEventListeners(ctx context.Context, client cdp.Client, t *cdptarget.CdpTarget, sessionID cdptargetdomain.SessionID) {
	m.registerAttachDetachHandlers(ctx, client, sessionID)

	client.On(cdproto.EventPageFrameAttached, func(ev interface{}) {
		e, ok := ev.(*cdppage.EventFrameAttached)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onFrameAttached(t, e) })
	})
	client.On(cdproto.EventPageFrameDetached, func(ev interface{}) {
		e, ok := ev.(*cdppage.EventFrameDetached)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onFrameDetached(e) })
	})
	client.On(cdproto.EventPageLifecycleEvent, func(ev interface{}) {
		e, ok := ev.(*cdppage.EventLifecycleEvent)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onLifecycleEvent(e) })
	})
	client.On(cdproto.EventRuntimeExecutionContextCreated, func(ev interface{}) {
		e, ok := ev.(*cdpruntime.EventExecutionContextCreated)
		if !ok || e.Context == nil || t.ContextID() == "" {
			return
		}
		m.loop.post(ctx, func() { m.onWindowExecutionContextCreated(t, client, e) })
	})
	client.On(cdproto.EventInspectorTargetCrashed, func(ev interface{}) {
		_, ok := ev.(*cdpinspector.EventTargetCrashed)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onTargetCrashed(client) })
	})
	client.OnAny(func(method cdproto.MethodType, ev interface{}) {
		// Generic passthrough tunnel (spec.md §9): every CDP event is
		// also exposed as a raw "cdp.<event>" BiDi event for debug
		// tooling, regardless of whether this package understands it.
		m.loop.post(ctx, func() {
			m.events.RegisterEvent("cdp."+string(method), t.ContextID(), ev)
		})
	})
	m.registerNetworkListeners(ctx, client, t)
}

func (m *Mapper) onFrameAttached(t *cdptarget.CdpTarget, ev *cdppage.EventFrameAttached) {
	parentID := string(ev.ParentFrameID)
	parent := m.contexts.FindByID(parentID)
	if parent == nil {
		return
	}
	frameID := string(ev.FrameID)
	if m.contexts.FindByID(frameID) != nil {
		return
	}
	m.contexts.Insert(frameID, parentID, parent.UserContext(), t)
}

func (m *Mapper) onFrameDetached(ev *cdppage.EventFrameDetached) {
	if ev.Reason == cdppage.FrameDetachedReasonSwap {
		// OOPIF handoff; spec.md §4.3: "do nothing".
		return
	}
	for _, removed := range m.contexts.Remove(string(ev.FrameID)) {
		m.network.DisposeTopLevel(removed.ID(), bidi.NewError(bidi.ErrorCodeUnknownError, "frame detached"))
		m.events.RegisterEvent("browsingContext.contextDestroyed", removed.ID(), contextInfo(removed))
		m.events.ContextDestroyed(removed.ID())
	}
}

func (m *Mapper) onLifecycleEvent(ev *cdppage.EventLifecycleEvent) {
	c := m.contexts.FindByID(string(ev.FrameID))
	if c == nil {
		return
	}
	switch ev.Name {
	case "DOMContentLoaded":
		c.SetReadiness(browsingcontext.ReadinessInteractive)
		m.events.RegisterEvent("browsingContext.domContentLoaded", c.ID(), contextInfo(c))
	case "load":
		c.SetReadiness(browsingcontext.ReadinessComplete)
		m.events.RegisterEvent("browsingContext.load", c.ID(), contextInfo(c))
	case "init":
		c.SetReadiness(browsingcontext.ReadinessNone)
		// spec.md §3 Realm invariant (b): navigating invalidates every
		// realm before new ones are created.
		m.realms.InvalidateContext(c.ID())
	}
}

// onWindowExecutionContextCreated materialises or replaces a browsing
// context's default window realm (spec.md §3 Realm invariant (a): at
// most one default realm per context at a time).
func (m *Mapper) onWindowExecutionContextCreated(t *cdptarget.CdpTarget, client cdp.Client, ev *cdpruntime.EventExecutionContextCreated) {
	if old := m.realms.DefaultRealm(t.ContextID()); old != nil {
		m.realms.Remove(old.ID())
	}
	m.realms.Insert(realm.NewWindowRealm(uuid.NewString(), t.ContextID(), "", ev.Context.Origin, ev.Context.ID, client.SessionID()))
}

func (m *Mapper) onTargetCrashed(client cdp.Client) {
	// spec.md §4.3: "the only reliable shared/service worker closed
	// signal from CDP".
	m.realms.RemoveBySession(client.SessionID())
}

func contextInfo(c *browsingcontext.Context) map[string]interface{} {
	return map[string]interface{}{
		"context":     c.ID(),
		"parent":      c.ParentID(),
		"url":         c.URL(),
		"userContext": c.UserContext(),
	}
}
