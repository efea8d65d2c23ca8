// Package cdptarget implements the per-target unblock state machine
// described in spec.md §4.2: every CdpTarget the mapper attaches to must
// run a fixed sequence of CDP setup commands before any BiDi command or
// queued CDP event is allowed to reach it.
package cdptarget

import (
	"context"
	"fmt"

	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	cdpsecurity "github.com/chromedp/cdproto/security"
	cdptargetdomain "github.com/chromedp/cdproto/target"
	"github.com/Lightning00Blade/chromium-bidi/cdp"
	"github.com/Lightning00Blade/chromium-bidi/deferred"
	"github.com/Lightning00Blade/chromium-bidi/network"
	"github.com/Lightning00Blade/chromium-bidi/preload"
)

// UnblockStatus is the resolved outcome of a CdpTarget's unblock
// sequence, spec.md §4.2's Unblocking -> Unblocked(success|error) states.
type UnblockStatus struct {
	// Err is nil on success and after a close-class (benign) error; a
	// non-nil Err always comes with Fatal set. Either way the target is
	// considered unblocked for scheduling purposes (spec.md §4.2).
	Err   error
	Fatal bool
}

// TargetInfo is the subset of Target.attachedToTarget's TargetInfo the
// unblock sequence needs to decide how to branch.
type TargetInfo struct {
	TargetID   cdptargetdomain.ID
	Type       string // "page", "iframe", "worker", "shared_worker", "service_worker", ...
	OpenerID   cdptargetdomain.ID
}

// PreloadInstaller lets CdpTarget install every matching preload script
// without importing the mapper's command dispatcher.
type PreloadInstaller interface {
	MatchingTarget(contextID string) []*preload.Script
}

// NetworkSyncer is the narrow network.Storage view CdpTarget needs to
// decide its Fetch domain state during unblock step 4.
type NetworkSyncer interface {
	RegisterTarget(ctx context.Context, t network.TargetSync)
}

// CdpTarget drives one target's CDP session through its unblock
// sequence and tracks the resulting state for the lifetime of the
// target, per spec.md §4.2.
type CdpTarget struct {
	info       TargetInfo
	contextID  string // owning BrowsingContext id
	topLevelID string
	client     cdp.Client

	ignoreCertErrors bool
	acceptInsecure   bool

	preload PreloadInstaller
	network NetworkSyncer

	fetchEnabled    bool
	networkEnabled  bool

	unblocked *deferred.Deferred[UnblockStatus]
}

// New creates a CdpTarget bound to an already-attached CDP client. The
// caller must call Unblock to run its setup sequence before routing any
// BiDi command to it.
func New(info TargetInfo, contextID, topLevelID string, client cdp.Client, ignoreCertErrors, acceptInsecureCerts bool, preloadStore PreloadInstaller, networkStore NetworkSyncer) *CdpTarget {
	t := &CdpTarget{
		info:             info,
		contextID:        contextID,
		topLevelID:       topLevelID,
		client:           client,
		ignoreCertErrors: ignoreCertErrors,
		acceptInsecure:   acceptInsecureCerts,
		preload:          preloadStore,
		network:          networkStore,
		unblocked:        deferred.New[UnblockStatus](),
	}
	return t
}

// TargetID returns the underlying CDP target id.
func (t *CdpTarget) TargetID() cdptargetdomain.ID { return t.info.TargetID }

// Type returns the CDP target type string ("page", "iframe", "worker", ...).
func (t *CdpTarget) Type() string { return t.info.Type }

// ContextID returns the owning BrowsingContext id.
func (t *CdpTarget) ContextID() string { return t.contextID }

// TopLevelID implements network.TargetSync.
func (t *CdpTarget) TopLevelID() string { return t.topLevelID }

// SessionID returns the CDP session id, satisfying browsingcontext.SessionIDer.
func (t *CdpTarget) SessionID() cdptargetdomain.SessionID { return t.client.SessionID() }

// Client implements network.TargetSync.
func (t *CdpTarget) Client() cdp.Client { return t.client }

// FetchEnabled implements network.TargetSync.
func (t *CdpTarget) FetchEnabled() bool { return t.fetchEnabled }

// SetFetchEnabled implements network.TargetSync.
func (t *CdpTarget) SetFetchEnabled(v bool) { t.fetchEnabled = v }

// NetworkEnabled reports whether the CDP Network domain is currently on
// for this target.
func (t *CdpTarget) NetworkEnabled() bool { return t.networkEnabled }

// Unblocked returns the single-assignment signal that resolves once the
// unblock sequence completes, successfully or not.
func (t *CdpTarget) Unblocked() *deferred.Deferred[UnblockStatus] { return t.unblocked }

// Unblock runs the seven-step entry-action sequence from spec.md §4.2
// and resolves Unblocked exactly once. It must be called exactly once
// per CdpTarget, from the mapper's single task-runner goroutine.
func (t *CdpTarget) Unblock(ctx context.Context, wantNetworkDomain bool) {
	status := t.runUnblockSequence(ctx, wantNetworkDomain)
	t.unblocked.Resolve(status)
}

func (t *CdpTarget) runUnblockSequence(ctx context.Context, wantNetworkDomain bool) UnblockStatus {
	// Step 1: enable Runtime, so bindings and exception reporting work
	// before any script can run.
	if err := t.client.SendCommand(ctx, "Runtime.enable", cdpruntime.Enable(), nil); err != nil {
		return t.classify(err)
	}

	// Step 2: enable Page and its lifecycle events, the signal source
	// for BrowsingContext readiness (spec.md §4.1).
	if err := t.client.SendCommand(ctx, "Page.enable", cdppage.Enable(), nil); err != nil {
		return t.classify(err)
	}
	if err := t.client.SendCommand(ctx, "Page.setLifecycleEventsEnabled", cdppage.SetLifecycleEventsEnabled(true), nil); err != nil {
		return t.classify(err)
	}

	// Step 3: honour the session-wide ignoreCertErrors capability.
	if t.ignoreCertErrors {
		if err := t.client.SendCommand(ctx, "Security.setIgnoreCertificateErrors", cdpsecurity.SetIgnoreCertificateErrors(true), nil); err != nil {
			return t.classify(err)
		}
	}

	// Step 4: sync Network/Fetch domains. The CDP Network domain itself
	// is driven by whether any BiDi client subscribed to network.* for
	// this target's subtree; Fetch domain enablement is delegated to
	// network.Storage, which recomputes it from registered intercepts.
	if wantNetworkDomain {
		if err := t.client.SendCommand(ctx, "Network.enable", nil, nil); err != nil {
			return t.classify(err)
		}
		t.networkEnabled = true
	}
	if t.network != nil {
		t.network.RegisterTarget(ctx, t)
	}

	// Step 5: opt into auto-attach so child/OOPIF targets are discovered
	// without the client polling Target.getTargets.
	autoAttach := cdptargetdomain.SetAutoAttach(true, true).WithFlatten(true)
	if err := t.client.SendCommand(ctx, "Target.setAutoAttach", autoAttach, nil); err != nil {
		return t.classify(err)
	}

	// Step 6: install every preload script already registered for this
	// target's context, waiting for each CDP script id before moving on
	// so a racing new document cannot run ahead of them.
	if t.preload != nil {
		for _, sc := range t.preload.MatchingTarget(t.contextID) {
			params := cdppage.AddScriptToEvaluateOnNewDocument(sc.Source())
			if sc.Sandbox() != "" {
				params = params.WithWorldName(sc.Sandbox())
			}
			var res cdppage.AddScriptToEvaluateOnNewDocumentReturns
			if err := t.client.SendCommand(ctx, "Page.addScriptToEvaluateOnNewDocument", params, &res); err != nil {
				return t.classify(err)
			}
			sc.RecordInstalled(string(t.info.TargetID), res.Identifier)
		}
	}

	// Step 7: only once every prior step has landed, let any script
	// already paused on debugger-attach resume, so it observes the
	// fully-configured session.
	if err := t.client.SendCommand(ctx, "Runtime.runIfWaitingForDebugger", cdpruntime.RunIfWaitingForDebugger(), nil); err != nil {
		return t.classify(err)
	}

	return UnblockStatus{}
}

// classify applies spec.md §4.2/§7's close-class error policy: an error
// indicating the target/session went away is benign (the target is
// simply gone, so the sequence is moot) and resolves Unblocked(success)
// with no error surfaced; anything else is a fatal setup failure.
func (t *CdpTarget) classify(err error) UnblockStatus {
	if t.client.IsCloseError(err) {
		return UnblockStatus{}
	}
	return UnblockStatus{Err: fmt.Errorf("cdptarget: unblock %s failed: %w", t.info.TargetID, err), Fatal: true}
}
