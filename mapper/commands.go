package mapper

import (
	"context"
	"encoding/json"

	cdpdomain "github.com/chromedp/cdproto/cdp"
	cdptargetdomain "github.com/chromedp/cdproto/target"
	"github.com/google/uuid"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/browsingcontext"
	"github.com/Lightning00Blade/chromium-bidi/cdptarget"
)

// HandleCommand decodes a single inbound BiDi command frame, dispatches
// it, and writes its success or error envelope to the configured Sink,
// per spec.md §6's request/response contract. Safe to call from any
// goroutine. The command runs on the caller's goroutine, not on the
// task runner, so its storage mutations are serialised only by the
// storages' own locking and are not ordered against CDP event handlers.
func (m *Mapper) HandleCommand(ctx context.Context, raw []byte) {
	var cmd bidi.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		m.out(&bidi.ErrorResult{Type: "error", Error: string(bidi.ErrorCodeInvalidArgument), Message: err.Error()})
		return
	}
	result, err := m.dispatch(ctx, cmd)
	if err != nil {
		m.out(bidi.NewErrorResult(cmd.ID, err))
		return
	}
	m.out(bidi.NewSuccessResult(cmd.ID, result))
}

func (m *Mapper) dispatch(ctx context.Context, cmd bidi.Command) (interface{}, error) {
	switch cmd.Method {
	case "session.status":
		return map[string]interface{}{"ready": true, "message": "ready"}, nil
	case "session.new":
		return m.cmdSessionNew(cmd.Params)
	case "session.subscribe":
		return m.cmdSessionSubscribe(cmd.Params)
	case "session.unsubscribe":
		return m.cmdSessionUnsubscribe(cmd.Params)
	case "session.end":
		return map[string]interface{}{}, nil

	case "browser.createUserContext":
		return m.cmdBrowserCreateUserContext(ctx)
	case "browser.removeUserContext":
		return m.cmdBrowserRemoveUserContext(ctx, cmd.Params)
	case "browser.getUserContexts":
		return m.cmdBrowserGetUserContexts()

	case "browsingContext.create":
		return m.cmdBrowsingContextCreate(ctx, cmd.Params)
	case "browsingContext.navigate":
		return m.cmdBrowsingContextNavigate(ctx, cmd.Params)
	case "browsingContext.reload":
		return m.cmdBrowsingContextReload(ctx, cmd.Params)
	case "browsingContext.close":
		return m.cmdBrowsingContextClose(ctx, cmd.Params)
	case "browsingContext.activate":
		return m.cmdBrowsingContextActivate(ctx, cmd.Params)
	case "browsingContext.getTree":
		return m.cmdBrowsingContextGetTree(cmd.Params)
	case "browsingContext.setViewport":
		return m.cmdBrowsingContextSetViewport(ctx, cmd.Params)
	case "browsingContext.handleUserPrompt":
		return m.cmdBrowsingContextHandleUserPrompt(ctx, cmd.Params)
	case "browsingContext.locateNodes":
		// spec.md §1: node location depends on the JS-value serializer,
		// an external collaborator out of scope for this core.
		return map[string]interface{}{"nodes": []interface{}{}}, nil

	case "script.addPreloadScript":
		return m.cmdScriptAddPreloadScript(ctx, cmd.Params)
	case "script.removePreloadScript":
		return m.cmdScriptRemovePreloadScript(cmd.Params)
	case "script.evaluate", "script.callFunction", "script.disown":
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, cmd.Method+" requires a JS-value serializer, not implemented by this mapper")

	case "network.addIntercept":
		return m.cmdNetworkAddIntercept(ctx, cmd.Params)
	case "network.removeIntercept":
		return m.cmdNetworkRemoveIntercept(ctx, cmd.Params)
	case "network.continueRequest":
		return m.cmdNetworkContinueRequest(cmd.Params)
	case "network.failRequest":
		return m.cmdNetworkFailRequest(cmd.Params)
	case "network.provideResponse":
		return m.cmdNetworkProvideResponse(cmd.Params)
	case "network.continueResponse":
		return m.cmdNetworkContinueResponse(cmd.Params)
	case "network.continueWithAuth":
		return m.cmdNetworkContinueWithAuth(cmd.Params)
	case "network.setCacheBehavior":
		return m.cmdNetworkSetCacheBehavior(ctx, cmd.Params)

	default:
		return nil, bidi.NewError(bidi.ErrorCodeUnknownCommand, "unknown command: "+cmd.Method)
	}
}

// contextAndTarget resolves contextID to its storage entry and live
// CdpTarget, or a *bidi.Error the caller can return directly.
func (m *Mapper) contextAndTarget(contextID string) (*browsingcontext.Context, *cdptarget.CdpTarget, error) {
	c, err := m.contexts.GetByID(contextID)
	if err != nil {
		return nil, nil, err
	}
	t, ok := c.Target().(*cdptarget.CdpTarget)
	if !ok || t == nil {
		return nil, nil, bidi.NewError(bidi.ErrorCodeNoSuchFrame, "context has no live target: "+contextID)
	}
	return c, t, nil
}

// liveTargets returns a snapshot of every currently-attached CdpTarget.
func (m *Mapper) liveTargets() []*cdptarget.CdpTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*cdptarget.CdpTarget, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t)
	}
	return out
}

type sessionNewParams struct {
	Capabilities struct {
		AcceptInsecureCerts bool `json:"acceptInsecureCerts"`
	} `json:"capabilities"`
}

func (m *Mapper) cmdSessionNew(raw json.RawMessage) (interface{}, error) {
	var p sessionNewParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
		}
	}
	m.cfg.acceptInsecureCerts = p.Capabilities.AcceptInsecureCerts
	return map[string]interface{}{
		"sessionId": uuid.NewString(),
		"capabilities": map[string]interface{}{
			"acceptInsecureCerts": m.cfg.acceptInsecureCerts,
			"browserName":         "chromium-bidi",
		},
	}, nil
}

type subscribeParams struct {
	Events   []string `json:"events"`
	Contexts []string `json:"contexts"`
}

func (m *Mapper) cmdSessionSubscribe(raw json.RawMessage) (interface{}, error) {
	var p subscribeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	for _, c := range p.Contexts {
		if _, err := m.contexts.GetByID(c); err != nil {
			return nil, err
		}
	}
	id := m.subs.Subscribe(p.Events, p.Contexts)
	m.events.FlushForSubscription(p.Events, p.Contexts)
	return map[string]interface{}{"subscription": id}, nil
}

type unsubscribeParams struct {
	Subscriptions []string `json:"subscriptions"`
}

func (m *Mapper) cmdSessionUnsubscribe(raw json.RawMessage) (interface{}, error) {
	var p unsubscribeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	m.subs.Unsubscribe(p.Subscriptions)
	return map[string]interface{}{}, nil
}

func (m *Mapper) cmdBrowserCreateUserContext(ctx context.Context) (interface{}, error) {
	browser := m.conn.BrowserClient()
	if browser == nil {
		return nil, ErrNoBrowserClient
	}
	var res cdptargetdomain.CreateBrowserContextReturns
	if err := browser.SendCommand(ctx, "Target.createBrowserContext", cdptargetdomain.CreateBrowserContext(), &res); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}
	id := uuid.NewString()
	m.userCtxs.Create(id, string(res.BrowserContextID))
	return map[string]interface{}{"userContext": id}, nil
}

type userContextOnlyParams struct {
	UserContext string `json:"userContext"`
}

func (m *Mapper) cmdBrowserRemoveUserContext(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p userContextOnlyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	cdpID, ok := m.userCtxs.CDPBrowserContextID(p.UserContext)
	if !ok {
		return nil, bidi.NewError(bidi.ErrorCodeNoSuchUserContext, "no such user context: "+p.UserContext)
	}
	if err := m.userCtxs.Remove(p.UserContext); err != nil {
		return nil, err
	}
	if browser := m.conn.BrowserClient(); browser != nil && cdpID != "" {
		_ = browser.SendCommand(ctx, "Target.disposeBrowserContext", cdptargetdomain.DisposeBrowserContext(cdpdomain.BrowserContextID(cdpID)), nil)
	}
	return map[string]interface{}{}, nil
}

func (m *Mapper) cmdBrowserGetUserContexts() (interface{}, error) {
	ids := m.userCtxs.All()
	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]interface{}{"userContext": id})
	}
	return map[string]interface{}{"userContexts": out}, nil
}
