package mapper

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	cdpdomain "github.com/chromedp/cdproto/cdp"
	cdpemulation "github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	cdptargetdomain "github.com/chromedp/cdproto/target"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/browsingcontext"
)

type createContextParams struct {
	Type             string `json:"type"`
	ReferenceContext string `json:"referenceContext"`
	UserContext      string `json:"userContext"`
	Background       bool   `json:"background"`
}

// cmdBrowsingContextCreate implements SPEC_FULL.md §6.3's
// browsingContext.create: it sends Target.createTarget and waits for
// the auto-attach path to materialise the resulting BrowsingContext,
// since context creation itself is driven entirely by CDP events, not
// by this command handler.
func (m *Mapper) cmdBrowsingContextCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p createContextParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	browser := m.conn.BrowserClient()
	if browser == nil {
		return nil, ErrNoBrowserClient
	}

	params := cdptargetdomain.CreateTarget("about:blank").WithNewWindow(p.Type == "window").WithBackground(p.Background)
	if p.UserContext != "" {
		cdpID, ok := m.userCtxs.CDPBrowserContextID(p.UserContext)
		if !ok {
			return nil, bidi.NewError(bidi.ErrorCodeNoSuchUserContext, "no such user context: "+p.UserContext)
		}
		if cdpID != "" {
			params = params.WithBrowserContextID(cdpdomain.BrowserContextID(cdpID))
		}
	}

	var res cdptargetdomain.CreateTargetReturns
	if err := browser.SendCommand(ctx, "Target.createTarget", params, &res); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}

	c, err := m.awaitContext(ctx, string(res.TargetID))
	if err != nil {
		return nil, err
	}
	return contextInfo(c), nil
}

// awaitContext polls until contextID appears in storage or ctx is
// done, grounded on the teacher's poll.go wait-with-timeout idiom
// (cdp/target attach is asynchronous, so there is no direct return
// value to wait on here beyond the context itself appearing).
func (m *Mapper) awaitContext(ctx context.Context, contextID string) (*browsingcontext.Context, error) {
	for {
		if c := m.contexts.FindByID(contextID); c != nil {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, bidi.NewError(bidi.ErrorCodeUnknownError, "timed out waiting for browsing context "+contextID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type navigateParams struct {
	Context string `json:"context"`
	URL     string `json:"url"`
	Wait    string `json:"wait"`
}

func (m *Mapper) cmdBrowsingContextNavigate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p navigateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	c, t, err := m.contextAndTarget(p.Context)
	if err != nil {
		return nil, err
	}

	var res cdppage.NavigateReturns
	if err := t.Client().SendCommand(ctx, "Page.navigate", cdppage.Navigate(p.URL), &res); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}
	if res.ErrorText != "" {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, res.ErrorText)
	}
	c.SetURL(p.URL)

	if err := m.awaitReadiness(ctx, p.Context, p.Wait); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"navigation": string(res.LoaderID),
		"url":        p.URL,
	}, nil
}

// awaitReadiness blocks until contextID's document readiness reaches
// (or passes) want, per SPEC_FULL.md §6.1's navigate "wait" param.
func (m *Mapper) awaitReadiness(ctx context.Context, contextID, wait string) error {
	var want browsingcontext.ReadinessState
	switch wait {
	case "", "none":
		return nil
	case "interactive":
		want = browsingcontext.ReadinessInteractive
	case "complete":
		want = browsingcontext.ReadinessComplete
	default:
		return bidi.NewError(bidi.ErrorCodeInvalidArgument, "invalid wait: "+wait)
	}
	for {
		c := m.contexts.FindByID(contextID)
		if c == nil {
			return bidi.NewError(bidi.ErrorCodeNoSuchFrame, "no such context: "+contextID)
		}
		r := c.Readiness()
		if r == want || (want == browsingcontext.ReadinessInteractive && r == browsingcontext.ReadinessComplete) {
			return nil
		}
		select {
		case <-ctx.Done():
			return bidi.NewError(bidi.ErrorCodeUnknownError, "timed out waiting for readiness "+wait)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type reloadParams struct {
	Context     string `json:"context"`
	IgnoreCache bool   `json:"ignoreCache"`
	Wait        string `json:"wait"`
}

func (m *Mapper) cmdBrowsingContextReload(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p reloadParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	_, t, err := m.contextAndTarget(p.Context)
	if err != nil {
		return nil, err
	}
	params := cdppage.Reload()
	if p.IgnoreCache {
		params = params.WithIgnoreCache(true)
	}
	if err := t.Client().SendCommand(ctx, "Page.reload", params, nil); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}
	if err := m.awaitReadiness(ctx, p.Context, p.Wait); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type contextOnlyParams struct {
	Context string `json:"context"`
}

func (m *Mapper) cmdBrowsingContextClose(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p contextOnlyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	c, err := m.contexts.GetByID(p.Context)
	if err != nil {
		return nil, err
	}
	if !c.IsTopLevel() {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, "browsingContext.close only applies to top-level contexts")
	}
	browser := m.conn.BrowserClient()
	if browser == nil {
		return nil, ErrNoBrowserClient
	}
	if err := browser.SendCommand(ctx, "Target.closeTarget", cdptargetdomain.CloseTarget(cdptargetdomain.ID(p.Context)), nil); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}
	// The actual removal from storage happens when Target.detachedFromTarget
	// fires and onDetachedFromTarget runs, per spec.md §4.3.
	return map[string]interface{}{}, nil
}

func (m *Mapper) cmdBrowsingContextActivate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p contextOnlyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if _, err := m.contexts.GetByID(p.Context); err != nil {
		return nil, err
	}
	browser := m.conn.BrowserClient()
	if browser == nil {
		return nil, ErrNoBrowserClient
	}
	if err := browser.SendCommand(ctx, "Target.activateTarget", cdptargetdomain.ActivateTarget(cdptargetdomain.ID(p.Context)), nil); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}
	return map[string]interface{}{}, nil
}

type getTreeParams struct {
	Root     string `json:"root"`
	MaxDepth *int   `json:"maxDepth"`
}

func (m *Mapper) cmdBrowsingContextGetTree(raw json.RawMessage) (interface{}, error) {
	var p getTreeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
		}
	}
	var roots []*browsingcontext.Context
	if p.Root != "" {
		c, err := m.contexts.GetByID(p.Root)
		if err != nil {
			return nil, err
		}
		roots = []*browsingcontext.Context{c}
	} else {
		roots = m.contexts.TopLevelContexts()
	}
	out := make([]map[string]interface{}, 0, len(roots))
	for _, c := range roots {
		out = append(out, m.contextTree(c, 0, p.MaxDepth))
	}
	return map[string]interface{}{"contexts": out}, nil
}

func (m *Mapper) contextTree(c *browsingcontext.Context, depth int, maxDepth *int) map[string]interface{} {
	info := contextInfo(c)
	children := make([]map[string]interface{}, 0)
	if maxDepth == nil || depth < *maxDepth {
		for _, childID := range c.ChildIDs() {
			if child := m.contexts.FindByID(childID); child != nil {
				children = append(children, m.contextTree(child, depth+1, maxDepth))
			}
		}
	}
	info["children"] = children
	return info
}

type setViewportParams struct {
	Context  string `json:"context"`
	Viewport *struct {
		Width  int64 `json:"width"`
		Height int64 `json:"height"`
	} `json:"viewport"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// cmdBrowsingContextSetViewport implements SPEC_FULL.md §6.1: top-level
// only, grounded on the teacher's emulate.go EmulateViewport action,
// adapted from chromedp's Action/Do(ctx) model to a direct SendCommand.
func (m *Mapper) cmdBrowsingContextSetViewport(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p setViewportParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	c, err := m.contexts.GetByID(p.Context)
	if err != nil {
		return nil, err
	}
	if !c.IsTopLevel() {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, "browsingContext.setViewport only applies to top-level contexts")
	}
	_, t, err := m.contextAndTarget(p.Context)
	if err != nil {
		return nil, err
	}
	if p.Viewport == nil {
		return map[string]interface{}{}, nil
	}
	ratio := p.DevicePixelRatio
	if ratio == 0 {
		ratio = 1
	}
	params := cdpemulation.SetDeviceMetricsOverride(p.Viewport.Width, p.Viewport.Height, ratio, false)
	if err := t.Client().SendCommand(ctx, "Emulation.setDeviceMetricsOverride", params, nil); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}
	return map[string]interface{}{}, nil
}

type handleUserPromptParams struct {
	Context    string  `json:"context"`
	Accept     *bool   `json:"accept"`
	PromptText *string `json:"userText"`
}

// cmdBrowsingContextHandleUserPrompt implements SPEC_FULL.md §6.3: "no
// such alert" is detected from the CDP error text, since
// Page.handleJavaScriptDialog carries no dedicated error code for it.
func (m *Mapper) cmdBrowsingContextHandleUserPrompt(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p handleUserPromptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	_, t, err := m.contextAndTarget(p.Context)
	if err != nil {
		return nil, err
	}
	accept := true
	if p.Accept != nil {
		accept = *p.Accept
	}
	params := cdppage.HandleJavaScriptDialog(accept)
	if p.PromptText != nil {
		params = params.WithPromptText(*p.PromptText)
	}
	if err := t.Client().SendCommand(ctx, "Page.handleJavaScriptDialog", params, nil); err != nil {
		if strings.Contains(err.Error(), "No dialog is showing") {
			return nil, bidi.NewError(bidi.ErrorCodeNoSuchAlert, "no dialog is showing in context "+p.Context)
		}
		return nil, bidi.NewError(bidi.ErrorCodeUnknownError, err.Error())
	}
	return map[string]interface{}{}, nil
}
