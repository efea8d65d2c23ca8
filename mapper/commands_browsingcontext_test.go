package mapper

import (
	"context"
	"encoding/json"
	"testing"

	cdpdomain "github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	cdptargetdomain "github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/browsingcontext"
	"github.com/Lightning00Blade/chromium-bidi/cdptarget"
)

// insertLiveContext wires a real cdptarget.CdpTarget into both m.contexts
// and m.targets, the shape contextAndTarget expects, without running a
// full attach sequence.
func insertLiveContext(t *testing.T, m *Mapper, contextID string) (*browsingcontext.Context, *cdptarget.CdpTarget, *fakeClient) {
	t.Helper()
	client := newFakeClient("sess-" + contextID)
	tgt := cdptarget.New(
		cdptarget.TargetInfo{TargetID: cdptargetdomain.ID(contextID), Type: "page"},
		contextID, contextID, client, false, false, m.preloads, m.network,
	)
	m.registerTarget(tgt)
	c := m.contexts.Insert(contextID, "", browsingcontext.DefaultUserContext, tgt)
	return c, tgt, client
}

func TestBrowsingContextCreateAwaitsContext(t *testing.T) {
	m, conn := newTestMapper()
	conn.browser.fill["Target.createTarget"] = func(res easyjson.Unmarshaler) {
		r := res.(*cdptargetdomain.CreateTargetReturns)
		r.TargetID = cdptargetdomain.ID("new-ctx-1")
	}
	// Simulate the attach path materialising the context concurrently.
	go func() {
		m.contexts.Insert("new-ctx-1", "", browsingcontext.DefaultUserContext, nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2e9)
	defer cancel()
	res, err := m.dispatch(ctx, bidi.Command{
		Method: "browsingContext.create",
		Params: json.RawMessage(`{"type":"tab"}`),
	})
	if err != nil {
		t.Fatalf("browsingContext.create: %v", err)
	}
	out := res.(map[string]interface{})
	if out["context"] != "new-ctx-1" {
		t.Errorf("unexpected context in result: %v", out)
	}
}

func TestBrowsingContextNavigate(t *testing.T) {
	m, _ := newTestMapper()
	_, _, client := insertLiveContext(t, m, "ctx1")
	client.fill["Page.navigate"] = func(res easyjson.Unmarshaler) {
		r := res.(*cdppage.NavigateReturns)
		r.LoaderID = cdpdomain.LoaderID("loader-1")
	}

	res, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.navigate",
		Params: json.RawMessage(`{"context":"ctx1","url":"https://example.com","wait":"none"}`),
	})
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	out := res.(map[string]interface{})
	if out["navigation"] != "loader-1" || out["url"] != "https://example.com" {
		t.Errorf("unexpected navigate result: %v", out)
	}
	if m.contexts.FindByID("ctx1").URL() != "https://example.com" {
		t.Error("expected context URL updated")
	}
}

func TestBrowsingContextNavigateErrorText(t *testing.T) {
	m, _ := newTestMapper()
	_, _, client := insertLiveContext(t, m, "ctx1")
	client.fill["Page.navigate"] = func(res easyjson.Unmarshaler) {
		r := res.(*cdppage.NavigateReturns)
		r.ErrorText = "net::ERR_NAME_NOT_RESOLVED"
	}

	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.navigate",
		Params: json.RawMessage(`{"context":"ctx1","url":"https://bad","wait":"none"}`),
	})
	if err == nil {
		t.Fatal("expected navigate error from ErrorText")
	}
}

func TestBrowsingContextNavigateUnknownContext(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.navigate",
		Params: json.RawMessage(`{"context":"missing","url":"https://example.com"}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeNoSuchFrame {
		t.Errorf("expected ErrorCodeNoSuchFrame, got %v", err)
	}
}

func TestBrowsingContextCloseRequiresTopLevel(t *testing.T) {
	m, _ := newTestMapper()
	insertLiveContext(t, m, "top1")
	m.contexts.Insert("child1", "top1", browsingcontext.DefaultUserContext, nil)

	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.close",
		Params: json.RawMessage(`{"context":"child1"}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeInvalidArgument {
		t.Errorf("expected ErrorCodeInvalidArgument for closing a non-top-level context, got %v", err)
	}
}

func TestBrowsingContextCloseSendsCloseTarget(t *testing.T) {
	m, conn := newTestMapper()
	insertLiveContext(t, m, "top1")

	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.close",
		Params: json.RawMessage(`{"context":"top1"}`),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	found := false
	for _, sent := range conn.browser.sent {
		if sent == "Target.closeTarget" {
			found = true
		}
	}
	if !found {
		t.Error("expected Target.closeTarget to be sent")
	}
}

func TestBrowsingContextGetTreeNested(t *testing.T) {
	m, _ := newTestMapper()
	insertLiveContext(t, m, "top1")
	m.contexts.Insert("child1", "top1", browsingcontext.DefaultUserContext, nil)

	res, err := m.dispatch(context.Background(), bidi.Command{Method: "browsingContext.getTree"})
	if err != nil {
		t.Fatalf("getTree: %v", err)
	}
	contexts := res.(map[string]interface{})["contexts"].([]map[string]interface{})
	if len(contexts) != 1 {
		t.Fatalf("expected 1 top-level context, got %d", len(contexts))
	}
	children := contexts[0]["children"].([]map[string]interface{})
	if len(children) != 1 || children[0]["context"] != "child1" {
		t.Errorf("expected child1 nested under top1, got %v", children)
	}
}

func TestBrowsingContextSetViewportRequiresTopLevel(t *testing.T) {
	m, _ := newTestMapper()
	insertLiveContext(t, m, "top1")
	m.contexts.Insert("child1", "top1", browsingcontext.DefaultUserContext, nil)

	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.setViewport",
		Params: json.RawMessage(`{"context":"child1","viewport":{"width":800,"height":600}}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeInvalidArgument {
		t.Errorf("expected ErrorCodeInvalidArgument, got %v", err)
	}
}

func TestBrowsingContextSetViewportSendsCommand(t *testing.T) {
	m, _ := newTestMapper()
	_, _, client := insertLiveContext(t, m, "top1")

	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.setViewport",
		Params: json.RawMessage(`{"context":"top1","viewport":{"width":800,"height":600}}`),
	})
	if err != nil {
		t.Fatalf("setViewport: %v", err)
	}
	found := false
	for _, sent := range client.sent {
		if sent == "Emulation.setDeviceMetricsOverride" {
			found = true
		}
	}
	if !found {
		t.Error("expected Emulation.setDeviceMetricsOverride to be sent")
	}
}

func TestBrowsingContextHandleUserPromptNoDialog(t *testing.T) {
	m, _ := newTestMapper()
	_, _, client := insertLiveContext(t, m, "top1")
	client.failOn["Page.handleJavaScriptDialog"] = &dialogErr{"No dialog is showing"}

	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browsingContext.handleUserPrompt",
		Params: json.RawMessage(`{"context":"top1"}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeNoSuchAlert {
		t.Errorf("expected ErrorCodeNoSuchAlert, got %v", err)
	}
}

type dialogErr struct{ msg string }

func (e *dialogErr) Error() string { return e.msg }
