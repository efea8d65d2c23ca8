package mapper

import (
	"context"
	"encoding/json"
	"testing"

	cdpdomain "github.com/chromedp/cdproto/cdp"
	cdptargetdomain "github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
)

func TestDispatchSessionStatus(t *testing.T) {
	m, _ := newTestMapper()
	res, err := m.dispatch(context.Background(), bidi.Command{ID: 1, Method: "session.status"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	out, ok := res.(map[string]interface{})
	if !ok || out["ready"] != true {
		t.Errorf("unexpected session.status result: %v", res)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{ID: 1, Method: "bogus.method"})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeUnknownCommand {
		t.Errorf("expected ErrorCodeUnknownCommand, got %v", err)
	}
}

func TestHandleCommandRoundTripSuccess(t *testing.T) {
	m, _ := newTestMapper()
	var got interface{}
	m.out = func(frame interface{}) { got = frame }

	m.HandleCommand(context.Background(), []byte(`{"id":42,"method":"session.status","params":{}}`))

	res, ok := got.(*bidi.SuccessResult)
	if !ok {
		t.Fatalf("expected *bidi.SuccessResult, got %T", got)
	}
	if res.ID != 42 || res.Type != "success" {
		t.Errorf("unexpected envelope: %+v", res)
	}
}

func TestHandleCommandRoundTripError(t *testing.T) {
	m, _ := newTestMapper()
	var got interface{}
	m.out = func(frame interface{}) { got = frame }

	m.HandleCommand(context.Background(), []byte(`{"id":7,"method":"nonexistent.command","params":{}}`))

	res, ok := got.(*bidi.ErrorResult)
	if !ok {
		t.Fatalf("expected *bidi.ErrorResult, got %T", got)
	}
	if res.ID != 7 || res.Error != string(bidi.ErrorCodeUnknownCommand) {
		t.Errorf("unexpected error envelope: %+v", res)
	}
}

func TestHandleCommandUnparseableJSON(t *testing.T) {
	m, _ := newTestMapper()
	var got interface{}
	m.out = func(frame interface{}) { got = frame }

	m.HandleCommand(context.Background(), []byte(`not json`))

	res, ok := got.(*bidi.ErrorResult)
	if !ok || res.Error != string(bidi.ErrorCodeInvalidArgument) {
		t.Errorf("expected invalid argument error, got %+v", got)
	}
}

func TestSessionSubscribeUnknownContextFails(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "session.subscribe",
		Params: json.RawMessage(`{"events":["network"],"contexts":["missing"]}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeNoSuchFrame {
		t.Errorf("expected ErrorCodeNoSuchFrame, got %v", err)
	}
}

func TestSessionSubscribeAndUnsubscribe(t *testing.T) {
	m, _ := newTestMapper()
	res, err := m.dispatch(context.Background(), bidi.Command{
		Method: "session.subscribe",
		Params: json.RawMessage(`{"events":["network"]}`),
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	out := res.(map[string]interface{})
	subID, _ := out["subscription"].(string)
	if subID == "" {
		t.Fatal("expected a non-empty subscription id")
	}
	if !m.subs.IsSubscribedTo("network.beforeRequestSent", "any") {
		t.Error("expected subscription to be active")
	}

	_, err = m.dispatch(context.Background(), bidi.Command{
		Method: "session.unsubscribe",
		Params: json.RawMessage(`{"subscriptions":["` + subID + `"]}`),
	})
	if err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if m.subs.IsSubscribedTo("network.beforeRequestSent", "any") {
		t.Error("expected subscription removed")
	}
}

func TestBrowserCreateAndRemoveUserContext(t *testing.T) {
	m, conn := newTestMapper()
	conn.browser.fill["Target.createBrowserContext"] = func(res easyjson.Unmarshaler) {
		r := res.(*cdptargetdomain.CreateBrowserContextReturns)
		r.BrowserContextID = cdpdomain.BrowserContextID("cdp-ctx-1")
	}

	res, err := m.dispatch(context.Background(), bidi.Command{Method: "browser.createUserContext"})
	if err != nil {
		t.Fatalf("createUserContext: %v", err)
	}
	userCtx := res.(map[string]interface{})["userContext"].(string)
	if userCtx == "" {
		t.Fatal("expected a non-empty user context id")
	}

	listRes, err := m.dispatch(context.Background(), bidi.Command{Method: "browser.getUserContexts"})
	if err != nil {
		t.Fatalf("getUserContexts: %v", err)
	}
	contexts := listRes.(map[string]interface{})["userContexts"].([]map[string]interface{})
	found := false
	for _, c := range contexts {
		if c["userContext"] == userCtx {
			found = true
		}
	}
	if !found {
		t.Errorf("expected newly created user context in list, got %v", contexts)
	}

	_, err = m.dispatch(context.Background(), bidi.Command{
		Method: "browser.removeUserContext",
		Params: json.RawMessage(`{"userContext":"` + userCtx + `"}`),
	})
	if err != nil {
		t.Fatalf("removeUserContext: %v", err)
	}
	found = false
	for _, sent := range conn.browser.sent {
		if sent == "Target.disposeBrowserContext" {
			found = true
		}
	}
	if !found {
		t.Error("expected Target.disposeBrowserContext to be sent")
	}
}

func TestBrowserRemoveDefaultUserContextFails(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browser.removeUserContext",
		Params: json.RawMessage(`{"userContext":"default"}`),
	})
	if err == nil {
		t.Fatal("expected removing the default user context to fail")
	}
}

func TestBrowserRemoveUnknownUserContextFails(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "browser.removeUserContext",
		Params: json.RawMessage(`{"userContext":"missing"}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeNoSuchUserContext {
		t.Errorf("expected ErrorCodeNoSuchUserContext, got %v", err)
	}
}

func TestScriptCommandsUnsupportedEvaluate(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{Method: "script.evaluate"})
	if err == nil {
		t.Fatal("expected script.evaluate to be rejected")
	}
}

func TestNetworkAddInterceptRequiresPhase(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "network.addIntercept",
		Params: json.RawMessage(`{"phases":[],"urlPatterns":[]}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeInvalidArgument {
		t.Errorf("expected ErrorCodeInvalidArgument, got %v", err)
	}
}

func TestNetworkAddAndRemoveIntercept(t *testing.T) {
	m, _ := newTestMapper()
	res, err := m.dispatch(context.Background(), bidi.Command{
		Method: "network.addIntercept",
		Params: json.RawMessage(`{"phases":["beforeRequestSent"],"urlPatterns":[]}`),
	})
	if err != nil {
		t.Fatalf("addIntercept: %v", err)
	}
	id := res.(map[string]interface{})["intercept"].(string)
	if id == "" {
		t.Fatal("expected a non-empty intercept id")
	}

	_, err = m.dispatch(context.Background(), bidi.Command{
		Method: "network.removeIntercept",
		Params: json.RawMessage(`{"intercept":"` + id + `"}`),
	})
	if err != nil {
		t.Fatalf("removeIntercept: %v", err)
	}

	_, err = m.dispatch(context.Background(), bidi.Command{
		Method: "network.removeIntercept",
		Params: json.RawMessage(`{"intercept":"` + id + `"}`),
	})
	if err == nil {
		t.Fatal("expected removing an already-removed intercept to fail")
	}
}

func TestNetworkContinueRequestUnknownRequest(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "network.continueRequest",
		Params: json.RawMessage(`{"request":"missing"}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeNoSuchRequest {
		t.Errorf("expected ErrorCodeNoSuchRequest, got %v", err)
	}
}
