package mapper

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Lightning00Blade/chromium-bidi/bidi"
)

func TestAddPreloadScriptGlobal(t *testing.T) {
	m, _ := newTestMapper()
	res, err := m.dispatch(context.Background(), bidi.Command{
		Method: "script.addPreloadScript",
		Params: json.RawMessage(`{"functionDeclaration":"() => {}"}`),
	})
	if err != nil {
		t.Fatalf("addPreloadScript: %v", err)
	}
	id := res.(map[string]interface{})["script"].(string)
	if id == "" {
		t.Fatal("expected a non-empty script id")
	}
	if m.preloads.FindByID(id) == nil {
		t.Error("expected script registered in storage")
	}
}

func TestAddPreloadScriptRejectsMultipleContexts(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "script.addPreloadScript",
		Params: json.RawMessage(`{"functionDeclaration":"() => {}","contexts":["a","b"]}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeUnsupportedOperation {
		t.Errorf("expected ErrorCodeUnsupportedOperation, got %v", err)
	}
}

func TestAddPreloadScriptUnknownContextFails(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "script.addPreloadScript",
		Params: json.RawMessage(`{"functionDeclaration":"() => {}","contexts":["missing"]}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeNoSuchFrame {
		t.Errorf("expected ErrorCodeNoSuchFrame, got %v", err)
	}
}

func TestRemovePreloadScript(t *testing.T) {
	m, _ := newTestMapper()
	sc := m.preloads.Add("() => {}", "", "", nil)

	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "script.removePreloadScript",
		Params: json.RawMessage(`{"script":"` + sc.ID() + `"}`),
	})
	if err != nil {
		t.Fatalf("removePreloadScript: %v", err)
	}
	if m.preloads.FindByID(sc.ID()) != nil {
		t.Error("expected script removed from storage")
	}
}

func TestRemovePreloadScriptUnknown(t *testing.T) {
	m, _ := newTestMapper()
	_, err := m.dispatch(context.Background(), bidi.Command{
		Method: "script.removePreloadScript",
		Params: json.RawMessage(`{"script":"missing"}`),
	})
	be, ok := err.(*bidi.Error)
	if !ok || be.Code != bidi.ErrorCodeNoSuchScript {
		t.Errorf("expected ErrorCodeNoSuchScript, got %v", err)
	}
}
