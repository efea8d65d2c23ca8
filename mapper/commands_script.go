package mapper

import (
	"context"
	"encoding/json"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/preload"
)

type addPreloadScriptParams struct {
	FunctionDeclaration string   `json:"functionDeclaration"`
	Contexts            []string `json:"contexts"`
	Sandbox             string   `json:"sandbox"`
}

// cmdScriptAddPreloadScript implements SPEC_FULL.md §6.3's
// script.addPreloadScript. Only zero or one context filter is
// supported, since preload.Storage.Add takes a single optional
// context-id filter rather than a list.
func (m *Mapper) cmdScriptAddPreloadScript(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p addPreloadScriptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if len(p.Contexts) > 1 {
		return nil, bidi.NewError(bidi.ErrorCodeUnsupportedOperation, "script.addPreloadScript: multiple contexts not supported")
	}
	var contextID string
	if len(p.Contexts) == 1 {
		contextID = p.Contexts[0]
		if _, err := m.contexts.GetByID(contextID); err != nil {
			return nil, err
		}
	}

	sc := m.preloads.Add(p.FunctionDeclaration, p.Sandbox, contextID, nil)
	m.installOnLiveTargets(ctx, sc)
	return map[string]interface{}{"script": sc.ID()}, nil
}

// installOnLiveTargets pushes a newly-registered preload script onto
// every already-attached target it matches, since those targets' own
// unblock sequences already ran and won't see it otherwise.
func (m *Mapper) installOnLiveTargets(ctx context.Context, sc *preload.Script) {
	for _, t := range m.liveTargets() {
		c := m.contexts.FindByID(t.ContextID())
		if c == nil || !sc.MatchesTarget(c.ID()) {
			continue
		}
		params := cdppage.AddScriptToEvaluateOnNewDocument(sc.Source())
		if sc.Sandbox() != "" {
			params = params.WithWorldName(sc.Sandbox())
		}
		var res cdppage.AddScriptToEvaluateOnNewDocumentReturns
		if err := t.Client().SendCommand(ctx, "Page.addScriptToEvaluateOnNewDocument", params, &res); err == nil {
			sc.RecordInstalled(string(t.TargetID()), res.Identifier)
		}
	}
}

type removePreloadScriptParams struct {
	Script string `json:"script"`
}

// cmdScriptRemovePreloadScript implements SPEC_FULL.md §6.5's
// script.removePreloadScript: it drops the script from storage but
// makes no attempt to best-effort uninstall it from
// documents it has already run on.
func (m *Mapper) cmdScriptRemovePreloadScript(raw json.RawMessage) (interface{}, error) {
	var p removePreloadScriptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if _, err := m.preloads.Remove(p.Script); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}
