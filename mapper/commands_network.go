package mapper

import (
	"context"
	"encoding/json"

	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/network"
)

type addInterceptParams struct {
	URLPatterns []bidi.URLPattern `json:"urlPatterns"`
	Phases      []string          `json:"phases"`
	Contexts    []string          `json:"contexts"`
}

// cmdNetworkAddIntercept implements SPEC_FULL.md §6.3's
// network.addIntercept: at least one phase is required, and each
// context, if given, must already exist.
func (m *Mapper) cmdNetworkAddIntercept(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p addInterceptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if len(p.Phases) == 0 {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, "network.addIntercept requires at least one phase")
	}
	phases := make(map[network.Phase]bool, len(p.Phases))
	for _, s := range p.Phases {
		ph, err := parsePhase(s)
		if err != nil {
			return nil, err
		}
		phases[ph] = true
	}
	patterns := make([]*bidi.ParsedURLPattern, 0, len(p.URLPatterns))
	for _, wp := range p.URLPatterns {
		pp, err := bidi.ParseURLPattern(wp)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pp)
	}
	contexts := make(map[string]bool, len(p.Contexts))
	for _, c := range p.Contexts {
		if _, err := m.contexts.GetByID(c); err != nil {
			return nil, err
		}
		contexts[c] = true
	}

	id, err := m.network.AddIntercept(ctx, patterns, phases, contexts)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"intercept": id}, nil
}

func parsePhase(s string) (network.Phase, error) {
	switch s {
	case string(network.PhaseBeforeRequestSent):
		return network.PhaseBeforeRequestSent, nil
	case string(network.PhaseResponseStarted):
		return network.PhaseResponseStarted, nil
	case string(network.PhaseAuthRequired):
		return network.PhaseAuthRequired, nil
	default:
		return "", bidi.NewError(bidi.ErrorCodeInvalidArgument, "invalid phase: "+s)
	}
}

type interceptOnlyParams struct {
	Intercept string `json:"intercept"`
}

func (m *Mapper) cmdNetworkRemoveIntercept(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p interceptOnlyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if err := m.network.RemoveIntercept(ctx, p.Intercept); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

// resolveRequest looks up the request behind a BiDi request id, checks
// it is genuinely parked awaiting a decision, and resolves its phase
// waiter with res — shared by every network.continue*/fail*/provide*
// command, per spec.md §4.5's single-resolution contract.
func (m *Mapper) resolveRequest(id string, res network.PhaseResolution) error {
	r := m.network.GetRequest(cdpnetwork.RequestID(id))
	if r == nil {
		return bidi.NewError(bidi.ErrorCodeNoSuchRequest, "no such request: "+id)
	}
	phase := r.Phase()
	if phase == "" {
		return bidi.NewError(bidi.ErrorCodeNoSuchRequest, "request is not paused: "+id)
	}
	w := r.WaitPhase(phase)
	if w.Resolved() {
		return bidi.NewError(bidi.ErrorCodeNoSuchRequest, "request already resolved: "+id)
	}
	w.Resolve(res)
	return nil
}

type continueRequestParams struct {
	Request string            `json:"request"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (m *Mapper) cmdNetworkContinueRequest(raw json.RawMessage) (interface{}, error) {
	var p continueRequestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if err := m.resolveRequest(p.Request, network.PhaseResolution{
		Action:          "continue",
		OverrideURL:     p.URL,
		OverrideMethod:  p.Method,
		OverrideHeaders: p.Headers,
		OverrideBody:    p.Body,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type failRequestParams struct {
	Request string `json:"request"`
}

func (m *Mapper) cmdNetworkFailRequest(raw json.RawMessage) (interface{}, error) {
	var p failRequestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if err := m.resolveRequest(p.Request, network.PhaseResolution{Action: "fail"}); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type provideResponseParams struct {
	Request    string            `json:"request"`
	StatusCode int64             `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

func (m *Mapper) cmdNetworkProvideResponse(raw json.RawMessage) (interface{}, error) {
	var p provideResponseParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	status := p.StatusCode
	if status == 0 {
		status = 200
	}
	if err := m.resolveRequest(p.Request, network.PhaseResolution{
		Action:          "provideResponse",
		StatusCode:      status,
		ResponseHeaders: p.Headers,
		ResponseBody:    p.Body,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

// cmdNetworkContinueResponse implements SPEC_FULL.md §6.3's
// network.continueResponse: it applies to the responseStarted phase and
// shares the same continue semantics as continueRequest (no body
// override, since the response is already underway).
func (m *Mapper) cmdNetworkContinueResponse(raw json.RawMessage) (interface{}, error) {
	var p continueRequestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	if err := m.resolveRequest(p.Request, network.PhaseResolution{
		Action:          "continue",
		OverrideHeaders: p.Headers,
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type continueWithAuthParams struct {
	Request    string `json:"request"`
	Action     string `json:"action"`
	Credentials *struct {
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"credentials"`
}

func (m *Mapper) cmdNetworkContinueWithAuth(raw json.RawMessage) (interface{}, error) {
	var p continueWithAuthParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	res := network.PhaseResolution{Action: "continueWithAuth", AuthAction: p.Action}
	if res.AuthAction == "" {
		res.AuthAction = "default"
	}
	if p.Credentials != nil {
		res.AuthAction = "provideCredentials"
		res.Username = p.Credentials.Username
		res.Password = p.Credentials.Password
	}
	if err := m.resolveRequest(p.Request, res); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type setCacheBehaviorParams struct {
	CacheBehavior string   `json:"cacheBehavior"`
	Contexts      []string `json:"contexts"`
}

// cmdNetworkSetCacheBehavior implements SPEC_FULL.md §6.4's supplemented
// network.setCacheBehavior: toggles Network.setCacheDisabled on every
// live target, optionally restricted to contexts' top-level subtrees.
func (m *Mapper) cmdNetworkSetCacheBehavior(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p setCacheBehaviorParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, err.Error())
	}
	var disabled bool
	switch p.CacheBehavior {
	case "", "default":
		disabled = false
	case "bypass":
		disabled = true
	default:
		return nil, bidi.NewError(bidi.ErrorCodeInvalidArgument, "invalid cacheBehavior: "+p.CacheBehavior)
	}

	wanted := make(map[string]bool, len(p.Contexts))
	for _, c := range p.Contexts {
		if _, err := m.contexts.GetByID(c); err != nil {
			return nil, err
		}
		if top := m.contexts.FindTopLevelContextID(c); top != "" {
			wanted[top] = true
		}
	}

	for _, t := range m.liveTargets() {
		if len(wanted) > 0 && !wanted[t.TopLevelID()] {
			continue
		}
		_ = t.Client().SendCommand(ctx, "Network.setCacheDisabled", cdpnetwork.SetCacheDisabled(disabled), nil)
	}
	return map[string]interface{}{}, nil
}
