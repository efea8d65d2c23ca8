package mapper

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
	"github.com/Lightning00Blade/chromium-bidi/cdp"
	"github.com/Lightning00Blade/chromium-bidi/cdptarget"
	"github.com/Lightning00Blade/chromium-bidi/network"
)

// registerNetworkListeners wires the CDP Network/Fetch events into the
// NetworkRequest lifecycle described in spec.md §4.5. Network.* events
// are purely informational: they populate the Request record and drive
// the BiDi network.* events. Fetch.* events are where the request is
// actually parked in CDP, since only Fetch can hold a request open.
func (m *Mapper) registerNetworkListeners(ctx context.Context, client cdp.Client, t *cdptarget.CdpTarget) {
	client.On(cdproto.EventNetworkRequestWillBeSent, func(ev interface{}) {
		e, ok := ev.(*cdpnetwork.EventRequestWillBeSent)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onRequestWillBeSent(t, e) })
	})
	client.On(cdproto.EventNetworkRequestWillBeSentExtraInfo, func(ev interface{}) {
		e, ok := ev.(*cdpnetwork.EventRequestWillBeSentExtraInfo)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onRequestWillBeSentExtraInfo(e) })
	})
	client.On(cdproto.EventNetworkResponseReceived, func(ev interface{}) {
		e, ok := ev.(*cdpnetwork.EventResponseReceived)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onResponseReceived(t, e) })
	})
	client.On(cdproto.EventNetworkResponseReceivedExtraInfo, func(ev interface{}) {
		e, ok := ev.(*cdpnetwork.EventResponseReceivedExtraInfo)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onResponseReceivedExtraInfo(e) })
	})
	client.On(cdproto.EventNetworkLoadingFinished, func(ev interface{}) {
		e, ok := ev.(*cdpnetwork.EventLoadingFinished)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onLoadingFinished(t, e) })
	})
	client.On(cdproto.EventNetworkLoadingFailed, func(ev interface{}) {
		e, ok := ev.(*cdpnetwork.EventLoadingFailed)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onLoadingFailed(t, e) })
	})
	client.On(cdproto.EventNetworkRequestServedFromCache, func(ev interface{}) {
		e, ok := ev.(*cdpnetwork.EventRequestServedFromCache)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onRequestServedFromCache(e) })
	})
	client.On(cdproto.EventFetchRequestPaused, func(ev interface{}) {
		e, ok := ev.(*cdpfetch.EventRequestPaused)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onFetchRequestPaused(ctx, client, t, e) })
	})
	client.On(cdproto.EventFetchAuthRequired, func(ev interface{}) {
		e, ok := ev.(*cdpfetch.EventAuthRequired)
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.onFetchAuthRequired(ctx, client, t, e) })
	})
}

func (m *Mapper) onRequestWillBeSent(t *cdptarget.CdpTarget, ev *cdpnetwork.EventRequestWillBeSent) {
	var r *network.Request
	if ev.RedirectResponse != nil {
		if existing := m.network.GetRequest(ev.RequestID); existing != nil {
			if w := existing.WaitPhase(network.PhaseResponseStarted); !w.Resolved() {
				w.Resolve(network.PhaseResolution{Action: "continue"})
			}
			existing.BeginRedirectAttempt()
			r = existing
		}
	}
	if r == nil {
		r = m.network.GetRequest(ev.RequestID)
	}
	if r == nil {
		r = network.NewRequest(ev.RequestID, string(t.SessionID()), t.TopLevelID())
		m.network.AddRequest(r)
	}
	if ev.Request != nil {
		r.SetURLMethod(ev.Request.URL, ev.Request.Method)
		r.SetHeaders(headersToMap(ev.Request.Headers))
	}
	r.MarkHaveRequestWillBeSent()

	blockedBy := m.network.RequestBlockedBy(r.URL(), network.PhaseBeforeRequestSent, t.TopLevelID())
	m.events.RegisterEvent("network.beforeRequestSent", t.ContextID(), networkEventPayload(t, r, len(blockedBy) > 0, blockedBy))
}

func (m *Mapper) onRequestWillBeSentExtraInfo(ev *cdpnetwork.EventRequestWillBeSentExtraInfo) {
	r := m.network.GetRequest(ev.RequestID)
	if r == nil {
		return
	}
	r.SetHeaders(headersToMap(ev.Headers))
	r.MarkHaveRequestExtraInfo()
}

func (m *Mapper) onResponseReceived(t *cdptarget.CdpTarget, ev *cdpnetwork.EventResponseReceived) {
	r := m.network.GetRequest(ev.RequestID)
	if r == nil {
		return
	}
	r.MarkHaveResponseReceived()
	blockedBy := m.network.RequestBlockedBy(r.URL(), network.PhaseResponseStarted, t.TopLevelID())
	m.events.RegisterEvent("network.responseStarted", t.ContextID(), networkEventPayload(t, r, len(blockedBy) > 0, blockedBy))
}

func (m *Mapper) onResponseReceivedExtraInfo(ev *cdpnetwork.EventResponseReceivedExtraInfo) {
	r := m.network.GetRequest(ev.RequestID)
	if r == nil {
		return
	}
	r.MarkHaveResponseExtraInfo()
}

func (m *Mapper) onLoadingFinished(t *cdptarget.CdpTarget, ev *cdpnetwork.EventLoadingFinished) {
	r := m.network.GetRequest(ev.RequestID)
	if r == nil {
		return
	}
	r.DisposeWaiters(nil)
	r.MarkTerminal()
	m.network.RemoveRequest(r.ID())
	m.events.RegisterEvent("network.responseCompleted", t.ContextID(), networkEventPayload(t, r, false, nil))
}

func (m *Mapper) onLoadingFailed(t *cdptarget.CdpTarget, ev *cdpnetwork.EventLoadingFailed) {
	r := m.network.GetRequest(ev.RequestID)
	if r == nil {
		return
	}
	err := bidi.NewError(bidi.ErrorCodeUnknownError, ev.ErrorText)
	r.DisposeWaiters(err)
	r.MarkTerminal()
	m.network.RemoveRequest(r.ID())
	payload := networkEventPayload(t, r, false, nil)
	payload["errorText"] = ev.ErrorText
	m.events.RegisterEvent("network.fetchError", t.ContextID(), payload)
}

func (m *Mapper) onRequestServedFromCache(ev *cdpnetwork.EventRequestServedFromCache) {
	r := m.network.GetRequest(ev.RequestID)
	if r == nil {
		return
	}
	r.MarkServedFromCache()
}

// onFetchRequestPaused is the actual blocking point: a request only
// stays paused in CDP while at least one intercept's phase matches,
// per spec.md §4.4/§4.5.
func (m *Mapper) onFetchRequestPaused(ctx context.Context, client cdp.Client, t *cdptarget.CdpTarget, ev *cdpfetch.EventRequestPaused) {
	rid := ev.NetworkID
	if rid == "" {
		rid = cdpnetwork.RequestID(ev.RequestID)
	}
	r := m.network.GetRequest(rid)
	if r == nil {
		r = network.NewRequest(rid, string(t.SessionID()), t.TopLevelID())
		if ev.Request != nil {
			r.SetURLMethod(ev.Request.URL, ev.Request.Method)
		}
		m.network.AddRequest(r)
	}
	m.network.BindFetchID(ev.RequestID, rid)

	phase := network.PhaseBeforeRequestSent
	if ev.ResponseStatusCode != 0 || ev.ResponseErrorReason != "" {
		phase = network.PhaseResponseStarted
	}

	blockedBy := m.network.RequestBlockedBy(r.URL(), phase, t.TopLevelID())
	if len(blockedBy) == 0 {
		m.resolveFetchPause(ctx, client, r, ev.RequestID, network.PhaseResolution{Action: "continue"})
		return
	}

	r.SetPaused(phase, blockedBy)
	waiter := r.WaitPhase(phase)
	go func() {
		res, ok := waiter.Wait(ctx.Done())
		if !ok {
			return
		}
		m.loop.post(ctx, func() { m.resolveFetchPause(ctx, client, r, ev.RequestID, res) })
	}()
}

// resolveFetchPause sends the CDP command matching a resolved phase
// waiter's action. Called either immediately (nothing blocks the
// request) or once a BiDi continue/fail/provideResponse command
// resolves the waiter.
func (m *Mapper) resolveFetchPause(ctx context.Context, client cdp.Client, r *network.Request, fetchID cdpfetch.RequestID, res network.PhaseResolution) {
	defer r.ClearFetchID()
	defer m.network.MaybeDisable(ctx, r.TopLevelID())
	switch res.Action {
	case "fail":
		_ = client.SendCommand(ctx, "Fetch.failRequest", cdpfetch.FailRequest(fetchID, cdpnetwork.ErrorReasonBlockedByClient), nil)
	case "provideResponse":
		params := cdpfetch.FulfillRequest(fetchID, res.StatusCode)
		if len(res.ResponseHeaders) > 0 {
			params = params.WithResponseHeaders(headerEntries(res.ResponseHeaders))
		}
		if res.ResponseBody != "" {
			params = params.WithBody(res.ResponseBody)
		}
		_ = client.SendCommand(ctx, "Fetch.fulfillRequest", params, nil)
	case "disposed":
		// Session already gone; nothing to send.
	default: // "continue"
		params := cdpfetch.ContinueRequest(fetchID)
		if res.OverrideURL != "" {
			params = params.WithURL(res.OverrideURL)
		}
		if res.OverrideMethod != "" {
			params = params.WithMethod(res.OverrideMethod)
		}
		if len(res.OverrideHeaders) > 0 {
			params = params.WithHeaders(headerEntries(res.OverrideHeaders))
		}
		if res.OverrideBody != "" {
			params = params.WithPostData(res.OverrideBody)
		}
		_ = client.SendCommand(ctx, "Fetch.continueRequest", params, nil)
	}
}

func headerEntries(h map[string]string) []*cdpfetch.HeaderEntry {
	out := make([]*cdpfetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		out = append(out, &cdpfetch.HeaderEntry{Name: k, Value: v})
	}
	return out
}

func (m *Mapper) onFetchAuthRequired(ctx context.Context, client cdp.Client, t *cdptarget.CdpTarget, ev *cdpfetch.EventAuthRequired) {
	r := m.network.GetRequestByFetchID(ev.RequestID)
	if r == nil {
		r = network.NewRequest(cdpnetwork.RequestID(ev.RequestID), string(t.SessionID()), t.TopLevelID())
		if ev.Request != nil {
			r.SetURLMethod(ev.Request.URL, ev.Request.Method)
		}
		m.network.AddRequest(r)
		m.network.BindFetchID(ev.RequestID, r.ID())
	}

	blockedBy := m.network.RequestBlockedBy(r.URL(), network.PhaseAuthRequired, t.TopLevelID())
	if len(blockedBy) == 0 {
		m.sendAuthResponse(ctx, client, ev.RequestID, network.PhaseResolution{Action: "continueWithAuth", AuthAction: "default"})
		return
	}

	r.SetPaused(network.PhaseAuthRequired, blockedBy)
	m.events.RegisterEvent("network.authRequired", t.ContextID(), networkEventPayload(t, r, true, blockedBy))

	waiter := r.WaitPhase(network.PhaseAuthRequired)
	go func() {
		res, ok := waiter.Wait(ctx.Done())
		if !ok {
			return
		}
		m.loop.post(ctx, func() {
			defer r.ClearFetchID()
			defer m.network.MaybeDisable(ctx, r.TopLevelID())
			if res.Action == "disposed" {
				return
			}
			m.sendAuthResponse(ctx, client, ev.RequestID, res)
		})
	}()
}

// sendAuthResponse answers a paused Fetch.authRequired with the
// credentials decision res carries, defaulting to the browser's own
// native credential flow when the client didn't resolve with explicit
// continueWithAuth credentials.
func (m *Mapper) sendAuthResponse(ctx context.Context, client cdp.Client, fetchID cdpfetch.RequestID, res network.PhaseResolution) {
	challenge := &cdpfetch.AuthChallengeResponse{Response: cdpfetch.AuthChallengeResponseResponseDefault}
	switch res.AuthAction {
	case "provideCredentials":
		challenge.Response = cdpfetch.AuthChallengeResponseResponseProvideCredentials
		challenge.Username = res.Username
		challenge.Password = res.Password
	case "cancel":
		challenge.Response = cdpfetch.AuthChallengeResponseResponseCancelAuth
	}
	_ = client.SendCommand(ctx, "Fetch.continueWithAuth", cdpfetch.ContinueWithAuth(fetchID, challenge), nil)
}

func headersToMap(h cdpnetwork.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func networkEventPayload(t *cdptarget.CdpTarget, r *network.Request, isBlocked bool, blockedBy []string) map[string]interface{} {
	return map[string]interface{}{
		"context":    t.ContextID(),
		"isBlocked":  isBlocked,
		"intercepts": blockedBy,
		"request": map[string]interface{}{
			"request": string(r.ID()),
			"url":     r.URL(),
			"method":  r.Method(),
			"headers": r.Headers(),
		},
		"redirectCount": r.RedirectCount(),
	}
}
