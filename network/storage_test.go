package network

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/Lightning00Blade/chromium-bidi/cdp"
)

type fakeClient struct {
	sessionID  target.SessionID
	sent       []string
	lastParams easyjson.Marshaler
}

func (f *fakeClient) SendCommand(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	f.sent = append(f.sent, method)
	f.lastParams = params
	return nil
}
func (f *fakeClient) On(method cdproto.MethodType, fn func(interface{})) {}
func (f *fakeClient) OnAny(fn func(cdproto.MethodType, interface{}))    {}
func (f *fakeClient) IsCloseError(err error) bool                       { return false }
func (f *fakeClient) SessionID() target.SessionID                       { return f.sessionID }

type fakeTargetSync struct {
	topLevelID   string
	client       *fakeClient
	fetchEnabled bool
}

func (f *fakeTargetSync) TopLevelID() string     { return f.topLevelID }
func (f *fakeTargetSync) Client() cdp.Client      { return f.client }
func (f *fakeTargetSync) FetchEnabled() bool     { return f.fetchEnabled }
func (f *fakeTargetSync) SetFetchEnabled(v bool) { f.fetchEnabled = v }

func TestRegisterTargetEnablesFetchWhenInterceptExists(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.AddIntercept(ctx, nil, map[Phase]bool{PhaseBeforeRequestSent: true}, nil); err != nil {
		t.Fatalf("AddIntercept: %v", err)
	}

	tgt := &fakeTargetSync{topLevelID: "top1", client: &fakeClient{sessionID: "sess1"}}
	s.RegisterTarget(ctx, tgt)

	if !tgt.FetchEnabled() {
		t.Error("expected Fetch.enable to be issued and FetchEnabled set")
	}
	if len(tgt.client.sent) != 1 || tgt.client.sent[0] != "Fetch.enable" {
		t.Errorf("expected a single Fetch.enable call, got %v", tgt.client.sent)
	}
}

func TestRemoveInterceptDisablesFetchWhenNoneLeft(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	id, err := s.AddIntercept(ctx, nil, map[Phase]bool{PhaseBeforeRequestSent: true}, nil)
	if err != nil {
		t.Fatalf("AddIntercept: %v", err)
	}
	tgt := &fakeTargetSync{topLevelID: "top1", client: &fakeClient{sessionID: "sess1"}}
	s.RegisterTarget(ctx, tgt)
	tgt.client.sent = nil

	if err := s.RemoveIntercept(ctx, id); err != nil {
		t.Fatalf("RemoveIntercept: %v", err)
	}
	if tgt.FetchEnabled() {
		t.Error("expected Fetch.disable to be issued and FetchEnabled cleared")
	}
	if len(tgt.client.sent) != 1 || tgt.client.sent[0] != "Fetch.disable" {
		t.Errorf("expected a single Fetch.disable call, got %v", tgt.client.sent)
	}
}

func TestRegisterTargetEnablesAuthStageAndHandleAuthRequests(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.AddIntercept(ctx, nil, map[Phase]bool{PhaseAuthRequired: true}, nil); err != nil {
		t.Fatalf("AddIntercept: %v", err)
	}

	tgt := &fakeTargetSync{topLevelID: "top1", client: &fakeClient{sessionID: "sess1"}}
	s.RegisterTarget(ctx, tgt)

	params, ok := tgt.client.lastParams.(*cdpfetch.EnableParams)
	if !ok {
		t.Fatalf("expected Fetch.EnableParams, got %T", tgt.client.lastParams)
	}
	if !params.HandleAuthRequests {
		t.Error("expected handleAuthRequests=true when an intercept watches authRequired")
	}
	if len(params.Patterns) != 1 || params.Patterns[0].RequestStage != cdpfetch.RequestStageRequest {
		t.Errorf("expected a single Request-stage pattern, got %v", params.Patterns)
	}
}

func TestRegisterTargetEnablesResponseStageOnly(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, err := s.AddIntercept(ctx, nil, map[Phase]bool{PhaseResponseStarted: true}, nil); err != nil {
		t.Fatalf("AddIntercept: %v", err)
	}

	tgt := &fakeTargetSync{topLevelID: "top1", client: &fakeClient{sessionID: "sess1"}}
	s.RegisterTarget(ctx, tgt)

	params := tgt.client.lastParams.(*cdpfetch.EnableParams)
	if params.HandleAuthRequests {
		t.Error("expected handleAuthRequests=false when no intercept watches authRequired")
	}
	if len(params.Patterns) != 1 || params.Patterns[0].RequestStage != cdpfetch.RequestStageResponse {
		t.Errorf("expected a single Response-stage pattern, got %v", params.Patterns)
	}
}

func TestRemoveInterceptDefersDisableWhileRequestPaused(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	id, err := s.AddIntercept(ctx, nil, map[Phase]bool{PhaseBeforeRequestSent: true}, nil)
	if err != nil {
		t.Fatalf("AddIntercept: %v", err)
	}
	tgt := &fakeTargetSync{topLevelID: "top1", client: &fakeClient{sessionID: "sess1"}}
	s.RegisterTarget(ctx, tgt)

	r := NewRequest(cdpnetwork.RequestID("req1"), "sess1", "top1")
	s.AddRequest(r)
	s.BindFetchID("fetch1", cdpnetwork.RequestID("req1"))
	tgt.client.sent = nil

	if err := s.RemoveIntercept(ctx, id); err != nil {
		t.Fatalf("RemoveIntercept: %v", err)
	}
	if !tgt.FetchEnabled() {
		t.Error("expected Fetch to stay enabled while req1 is still paused")
	}
	for _, m := range tgt.client.sent {
		if m == "Fetch.disable" {
			t.Fatal("expected Fetch.disable to be deferred while a request is paused")
		}
	}

	r.ClearFetchID()
	s.MaybeDisable(ctx, "top1")

	if tgt.FetchEnabled() {
		t.Error("expected Fetch.disable once the paused request drained")
	}
	found := false
	for _, m := range tgt.client.sent {
		if m == "Fetch.disable" {
			found = true
		}
	}
	if !found {
		t.Error("expected Fetch.disable to be sent by MaybeDisable")
	}
}

func TestRemoveInterceptUnknownErrors(t *testing.T) {
	s := New(nil)
	if err := s.RemoveIntercept(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown intercept id")
	}
}

func TestAddRequestGetRequestRemoveRequest(t *testing.T) {
	s := New(nil)
	r := NewRequest(cdpnetwork.RequestID("req1"), "sess1", "top1")
	s.AddRequest(r)

	if got := s.GetRequest(cdpnetwork.RequestID("req1")); got != r {
		t.Errorf("GetRequest = %v, want %v", got, r)
	}

	s.RemoveRequest(cdpnetwork.RequestID("req1"))
	if got := s.GetRequest(cdpnetwork.RequestID("req1")); got != nil {
		t.Error("expected request removed")
	}
}

func TestBindFetchIDAndLookup(t *testing.T) {
	s := New(nil)
	r := NewRequest(cdpnetwork.RequestID("req1"), "sess1", "top1")
	s.AddRequest(r)

	s.BindFetchID("fetch1", cdpnetwork.RequestID("req1"))

	got := s.GetRequestByFetchID("fetch1")
	if got != r {
		t.Errorf("GetRequestByFetchID = %v, want %v", got, r)
	}
	id, ok := r.FetchID()
	if !ok || id != "fetch1" {
		t.Errorf("expected request's own fetchID updated, got (%v, %v)", id, ok)
	}
}

func TestRequestsForTopLevelAndDispose(t *testing.T) {
	s := New(nil)
	r1 := NewRequest(cdpnetwork.RequestID("req1"), "sess1", "top1")
	r2 := NewRequest(cdpnetwork.RequestID("req2"), "sess1", "top2")
	s.AddRequest(r1)
	s.AddRequest(r2)

	got := s.RequestsForTopLevel("top1")
	if len(got) != 1 || got[0] != r1 {
		t.Errorf("RequestsForTopLevel(top1) = %v, want [r1]", got)
	}

	w := r1.WaitPhase(PhaseBeforeRequestSent)
	s.DisposeTopLevel("top1", errNoSuchTarget)

	if s.GetRequest(cdpnetwork.RequestID("req1")) != nil {
		t.Error("expected req1 removed after DisposeTopLevel")
	}
	if s.GetRequest(cdpnetwork.RequestID("req2")) == nil {
		t.Error("expected req2 untouched by DisposeTopLevel(top1)")
	}
	v, ok := w.Value()
	if !ok || v.Action != "disposed" {
		t.Errorf("expected req1's waiter disposed, got (%v, %v)", v, ok)
	}
}

var errNoSuchTarget = &fakeErr{"target gone"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }
