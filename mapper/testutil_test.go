package mapper

import (
	"context"

	"github.com/chromedp/cdproto"
	cdptargetdomain "github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/Lightning00Blade/chromium-bidi/cdp"
)

// fakeClient is a minimal cdp.Client double: it records every method it
// was sent, optionally fails on a configured method, and lets a test
// install a result-filler for methods whose return value matters.
type fakeClient struct {
	sessionID cdptargetdomain.SessionID
	sent      []string
	failOn    map[string]error
	fill      map[string]func(res easyjson.Unmarshaler)
	closeErr  bool
}

func newFakeClient(sessionID string) *fakeClient {
	return &fakeClient{
		sessionID: cdptargetdomain.SessionID(sessionID),
		failOn:    make(map[string]error),
		fill:      make(map[string]func(res easyjson.Unmarshaler)),
	}
}

func (f *fakeClient) SendCommand(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	f.sent = append(f.sent, method)
	if err, ok := f.failOn[method]; ok {
		return err
	}
	if fill, ok := f.fill[method]; ok && res != nil {
		fill(res)
	}
	return nil
}
func (f *fakeClient) On(method cdproto.MethodType, fn func(interface{})) {}
func (f *fakeClient) OnAny(fn func(cdproto.MethodType, interface{}))    {}
func (f *fakeClient) IsCloseError(err error) bool                       { return f.closeErr }
func (f *fakeClient) SessionID() cdptargetdomain.SessionID              { return f.sessionID }

// fakeConnection is a minimal cdp.Connection double backed by one
// browser-level client and a map of per-session clients.
type fakeConnection struct {
	browser  *fakeClient
	sessions map[cdptargetdomain.SessionID]*fakeClient
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		browser:  newFakeClient(""),
		sessions: make(map[cdptargetdomain.SessionID]*fakeClient),
	}
}

func (f *fakeConnection) BrowserClient() cdp.Client { return f.browser }

func (f *fakeConnection) GetCdpClient(sessionID cdptargetdomain.SessionID) (cdp.Client, error) {
	c, ok := f.sessions[sessionID]
	if !ok {
		c = newFakeClient(string(sessionID))
		f.sessions[sessionID] = c
	}
	return c, nil
}

func (f *fakeConnection) Close() error { return nil }

func newTestMapper() (*Mapper, *fakeConnection) {
	conn := newFakeConnection()
	m, err := New(conn, func(frame interface{}) {})
	if err != nil {
		panic(err)
	}
	return m, conn
}
