package cdp

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
)

// sessionClient implements Client for a single CDP session, dispatching
// decoded events to registered listeners. Grounded on chromedp's
// Target.run/Execute (target.go): a per-session listener list plus a
// command round-trip keyed by message id, except here the per-session
// dispatch runs on the connection's single read goroutine (readLoop)
// instead of a dedicated goroutine per target.
type sessionClient struct {
	conn      *WebSocketConnection
	sessionID target.SessionID

	mu       sync.Mutex
	handlers map[cdproto.MethodType][]func(interface{})
	anyFns   []func(cdproto.MethodType, interface{})
}

func newSessionClient(conn *WebSocketConnection, sessionID target.SessionID) *sessionClient {
	return &sessionClient{
		conn:      conn,
		sessionID: sessionID,
		handlers:  make(map[cdproto.MethodType][]func(interface{})),
	}
}

// SessionID implements Client.
func (s *sessionClient) SessionID() target.SessionID { return s.sessionID }

// SendCommand implements Client.
func (s *sessionClient) SendCommand(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	raw, err := s.conn.send(ctx, s.sessionID, method, params)
	if err != nil {
		return err
	}
	if res == nil || len(raw) == 0 {
		return nil
	}
	return easyjson.Unmarshal(raw, res)
}

// On implements Client.
func (s *sessionClient) On(method cdproto.MethodType, fn func(interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = append(s.handlers[method], fn)
}

// OnAny implements Client.
func (s *sessionClient) OnAny(fn func(cdproto.MethodType, interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyFns = append(s.anyFns, fn)
}

// IsCloseError implements Client.
func (s *sessionClient) IsCloseError(err error) bool {
	if err == nil {
		return false
	}
	if err == ErrConnectionClosed {
		return true
	}
	return isCloseErrorText(err.Error())
}

func (s *sessionClient) dispatchEvent(msg *cdproto.Message) {
	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		if _, ok := err.(cdp.ErrUnknownCommandOrEvent); ok {
			return
		}
		s.conn.errf("cdp: could not unmarshal event %s: %v", msg.Method, err)
		return
	}

	s.mu.Lock()
	handlers := append([]func(interface{}){}, s.handlers[msg.Method]...)
	anyFns := append([]func(cdproto.MethodType, interface{}){}, s.anyFns...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	for _, a := range anyFns {
		a(msg.Method, ev)
	}
}
