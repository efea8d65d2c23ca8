package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// LogFunc is the common logging func type, matching chromedp's own.
type LogFunc func(string, ...interface{})

// wireConn is the minimal transport WebSocketConnection needs; it is
// satisfied by *websocket.Conn and lets tests substitute an in-process
// pipe without dragging in real sockets.
type wireConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// WebSocketConnection is the default Connection, dialing the browser's
// debugging WebSocket endpoint and demultiplexing
// Target.receivedMessageFromTarget envelopes into per-session Clients.
//
// Grounded on chromedp's browser.go Browser.run loop (demux by session)
// and conn.go Conn.Read/Write (easyjson framing over gorilla/websocket).
type WebSocketConnection struct {
	conn wireConn

	next int64

	mu       sync.Mutex
	sessions map[target.SessionID]*sessionClient

	cmdQueue chan *cmdJob
	qres     chan *cdproto.Message

	logf, errf LogFunc

	closeOnce sync.Once
	closed    chan struct{}
}

type cmdJob struct {
	msg  *cdproto.Message
	resp chan *cdproto.Message
}

// DialOption configures a WebSocketConnection at Dial time.
type DialOption func(*WebSocketConnection)

// WithLogf sets the connection's general logging func.
func WithLogf(f LogFunc) DialOption { return func(c *WebSocketConnection) { c.logf = f } }

// WithErrorf sets the connection's error logging func.
func WithErrorf(f LogFunc) DialOption { return func(c *WebSocketConnection) { c.errf = f } }

// Dial connects to the browser's CDP WebSocket endpoint (the
// "webSocketDebuggerUrl" from /json/version) and starts the dispatcher.
func Dial(ctx context.Context, endpoint string, opts ...DialOption) (*WebSocketConnection, error) {
	d := &websocket.Dialer{}
	wsConn, _, err := d.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", endpoint, err)
	}
	return newConnection(wsConn, opts...), nil
}

func newConnection(conn wireConn, opts ...DialOption) *WebSocketConnection {
	c := &WebSocketConnection{
		conn:     conn,
		sessions: make(map[target.SessionID]*sessionClient),
		cmdQueue: make(chan *cmdJob),
		qres:     make(chan *cdproto.Message),
		logf:     func(string, ...interface{}) {},
		closed:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.errf == nil {
		c.errf = func(s string, v ...interface{}) { c.logf("ERROR: "+s, v...) }
	}
	c.sessions[""] = newSessionClient(c, "")
	go c.run()
	return c
}

// BrowserClient implements Connection.
func (c *WebSocketConnection) BrowserClient() Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[""]
}

// GetCdpClient implements Connection.
func (c *WebSocketConnection) GetCdpClient(sessionID target.SessionID) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		return s, nil
	}
	s := newSessionClient(c, sessionID)
	c.sessions[sessionID] = s
	return s, nil
}

// Close implements Connection.
func (c *WebSocketConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

func (c *WebSocketConnection) run() {
	defer c.conn.Close()

	go c.readLoop()

	respByID := make(map[int64]chan *cdproto.Message)
	for {
		select {
		case <-c.closed:
			return

		case res := <-c.qres:
			ch, ok := respByID[res.ID]
			if !ok {
				c.errf("cdp: id %d not present in response map", res.ID)
				continue
			}
			delete(respByID, res.ID)
			if ch != nil {
				ch <- res
				close(ch)
			}

		case job := <-c.cmdQueue:
			respByID[job.msg.ID] = job.resp
			buf, err := marshalMessage(job.msg)
			if err != nil {
				c.errf("cdp: marshal command: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.errf("cdp: write: %v", err)
				continue
			}
		}
	}
}

func (c *WebSocketConnection) readLoop() {
	defer c.closeOnce.Do(func() { close(c.closed) })
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := unmarshalMessage(buf)
		if err != nil {
			c.errf("cdp: unmarshal: %v", err)
			continue
		}

		var sessionID target.SessionID
		deliverMsg := msg
		if msg.Method == cdproto.EventTargetReceivedMessageFromTarget {
			recv := new(target.EventReceivedMessageFromTarget)
			if err := json.Unmarshal(msg.Params, recv); err != nil {
				c.errf("cdp: decode receivedMessageFromTarget: %v", err)
				continue
			}
			sessionID = recv.SessionID
			deliverMsg = new(cdproto.Message)
			if err := json.Unmarshal([]byte(recv.Message), deliverMsg); err != nil {
				c.errf("cdp: decode flattened message: %v", err)
				continue
			}
		} else {
			sessionID = msg.SessionID
		}

		switch {
		case deliverMsg.Method != "":
			c.mu.Lock()
			s, ok := c.sessions[sessionID]
			c.mu.Unlock()
			if !ok {
				c.errf("cdp: event for unknown session %q", sessionID)
				continue
			}
			s.dispatchEvent(deliverMsg)

		case deliverMsg.ID != 0:
			select {
			case c.qres <- deliverMsg:
			case <-c.closed:
				return
			}

		default:
			c.errf("cdp: ignoring malformed message (missing id/method): %#v", deliverMsg)
		}
	}
}

func (c *WebSocketConnection) send(ctx context.Context, sessionID target.SessionID, method string, params easyjson.Marshaler) (json.RawMessage, error) {
	var buf []byte
	if params != nil {
		w := jwriter.Writer{}
		params.MarshalEasyJSON(&w)
		if w.Error != nil {
			return nil, w.Error
		}
		buf, _ = w.BuildBytes()
	}

	id := atomic.AddInt64(&c.next, 1)
	msg := &cdproto.Message{
		ID:        id,
		SessionID: sessionID,
		Method:    cdproto.MethodType(method),
		Params:    easyjson.RawMessage(buf),
	}

	ch := make(chan *cdproto.Message, 1)
	select {
	case c.cmdQueue <- &cmdJob{msg: msg, resp: ch}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrConnectionClosed
	}

	select {
	case res := <-ch:
		if res == nil {
			return nil, ErrConnectionClosed
		}
		if res.Error != nil {
			return nil, res.Error
		}
		return json.RawMessage(res.Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrConnectionClosed
	}
}

func marshalMessage(msg *cdproto.Message) ([]byte, error) {
	w := jwriter.Writer{}
	msg.MarshalEasyJSON(&w)
	if w.Error != nil {
		return nil, w.Error
	}
	return w.BuildBytes()
}

func unmarshalMessage(buf []byte) (*cdproto.Message, error) {
	msg := new(cdproto.Message)
	l := jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&l)
	if err := l.Error(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ErrConnectionClosed is returned by in-flight commands when the
// underlying connection is closed before a reply arrives.
var ErrConnectionClosed = cdpError("cdp: connection closed")

type cdpError string

func (e cdpError) Error() string { return string(e) }

// isCloseErrorText matches the CDP close-class error messages spec.md §4.2
// and §7 call out by name.
func isCloseErrorText(s string) bool {
	return strings.Contains(s, "Not attached to an active page") ||
		strings.Contains(s, "No target with given id found") ||
		strings.Contains(s, "Inspected target navigated or closed")
}
