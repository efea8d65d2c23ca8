// Package cdp provides the outbound Chrome DevTools Protocol contract the
// mapper core consumes: a Connection to the browser's debugging endpoint,
// and per-session Clients that send commands and dispatch events.
//
// It is deliberately a thin seam: the concrete WebSocketConnection
// (connection.go) is grounded on chromedp's conn.go/browser.go, but any
// transport satisfying Connection/Client can drive the core.
package cdp

import (
	"context"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
)

// Connection is the CDP endpoint the mapper core is handed at startup.
type Connection interface {
	// BrowserClient returns the Client bound to the browser-level
	// session (no SessionID), used for Target.* discovery commands.
	BrowserClient() Client
	// GetCdpClient returns (creating if necessary) the Client for a
	// given target session.
	GetCdpClient(sessionID target.SessionID) (Client, error)
	// Close tears down the connection and all per-session clients.
	Close() error
}

// Client is a single CDP session: it can send commands and receive
// events, matching the contract in spec.md §6.
type Client interface {
	// SendCommand sends method with params and decodes the result into
	// res (which may be nil if the caller doesn't need the result).
	SendCommand(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error
	// On registers fn to run whenever an event of exactly method
	// arrives on this session.
	On(method cdproto.MethodType, fn func(interface{}))
	// OnAny registers fn to run for every event on this session,
	// regardless of method — the generic "cdp.<event>" passthrough
	// tunnel described in spec.md §9.
	OnAny(fn func(cdproto.MethodType, interface{}))
	// IsCloseError reports whether err indicates the session/target
	// went away, the "close-class" error spec.md §4.2/§7 treat as benign.
	IsCloseError(err error) bool
	// SessionID returns this client's stable CDP session id.
	SessionID() target.SessionID
}
