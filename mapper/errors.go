package mapper

// Error is an internal mapper error: an assertion that should never
// fire (spec.md §7 Fatal), as distinct from bidi.Error which is
// surfaced to the BiDi caller on the wire.
type Error string

// Error satisfies the error interface.
func (e Error) Error() string { return string(e) }

// Internal invariant violations. ErrDuplicateContext, ErrDoubleUnblock
// and ErrUnknownSelfTarget are declared for the cases they name, but no
// code path in this package returns them.
const (
	// ErrDuplicateContext names a BrowsingContext id inserted twice,
	// violating testable property 1.
	ErrDuplicateContext Error = "duplicate browsing context id"

	// ErrDoubleUnblock names a CdpTarget's unblock sequence triggered
	// more than once.
	ErrDoubleUnblock Error = "cdp target unblocked twice"

	// ErrUnknownSelfTarget names a mapper that cannot determine its own
	// target id, making self-target detection (spec.md §4.3) impossible.
	ErrUnknownSelfTarget Error = "self target id not set"

	// ErrNoBrowserClient fires if a command needs the browser-level CDP
	// client before one has been established.
	ErrNoBrowserClient Error = "no browser-level cdp client"
)
