package mapper

// Option configures a Mapper, mirroring chromedp's options.go
// builder-of-options shape.
type Option func(*Config) error

// Config holds everything session.new negotiates plus the logging hooks
// a caller wants wired in. There is no external config file: CDP
// connection parameters and session capabilities arrive over the BiDi
// session.new command itself (spec.md §6).
type Config struct {
	logf, debugf, errorf LogFunc

	acceptInsecureCerts bool

	// selfTargetID, if set, is excluded from attach handling (spec.md
	// §4.3: "prevents the mapper from introspecting itself").
	selfTargetID string

	// channel names a BiDi channel this mapper instance serves, for
	// deployments that multiplex several BiDi sessions over one
	// transport (supplemented). It is stored only: nothing reads it, and
	// outbound frames are not tagged with it.
	channel string
}

// WithLogf sets the lifecycle logging hook.
func WithLogf(f LogFunc) Option {
	return func(c *Config) error { c.logf = f; return nil }
}

// WithDebugf sets the debug logging hook. The hook is stored in the
// Config, but no code in this package calls it, so no wire traffic is
// logged through it.
func WithDebugf(f LogFunc) Option {
	return func(c *Config) error { c.debugf = f; return nil }
}

// WithErrorf sets the recoverable-failure logging hook.
func WithErrorf(f LogFunc) Option {
	return func(c *Config) error { c.errorf = f; return nil }
}

// WithAcceptInsecureCerts toggles the CdpTarget unblock step 3
// ignore-certificate-errors behaviour for every target this mapper
// unblocks.
func WithAcceptInsecureCerts(v bool) Option {
	return func(c *Config) error { c.acceptInsecureCerts = v; return nil }
}

// WithSelfTargetID marks targetID as the mapper's own target, so it is
// excluded from attach handling (spec.md §4.3).
func WithSelfTargetID(targetID string) Option {
	return func(c *Config) error { c.selfTargetID = targetID; return nil }
}

// WithChannel tags this mapper instance with a BiDi channel name.
func WithChannel(channel string) Option {
	return func(c *Config) error { c.channel = channel; return nil }
}

func newConfig(opts ...Option) (*Config, error) {
	c := &Config{
		logf:   defaultLogf,
		debugf: defaultDebugf,
		errorf: defaultErrorf,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}
