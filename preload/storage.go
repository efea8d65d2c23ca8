// Package preload implements PreloadScriptStorage from spec.md §3/§4.2
// step 6: scripts installed to run on every new document before any page
// script, tracked globally and per-context, with their installed CDP
// script ids recorded per target.
package preload

import (
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/google/uuid"
	"github.com/Lightning00Blade/chromium-bidi/bidi"
)

// ChannelProxy is a BiDi channel binding exposed to a preload script, so
// it can post messages back to the client without a round trip through
// script.evaluate.
type ChannelProxy struct {
	Channel string
}

// Script is a single preload script.
type Script struct {
	mu sync.RWMutex

	id        string
	source    string
	sandbox   string
	channels  []ChannelProxy
	contextID string // optional filter; "" = global

	// installedIDs maps a CdpTarget id to the CDP script identifier
	// Page.addScriptToEvaluateOnNewDocument returned for it.
	installedIDs map[string]page.ScriptIdentifier
}

// ID returns the script's BiDi id.
func (s *Script) ID() string { return s.id }

// Source returns the script's JavaScript source.
func (s *Script) Source() string { return s.source }

// Sandbox returns the sandbox name the script should run in, if any.
func (s *Script) Sandbox() string { return s.sandbox }

// Channels returns the script's channel bindings.
func (s *Script) Channels() []ChannelProxy { return s.channels }

// ContextID returns the optional context-id filter, or "" if global.
func (s *Script) ContextID() string { return s.contextID }

// MatchesTarget reports whether this script should be installed on a
// target owning browsing context contextID (or any context, if global).
func (s *Script) MatchesTarget(contextID string) bool {
	return s.contextID == "" || s.contextID == contextID
}

// RecordInstalled remembers the CDP script id assigned when installing
// on cdpTargetID.
func (s *Script) RecordInstalled(cdpTargetID string, scriptID page.ScriptIdentifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installedIDs[cdpTargetID] = scriptID
}

// InstalledID returns the CDP script id installed on cdpTargetID, if any.
func (s *Script) InstalledID(cdpTargetID string) (page.ScriptIdentifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.installedIDs[cdpTargetID]
	return id, ok
}

// ForgetTarget drops the installed-id binding for cdpTargetID. Target
// detach handling does not call it, so bindings of detached targets
// stay recorded.
func (s *Script) ForgetTarget(cdpTargetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.installedIDs, cdpTargetID)
}

// Storage indexes preload scripts by id.
type Storage struct {
	mu      sync.RWMutex
	scripts map[string]*Script
}

// New creates an empty Storage.
func New() *Storage {
	return &Storage{scripts: make(map[string]*Script)}
}

// Add registers a new script and returns it. The id is a fresh UUID, per
// spec.md §3 ("BiDi id").
func (s *Storage) Add(source, sandbox, contextID string, channels []ChannelProxy) *Script {
	sc := &Script{
		id:           uuid.NewString(),
		source:       source,
		sandbox:      sandbox,
		contextID:    contextID,
		channels:     channels,
		installedIDs: make(map[string]page.ScriptIdentifier),
	}
	s.mu.Lock()
	s.scripts[sc.id] = sc
	s.mu.Unlock()
	return sc
}

// Remove deletes id from the storage, failing with ErrorCodeNoSuchScript
// if it doesn't exist.
func (s *Storage) Remove(id string) (*Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[id]
	if !ok {
		return nil, bidi.NewError(bidi.ErrorCodeNoSuchScript, "no such preload script: "+id)
	}
	delete(s.scripts, id)
	return sc, nil
}

// FindByID returns the script for id, or nil.
func (s *Storage) FindByID(id string) *Script {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scripts[id]
}

// MatchingTarget returns every script that should be installed on a
// target owning browsing context contextID — global scripts plus any
// scoped to that context, per spec.md §3's PreloadScript invariant.
func (s *Storage) MatchingTarget(contextID string) []*Script {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Script
	for _, sc := range s.scripts {
		if sc.MatchesTarget(contextID) {
			out = append(out, sc)
		}
	}
	return out
}

// All returns every registered script.
func (s *Storage) All() []*Script {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Script, 0, len(s.scripts))
	for _, sc := range s.scripts {
		out = append(out, sc)
	}
	return out
}
