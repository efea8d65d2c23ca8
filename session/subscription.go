// Package session implements the subscription and event-ordering layer
// described in spec.md §4.6: which BiDi modules/events are subscribed
// for which context subtrees, and the buffered, order-preserving
// delivery of events to subscribers.
package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TopLevelResolver answers "what is the top-level ancestor of this
// context id?", letting SubscriptionManager check ancestry without
// importing the browsingcontext package (spec.md §9: storages are
// indices, the Processor wires them together).
type TopLevelResolver interface {
	FindTopLevelContextID(contextID string) string
}

// AncestorResolver answers "is ancestorID an ancestor of (or equal to)
// contextID?" — the richer relation isSubscribedTo needs, since a
// subscription may name any context in the chain, not just the root.
type AncestorResolver interface {
	IsAncestor(contextID, ancestorID string) bool
}

// subscription is a single (module-or-event names, context set) tuple.
// An empty context set means global.
type subscription struct {
	id       string
	names    map[string]bool
	contexts map[string]bool // empty = global
}

func (s *subscription) matchesName(moduleOrEvent, module string) bool {
	return s.names[moduleOrEvent] || s.names[module]
}

// SubscriptionManager tracks active subscriptions and answers
// isSubscribedTo queries, per spec.md §4.6.
type SubscriptionManager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	ancestors     AncestorResolver
}

// New creates a SubscriptionManager. ancestors resolves context
// ancestry for scoped (non-global) subscriptions.
func New(ancestors AncestorResolver) *SubscriptionManager {
	return &SubscriptionManager{
		subscriptions: make(map[string]*subscription),
		ancestors:     ancestors,
	}
}

// Subscribe registers a new subscription for modulesOrEvents (e.g.
// "network" or "network.beforeRequestSent") scoped to contexts; an
// empty contexts slice means global. Returns the new subscription id.
func (m *SubscriptionManager) Subscribe(modulesOrEvents []string, contexts []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	names := make(map[string]bool, len(modulesOrEvents))
	for _, n := range modulesOrEvents {
		names[n] = true
	}
	ctxs := make(map[string]bool, len(contexts))
	for _, c := range contexts {
		ctxs[c] = true
	}
	m.subscriptions[id] = &subscription{id: id, names: names, contexts: ctxs}
	return id
}

// Unsubscribe removes the subscriptions named by ids. Unknown ids are
// ignored, matching the idempotent removal spirit of spec.md §4.4's
// intercept removal note.
func (m *SubscriptionManager) Unsubscribe(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.subscriptions, id)
	}
}

// IsSubscribedTo reports whether any subscription matches event's
// module (or exact name) and covers contextID, per spec.md §4.6.
func (m *SubscriptionManager) IsSubscribedTo(event, contextID string) bool {
	module := moduleOf(event)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subscriptions {
		if !s.matchesName(event, module) {
			continue
		}
		if len(s.contexts) == 0 {
			return true
		}
		if contextID == "" {
			continue
		}
		for ctx := range s.contexts {
			if ctx == contextID || m.isAncestor(ctx, contextID) {
				return true
			}
		}
	}
	return false
}

// IsSubscribedToModuleAnywhere reports whether any live subscription
// covers module for any context within topLevelID's subtree, used by
// CdpTarget/NetworkStorage to decide whether to enable the CDP Network
// domain for a target (spec.md §4.2 step 4, §4.4).
func (m *SubscriptionManager) IsSubscribedToModuleAnywhere(module, topLevelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subscriptions {
		if !s.matchesName(module, module) {
			continue
		}
		if len(s.contexts) == 0 {
			return true
		}
		for ctx := range s.contexts {
			if ctx == topLevelID || m.isAncestor(ctx, topLevelID) {
				return true
			}
			// A subscription on a descendant of topLevelID also counts:
			// the target owns the whole subtree's network traffic.
			if m.isAncestor(topLevelID, ctx) {
				return true
			}
		}
	}
	return false
}

func (m *SubscriptionManager) isAncestor(ancestorID, contextID string) bool {
	if m.ancestors == nil {
		return ancestorID == contextID
	}
	return m.ancestors.IsAncestor(contextID, ancestorID)
}

// moduleOf extracts the module name from an event/method name
// ("network.beforeRequestSent" -> "network").
func moduleOf(event string) string {
	if i := strings.IndexByte(event, '.'); i != -1 {
		return event[:i]
	}
	return event
}
