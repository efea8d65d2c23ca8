package session

import (
	"sync"
)

// DefaultEventBufferSize is the per-(module, context) buffer bound
// (spec.md §9 open question, resolved in SPEC_FULL.md §6.6): 1024
// entries, drop-oldest once exceeded.
const DefaultEventBufferSize = 1024

// bufferedModules lists the modules spec.md §4.6 requires buffering
// for ("chiefly log.* and network.*"); every other module's events are
// simply dropped if nobody is subscribed yet.
var bufferedModules = map[string]bool{
	"log":     true,
	"network": true,
}

// Sink delivers a single outbound BiDi event to the (one, per spec.md's
// "ephemeral per session" design) connected client.
type Sink func(method string, params interface{})

type bufferedEvent struct {
	method    string
	contextID string
	params    interface{}
}

// EventManager queues, buffers, and dispatches BiDi events respecting
// subscriptions and per-(context, module) ordering, per spec.md §4.6.
type EventManager struct {
	subs *SubscriptionManager
	sink Sink

	mu        sync.Mutex
	buffers   map[string][]bufferedEvent // key: module+"\x00"+contextID
	destroyed map[string]bool
}

// NewEventManager creates an EventManager that queries subs for
// subscription matches and delivers matched events to sink.
func NewEventManager(subs *SubscriptionManager, sink Sink) *EventManager {
	return &EventManager{
		subs:      subs,
		sink:      sink,
		buffers:   make(map[string][]bufferedEvent),
		destroyed: make(map[string]bool),
	}
}

// RegisterEvent publishes method (e.g. "network.beforeRequestSent") for
// contextID with params. If a subscriber already matches, it is
// delivered immediately; otherwise, if the event's module requires
// buffering, it is queued for delivery to a future matching
// subscription. contextID may be "" for context-less events.
func (m *EventManager) RegisterEvent(method, contextID string, params interface{}) {
	m.mu.Lock()
	if m.destroyed[contextID] {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.subs.IsSubscribedTo(method, contextID) {
		m.sink(method, params)
		return
	}

	module := moduleOf(method)
	if !bufferedModules[module] {
		return
	}

	key := bufferKey(module, contextID)
	m.mu.Lock()
	buf := append(m.buffers[key], bufferedEvent{method: method, contextID: contextID, params: params})
	if len(buf) > DefaultEventBufferSize {
		buf = buf[len(buf)-DefaultEventBufferSize:]
	}
	m.buffers[key] = buf
	m.mu.Unlock()
}

// FlushForSubscription delivers, in insertion order, every buffered
// event that now matches a newly-added subscription covering
// modulesOrEvents and contexts (empty contexts = global), before the
// caller lets any further live event through — spec.md §4.6: "all
// buffered events that now match are delivered in insertion order
// before any subsequent live event."
func (m *EventManager) FlushForSubscription(modulesOrEvents []string, contexts []string) {
	names := make(map[string]bool, len(modulesOrEvents))
	modules := make(map[string]bool, len(modulesOrEvents))
	for _, n := range modulesOrEvents {
		names[n] = true
		modules[moduleOf(n)] = true
	}

	m.mu.Lock()
	keys := make([]string, 0, len(m.buffers))
	for k := range m.buffers {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, key := range keys {
		module, contextID := splitBufferKey(key)
		if !modules[module] {
			continue
		}
		if len(contexts) > 0 && !contextCovered(contexts, contextID, m.subs) {
			continue
		}

		m.mu.Lock()
		events := m.buffers[key]
		delete(m.buffers, key)
		m.mu.Unlock()

		var kept []bufferedEvent
		for _, ev := range events {
			if names[ev.method] || names[moduleOf(ev.method)] {
				m.sink(ev.method, ev.params)
			} else {
				kept = append(kept, ev)
			}
		}
		if len(kept) > 0 {
			m.mu.Lock()
			m.buffers[key] = append(kept, m.buffers[key]...)
			m.mu.Unlock()
		}
	}
}

// ContextDestroyed drops any buffered events for contextID and prevents
// future registration from buffering or delivering for it — spec.md
// §4.6: "No event is delivered after its context is disposed."
func (m *EventManager) ContextDestroyed(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed[contextID] = true
	for module := range bufferedModules {
		delete(m.buffers, bufferKey(module, contextID))
	}
}

func contextCovered(contexts []string, contextID string, subs *SubscriptionManager) bool {
	for _, c := range contexts {
		if c == contextID || subs.isAncestor(c, contextID) {
			return true
		}
	}
	return false
}

func bufferKey(module, contextID string) string {
	return module + "\x00" + contextID
}

func splitBufferKey(key string) (module, contextID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
