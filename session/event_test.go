package session

import "testing"

type recordedEvent struct {
	method string
	params interface{}
}

func TestRegisterEventDeliversImmediatelyWhenSubscribed(t *testing.T) {
	var delivered []recordedEvent
	subs := New(nil)
	subs.Subscribe([]string{"network"}, nil)
	em := NewEventManager(subs, func(method string, params interface{}) {
		delivered = append(delivered, recordedEvent{method, params})
	})

	em.RegisterEvent("network.beforeRequestSent", "ctx1", "p1")

	if len(delivered) != 1 || delivered[0].method != "network.beforeRequestSent" {
		t.Errorf("expected immediate delivery, got %v", delivered)
	}
}

func TestRegisterEventBuffersUnmatchedBufferedModule(t *testing.T) {
	var delivered []recordedEvent
	subs := New(nil)
	em := NewEventManager(subs, func(method string, params interface{}) {
		delivered = append(delivered, recordedEvent{method, params})
	})

	em.RegisterEvent("network.beforeRequestSent", "ctx1", "p1")
	if len(delivered) != 0 {
		t.Fatalf("expected no immediate delivery with no subscription, got %v", delivered)
	}

	subs.Subscribe([]string{"network"}, nil)
	em.FlushForSubscription([]string{"network"}, nil)

	if len(delivered) != 1 || delivered[0].method != "network.beforeRequestSent" {
		t.Errorf("expected buffered event flushed after subscription, got %v", delivered)
	}
}

func TestRegisterEventDropsUnbufferedModule(t *testing.T) {
	var delivered []recordedEvent
	subs := New(nil)
	em := NewEventManager(subs, func(method string, params interface{}) {
		delivered = append(delivered, recordedEvent{method, params})
	})

	em.RegisterEvent("browsingContext.domContentLoaded", "ctx1", "p1")
	subs.Subscribe([]string{"browsingContext"}, nil)
	em.FlushForSubscription([]string{"browsingContext"}, nil)

	if len(delivered) != 0 {
		t.Errorf("expected non-buffered module's past event to be dropped, got %v", delivered)
	}
}

func TestFlushForSubscriptionOrderIsInsertionOrder(t *testing.T) {
	var delivered []string
	subs := New(nil)
	em := NewEventManager(subs, func(method string, params interface{}) {
		delivered = append(delivered, params.(string))
	})

	em.RegisterEvent("network.beforeRequestSent", "ctx1", "first")
	em.RegisterEvent("network.beforeRequestSent", "ctx1", "second")
	em.RegisterEvent("network.beforeRequestSent", "ctx1", "third")

	subs.Subscribe([]string{"network"}, nil)
	em.FlushForSubscription([]string{"network"}, nil)

	want := []string{"first", "second", "third"}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Errorf("delivered[%d] = %v, want %v", i, delivered[i], want[i])
		}
	}
}

func TestContextDestroyedSuppressesFurtherBufferingAndFlush(t *testing.T) {
	var delivered []recordedEvent
	subs := New(nil)
	em := NewEventManager(subs, func(method string, params interface{}) {
		delivered = append(delivered, recordedEvent{method, params})
	})

	em.RegisterEvent("network.beforeRequestSent", "ctx1", "before-destroy")
	em.ContextDestroyed("ctx1")
	em.RegisterEvent("network.beforeRequestSent", "ctx1", "after-destroy")

	subs.Subscribe([]string{"network"}, nil)
	em.FlushForSubscription([]string{"network"}, nil)

	if len(delivered) != 0 {
		t.Errorf("expected no events delivered for a destroyed context, got %v", delivered)
	}
}

func TestEventBufferDropsOldestBeyondLimit(t *testing.T) {
	var delivered []string
	subs := New(nil)
	em := NewEventManager(subs, func(method string, params interface{}) {
		delivered = append(delivered, params.(string))
	})

	for i := 0; i < DefaultEventBufferSize+5; i++ {
		em.RegisterEvent("network.beforeRequestSent", "ctx1", string(rune('a'+(i%26))))
	}

	subs.Subscribe([]string{"network"}, nil)
	em.FlushForSubscription([]string{"network"}, nil)

	if len(delivered) != DefaultEventBufferSize {
		t.Errorf("expected exactly %d buffered events delivered, got %d", DefaultEventBufferSize, len(delivered))
	}
}
