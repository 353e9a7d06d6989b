package realtime

import (
	"sync"
	"testing"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSubscriber) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestSendToConversationOnlyReachesThatConversationsSubscribers(t *testing.T) {
	b := New()
	subA := &recordingSubscriber{}
	subB := &recordingSubscriber{}
	b.SubscribeConversation("conv-a", subA)
	b.SubscribeConversation("conv-b", subB)

	b.SendToConversation("conv-a", Event{Type: EventMessage, Payload: "hello"})

	if subA.count() != 1 {
		t.Fatalf("expected conv-a subscriber to receive 1 event, got %d", subA.count())
	}
	if subB.count() != 0 {
		t.Fatalf("expected conv-b subscriber to receive 0 events, got %d", subB.count())
	}
}

func TestFirehoseReceivesEverything(t *testing.T) {
	b := New()
	fire := &recordingSubscriber{}
	b.SubscribeFirehose(fire)
	b.SubscribeConversation("conv-a", &recordingSubscriber{})

	b.SendToConversation("conv-a", Event{Type: EventMessage})
	b.SendTyping("conv-a", true, "market")

	if fire.count() != 2 {
		t.Fatalf("expected firehose to observe 2 events, got %d", fire.count())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub := &recordingSubscriber{}
	id := b.SubscribeConversation("conv-a", sub)
	b.Unsubscribe(id)

	b.SendToConversation("conv-a", Event{Type: EventMessage})
	if sub.count() != 0 {
		t.Fatalf("expected no events after unsubscribe, got %d", sub.count())
	}
}

func TestFailingSubscriberIsReaped(t *testing.T) {
	b := New()
	id := b.add(byConversation, "conv-a", Subscriber(failingSubscriber{}))
	b.SendToConversation("conv-a", Event{Type: EventMessage})

	b.mu.RLock()
	_, stillPresent := b.subs[id]
	b.mu.RUnlock()
	if stillPresent {
		t.Fatal("expected failing subscriber to be reaped")
	}
}

type failingSubscriber struct{}

func (failingSubscriber) Send(Event) error { return errFail }

var errFail = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "send failed" }
