package notify

import "testing"

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(DropNewest, 4)
	b := h.Subscribe(DropNewest, 4)
	defer a.Close()
	defer b.Close()

	h.Broadcast(42)

	if got := <-a.C(); got != 42 {
		t.Fatalf("subscriber a: got %d want 42", got)
	}
	if got := <-b.C(); got != 42 {
		t.Fatalf("subscriber b: got %d want 42", got)
	}
}

func TestDropNewestPolicyDiscardsOnFullBuffer(t *testing.T) {
	h := NewHub[int]()
	s := h.Subscribe(DropNewest, 1)
	defer s.Close()

	h.Broadcast(1)
	h.Broadcast(2) // dropped: buffer already has 1 queued

	if got := <-s.C(); got != 1 {
		t.Fatalf("expected the first message to survive, got %d", got)
	}
	select {
	case v := <-s.C():
		t.Fatalf("expected no second message under DropNewest, got %d", v)
	default:
	}
}

func TestDisconnectPolicyClosesSubscriberOnFullBuffer(t *testing.T) {
	h := NewHub[int]()
	s := h.Subscribe(Disconnect, 1)

	h.Broadcast(1)
	h.Broadcast(2) // full buffer -> subscriber disconnected

	if h.Len() != 0 {
		t.Fatalf("expected the hub to drop the disconnected subscriber, got %d remaining", h.Len())
	}
	<-s.C() // drains the queued message
	if _, ok := <-s.C(); ok {
		t.Fatal("expected the subscriber channel to be closed after disconnect")
	}
}

func TestCloseRemovesSubscriberAndClosesChannel(t *testing.T) {
	h := NewHub[int]()
	s := h.Subscribe(DropNewest, 1)
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}
	s.Close()
	if h.Len() != 0 {
		t.Fatalf("expected 0 subscribers after Close, got %d", h.Len())
	}
	if _, ok := <-s.C(); ok {
		t.Fatal("expected the channel to be closed")
	}

	// Closing twice must not panic.
	s.Close()
}

func TestSubscribeDefaultsCapacityWhenNonPositive(t *testing.T) {
	h := NewHub[int]()
	s := h.Subscribe(DropNewest, 0)
	defer s.Close()
	if cap(s.ch) != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, cap(s.ch))
	}
}
