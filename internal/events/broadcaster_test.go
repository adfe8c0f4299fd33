package events

import "testing"

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()
	b := New[int](4)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Publish(42)

	if v := <-s1.C(); v != 42 {
		t.Errorf("s1 got %d, want 42", v)
	}
	if v := <-s2.C(); v != 42 {
		t.Errorf("s2 got %d, want 42", v)
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New[int](1)
	s := b.Subscribe()

	// Fill the buffer, then publish again — must not block or panic.
	b.Publish(1)
	done := make(chan struct{})
	go func() {
		b.Publish(2)
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done // the goroutine above must complete without blocking

	if v := <-s.C(); v != 1 {
		t.Errorf("expected the buffered value to be 1, got %d", v)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New[int](1)
	s := b.Subscribe()
	s.Unsubscribe()

	if _, ok := <-s.C(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}
