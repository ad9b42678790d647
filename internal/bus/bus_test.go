package bus

import "testing"

func TestBus_FanOut(t *testing.T) {
	b := New[int]()

	a, cancelA := b.Subscribe()
	defer cancelA()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Publish(42)

	if got := <-a; got != 42 {
		t.Errorf("subscriber a: expected 42, got %d", got)
	}
	if got := <-c; got != 42 {
		t.Errorf("subscriber c: expected 42, got %d", got)
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := New[string]()

	ch, cancel := b.Subscribe()
	cancel()

	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", b.SubscriberCount())
	}

	// The channel is closed; publishing must not panic or deliver.
	b.Publish("late")
	if v, ok := <-ch; ok {
		t.Errorf("cancelled subscriber received %q", v)
	}
}

func TestBus_CancelTwiceIsSafe(t *testing.T) {
	b := New[int]()
	_, cancel := b.Subscribe()
	cancel()
	cancel() // must not panic on double close
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New[int]()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must never block.
	for i := 0; i < 100; i++ {
		b.Publish(i)
	}

	// The buffered prefix arrives in order; the rest were dropped.
	for i := 0; i < cap(ch); i++ {
		if got := <-ch; got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
	select {
	case v := <-ch:
		t.Errorf("expected overflow to be dropped, got %d", v)
	default:
	}
}

func TestBus_IndependentSubscribers(t *testing.T) {
	b := New[int]()

	slow, cancelSlow := b.Subscribe()
	defer cancelSlow()
	fast, cancelFast := b.Subscribe()
	defer cancelFast()

	// Saturate the slow subscriber's buffer.
	for i := 0; i < cap(slow)+10; i++ {
		b.Publish(i)
		<-fast // fast keeps up
	}

	// fast saw everything; slow lost the overflow but the bus kept going.
	if len(slow) != cap(slow) {
		t.Errorf("expected slow buffer full at %d, got %d", cap(slow), len(slow))
	}
}
