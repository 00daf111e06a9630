package eventq

import (
	"testing"
	"time"
)

const waitTimeout = 5 * time.Second

func receive[T any](t *testing.T, ch <-chan T) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero, false
}

func TestBrokerFanOutInOrder(t *testing.T) {
	b := NewBroker[int]("test")
	a, cancelA := b.Subscribe(8)
	c, cancelC := b.Subscribe(8)
	defer cancelA()
	defer cancelC()

	for i := 1; i <= 3; i++ {
		if n := b.Publish(i); n != 2 {
			t.Fatalf("Publish(%d) queued for %d subscribers, want 2", i, n)
		}
	}
	for _, ch := range []<-chan int{a, c} {
		for want := 1; want <= 3; want++ {
			if got, _ := receive(t, ch); got != want {
				t.Fatalf("got %d, want %d", got, want)
			}
		}
	}
}

func TestBrokerSlowSubscriberLosesNothing(t *testing.T) {
	b := NewBroker[int]("test")
	slow, cancelSlow := b.Subscribe(1)
	defer cancelSlow()

	const n = 500
	published := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			b.Publish(i)
		}
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(waitTimeout):
		t.Fatal("Publish blocked on a subscriber that is not reading")
	}

	for want := 0; want < n; want++ {
		got, ok := receive(t, slow)
		if !ok {
			t.Fatalf("channel closed after %d values, want %d", want, n)
		}
		if got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
}

func TestBrokerCloseDeliversBacklog(t *testing.T) {
	b := NewBroker[string]("test")
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish("a")
	b.Publish("b")
	b.Publish("c")
	b.Close()

	var got []string
	for {
		v, ok := receive(t, ch)
		if !ok {
			break
		}
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("received %v, want [a b c]", got)
	}
}

func TestBrokerCancelAndClose(t *testing.T) {
	b := NewBroker[int]("test")
	ch, cancel := b.Subscribe(0)
	cancel()
	cancel()
	if _, ok := receive(t, ch); ok {
		t.Fatal("channel should be closed after cancel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d, want 0", b.Subscribers())
	}

	other, _ := b.Subscribe(1)
	b.Close()
	b.Close()
	if _, ok := receive(t, other); ok {
		t.Fatal("channel should be closed after broker Close")
	}
	late, _ := b.Subscribe(1)
	if _, ok := receive(t, late); ok {
		t.Fatal("subscription after Close should be closed")
	}
	if b.Publish(1) != 0 {
		t.Fatal("Publish after Close should deliver nothing")
	}
}
