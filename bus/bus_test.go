package bus

import (
	"sort"
	"testing"
	"time"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(T("watch", "state"))

	conn.Publish(b.NewMessage(T("watch", "state"), "hello", false))
	expectOneOf(t, sub, "hello")
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")
	conn.Publish(b.NewMessage(T("watch", "power"), "ACTIVE", true))

	sub := conn.Subscribe(T("watch", "power"))
	expectOneOf(t, sub, "ACTIVE")

	m, ok := b.Retained(T("watch", "power"))
	if !ok || m.Payload != "ACTIVE" {
		t.Fatalf("retained lookup: %v %v", m, ok)
	}
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("a", "+", "c"))
	s2 := c.Subscribe(T("a", "+", "+"))
	sNo := c.Subscribe(T("a", "+", "d"))

	c.Publish(b.NewMessage(T("a", "b", "c"), "m1", false))
	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(T("a", "c"), "m2", false))
	expectNoMessage(t, s1)
	expectNoMessage(t, s2)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sAHash := c.Subscribe(T("a", "#"))
	sHash := c.Subscribe(T("#"))
	sAExact := c.Subscribe(T("a"))

	c.Publish(b.NewMessage(T("a"), "p1", false))
	expectOneOf(t, sAHash, "p1")
	expectOneOf(t, sHash, "p1")
	expectOneOf(t, sAExact, "p1")

	c.Publish(b.NewMessage(T("a", "b", "c"), "p2", false))
	expectOneOf(t, sAHash, "p2")
	expectOneOf(t, sHash, "p2")
	expectNoMessage(t, sAExact)
}

func TestWildcard_RetainedDeliveryAndClear(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("watch", "state"), "s", true))
	c.Publish(b.NewMessage(T("watch", "health"), "h", true))
	c.Publish(b.NewMessage(T("config", "watch"), "cfg", true))
	c.Publish(b.NewMessage(T("watch", "health"), nil, true))

	got := drainPayloads(t, c.Subscribe(T("watch", "#")), 1)
	assertUnorderedEqual(t, got, []string{"s"})

	got = drainPayloads(t, c.Subscribe(T("+", "+")), 2)
	assertUnorderedEqual(t, got, []string{"s", "cfg"})
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(T("watch", "sync"))

	for _, p := range []string{"1", "2", "3"} {
		c.Publish(b.NewMessage(T("watch", "sync"), p, false))
	}
	expectOneOf(t, s, "2")
	expectOneOf(t, s, "3")
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s := c.Subscribe(T("a"))
	s.Unsubscribe()
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel should be closed")
	}
	c.Unsubscribe(s) // second call is a no-op

	s2 := c.Subscribe(T("b"))
	c.Disconnect()
	if _, ok := <-s2.Channel(); ok {
		t.Fatal("disconnect should close subscriptions")
	}
	c.Publish(b.NewMessage(T("b"), "x", false)) // no panic on closed subs
}

func TestMatch(t *testing.T) {
	cases := []struct {
		p, t Topic
		want bool
	}{
		{T("a"), T("a"), true},
		{T("a"), T("a", "b"), false},
		{T("a", "#"), T("a"), true},
		{T("+"), T(), false},
		{T("config", "+"), T("config", "heartbeat"), true},
	}
	for _, tc := range cases {
		if got := Match(tc.p, tc.t); got != tc.want {
			t.Errorf("Match(%v,%v)=%v want %v", tc.p, tc.t, got, tc.want)
		}
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			t.Fatalf("unexpected payload: %v (want %q)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(30 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			} else {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	expectNoMessage(t, sub)
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, got, want)
		}
	}
}
