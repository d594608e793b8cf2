package bus

import (
	"context"
	"sort"
	"testing"
	"time"
)

type health struct {
	Up bool
}

func await(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func awaitString(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	m := await(t, sub)
	if s, ok := m.Payload.(string); !ok || s != want {
		t.Fatalf("payload = %#v, want %q", m.Payload, want)
	}
}

func quiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message on %v: %#v", m.Topic, m.Payload)
	case <-time.After(60 * time.Millisecond):
	}
}

func collectStrings(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				t.Fatalf("non-string payload: %#v", m.Payload)
			}
			out = append(out, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("collected %d messages, want %d (%v)", len(out), n, out)
	}
	sort.Strings(out)
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("link")

	sub := c.Subscribe(T("config", "link"))
	c.Publish(c.NewMessage(T("config", "link"), "retune", false))
	awaitString(t, sub, "retune")
}

func TestFanoutToAllConnections(t *testing.T) {
	b := NewBus(4)
	pub := b.NewConnection("link")
	s1 := b.NewConnection("ui").Subscribe(T("link", "state"))
	s2 := b.NewConnection("bridge").Subscribe(T("link", "state"))

	pub.Publish(pub.NewMessage(T("link", "state"), health{Up: true}, false))

	for _, sub := range []*Subscription{s1, s2} {
		m := await(t, sub)
		if st, ok := m.Payload.(health); !ok || !st.Up {
			t.Fatalf("payload = %#v, want healthy state", m.Payload)
		}
	}
}

func TestRetainedDeliveredOnSubscribe(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("link")

	c.Publish(c.NewMessage(T("link", "state"), health{Up: true}, true))

	m := await(t, c.Subscribe(T("link", "state")))
	if st, ok := m.Payload.(health); !ok || !st.Up {
		t.Fatalf("retained payload = %#v", m.Payload)
	}
}

func TestRetainedReplacedByNewerPublish(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("link")

	c.Publish(c.NewMessage(T("link", "state"), "stale", true))
	c.Publish(c.NewMessage(T("link", "state"), "fresh", true))

	awaitString(t, c.Subscribe(T("link", "state")), "fresh")
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("cfg")

	c.Publish(c.NewMessage(T("config", "link"), "keep", true))
	c.Publish(c.NewMessage(T("config", "watchdog"), "other", true))
	c.Publish(c.NewMessage(T("config", "link"), nil, true))

	got := collectStrings(t, c.Subscribe(T("config", "#")), 1)
	if got[0] != "other" {
		t.Fatalf("after clear got %v, want only the surviving section", got)
	}
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestSingleLevelWildcard(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("mon")

	plus := c.Subscribe(T("link", "+"))
	deep := c.Subscribe(T("link", "+", "cmd"))
	miss := c.Subscribe(T("watchdog", "+"))

	c.Publish(c.NewMessage(T("link", "state"), "s", false))
	awaitString(t, plus, "s")
	quiet(t, deep)
	quiet(t, miss)

	c.Publish(c.NewMessage(T("link", "event", "cmd"), "e", false))
	awaitString(t, deep, "e")
	quiet(t, plus)
	quiet(t, miss)

	c.Publish(c.NewMessage(T("link"), "bare", false))
	quiet(t, plus)
	quiet(t, deep)
	quiet(t, miss)
}

func TestMultiLevelWildcard(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("mon")

	all := c.Subscribe(T("#"))
	linkAll := c.Subscribe(T("link", "#"))
	exact := c.Subscribe(T("link"))

	// "#" also covers the empty remainder, so link/# sees bare link.
	c.Publish(c.NewMessage(T("link"), "p1", false))
	awaitString(t, all, "p1")
	awaitString(t, linkAll, "p1")
	awaitString(t, exact, "p1")

	c.Publish(c.NewMessage(T("link", "event", "cmd"), "p2", false))
	awaitString(t, all, "p2")
	awaitString(t, linkAll, "p2")
	quiet(t, exact)

	c.Publish(c.NewMessage(T("watchdog", "alert"), "p3", false))
	awaitString(t, all, "p3")
	quiet(t, linkAll)
}

func TestWildcardRetainedSweep(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("mon")

	c.Publish(c.NewMessage(T("link"), "r0", true))
	c.Publish(c.NewMessage(T("link", "state"), "r1", true))
	c.Publish(c.NewMessage(T("link", "event", "cmd"), "r2", true))
	c.Publish(c.NewMessage(T("link", "send"), "r3", true))

	got := collectStrings(t, c.Subscribe(T("link", "#")), 4)
	if !sameStrings(got, []string{"r0", "r1", "r2", "r3"}) {
		t.Fatalf("link/# retained sweep = %v", got)
	}

	got = collectStrings(t, c.Subscribe(T("link", "+")), 2)
	if !sameStrings(got, []string{"r1", "r3"}) {
		t.Fatalf("link/+ retained sweep = %v", got)
	}
}

// -----------------------------------------------------------------------------
// Delivery limits
// -----------------------------------------------------------------------------

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("slow")

	sub := c.Subscribe(T("log", "line"))
	for _, p := range []string{"first", "second", "third"} {
		c.Publish(c.NewMessage(T("log", "line"), p, false))
	}

	awaitString(t, sub, "second")
	awaitString(t, sub, "third")
	quiet(t, sub)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("mon")

	sub := c.Subscribe(T("link", "state"))
	c.Publish(c.NewMessage(T("link", "state"), "seen", false))
	awaitString(t, sub, "seen")

	c.Unsubscribe(sub)
	c.Publish(c.NewMessage(T("link", "state"), "missed", false))
	quiet(t, sub)
}

// -----------------------------------------------------------------------------
// Request-reply
// -----------------------------------------------------------------------------

func TestRequestWaitRoundTrip(t *testing.T) {
	b := NewBus(8)
	req := b.NewConnection("ui")
	srv := b.NewConnection("link")

	sendTopic := T("link", "send")
	srvSub := srv.Subscribe(sendTopic)
	defer srv.Unsubscribe(srvSub)

	go func() {
		if m, ok := <-srvSub.Channel(); ok {
			srv.Reply(m, "queued", false)
		}
	}()

	msg := req.NewMessage(sendTopic, "PING", false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := req.RequestWait(ctx, msg)
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if s, ok := reply.Payload.(string); !ok || s != "queued" {
		t.Fatalf("reply payload = %#v", reply.Payload)
	}
	if len(msg.ReplyTo) == 0 {
		t.Fatal("request was not stamped with a ReplyTo")
	}
	if !topicsEqual(reply.Topic, msg.ReplyTo) {
		t.Fatalf("reply arrived on %v, want %v", reply.Topic, msg.ReplyTo)
	}
}

func TestRequestWaitTimesOutUnanswered(t *testing.T) {
	b := NewBus(8)
	req := b.NewConnection("ui")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := req.RequestWait(ctx, req.NewMessage(T("link", "send"), "x", false)); err == nil {
		t.Fatal("expected an error with nobody answering")
	}
}

func TestManualRequestSubscription(t *testing.T) {
	b := NewBus(8)
	req := b.NewConnection("ui")
	srv := b.NewConnection("link")

	topic := T("link", "send")
	srvSub := srv.Subscribe(topic)
	defer srv.Unsubscribe(srvSub)

	msg := req.NewMessage(topic, nil, false)
	replySub := req.Request(msg)
	defer req.Unsubscribe(replySub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if m, ok := <-srvSub.Channel(); ok {
			srv.Reply(m, health{Up: true}, false)
		}
	}()

	m := await(t, replySub)
	if st, ok := m.Payload.(health); !ok || !st.Up {
		t.Fatalf("manual reply payload = %#v", m.Payload)
	}
	<-done
}

// -----------------------------------------------------------------------------
// Topic construction
// -----------------------------------------------------------------------------

func TestTopicRejectsNonComparableToken(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a non-comparable token")
		}
	}()
	_ = T([]byte("nope"))
}

func topicsEqual(a, b Topic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
