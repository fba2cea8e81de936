package node

import (
	"testing"
	"time"

	"github.com/gabbleio/gabble/src/common"
	"github.com/gabbleio/gabble/src/wire"
)

func TestCorrelatorResolve(t *testing.T) {
	c := NewCorrelator(common.NewTestEntry(t, "correlation"))

	replyCh := make(chan *wire.Envelope, 1)
	c.AwaitReply(7, time.Second,
		func(env *wire.Envelope) { replyCh <- env },
		func() { t.Error("timeout fired for a resolved entry") })

	if p := c.PendingCount(); p != 1 {
		t.Fatalf("PendingCount should be 1, not %d", p)
	}

	reply := &wire.Envelope{
		Src:  "n2",
		Dest: "n1",
		Body: &wire.BroadcastOKBody{Header: wire.NewHeader(wire.KindBroadcastOK)},
	}
	wire.SetReplyTo(reply.Body, 7)

	if !c.Resolve(7, reply) {
		t.Fatal("Resolve should report a matched entry")
	}

	select {
	case env := <-replyCh:
		if env.Src != "n2" {
			t.Fatalf("reply Src should be n2, not %s", env.Src)
		}
	default:
		t.Fatal("onReply should have run")
	}

	// a duplicate acknowledgment matches nothing
	if c.Resolve(7, reply) {
		t.Fatal("second Resolve should report no entry")
	}

	if p := c.PendingCount(); p != 0 {
		t.Fatalf("PendingCount should be 0, not %d", p)
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(common.NewTestEntry(t, "correlation"))

	go c.Run()
	defer c.Shutdown()

	timeoutCh := make(chan struct{})
	c.AwaitReply(9, 20*time.Millisecond,
		func(env *wire.Envelope) { t.Error("reply fired for an expired entry") },
		func() { close(timeoutCh) })

	select {
	case <-timeoutCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout callback should have run")
	}

	if p := c.PendingCount(); p != 0 {
		t.Fatalf("PendingCount should be 0, not %d", p)
	}
}

func TestCorrelatorOrdersDeadlines(t *testing.T) {
	c := NewCorrelator(common.NewTestEntry(t, "correlation"))

	go c.Run()
	defer c.Shutdown()

	// the long entry is registered first; the short one must still expire
	// first, and expiring it must not disturb the long entry
	c.AwaitReply(1, 10*time.Second,
		nil,
		func() { t.Error("long entry should not expire") })

	shortCh := make(chan struct{})
	c.AwaitReply(2, 20*time.Millisecond,
		func(env *wire.Envelope) { t.Error("short entry should expire, not resolve") },
		func() { close(shortCh) })

	select {
	case <-shortCh:
	case <-time.After(3 * time.Second):
		t.Fatal("short entry should have expired")
	}

	if p := c.PendingCount(); p != 1 {
		t.Fatalf("PendingCount should be 1, not %d", p)
	}

	if !c.Resolve(1, &wire.Envelope{}) {
		t.Fatal("long entry should still resolve")
	}
}

func TestCorrelatorShutdownAbandons(t *testing.T) {
	c := NewCorrelator(common.NewTestEntry(t, "correlation"))

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()

	c.AwaitReply(3, 200*time.Millisecond,
		func(env *wire.Envelope) { t.Error("reply fired after shutdown") },
		func() { t.Error("timeout fired after shutdown") })

	c.Shutdown()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run should return after Shutdown")
	}

	// let the abandoned deadline pass; neither callback may run
	time.Sleep(300 * time.Millisecond)
}
