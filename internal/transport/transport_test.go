package transport

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jpedroflx/huntcin/internal/wire"
)

func newLoopbackPair(t *testing.T, cfgA, cfgB Config) (a, b *Transport) {
	t.Helper()
	a, err := Listen("127.0.0.1:0", cfgA)
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err = Listen("127.0.0.1:0", cfgB)
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func addrOf(t *testing.T, tr *Transport) Addr {
	t.Helper()
	return addrFromNet(tr.LocalAddr())
}

// TestLosslessDeliverInOrder checks that, over a lossless channel, a finite
// sequence of Send calls that all return is delivered in order, with no
// duplicates.
func TestLosslessDeliverInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := newLoopbackPair(t, Config{Timeout: 50 * time.Millisecond}, Config{Timeout: 50 * time.Millisecond})
	bAddr := addrOf(t, b)

	messages := []string{"login alice", "move up", "move right", "hint", "suggest"}
	recvDone := make(chan []string, 1)
	go func() {
		var got []string
		for len(got) < len(messages) {
			b.Poll(100 * time.Millisecond)
			for {
				d, ok := b.Recv()
				if !ok {
					break
				}
				got = append(got, string(d.Payload))
			}
		}
		recvDone <- got
	}()

	for _, m := range messages {
		if err := a.Send([]byte(m), bAddr); err != nil {
			t.Fatalf("send %q: %v", m, err)
		}
	}

	select {
	case got := <-recvDone:
		if len(got) != len(messages) {
			t.Fatalf("got %d messages, want %d: %v", len(got), len(messages), got)
		}
		for i, m := range messages {
			if got[i] != m {
				t.Fatalf("message %d: got %q want %q (order/dup violation)", i, got[i], m)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// TestDuplicateSuppression: an ACK is lost, forcing a sender retransmit;
// the receiver's delivered queue grows by exactly one entry despite two
// arrivals of the same data packet.
func TestDuplicateSuppression(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := newLoopbackPair(t,
		Config{Timeout: 80 * time.Millisecond},
		Config{Timeout: 80 * time.Millisecond},
	)
	bAddr := addrOf(t, b)

	// Force the first ACK to be lost by having b drop its first outbound
	// write (the ACK it sends back), retaining everything after.
	b.loss = onceDropper(t)

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- a.Send([]byte("hello"), bAddr)
	}()

	// Drain b's delivered queue after giving the retransmit time to land.
	deadline := time.Now().Add(2 * time.Second)
	var deliveries []string
	for time.Now().Before(deadline) {
		b.Poll(100 * time.Millisecond)
		for {
			d, ok := b.Recv()
			if !ok {
				break
			}
			deliveries = append(deliveries, string(d.Payload))
		}
		if len(deliveries) > 0 {
			select {
			case err := <-sendDone:
				if err != nil {
					t.Fatalf("send failed: %v", err)
				}
				goto checked
			default:
			}
		}
	}
checked:
	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one delivery despite retransmit, got %v", deliveries)
	}
}

// onceDropper returns a dropper-compatible value whose Drop() returns
// true exactly once, to simulate a single lost ACK deterministically.
func onceDropper(t *testing.T) *testLoss {
	t.Helper()
	return &testLoss{}
}

type testLoss struct {
	mu      sync.Mutex
	dropped bool
}

func (l *testLoss) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dropped {
		l.dropped = true
		return true
	}
	return false
}

// TestCrossPeerIsolation: two peers sending concurrently while the
// transport is mid-send to a third peer under loss both get delivered,
// and the third peer is unaffected.
func TestCrossPeerIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	server, errS := Listen("127.0.0.1:0", Config{Timeout: 80 * time.Millisecond, LossProb: 0.3, Seed: 1})
	if errS != nil {
		t.Fatalf("listen server: %v", errS)
	}
	defer server.Close()

	peerA, _ := Listen("127.0.0.1:0", Config{Timeout: 80 * time.Millisecond})
	peerB, _ := Listen("127.0.0.1:0", Config{Timeout: 80 * time.Millisecond})
	peerC, _ := Listen("127.0.0.1:0", Config{Timeout: 80 * time.Millisecond})
	defer peerA.Close()
	defer peerB.Close()
	defer peerC.Close()

	serverAddr := addrOf(t, server)

	// Send blocks until the peer ACKs, so C is polled in the background
	// while the server sends to it.
	var mu sync.Mutex
	var gotC string
	stop := make(chan struct{})
	var pollers sync.WaitGroup
	pollers.Add(1)
	go func() {
		defer pollers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			peerC.Poll(20 * time.Millisecond)
			if d, ok := peerC.Recv(); ok {
				mu.Lock()
				gotC = string(d.Payload)
				mu.Unlock()
			}
		}
	}()
	defer func() {
		close(stop)
		pollers.Wait()
	}()

	// Server mid-send to C concurrently with A and B sending to the
	// server.
	cDone := make(chan error, 1)
	go func() {
		cDone <- server.Send([]byte("hello C"), addrOf(t, peerC))
	}()

	aDone := make(chan error, 1)
	bDone := make(chan error, 1)
	go func() { aDone <- peerA.Send([]byte("from A"), serverAddr) }()
	go func() { bDone <- peerB.Send([]byte("from B"), serverAddr) }()

	seen := map[string]bool{}
	pollServer := func() {
		server.Poll(20 * time.Millisecond)
		for {
			d, ok := server.Recv()
			if !ok {
				break
			}
			seen[string(d.Payload)] = true
		}
	}

	// While the send to C is in flight, the server's own Send polls its
	// socket and ACKs A and B. Once it has returned, the server is polled
	// here, so A and B still get an ACK for a retransmit whose first ACK
	// was lost.
	for i, ch := range []chan error{cDone, aDone, bDone} {
		deadline := time.Now().Add(5 * time.Second)
		for done := false; !done; {
			select {
			case err := <-ch:
				if err != nil {
					t.Fatalf("send %d failed: %v", i, err)
				}
				done = true
			default:
				if time.Now().After(deadline) {
					t.Fatalf("send %d timed out (possible deadlock)", i)
				}
				if i == 0 {
					time.Sleep(10 * time.Millisecond)
				} else {
					pollServer()
				}
			}
		}
	}

	// Server must have delivered messages from both A and B, and C must
	// have received its message.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !(seen["from A"] && seen["from B"]) {
		pollServer()
	}
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotC != ""
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if !seen["from A"] || !seen["from B"] {
		t.Fatalf("server did not deliver both peers' messages: %v", seen)
	}

	if gotC != "hello C" {
		t.Fatalf("peer C did not receive its message, got %q", gotC)
	}
}

func TestSendPayloadTooLarge(t *testing.T) {
	defer goleak.VerifyNone(t)
	a, b := newLoopbackPair(t, Config{}, Config{})
	bAddr := addrOf(t, b)

	huge := make([]byte, 2000)
	if err := a.Send(huge, bAddr); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

// TestSendPayloadSizeBoundary checks the exact edge: a payload of
// wire.MaxPayload bytes is accepted, one byte larger is rejected.
func TestSendPayloadSizeBoundary(t *testing.T) {
	defer goleak.VerifyNone(t)
	a, b := newLoopbackPair(t,
		Config{Timeout: 80 * time.Millisecond},
		Config{Timeout: 80 * time.Millisecond},
	)
	bAddr := addrOf(t, b)

	atMax := make([]byte, wire.MaxPayload)
	sendDone := make(chan error, 1)
	go func() { sendDone <- a.Send(atMax, bAddr) }()

	deadline := time.Now().Add(2 * time.Second)
	delivered := false
	for time.Now().Before(deadline) && !delivered {
		b.Poll(100 * time.Millisecond)
		if d, ok := b.Recv(); ok {
			if len(d.Payload) != wire.MaxPayload {
				t.Fatalf("expected %d-byte payload, got %d", wire.MaxPayload, len(d.Payload))
			}
			delivered = true
		}
	}
	if !delivered {
		t.Fatal("max-size payload never delivered")
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("send of max-size payload failed: %v", err)
	}

	overMax := make([]byte, wire.MaxPayload+1)
	if err := a.Send(overMax, bAddr); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge for oversized payload, got %v", err)
	}
}

func TestSendEmptyPayloadDeliveredAsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)
	a, b := newLoopbackPair(t, Config{Timeout: 80 * time.Millisecond}, Config{Timeout: 80 * time.Millisecond})
	bAddr := addrOf(t, b)

	sendDone := make(chan error, 1)
	go func() { sendDone <- a.Send(nil, bAddr) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.Poll(100 * time.Millisecond)
		if d, ok := b.Recv(); ok {
			if len(d.Payload) != 0 {
				t.Fatalf("expected empty payload, got %q", d.Payload)
			}
			if err := <-sendDone; err != nil {
				t.Fatalf("send failed: %v", err)
			}
			return
		}
	}
	t.Fatal("empty payload never delivered")
}
