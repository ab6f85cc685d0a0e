// Package transport implements the RDT 3.0 reliable datagram transport:
// stop-and-wait with alternating sequence bits, per-peer state, and
// interleaved inbound processing while a Send is blocked waiting on an ACK.
//
// One struct owns an I/O handle and a cancellable context, a single mutex
// guards shared state, and sentinel errors cover the one caller-visible
// precondition.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jpedroflx/huntcin/internal/logging"
	"github.com/jpedroflx/huntcin/internal/wire"
)

// DefaultTimeout is the per-attempt retransmit timeout used when
// Config.Timeout is zero. No exponential backoff is applied.
const DefaultTimeout = 300 * time.Millisecond

var (
	// ErrPayloadTooLarge is the only structured error Send can return for
	// a caller precondition failure.
	ErrPayloadTooLarge = errors.New("transport: payload too large")

	// ErrClosed is returned by Send if the transport is closed while a
	// send is in flight or before it starts.
	ErrClosed = errors.New("transport: closed")

	// ErrMaxRetries is returned only when Config.MaxRetries is non-zero
	// and that many retransmit attempts have been exhausted without an
	// ACK. The default (MaxRetries == 0) never returns this: Send retries
	// indefinitely.
	ErrMaxRetries = errors.New("transport: max retries exceeded")
)

// Delivery is one application-visible message handed out by Recv: the peer
// it arrived from, and its opaque payload.
type Delivery struct {
	From    Addr
	Payload []byte
}

// peerState is the per-peer record: the bit stamped on the next outbound
// message to this peer, the bit required to accept the next inbound
// message from it, and the two-slot ACK-seen flag (both bits kept so a
// reordered ACK for either outstanding value is tolerated).
type peerState struct {
	sendNext   uint8
	expectNext uint8
	ackSeen    [2]bool
}

// Config configures a Transport. The zero value is valid: Timeout defaults
// to DefaultTimeout, LossProb to 0 (no injection), MaxRetries to 0
// (unbounded), and Logger to a discard logger.
type Config struct {
	// Timeout is the per-attempt wait for an ACK before retransmitting.
	Timeout time.Duration

	// LossProb is the Bernoulli drop probability applied to every
	// outbound wire write (data and ACK alike).
	LossProb float64

	// Seed seeds the loss injector's RNG. Two transports with the same
	// LossProb and Seed drop packets identically.
	Seed int64

	// MaxRetries bounds the number of retransmit attempts Send will make
	// before giving up with ErrMaxRetries. Zero means unbounded, matching
	// the reference implementation's default behavior under loss.
	MaxRetries int

	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}

// dropper is the minimal interface the loss-injection point needs; it is
// satisfied by *wire.LossInjector and, in tests, by fakes that simulate a
// specific loss pattern deterministically (e.g. "drop exactly the first
// write").
type dropper interface {
	Drop() bool
}

// Transport owns one UDP datagram endpoint and implements the stop-and-wait
// engine. It is safe for concurrent use by multiple goroutines: a single
// mutex guards the peer table and delivered queue, and a second one takes
// socket reads in turn, which is sufficient for a foreground Send and a
// background Poll/Recv reader to share one Transport.
type Transport struct {
	conn net.PacketConn
	cfg  Config
	loss dropper

	// readMu serializes socket reads, so each Poll gets its own read
	// deadline and concurrent pollers take turns on the socket.
	readMu sync.Mutex

	mu        sync.Mutex
	peers     map[Addr]*peerState
	delivered []Delivery

	ctx    context.Context
	cancel context.CancelFunc
}

// Listen binds a UDP endpoint at laddr (e.g. ":5000" or "0.0.0.0:5000") and
// returns a ready-to-use Transport.
func Listen(laddr string, cfg Config) (*Transport, error) {
	conn, err := net.ListenPacket("udp", laddr)
	if err != nil {
		return nil, err
	}
	return newTransport(conn, cfg), nil
}

// newTransport wires a Transport around an already-bound PacketConn;
// factored out so tests can construct transports over a loopback pair
// without going through DNS/port resolution twice.
func newTransport(conn net.PacketConn, cfg Config) *Transport {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		conn:   conn,
		cfg:    cfg,
		loss:   wire.NewLossInjector(cfg.LossProb, cfg.Seed),
		peers:  make(map[Addr]*peerState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// LocalAddr returns the address the transport is bound to.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close releases the underlying socket and unblocks any in-flight Send or
// Poll call. Mirrors core.Peer.Stop / core.ReliableTransport.Close's
// cancel-then-close order.
func (t *Transport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// peerLocked returns the peer record for addr, creating it lazily on first
// contact. Callers must hold t.mu.
func (t *Transport) peerLocked(addr Addr) *peerState {
	ps, ok := t.peers[addr]
	if !ok {
		ps = &peerState{}
		t.peers[addr] = ps
	}
	return ps
}

// Send reliably delivers payload to addr: it blocks until a matching ACK is
// observed, retransmitting on every Config.Timeout expiry with no backoff.
// It fails only with ErrPayloadTooLarge (precondition), ErrClosed (the
// transport was closed before or during the send) or, if
// Config.MaxRetries is set, ErrMaxRetries. Otherwise it never fails; by
// design, under infinite loss it never returns.
func (t *Transport) Send(payload []byte, addr Addr) error {
	if len(payload) > wire.MaxPayload {
		return ErrPayloadTooLarge
	}

	t.mu.Lock()
	ps := t.peerLocked(addr)
	bit := ps.sendNext
	t.mu.Unlock()

	packet := wire.EncodeData(bit, payload)

	attempt := 0
	for {
		select {
		case <-t.ctx.Done():
			return ErrClosed
		default:
		}

		t.writeRaw(packet, addr)
		deadline := time.Now().Add(t.cfg.Timeout)

		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			t.Poll(remaining)

			t.mu.Lock()
			acked := ps.ackSeen[bit]
			if acked {
				ps.ackSeen[bit] = false
				ps.sendNext = 1 - bit
			}
			t.mu.Unlock()

			if acked {
				return nil
			}

			select {
			case <-t.ctx.Done():
				return ErrClosed
			default:
			}
		}

		attempt++
		if t.cfg.MaxRetries > 0 && attempt > t.cfg.MaxRetries {
			return ErrMaxRetries
		}
		t.cfg.Logger.Debugf("retransmitting to %s (bit=%d, attempt=%d)", addr, bit, attempt)
	}
}

// Poll attempts to receive and process at most one inbound datagram,
// waiting up to timeout. It has no return value observable to the caller
// beyond side effects on the delivered queue and the ACK table.
func (t *Transport) Poll(timeout time.Duration) {
	if timeout < 0 {
		timeout = 0
	}
	t.readMu.Lock()
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.readMu.Unlock()
		return
	}

	buf := make([]byte, wire.MaxPacket)
	n, rawAddr, err := t.conn.ReadFrom(buf)
	t.readMu.Unlock()
	if err != nil {
		// Timeout, or the connection was closed out from under us; both
		// are silently absorbed here.
		return
	}

	from := addrFromNet(rawAddr)
	pkt := wire.Decode(buf[:n])

	switch pkt.Kind {
	case wire.KindAck:
		t.mu.Lock()
		ps := t.peerLocked(from)
		ps.ackSeen[pkt.Bit] = true
		t.mu.Unlock()

	case wire.KindData:
		t.handleData(from, pkt)

	default:
		// Unknown/malformed packet: discarded.
	}
}

// handleData implements the one-datagram inbound branch: ACK every arrival
// (new or duplicate), deliver and flip expect_next only for new arrivals.
func (t *Transport) handleData(from Addr, pkt wire.Packet) {
	t.writeRaw(wire.EncodeAck(pkt.Bit), from)

	t.mu.Lock()
	ps := t.peerLocked(from)
	if pkt.Bit == ps.expectNext {
		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		t.delivered = append(t.delivered, Delivery{From: from, Payload: payload})
		ps.expectNext = 1 - ps.expectNext
	}
	t.mu.Unlock()
}

// Recv is a non-blocking pop from the delivered queue. ok is false when the
// queue is empty.
func (t *Transport) Recv() (d Delivery, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.delivered) == 0 {
		return Delivery{}, false
	}
	d = t.delivered[0]
	t.delivered = t.delivered[1:]
	return d, true
}

// writeRaw hands packet to the wire, subject to loss injection. Errors from
// a transient write failure are not surfaced: the stop-and-wait loop's
// retransmit is the only recovery mechanism the transport offers, matching
// the reference's fire-and-forget sendto.
func (t *Transport) writeRaw(packet []byte, to Addr) {
	if t.loss.Drop() {
		return
	}
	_, _ = t.conn.WriteTo(packet, to.UDPAddr())
}
