// Package filexfer applies the RDT 3.0 transport's stop-and-wait state
// machine to a chunked file stream: the same state machine the original
// repo's file-transfer tool runs, re-derived here once the transport
// itself is implemented. No new wire format or sequencing logic is
// introduced; transport.Transport's own per-peer FIFO ordering guarantee
// is what makes chunk ordering free.
package filexfer

import (
	"io"
	"time"

	"github.com/jpedroflx/huntcin/internal/transport"
	"github.com/jpedroflx/huntcin/internal/wire"
)

// chunkSize is the largest chunk that still fits in one reliable Send.
const chunkSize = wire.MaxPayload

// Sender streams a file to a single peer as a sequence of reliable sends,
// terminated by a zero-length chunk.
type Sender struct {
	trans *transport.Transport
	to    transport.Addr
}

// NewSender builds a Sender that streams files to addr over trans.
func NewSender(trans *transport.Transport, to transport.Addr) *Sender {
	return &Sender{trans: trans, to: to}
}

// SendFile reads r to completion, sending each chunkSize-sized chunk as one
// reliable Send (in order, by construction of repeated blocking calls),
// followed by an empty terminal chunk. It returns the number of bytes sent.
func (s *Sender) SendFile(r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, chunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := s.trans.Send(buf[:n], s.to); sendErr != nil {
				return total, sendErr
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
	}

	if err := s.trans.Send(nil, s.to); err != nil {
		return total, err
	}
	return total, nil
}

// Receiver assembles a file from the chunks a single peer sends, stopping
// at the empty terminal chunk.
type Receiver struct {
	trans *transport.Transport
	from  transport.Addr
}

// NewReceiver builds a Receiver that accepts a file from addr over trans.
func NewReceiver(trans *transport.Transport, from transport.Addr) *Receiver {
	return &Receiver{trans: trans, from: from}
}

// ReceiveFile polls trans (using pollTick as the per-call timeout) until
// the terminal empty chunk from the configured peer arrives, writing every
// chunk to w in delivery order. Messages from any other peer are ignored,
// matching the client driver's source filtering.
func (r *Receiver) ReceiveFile(w io.Writer, pollTick time.Duration) (int64, error) {
	var total int64
	for {
		r.trans.Poll(pollTick)
		d, ok := r.trans.Recv()
		if !ok {
			continue
		}
		if d.From != r.from {
			continue
		}
		if len(d.Payload) == 0 {
			return total, nil
		}
		n, err := w.Write(d.Payload)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}
