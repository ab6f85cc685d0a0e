package game

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jpedroflx/huntcin/internal/logging"
	"github.com/jpedroflx/huntcin/internal/transport"
)

// readTimeout is how long the background reader waits per Poll call,
// matching huntcin_client.py's rx_loop using rdt.process_incoming(timeout=0.5).
const readTimeout = 500 * time.Millisecond

// ClientDriver is the command-line-in, printed-messages-out driver: a
// foreground loop sends command lines, a background goroutine drains the
// transport and prints anything from the configured server, discarding
// messages from any other source. Grounded on huntcin_client.py's
// main()/rx_loop.
type ClientDriver struct {
	trans  *transport.Transport
	server transport.Addr
	out    io.Writer
	log    logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewClientDriver builds a driver that sends to server over trans and
// prints delivered replies from server to out.
func NewClientDriver(trans *transport.Transport, server transport.Addr, out io.Writer, log logging.Logger) *ClientDriver {
	if log == nil {
		log = logging.Discard()
	}
	return &ClientDriver{
		trans:  trans,
		server: server,
		out:    out,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start launches the background reader goroutine. Call Stop before the
// driver is discarded to avoid leaking it (tests verify this with goleak).
func (c *ClientDriver) Start() {
	c.wg.Add(1)
	go c.readLoop()
}

// Stop signals the background reader to exit and waits for it to finish.
func (c *ClientDriver) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *ClientDriver) readLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.trans.Poll(readTimeout)
		for {
			d, ok := c.trans.Recv()
			if !ok {
				break
			}
			if d.From != c.server {
				continue
			}
			fmt.Fprintln(c.out, string(d.Payload))
		}
	}
}

// RunForeground reads whitespace-delimited command lines from in and sends
// each to the server, blocking (reliably) until each is ACKed before
// reading the next line. Returns nil on a clean EOF.
func (c *ClientDriver) RunForeground(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.trans.Send([]byte(line), c.server); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			fmt.Fprintf(c.out, "[Cliente] erro ao enviar: %v\n", err)
		}
	}
	return scanner.Err()
}
