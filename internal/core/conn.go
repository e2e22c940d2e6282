package core

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/printlink/printlink/internal/telnet"
)

// pending is the mailbox of the command currently awaiting a response.
type pending struct {
	data chan []byte
}

// Conn is a single telnet session with one printer. A read pump goroutine
// owns the socket's read side: it strips IAC sequences, writes the refusal
// replies back, and hands payload bytes to the pending command, if any.
// Payload arriving with no command pending (banners, unsolicited status) is
// dropped.
type Conn struct {
	ownerID   int64
	tcp       net.Conn
	ephemeral bool
	timings   Timings

	state          atomic.Int32
	sawNegotiation atomic.Bool

	mu      sync.Mutex
	pending *pending

	closed    chan struct{}
	closeOnce sync.Once
	onClose   func(*Conn)
}

func newConn(ownerID int64, tcp net.Conn, ephemeral bool, timings Timings, onClose func(*Conn)) *Conn {
	c := &Conn{
		ownerID:   ownerID,
		tcp:       tcp,
		ephemeral: ephemeral,
		timings:   timings,
		closed:    make(chan struct{}),
		onClose:   onClose,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) run() {
	defer c.close()
	buf := make([]byte, 4096)
	for {
		if c.timings.ReadTimeout > 0 {
			_ = c.tcp.SetReadDeadline(time.Now().Add(c.timings.ReadTimeout))
		}
		n, err := c.tcp.Read(buf)
		if n > 0 {
			payload, reply := telnet.Strip(buf[:n])
			if len(reply) > 0 {
				c.sawNegotiation.Store(true)
				_ = c.tcp.SetWriteDeadline(time.Now().Add(c.timings.WriteTimeout))
				if _, werr := c.tcp.Write(reply); werr != nil {
					log.Printf("[conn] printer %d: negotiation reply failed: %v", c.ownerID, werr)
					return
				}
				_ = c.tcp.SetWriteDeadline(time.Time{})
			}
			if len(payload) > 0 {
				c.deliver(payload)
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) deliver(payload []byte) {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil {
		return
	}
	chunk := make([]byte, len(payload))
	copy(chunk, payload)
	select {
	case p.data <- chunk:
	default:
		log.Printf("[conn] printer %d: response buffer full, dropping %d bytes", c.ownerID, len(chunk))
	}
}

func (c *Conn) attach() *pending {
	p := &pending{data: make(chan []byte, 64)}
	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()
	return p
}

func (c *Conn) detach(p *pending) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

// writeLine sends one command line. The firmware requires CRLF termination;
// a bare LF is silently misparsed by some builds.
func (c *Conn) writeLine(text string) error {
	_ = c.tcp.SetWriteDeadline(time.Now().Add(c.timings.WriteTimeout))
	defer c.tcp.SetWriteDeadline(time.Time{})
	_, err := c.tcp.Write([]byte(text + "\r\n"))
	return err
}

func (c *Conn) Open() bool {
	return ConnState(c.state.Load()) == StateOpen
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setOpen() {
	c.state.Store(int32(StateOpen))
}

func (c *Conn) markClosing() {
	c.state.Store(int32(StateClosing))
}

// close is idempotent. The closed channel is published before the socket is
// torn down, so a command waiting in select observes the close before any
// slot cleanup runs.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.closed)
		_ = c.tcp.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
