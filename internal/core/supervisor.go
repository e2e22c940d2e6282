package core

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"
)

var (
	ErrNotConnected          = errors.New("printer not connected and no address on record")
	ErrConnectTimeout        = errors.New("connect timed out")
	ErrConnectionFailed      = errors.New("connection failed")
	ErrClosedDuringHandshake = errors.New("connection closed during handshake")
	ErrCommandTimeout        = errors.New("command timed out")
	ErrClosedByPrinter       = errors.New("connection closed by printer")
)

// Supervisor owns connection lifecycle: dial, handshake settle, reuse, stale
// teardown, release. It never retries on its own; callers decide.
type Supervisor struct {
	registry *Registry
	timings  Timings
	notifier Notifier
}

func NewSupervisor(registry *Registry, timings Timings, notifier Notifier) *Supervisor {
	return &Supervisor{registry: registry, timings: timings, notifier: notifier}
}

// EnsureConnection returns an open session for the endpoint. An already open
// session for the same id is handed back with reused=true without touching
// the address it was dialed to. A dead entry is torn down and replaced. The
// slot lock is held throughout, so concurrent connects to one printer can
// never race into a second socket.
func (s *Supervisor) EnsureConnection(ep Endpoint) (*Conn, bool, error) {
	sl := s.registry.slotFor(ep.ID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.conn != nil && sl.conn.Open() {
		addr := ep
		sl.addr = &addr
		return sl.conn, true, nil
	}
	if sl.conn != nil {
		stale := sl.conn
		sl.conn = nil
		stale.close()
	}

	conn, err := s.dial(ep, s.timings.ConnectTimeout, false)
	if err != nil {
		return nil, false, err
	}
	sl.conn = conn
	addr := ep
	sl.addr = &addr
	log.Printf("[supervisor] printer %d: connected to %s:%d", ep.ID, ep.IPAddress, ep.Port)
	s.notify(ep.ID, "connected", "")
	return conn, false, nil
}

// SetEndpoint records the printer's address without opening a socket, so a
// later command can dial on demand.
func (s *Supervisor) SetEndpoint(ep Endpoint) {
	sl := s.registry.slotFor(ep.ID)
	sl.mu.Lock()
	addr := ep
	sl.addr = &addr
	sl.mu.Unlock()
}

// Release force-closes the printer's session if one exists. The last-known
// address stays on record.
func (s *Supervisor) Release(id int64) {
	sl := s.registry.slotFor(id)
	sl.mu.Lock()
	conn := sl.conn
	sl.conn = nil
	sl.mu.Unlock()
	if conn != nil {
		conn.markClosing()
		conn.close()
		log.Printf("[supervisor] printer %d: released", id)
		s.notify(id, "disconnected", "released")
	}
}

// CloseAll tears down every live session. Called on shutdown.
func (s *Supervisor) CloseAll() {
	for _, id := range s.registry.IDs() {
		s.Release(id)
	}
}

func (s *Supervisor) dial(ep Endpoint, timeout time.Duration, ephemeral bool) (*Conn, error) {
	addr := net.JoinHostPort(ep.IPAddress, strconv.Itoa(ep.Port))
	tcp, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if t, ok := tcp.(*net.TCPConn); ok {
		_ = t.SetKeepAlive(true)
		if s.timings.KeepAlivePeriod > 0 {
			_ = t.SetKeepAlivePeriod(s.timings.KeepAlivePeriod)
		}
	}

	conn := newConn(ep.ID, tcp, ephemeral, s.timings, s.connClosed)
	go conn.run()

	// The firmware emits its telnet option burst shortly after accept and is
	// not usable until it has. Some builds send nothing at all, so the timer,
	// not the negotiation, decides readiness.
	settle := time.NewTimer(s.timings.HandshakeSettle)
	defer settle.Stop()
	select {
	case <-settle.C:
	case <-conn.closed:
		return nil, fmt.Errorf("%w: %s", ErrClosedDuringHandshake, addr)
	}
	conn.setOpen()
	return conn, nil
}

// connClosed runs whenever a connection dies, from any path. The slot update
// happens on a fresh goroutine because close() may be called by a holder of
// the slot lock; the identity check keeps it from clobbering a replacement.
func (s *Supervisor) connClosed(c *Conn) {
	go func() {
		sl := s.registry.slotFor(c.ownerID)
		sl.mu.Lock()
		owned := sl.conn == c
		if owned {
			sl.conn = nil
		}
		sl.mu.Unlock()
		if owned && !c.ephemeral {
			log.Printf("[supervisor] printer %d: connection closed", c.ownerID)
			s.notify(c.ownerID, "disconnected", "")
		}
	}()
}

func (s *Supervisor) notify(id int64, state, reason string) {
	if s.notifier != nil {
		s.notifier.ConnectionStateChanged(id, state, reason)
	}
}
