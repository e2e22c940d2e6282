package core

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"
)

// fakePrinter is a loopback listener standing in for the printer's telnet
// port. script runs once per accepted connection; with a nil script the
// connection is just held open.
type fakePrinter struct {
	ln     net.Listener
	script func(net.Conn)

	mu       sync.Mutex
	accepted int
	conns    []net.Conn
}

func newFakePrinter(t *testing.T, script func(net.Conn)) *fakePrinter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakePrinter{ln: ln, script: script}
	go f.acceptLoop()
	t.Cleanup(f.close)
	return f
}

func (f *fakePrinter) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.accepted++
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		if f.script != nil {
			go f.script(conn)
		}
	}
}

func (f *fakePrinter) endpoint(id int64) Endpoint {
	addr := f.ln.Addr().(*net.TCPAddr)
	return Endpoint{ID: id, IPAddress: addr.IP.String(), Port: addr.Port}
}

func (f *fakePrinter) acceptedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *fakePrinter) close() {
	_ = f.ln.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
}

// readLine consumes one CRLF-terminated command from the wire.
func readLine(c net.Conn) (string, error) {
	return bufio.NewReader(c).ReadString('\n')
}

func testTimings() Timings {
	t := DefaultTimings()
	t.ConnectTimeout = 2 * time.Second
	t.EphemeralConnectTimeout = 1 * time.Second
	t.HandshakeSettle = 30 * time.Millisecond
	t.ReadTimeout = 2 * time.Second
	t.IdleWindow = 120 * time.Millisecond
	t.EphemeralCeiling = 500 * time.Millisecond
	t.SessionCeiling = 500 * time.Millisecond
	t.ProbeTimeout = 100 * time.Millisecond
	return t
}

func newTestStack(notifier Notifier) (*Registry, *Supervisor, *Channel) {
	reg := NewRegistry()
	sup := NewSupervisor(reg, testTimings(), notifier)
	return reg, sup, NewChannel(reg, sup)
}
