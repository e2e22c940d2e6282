package core

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1

var probeSeq atomic.Uint32

// PingProbe sends a single ICMP echo and waits for the reply. Reachability
// is never probed on the telnet port: a TCP connect makes some firmware
// revisions flash a remote-session notice on the front panel, and a half
// completed connect can wedge the single-session port.
//
// An unprivileged datagram ICMP socket is tried first (enabled via the
// ping_group_range sysctl); a raw socket is the fallback for root.
func PingProbe(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", host, err)
	}

	conn, raw, err := listenICMP()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	echo := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  int(probeSeq.Add(1) & 0xffff),
			Data: []byte("printlink probe"),
		},
	}
	wire, err := echo.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshal echo: %w", err)
	}

	var target net.Addr = dst
	if !raw {
		target = &net.UDPAddr{IP: dst.IP}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	start := time.Now()
	if _, err := conn.WriteTo(wire, target); err != nil {
		return 0, fmt.Errorf("probe %s: %w", host, err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, fmt.Errorf("probe %s: %w", host, err)
		}
		msg, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		if msg.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if !peerMatches(peer, dst.IP) {
			continue
		}
		return time.Since(start), nil
	}
}

func listenICMP() (*icmp.PacketConn, bool, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, false, nil
	}
	conn, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr == nil {
		return conn, true, nil
	}
	return nil, false, fmt.Errorf("icmp socket unavailable: %v", err)
}

func peerMatches(peer net.Addr, ip net.IP) bool {
	switch a := peer.(type) {
	case *net.UDPAddr:
		return a.IP.Equal(ip)
	case *net.IPAddr:
		return a.IP.Equal(ip)
	}
	return false
}
