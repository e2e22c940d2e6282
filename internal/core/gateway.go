package core

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Prober checks whether a host answers, returning the round-trip time.
type Prober func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)

// Gateway is the operation surface shared by in-process callers and the HTTP
// relay: connect, disconnect, send-command, check-status, set-endpoint. It
// converts the error taxonomy into structured results so both transports
// report failures identically.
type Gateway struct {
	sup     *Supervisor
	channel *Channel
	timings Timings
	probe   Prober
}

func NewGateway(sup *Supervisor, channel *Channel) *Gateway {
	return &Gateway{
		sup:     sup,
		channel: channel,
		timings: sup.timings,
		probe:   PingProbe,
	}
}

// SetProber swaps the reachability probe, for callers whose network does not
// pass ICMP.
func (g *Gateway) SetProber(p Prober) {
	g.probe = p
}

// Connect opens (or reuses) the printer's session.
func (g *Gateway) Connect(id int64, ip string, port int) ConnectResult {
	_, reused, err := g.sup.EnsureConnection(Endpoint{ID: id, IPAddress: ip, Port: port})
	if err != nil {
		return ConnectResult{Error: err.Error(), ErrorKind: errorKind(err)}
	}
	return ConnectResult{Success: true, Reused: reused}
}

// Disconnect force-closes the printer's session. Closing a printer that has
// no session is not an error.
func (g *Gateway) Disconnect(id int64) DisconnectResult {
	g.sup.Release(id)
	return DisconnectResult{Success: true}
}

// SetEndpoint records the printer's address so a later SendCommand can dial
// on demand without an explicit Connect.
func (g *Gateway) SetEndpoint(id int64, ip string, port int) {
	g.sup.SetEndpoint(Endpoint{ID: id, IPAddress: ip, Port: port})
}

func (g *Gateway) SendCommand(id int64, command string) CommandResult {
	resp, err := g.channel.Send(id, command)
	if err != nil {
		return CommandResult{Error: err.Error(), ErrorKind: errorKind(err)}
	}
	return CommandResult{Success: true, Response: resp}
}

// CheckStatus probes every target concurrently and reports availability per
// printer. Results keep the order of the request; one unreachable target
// never fails the batch.
func (g *Gateway) CheckStatus(ctx context.Context, targets []Endpoint) []StatusResult {
	results := make([]StatusResult, len(targets))
	grp, ctx := errgroup.WithContext(ctx)
	for i, ep := range targets {
		i, ep := i, ep
		grp.Go(func() error {
			rtt, err := g.probe(ctx, ep.IPAddress, g.timings.ProbeTimeout)
			if err != nil {
				results[i] = StatusResult{ID: ep.ID, Status: "offline", Error: err.Error()}
				return nil
			}
			results[i] = StatusResult{
				ID:             ep.ID,
				IsAvailable:    true,
				Status:         "online",
				ResponseTimeMs: rtt.Milliseconds(),
			}
			return nil
		})
	}
	_ = grp.Wait()
	return results
}

// errorKind maps taxonomy errors to the stable strings clients switch on.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, ErrClosedDuringHandshake):
		return "closed_during_handshake"
	case errors.Is(err, ErrCommandTimeout):
		return "command_timeout"
	case errors.Is(err, ErrClosedByPrinter):
		return "closed_by_printer"
	case errors.Is(err, ErrConnectionFailed):
		return "socket_error"
	}
	return "internal_error"
}
