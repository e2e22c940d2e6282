package core

import (
	"bytes"
	"fmt"
	"time"
)

// promptByte short-circuits response collection: firmware that ends replies
// with a command prompt never sends anything useful after it.
const promptByte = '>'

// Channel sends commands and collects responses. The printer protocol has no
// framing, so completion is a heuristic with three exits:
//
//   - a '>' anywhere in the accumulated response finalizes immediately;
//   - a quiet window (IdleWindow) after the most recent chunk finalizes with
//     whatever has arrived — the window only starts once data exists;
//   - a hard ceiling finalizes with partial data as success, or with
//     ErrCommandTimeout if nothing arrived at all.
//
// A peer close with data already collected is also success.
type Channel struct {
	registry *Registry
	sup      *Supervisor
	timings  Timings
}

func NewChannel(registry *Registry, sup *Supervisor) *Channel {
	return &Channel{registry: registry, sup: sup, timings: sup.timings}
}

// Send writes one CRLF-terminated command and returns the raw response text.
// The slot lock is held for the duration, so commands to one printer are
// strictly serialized. With no live session, the last-known address is dialed
// for a one-shot connection that is torn down after the command regardless of
// outcome; with no address on record either, ErrNotConnected.
func (ch *Channel) Send(id int64, text string) (string, error) {
	sl := ch.registry.slotFor(id)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	conn := sl.conn
	ceiling := ch.timings.SessionCeiling
	if conn == nil || !conn.Open() {
		if sl.addr == nil {
			return "", ErrNotConnected
		}
		fresh, err := ch.sup.dial(*sl.addr, ch.timings.EphemeralConnectTimeout, true)
		if err != nil {
			return "", err
		}
		defer fresh.close()
		conn = fresh
		ceiling = ch.timings.EphemeralCeiling
	}

	p := conn.attach()
	defer conn.detach(p)

	if err := conn.writeLine(text); err != nil {
		conn.close()
		return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return ch.collect(conn, p, ceiling)
}

func (ch *Channel) collect(conn *Conn, p *pending, ceiling time.Duration) (string, error) {
	var buf bytes.Buffer
	sawData := false

	ceilingTimer := time.NewTimer(ceiling)
	defer ceilingTimer.Stop()

	idleTimer := time.NewTimer(time.Hour)
	if !idleTimer.Stop() {
		<-idleTimer.C
	}
	defer idleTimer.Stop()
	idleArmed := false

	for {
		select {
		case chunk := <-p.data:
			sawData = true
			buf.Write(chunk)
			if bytes.IndexByte(buf.Bytes(), promptByte) >= 0 {
				return buf.String(), nil
			}
			if idleArmed && !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(ch.timings.IdleWindow)
			idleArmed = true

		case <-idleTimer.C:
			return buf.String(), nil

		case <-ceilingTimer.C:
			if sawData {
				return buf.String(), nil
			}
			return "", ErrCommandTimeout

		case <-conn.closed:
			// pick up anything the pump delivered right before the close
		drain:
			for {
				select {
				case chunk := <-p.data:
					sawData = true
					buf.Write(chunk)
				default:
					break drain
				}
			}
			if sawData {
				return buf.String(), nil
			}
			return "", ErrClosedByPrinter
		}
	}
}
