package telnet

import "bytes"

// Telnet command bytes (RFC 854). The printer firmware wraps its plain-text
// protocol in a telnet session and sends a burst of option negotiation right
// after accept.
const (
	IAC  = 255 // interpret as command
	DONT = 254
	DO   = 253
	WONT = 252
	WILL = 251
	SB   = 250 // subnegotiation begin
	SE   = 240 // subnegotiation end
)

// Strip removes telnet control sequences from a received chunk and returns
// the remaining payload bytes plus the negotiation reply owed to the peer.
// Every option the printer proposes is refused: DO is answered with WONT and
// WILL with DONT, so the session stays a dumb byte pipe. DONT and WONT from
// the peer need no answer. An IAC IAC pair is an escaped data byte and is
// unescaped into the payload.
//
// Framing is per chunk: a sequence split across reads is dropped rather than
// buffered. The firmware sends its negotiation in whole small packets, so
// this never triggers in practice.
func Strip(chunk []byte) (payload, reply []byte) {
	if bytes.IndexByte(chunk, IAC) < 0 {
		return chunk, nil
	}

	payload = make([]byte, 0, len(chunk))
	for i := 0; i < len(chunk); {
		b := chunk[i]
		if b != IAC {
			payload = append(payload, b)
			i++
			continue
		}
		if i+1 >= len(chunk) {
			// lone IAC at the end of the chunk
			break
		}
		cmd := chunk[i+1]
		switch cmd {
		case IAC:
			payload = append(payload, IAC)
			i += 2
		case DO, DONT, WILL, WONT:
			if i+2 >= len(chunk) {
				return payload, reply
			}
			opt := chunk[i+2]
			switch cmd {
			case DO:
				reply = append(reply, IAC, WONT, opt)
			case WILL:
				reply = append(reply, IAC, DONT, opt)
			}
			i += 3
		case SB:
			end, ok := subnegotiationEnd(chunk, i+2)
			if !ok {
				return payload, reply
			}
			i = end
		default:
			// two-byte command (NOP, GA, ...)
			i += 2
		}
	}
	return payload, reply
}

// subnegotiationEnd scans forward from start for the closing IAC SE and
// returns the index just past it. IAC IAC inside the block escapes a data
// byte and does not terminate it.
func subnegotiationEnd(chunk []byte, start int) (int, bool) {
	for i := start; i < len(chunk)-1; i++ {
		if chunk[i] != IAC {
			continue
		}
		switch chunk[i+1] {
		case IAC:
			i++
		case SE:
			return i + 2, true
		}
	}
	return 0, false
}
