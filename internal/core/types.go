package core

import "time"

// Notifier receives connection lifecycle events. The events package provides
// the real implementation (webhooks + websocket fan-out); nil is fine.
type Notifier interface {
	ConnectionStateChanged(printerID int64, state, reason string)
}

// Endpoint identifies a printer and the address of its telnet port.
type Endpoint struct {
	ID        int64  `json:"id"`
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
}

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Timings collects the protocol tunables. All of them have sane defaults;
// config may override any subset.
type Timings struct {
	ConnectTimeout          time.Duration // dial timeout for a held session
	EphemeralConnectTimeout time.Duration // dial timeout for a one-shot command connection
	HandshakeSettle         time.Duration // wait after dial for the firmware's option burst
	ReadTimeout             time.Duration // per-read deadline; the firmware drops idle sessions anyway
	WriteTimeout            time.Duration
	KeepAlivePeriod         time.Duration
	IdleWindow              time.Duration // quiet time after the last chunk that finalizes a response
	EphemeralCeiling        time.Duration // hard response ceiling on a one-shot connection
	SessionCeiling          time.Duration // hard response ceiling on a held session
	ProbeTimeout            time.Duration // per-target reachability probe budget
}

func DefaultTimings() Timings {
	return Timings{
		ConnectTimeout:          10 * time.Second,
		EphemeralConnectTimeout: 5 * time.Second,
		HandshakeSettle:         300 * time.Millisecond,
		ReadTimeout:             10 * time.Second,
		WriteTimeout:            2 * time.Second,
		KeepAlivePeriod:         2 * time.Minute,
		IdleWindow:              220 * time.Millisecond,
		EphemeralCeiling:        2200 * time.Millisecond,
		SessionCeiling:          10 * time.Second,
		ProbeTimeout:            1200 * time.Millisecond,
	}
}

// ConnectResult reports a connect operation. Reused is true when an already
// open session was handed back instead of a fresh dial.
type ConnectResult struct {
	Success   bool   `json:"success"`
	Reused    bool   `json:"reused,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

type DisconnectResult struct {
	Success bool `json:"success"`
}

// CommandResult carries the raw response text; callers interpret it.
type CommandResult struct {
	Success   bool   `json:"success"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

type StatusResult struct {
	ID             int64  `json:"id"`
	IsAvailable    bool   `json:"is_available"`
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}
