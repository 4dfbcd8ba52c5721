package connection

import "prism-live/domain"

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Reason says why the last connection ended.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonClient    Reason = "client"
	ReasonServer    Reason = "server"
	ReasonTransport Reason = "transport"
)

// State is a copy of the manager's connection state.
type State struct {
	Status    Status
	Attempt   int
	LastError string
	Token     string
	Identity  domain.Identity

	// Abandoned is set once the retry budget is spent; only an explicit
	// Connect clears it.
	Abandoned  bool
	LastReason Reason
}
