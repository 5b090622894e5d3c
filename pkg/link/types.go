package link

import (
	"errors"

	"github.com/silviot/vehiclelink/pkg/telemetry"
)

// State is the lifecycle state of the vehicle socket
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidEndpoint    = errors.New("invalid endpoint")
	ErrNotConnected       = errors.New("not connected to vehicle")
	ErrMalformedTelemetry = telemetry.ErrMalformed
	ErrTransport          = errors.New("transport error")
	ErrClosed             = errors.New("link closed")
)

// EventKind identifies what happened on the socket
type EventKind int

const (
	EventReady   EventKind = iota + 1 // Socket opened; state is Connected
	EventClosed                       // Socket closed or dial failed; state is Disconnected
	EventSignals                      // Signals envelope received
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventClosed:
		return "closed"
	case EventSignals:
		return "signals"
	default:
		return "unknown"
	}
}

// Event is emitted by the socket goroutine, in the order the socket produced it
type Event struct {
	Kind     EventKind
	LinkID   string
	Endpoint string
	Signals  telemetry.Envelope // Set for EventSignals
	Err      error              // Close cause, nil for a clean close
}

// envelope is used to route inbound text messages by type
type envelope struct {
	Type string `json:"type"`
}

// Stats counts link activity since the manager was created
type Stats struct {
	Dials     int64 // Sockets created
	Frames    int64 // Binary messages received
	Messages  int64 // Text messages received
	Malformed int64 // Text messages dropped as unparseable
	Ignored   int64 // Text messages with an unknown type
}
