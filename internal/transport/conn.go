// ABOUTME: Transport abstraction: ordered, reliable, bidirectional typed messages.
// ABOUTME: The engine is written against Conn; websocket and in-memory pipes implement it.

package transport

import (
	"errors"

	"github.com/2389/weft/internal/protocol"
)

// ErrClosed is returned by Send and Receive once the connection is closed.
var ErrClosed = errors.New("transport: connection closed")

// Conn delivers typed envelopes in order, reliably, in both directions.
// Send and Receive may be called from different goroutines; neither is safe
// for concurrent use with itself.
type Conn interface {
	// Send transmits one envelope.
	Send(env *protocol.Envelope) error

	// Receive blocks for the next inbound envelope.
	Receive() (*protocol.Envelope, error)

	// Close tears the connection down. Pending and future Send/Receive calls
	// fail with ErrClosed.
	Close() error
}
