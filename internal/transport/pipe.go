// ABOUTME: In-memory connected Conn pair for tests and in-process sessions.

package transport

import (
	"sync"

	"github.com/2389/weft/internal/protocol"
)

// pipeConn is one end of an in-memory duplex channel pair.
type pipeConn struct {
	in   chan *protocol.Envelope
	out  chan *protocol.Envelope
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory Conns: envelopes sent on one are
// received on the other, in order. Closing either end closes both. The
// buffer bounds in-flight envelopes per direction; Send blocks when full.
func Pipe(buffer int) (Conn, Conn) {
	ab := make(chan *protocol.Envelope, buffer)
	ba := make(chan *protocol.Envelope, buffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeConn{in: ba, out: ab, done: done, once: once}
	b := &pipeConn{in: ab, out: ba, done: done, once: once}
	return a, b
}

func (p *pipeConn) Send(env *protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrClosed
	case p.out <- env:
		return nil
	}
}

func (p *pipeConn) Receive() (*protocol.Envelope, error) {
	select {
	case <-p.done:
		// Drain envelopes already in flight before reporting closure.
		select {
		case env := <-p.in:
			return env, nil
		default:
			return nil, ErrClosed
		}
	case env := <-p.in:
		return env, nil
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
