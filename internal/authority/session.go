// ABOUTME: One attached client session: a read loop feeding the authority and
// ABOUTME: an ordered outbound queue pumping broadcasts back to the connection.

package authority

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/weft/internal/protocol"
	"github.com/2389/weft/internal/syncable"
	"github.com/2389/weft/internal/transport"
)

// outboundBufferSize bounds a session's queued envelopes. A session that
// cannot drain this many broadcasts has effectively stalled; dropping a
// single sync would silently break convergence, so the whole session is torn
// down instead and the client re-initializes on reconnect.
const outboundBufferSize = 256

// Session binds one connection to one actor. All outbound traffic flows
// through a single buffered queue so the global broadcast order established
// under the authority's lock survives to the wire.
type Session struct {
	id     string
	actor  syncable.Ref
	conn   transport.Conn
	parent *Authority
	logger *slog.Logger

	out  chan *protocol.Envelope
	done chan struct{}
	once sync.Once
}

func newSession(parent *Authority, conn transport.Conn, actor syncable.Ref) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		actor:  actor,
		conn:   conn,
		parent: parent,
		logger: parent.logger.With("session_id", id, "actor", actor.String()),
		out:    make(chan *protocol.Envelope, outboundBufferSize),
		done:   make(chan struct{}),
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	return s.id
}

// Actor returns the actor this session authenticated as.
func (s *Session) Actor() syncable.Ref {
	return s.actor
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// start launches the writer and reader loops. Called by Attach after the
// initialize payload has been queued.
func (s *Session) start() {
	go s.writeLoop()
	go s.readLoop()
}

// enqueue adds an envelope to the outbound queue. On overflow the session is
// closed; see outboundBufferSize. Callers hold the authority lock, and Close
// detaches under that same lock, so teardown runs on its own goroutine.
func (s *Session) enqueue(env *protocol.Envelope) {
	select {
	case <-s.done:
	case s.out <- env:
	default:
		s.logger.Warn("outbound queue overflow, closing session")
		go s.Close()
	}
}

// readLoop feeds inbound change packets to the authority until the
// connection drops.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		env, err := s.conn.Receive()
		if err != nil {
			return
		}

		switch env.Kind {
		case protocol.KindChange:
			s.parent.Process(s, env.Change)
		default:
			s.logger.Warn("unexpected inbound envelope", "kind", env.Kind)
		}
	}
}

// writeLoop drains the outbound queue to the connection in order.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case env := <-s.out:
			if err := s.conn.Send(env); err != nil {
				s.logger.Debug("outbound send failed", "error", err)
				s.Close()
				return
			}
		}
	}
}

// Close tears the session down: detaches from the authority and closes the
// connection. Safe to call multiple times.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		s.parent.detach(s)
	})
}
