package netsocket

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/cyberinferno/gamenet/logger"
)

// AcceptFunc wraps a freshly accepted connection into the socket that gets
// registered for it. The returned socket's Base must be c.
type AcceptFunc func(c *Conn) Socket

// Listener is a socket whose readable event means peers are waiting to be
// accepted. Each accepted peer is classified against the trusted subnet,
// wrapped by the accept func and registered with the listener's manager.
type Listener struct {
	*Conn
	port   int
	accept AcceptFunc
}

// NewListener binds a non-blocking listening socket on every IPv4 interface.
//
// Parameters:
//   - port: The TCP port; 0 picks an ephemeral port
//   - accept: Wraps accepted connections; nil registers the bare *Conn
//
// Returns:
//   - The listener, not yet registered, or an error if the port cannot be bound
func NewListener(port int, accept AcceptFunc) (*Listener, error) {
	fd, bound, err := listenStream(port)
	if err != nil {
		return nil, err
	}

	if accept == nil {
		accept = func(c *Conn) Socket { return c }
	}

	c := newConn(fd, StateOpen)
	c.listening = true
	c.timeoutSet = true
	c.peerPort = bound

	return &Listener{Conn: c, port: bound, accept: accept}, nil
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.port
}

// OnReadable accepts up to one batch of pending peers.
//
// Returns:
//   - Always 0; accepting moves no payload bytes
func (l *Listener) OnReadable() int {
	m := l.manager
	if m == nil || l.removal != 0 {
		return 0
	}

	for range acceptBatch {
		fd, sa, err := acceptStream(l.fd)
		if err != nil {
			if !wouldBlock(err) && !errors.Is(err, unix.ECONNABORTED) {
				l.log.Warn("accept failed", logger.Field{Key: "error", Value: err.Error()})
			}

			return 0
		}

		c := newConn(fd, StateOpen)
		c.peerIP, c.peerPort = sockaddrIP(sa)
		c.internal = m.IsInternal(c.peerIP)

		s := l.accept(c)
		if !logger.Assert(l.log, s != nil && s.Base() == c, logger.Here()) {
			c.release()
			continue
		}

		if _, err := m.AddSocket(s); err != nil {
			l.log.Info("accepted peer dropped",
				logger.Field{Key: "peer", Value: c.PeerAddr()},
				logger.Field{Key: "error", Value: err.Error()},
			)
			c.release()
		}
	}

	return 0
}

// OnWritable does nothing; listeners never carry output.
func (l *Listener) OnWritable() int {
	return 0
}
