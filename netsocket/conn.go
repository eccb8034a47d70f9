// Package netsocket is the non-blocking TCP socket core: connections that
// reassemble the byte stream into packets, a manager that multiplexes every
// live socket under one poll(2) loop, and a listener that feeds accepted peers
// into the manager.
//
// Everything except Manager.Post and Manager.Stats must be called from the
// goroutine running Manager.DoSelect.
package netsocket

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/packet"
	"github.com/cyberinferno/gamenet/utils"
)

// State is the lifecycle state of a connection.
type State int

const (
	StateConnecting State = iota // Outbound connect issued, not yet completed
	StateOpen                    // Exchanging data
	StateClosed                  // Socket released; terminal
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Removal is the bitmask of reasons a connection is scheduled for teardown.
// A non-zero value means the next sweep unregisters and releases it.
type Removal uint8

const (
	RemoveError   Removal = 1 << iota // Read/write error, reset, or peer closed
	RemoveTimeout                     // Idle deadline passed
	RemoveClose                       // Closed explicitly by the application
	RemoveFraming                     // Receive buffer overflow or malformed frame
)

// String lists the set reasons, e.g. "error|framing".
func (r Removal) String() string {
	if r == 0 {
		return "none"
	}

	var parts []string
	for _, reason := range []struct {
		bit  Removal
		name string
	}{
		{RemoveError, "error"},
		{RemoveTimeout, "timeout"},
		{RemoveClose, "close"},
		{RemoveFraming, "framing"},
	} {
		if r&reason.bit != 0 {
			parts = append(parts, reason.name)
		}
	}

	return strings.Join(parts, "|")
}

// Conn owns one non-blocking socket. It buffers received bytes until complete
// frames are available, queues them on its inbound FIFO in arrival order, and
// drains its outbound FIFO whenever the socket is writable.
type Conn struct {
	id       uint32
	fd       int
	peerIP   net.IP
	peerPort int
	internal bool
	created  time.Time

	capacity int
	recvBuf  []byte
	recvEnd  int

	out     *queue.Queue
	sendOfs int
	in      *queue.Queue

	timeout    time.Duration
	timeoutSet bool
	deadline   time.Time

	mode      packet.Mode
	drainThen bool
	removal   Removal
	state     State
	listening bool

	manager *Manager
	now     func() time.Time
	log     logger.Logger
}

func newConn(fd int, state State) *Conn {
	return &Conn{
		fd:       fd,
		state:    state,
		capacity: packet.DefaultCapacity,
		out:      queue.New(),
		in:       queue.New(),
		now:      time.Now,
		log:      logger.NewNopLogger(),
		created:  time.Now(),
	}
}

// NewConn returns a connection without a socket, ready for Connect.
func NewConn() *Conn {
	return newConn(-1, StateConnecting)
}

// NewConnFromFD adopts an already connected socket. The descriptor is switched
// to non-blocking mode and owned by the connection from now on.
//
// Parameters:
//   - fd: A connected stream socket descriptor
//
// Returns:
//   - An open connection, or an error if the descriptor cannot be made non-blocking
func NewConnFromFD(fd int) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}

	c := newConn(fd, StateOpen)
	if sa, err := unix.Getpeername(fd); err == nil {
		c.peerIP, c.peerPort = sockaddrIP(sa)
	}

	return c, nil
}

// Base returns c itself; it lets types embedding *Conn satisfy Socket.
func (c *Conn) Base() *Conn {
	return c
}

// ID returns the id assigned by the manager, or 0 while unregistered.
func (c *Conn) ID() uint32 {
	return c.id
}

// Fd returns the socket descriptor, or -1 when there is none.
func (c *Conn) Fd() int {
	return c.fd
}

// PeerIP returns the peer address, or nil when unknown.
func (c *Conn) PeerIP() net.IP {
	return c.peerIP
}

// PeerAddr returns the peer as "host:port", or "" when unknown.
func (c *Conn) PeerAddr() string {
	if c.peerIP == nil {
		return ""
	}

	return net.JoinHostPort(c.peerIP.String(), fmt.Sprint(c.peerPort))
}

// Internal reports whether the peer was classified inside the trusted subnet.
func (c *Conn) Internal() bool {
	return c.internal
}

// State returns the lifecycle state.
func (c *Conn) State() State {
	return c.state
}

// Mode returns the framing protocol detected for this connection.
func (c *Conn) Mode() packet.Mode {
	return c.mode
}

// Removal returns the removal flag; non-zero means teardown at the next sweep.
func (c *Conn) Removal() Removal {
	return c.removal
}

// Age returns how long the connection has been registered.
func (c *Conn) Age() time.Duration {
	return c.now().Sub(c.created)
}

// Flag schedules the connection for teardown at the next sweep.
func (c *Conn) Flag(reason Removal) {
	if c.removal == 0 && reason != 0 {
		c.log.Debug("connection flagged for removal", logger.Field{Key: "reason", Value: reason.String()})
	}

	c.removal |= reason
}

// Close flags the connection for removal. The socket is released by the
// manager's next sweep, never inside a dispatch.
func (c *Conn) Close() {
	c.Flag(RemoveClose)
}

// CloseWhenDrained closes the connection once every queued packet has been
// written, e.g. after an HTTP response carrying "Connection: close".
func (c *Conn) CloseWhenDrained() {
	if !c.HasOutput() {
		c.Close()
		return
	}

	c.drainThen = true
}

// SetTimeout sets the idle timeout and arms the deadline from now. A
// non-positive duration disables the timeout.
//
// Parameters:
//   - d: The idle timeout
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeoutSet = true
	if d <= 0 {
		c.timeout = 0
		c.deadline = time.Time{}
		return
	}

	c.timeout = d
	c.deadline = c.now().Add(d)
}

// ClearTimeout disables the idle timeout.
func (c *Conn) ClearTimeout() {
	c.SetTimeout(0)
}

// Deadline returns the idle deadline, or the zero time when disabled.
func (c *Conn) Deadline() time.Time {
	return c.deadline
}

// Expired reports whether the idle deadline is at or before now.
func (c *Conn) Expired(now time.Time) bool {
	return !c.deadline.IsZero() && !now.Before(c.deadline)
}

func (c *Conn) rearm() {
	if c.timeout > 0 {
		c.deadline = c.now().Add(c.timeout)
	}
}

// HasOutput reports whether packets are waiting to be written.
func (c *Conn) HasOutput() bool {
	return c.out.Length() > 0
}

// wantsWrite reports whether the poll should watch for writability.
func (c *Conn) wantsWrite() bool {
	return c.state == StateConnecting || c.HasOutput()
}

// Pending returns the number of received packets not yet consumed.
func (c *Conn) Pending() int {
	return c.in.Length()
}

// Receive pops the oldest received packet.
//
// Returns:
//   - The packet and true, or nil and false when the inbound queue is empty
func (c *Conn) Receive() (*packet.Packet, bool) {
	if c.in.Length() == 0 {
		return nil, false
	}

	return c.in.Remove().(*packet.Packet), true
}

// Send queues p for writing and re-arms the idle deadline. Ownership of p
// passes to the connection.
//
// Parameters:
//   - p: The packet to send
//
// Returns:
//   - ErrConnectionClosed if the connection is flagged or closed, ErrNotConnected on a listener
func (c *Conn) Send(p *packet.Packet) error {
	if err := c.enqueue(p); err != nil {
		return err
	}

	c.rearm()
	return nil
}

// SendKeepDeadline queues p like Send but leaves the idle deadline untouched,
// so server-initiated traffic does not keep an idle peer alive.
func (c *Conn) SendKeepDeadline(p *packet.Packet) error {
	return c.enqueue(p)
}

func (c *Conn) enqueue(p *packet.Packet) error {
	if c.listening {
		return ErrNotConnected
	}

	if c.removal != 0 || c.state == StateClosed {
		return ErrConnectionClosed
	}

	if p != nil {
		c.out.Add(p)
	}

	return nil
}

// Connect issues a non-blocking connect to ip:port. Completion is observed
// by a later readiness event, which moves the connection to StateOpen.
//
// Parameters:
//   - ip: The IPv4 address to connect to
//   - port: The TCP port
//
// Returns:
//   - nil once the connect is in flight, or an error if it failed immediately
func (c *Conn) Connect(ip net.IP, port int) error {
	if c.fd >= 0 {
		return ErrAlreadyConnected
	}

	sa, err := inet4(ip, port)
	if err != nil {
		return err
	}

	fd, err := openStream()
	if err != nil {
		return err
	}

	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR) {
		_ = unix.Close(fd)
		return fmt.Errorf("connect %s:%d: %w", ip, port, err)
	}

	setNoDelay(fd)
	c.fd = fd
	c.peerIP = ip
	c.peerPort = port
	c.state = StateConnecting
	return nil
}

// finishConnect completes an outbound connect on its first readiness event.
func (c *Conn) finishConnect() bool {
	if err := connectError(c.fd); err != nil {
		c.log.Info("connect failed", logger.Field{Key: "error", Value: err.Error()})
		c.Flag(RemoveError)
		return false
	}

	c.state = StateOpen
	c.rearm()
	c.log.Debug("connected")
	return true
}

// OnReadable reads what the socket has, extracts every complete frame onto the
// inbound queue and compacts the receive buffer. Faults set the removal flag.
//
// Returns:
//   - The number of bytes read
func (c *Conn) OnReadable() int {
	if c.removal != 0 || c.fd < 0 {
		return 0
	}

	if c.state == StateConnecting && !c.finishConnect() {
		return 0
	}

	if c.recvBuf == nil {
		c.recvBuf = make([]byte, c.capacity)
	}

	if !logger.Assert(c.log, c.recvEnd < len(c.recvBuf), logger.Here()) {
		c.Flag(RemoveFraming)
		return 0
	}

	n, err := unix.Read(c.fd, c.recvBuf[c.recvEnd:])
	if err != nil {
		if wouldBlock(err) {
			return 0
		}

		c.log.Debug("read failed", logger.Field{Key: "error", Value: err.Error()})
		c.Flag(RemoveError)
		return 0
	}

	if n <= 0 {
		c.log.Debug("peer closed connection")
		c.Flag(RemoveError)
		return 0
	}

	c.recvEnd += n
	c.rearm()
	c.extract()
	return n
}

// extract moves complete frames from the receive buffer to the inbound queue.
func (c *Conn) extract() {
	if c.mode == packet.ModeUndetermined {
		mode, decided := packet.DetectMode(c.recvBuf[:c.recvEnd])
		if !decided {
			return
		}

		c.mode = mode
		c.log.Debug("protocol detected", logger.Field{Key: "mode", Value: mode.String()})
	}

	begin := 0
	for {
		p, n, err := packet.Extract(c.recvBuf[begin:c.recvEnd], c.mode, len(c.recvBuf))
		if err != nil {
			logger.Log(c.log, "framing", err.Error(), logger.Here())
			c.Flag(RemoveFraming)
			break
		}

		if p == nil {
			break
		}

		c.in.Add(p)
		begin += n
	}

	c.recvEnd = utils.Compact(c.recvBuf, begin, c.recvEnd)
	if c.removal&RemoveFraming == 0 && c.recvEnd == len(c.recvBuf) {
		logger.Log(c.log, "framing", "receive buffer full without a complete frame", logger.Here())
		c.Flag(RemoveFraming)
	}
}

// OnWritable writes as much of the outbound queue as the socket accepts
// without blocking. Fully written packets are popped; a partially written
// front packet keeps its byte cursor for the next call.
//
// Returns:
//   - The number of bytes written
func (c *Conn) OnWritable() int {
	if c.removal != 0 || c.fd < 0 {
		return 0
	}

	if c.state == StateConnecting && !c.finishConnect() {
		return 0
	}

	written := 0
	for c.out.Length() > 0 {
		wire := c.out.Peek().(*packet.Packet).Wire()
		if c.sendOfs < len(wire) {
			n, err := unix.Write(c.fd, wire[c.sendOfs:])
			if err != nil {
				if !wouldBlock(err) {
					c.log.Debug("write failed", logger.Field{Key: "error", Value: err.Error()})
					c.Flag(RemoveError)
				}

				break
			}

			written += n
			c.sendOfs += n
			if c.sendOfs < len(wire) {
				break
			}
		}

		c.out.Remove()
		c.sendOfs = 0
	}

	if c.drainThen && c.out.Length() == 0 {
		c.Close()
	}

	return written
}

// bind attaches the connection to its manager on registration.
func (c *Conn) bind(id uint32, m *Manager) {
	c.id = id
	c.manager = m
	c.now = m.now
	c.capacity = m.cfg.RecvBufferSize
	c.created = m.now()
	c.log = m.log.With(
		logger.Field{Key: "conn", Value: id},
		logger.Field{Key: "peer", Value: c.PeerAddr()},
	)

	if !c.timeoutSet {
		c.SetTimeout(m.cfg.IdleTimeout)
	}
}

// Release closes the socket of a connection that is not registered with a
// manager. Registered connections are released by the manager's sweep.
//
// Returns:
//   - ErrAlreadyRegistered if the connection is still registered
func (c *Conn) Release() error {
	if c.manager != nil {
		return ErrAlreadyRegistered
	}

	c.release()
	return nil
}

// release closes the socket. Only the manager's sweep and Shutdown call it.
func (c *Conn) release() {
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}

	c.state = StateClosed
}
