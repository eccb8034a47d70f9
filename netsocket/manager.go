package netsocket

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/cyberinferno/gamenet/idgenerator"
	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/packet"
	"github.com/cyberinferno/gamenet/perfmonitor"
	"github.com/cyberinferno/gamenet/safemap"
	"github.com/cyberinferno/gamenet/utils"
)

// Stats is a point-in-time view of the manager's accounting counters.
type Stats struct {
	BytesIn   uint64 `json:"bytes_in"`
	BytesOut  uint64 `json:"bytes_out"`
	Open      int    `json:"open"`
	Listeners int    `json:"listeners"`
}

// ConnInfo describes one registered connection.
type ConnInfo struct {
	ID       uint32        `json:"id"`
	Peer     string        `json:"peer"`
	Internal bool          `json:"internal"`
	Listener bool          `json:"listener"`
	Mode     string        `json:"mode"`
	State    string        `json:"state"`
	Pending  int           `json:"pending"`
	Age      time.Duration `json:"age"`
}

// Manager owns every registered socket and runs the poll, dispatch and sweep
// cycle over them. Connections live in one id-keyed store; order is a derived
// list of the same ids kept in registration order for building the poll set.
type Manager struct {
	cfg Config
	log logger.Logger

	conns     *safemap.SafeMap[uint32, Socket]
	order     []uint32
	ids       *idgenerator.IdGenerator
	listeners atomic.Int32
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64

	mu      sync.Mutex
	mailbox *queue.Queue
	closed  bool
	wake    *wakePipe

	perf        *perfmonitor.PerformanceMonitor
	now         func() time.Time
	pollFds     []unix.PollFd
	pollSockets []Socket
	retiring    []Socket
}

// NewManager creates a socket manager.
//
// Parameters:
//   - cfg: The manager configuration; zero fields take their defaults
//   - log: The logger; nil discards output
//
// Returns:
//   - A new Manager, or an error if the wakeup pipe cannot be created
func NewManager(cfg Config, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	wake, err := newWakePipe()
	if err != nil {
		return nil, fmt.Errorf("create socket manager: %w", err)
	}

	return &Manager{
		cfg:     cfg.withDefaults(),
		log:     log.With(logger.Field{Key: "component", Value: "netsocket"}),
		conns:   safemap.NewSafeMap[uint32, Socket](),
		ids:     idgenerator.NewIdGenerator(0),
		mailbox: queue.New(),
		wake:    wake,
		perf:    perfmonitor.NewPerformanceMonitor(),
		now:     time.Now,
	}, nil
}

// AddSocket registers s and assigns it the next unused id. Listeners do not
// count against the open-connection ceiling.
//
// Parameters:
//   - s: The socket to register; it must own a descriptor
//
// Returns:
//   - The assigned id
//   - ErrCapacityExceeded at the ceiling, in which case s is left unregistered
//   - ErrManagerClosed once Shutdown has started
func (m *Manager) AddSocket(s Socket) (uint32, error) {
	c := s.Base()
	if c.manager != nil {
		return 0, ErrAlreadyRegistered
	}

	if c.fd < 0 {
		return 0, ErrNotConnected
	}

	if m.isClosed() {
		return 0, ErrManagerClosed
	}

	if !c.listening && m.cfg.MaxOpenSockets > 0 && m.open() >= m.cfg.MaxOpenSockets {
		m.cfg.Observer.Rejected()
		m.log.Warn("connection rejected",
			logger.Field{Key: "peer", Value: c.PeerAddr()},
			logger.Field{Key: "limit", Value: m.cfg.MaxOpenSockets},
		)
		return 0, ErrCapacityExceeded
	}

	id, ok := m.ids.Next(m.conns.Has)
	if !ok {
		return 0, ErrCapacityExceeded
	}

	if !m.conns.StoreIfAbsent(id, s) {
		return 0, ErrAlreadyRegistered
	}

	c.bind(id, m)
	m.order = append(m.order, id)

	if c.listening {
		m.listeners.Add(1)
	} else {
		m.cfg.Observer.Opened()
	}

	c.log.Debug("socket registered", logger.Field{Key: "internal", Value: c.internal})
	return id, nil
}

// RemoveSocket unregisters s without releasing its descriptor.
//
// Returns:
//   - ErrNotRegistered if s is not registered with this manager
func (m *Manager) RemoveSocket(s Socket) error {
	c := s.Base()
	if !m.unregister(c) {
		return ErrNotRegistered
	}

	if i := slices.Index(m.order, c.id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}

	return nil
}

func (m *Manager) unregister(c *Conn) bool {
	if c.manager != m {
		return false
	}

	current, ok := m.conns.LoadAndDelete(c.id)
	if !ok {
		return false
	}

	logger.Assert(m.log, current.Base() == c, logger.Here())
	c.manager = nil
	if c.listening {
		m.listeners.Add(-1)
	}

	return true
}

// FindSocket returns the socket registered under id.
func (m *Manager) FindSocket(id uint32) (Socket, bool) {
	return m.conns.Load(id)
}

// Send queues p on the connection registered under id.
//
// Parameters:
//   - id: The connection id
//   - p: The packet to send
//
// Returns:
//   - false if id is unknown or the connection no longer accepts output
func (m *Manager) Send(id uint32, p *packet.Packet) bool {
	s, ok := m.conns.Load(id)
	if !ok {
		return false
	}

	return s.Base().Send(p) == nil
}

// PeerIP returns the peer address of the connection registered under id.
func (m *Manager) PeerIP(id uint32) (net.IP, bool) {
	s, ok := m.conns.Load(id)
	if !ok {
		return nil, false
	}

	return s.Base().PeerIP(), true
}

// IsInternal reports whether ip lies inside the trusted subnet.
func (m *Manager) IsInternal(ip net.IP) bool {
	return ip != nil && m.cfg.TrustedSubnet != nil && m.cfg.TrustedSubnet.Contains(ip)
}

// Len returns the number of registered sockets, listeners included.
func (m *Manager) Len() int {
	return m.conns.Len()
}

func (m *Manager) open() int {
	return m.conns.Len() - int(m.listeners.Load())
}

// Stats returns the accounting counters. It is safe to call from any goroutine.
func (m *Manager) Stats() Stats {
	return Stats{
		BytesIn:   m.bytesIn.Load(),
		BytesOut:  m.bytesOut.Load(),
		Open:      m.open(),
		Listeners: int(m.listeners.Load()),
	}
}

// Connections describes every registered socket in registration order. Call
// it from the poll goroutine, typically inside a function passed to Post.
func (m *Manager) Connections() []ConnInfo {
	infos := make([]ConnInfo, 0, len(m.order))
	for _, id := range m.order {
		s, ok := m.conns.Load(id)
		if !ok {
			continue
		}

		c := s.Base()
		infos = append(infos, ConnInfo{
			ID:       c.id,
			Peer:     c.PeerAddr(),
			Internal: c.internal,
			Listener: c.listening,
			Mode:     c.mode.String(),
			State:    c.state.String(),
			Pending:  c.Pending(),
			Age:      c.Age(),
		})
	}

	return infos
}

// Post queues fn to run on the poll goroutine at the start of the next
// DoSelect and wakes a poll that is currently blocked. It is the only way for
// other goroutines to touch connections.
//
// Returns:
//   - ErrManagerClosed after Shutdown
func (m *Manager) Post(fn func(m *Manager)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	m.mailbox.Add(fn)
	m.wake.signal()
	m.mu.Unlock()
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) runMailbox() {
	m.mu.Lock()
	jobs := make([]func(*Manager), 0, m.mailbox.Length())
	for m.mailbox.Length() > 0 {
		jobs = append(jobs, m.mailbox.Remove().(func(*Manager)))
	}
	m.mu.Unlock()

	for _, job := range jobs {
		job(m)
	}
}

// DoSelect runs one cycle: queued work, one readiness poll bounded by timeout,
// dispatch to the ready sockets, then the sweep that flags expired sockets and
// releases every flagged one. The wait is shortened to the nearest idle
// deadline. Per-connection faults never surface here; they flag the socket.
//
// Parameters:
//   - timeout: The longest time to wait for readiness; negative waits indefinitely
//   - handleInput: Whether readable sockets are read during this cycle
//
// Returns:
//   - An error if the poll itself failed; the sweep still runs
//   - ErrManagerClosed after Shutdown
func (m *Manager) DoSelect(timeout time.Duration, handleInput bool) error {
	if m.isClosed() {
		return ErrManagerClosed
	}

	m.perf.Start()
	defer m.endCycle()

	m.runMailbox()

	wait := m.buildPollSet(timeout)
	_, err := unix.Poll(m.pollFds, wait)
	if err != nil && !errors.Is(err, unix.EINTR) {
		err = fmt.Errorf("poll %d sockets: %w", len(m.pollSockets), err)
	} else {
		err = nil
		m.dispatch(handleInput)
	}

	clear(m.pollSockets)
	m.sweep()
	return err
}

// buildPollSet fills the poll set and returns the wait in milliseconds.
func (m *Manager) buildPollSet(timeout time.Duration) int {
	m.pollFds = append(m.pollFds[:0], unix.PollFd{Fd: int32(m.wake.r), Events: unix.POLLIN})
	m.pollSockets = m.pollSockets[:0]

	now := m.now()
	wait := pollMillis(timeout)
	for _, id := range m.order {
		s, ok := m.conns.Load(id)
		if !ok {
			continue
		}

		c := s.Base()
		if c.removal != 0 || c.fd < 0 {
			wait = 0
			continue
		}

		events := int16(unix.POLLIN)
		if c.wantsWrite() {
			events |= unix.POLLOUT
		}

		m.pollFds = append(m.pollFds, unix.PollFd{Fd: int32(c.fd), Events: events})
		m.pollSockets = append(m.pollSockets, s)

		if ms := utils.MillisUntil(now, c.deadline); ms >= 0 && (wait < 0 || ms < wait) {
			wait = ms
		}
	}

	return wait
}

func (m *Manager) dispatch(handleInput bool) {
	if m.pollFds[0].Revents != 0 {
		m.wake.drain()
	}

	for i, s := range m.pollSockets {
		revents := m.pollFds[i+1].Revents
		if revents == 0 {
			continue
		}

		c := s.Base()
		if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			c.Flag(RemoveError)
			continue
		}

		if revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			if handleInput {
				m.countIn(s.OnReadable())
			} else if revents&unix.POLLIN == 0 {
				c.Flag(RemoveError)
			}
		}

		if revents&unix.POLLOUT != 0 && c.removal == 0 {
			m.countOut(s.OnWritable())
		}
	}
}

func (m *Manager) countIn(n int) {
	if n > 0 {
		m.bytesIn.Add(uint64(n))
		m.cfg.Observer.BytesIn(n)
	}
}

func (m *Manager) countOut(n int) {
	if n > 0 {
		m.bytesOut.Add(uint64(n))
		m.cfg.Observer.BytesOut(n)
	}
}

// sweep flags expired sockets, then unregisters and releases flagged ones.
// The iteration view is rebuilt before any socket is retired, so OnRemoved
// may register or remove sockets.
func (m *Manager) sweep() {
	now := m.now()
	kept := m.order[:0]
	for _, id := range m.order {
		s, ok := m.conns.Load(id)
		if !ok {
			continue
		}

		c := s.Base()
		if c.removal == 0 && c.Expired(now) {
			c.Flag(RemoveTimeout)
		}

		if c.removal == 0 {
			kept = append(kept, id)
			continue
		}

		m.retiring = append(m.retiring, s)
	}

	clear(m.order[len(kept):])
	m.order = kept

	retiring := m.retiring
	m.retiring = nil
	for _, s := range retiring {
		m.retire(s)
	}

	clear(retiring)
	m.retiring = retiring[:0]
}

func (m *Manager) retire(s Socket) {
	c := s.Base()
	listening := c.listening
	reason := c.removal
	if !m.unregister(c) {
		return
	}

	c.release()
	c.log.Debug("socket released", logger.Field{Key: "reason", Value: reason.String()})
	if !listening {
		m.cfg.Observer.Closed(reason)
	}

	if n, ok := s.(RemovalNotifier); ok {
		n.OnRemoved(reason)
	}
}

func (m *Manager) endCycle() {
	m.perf.Stop()
	elapsed := m.perf.Elapsed()
	m.cfg.Observer.PollCycle(elapsed)

	if m.cfg.SlowCycle > 0 && elapsed > m.cfg.SlowCycle {
		m.log.Warn("slow poll cycle",
			logger.Field{Key: "elapsed_ms", Value: m.perf.ElapsedMilliseconds()},
			logger.Field{Key: "sockets", Value: len(m.order)},
		)
	}
}

// Shutdown releases every registered socket and the wakeup pipe. Later Post
// calls fail with ErrManagerClosed. Call it from the poll goroutine once the
// loop has stopped.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	m.closed = true
	m.mu.Unlock()

	m.conns.Range(func(_ uint32, s Socket) bool {
		s.Base().Flag(RemoveClose)
		m.retire(s)
		return true
	})

	m.order = nil
	m.wake.close()
	m.log.Info("socket manager shut down")
}
