// Package tcpclient dials outbound peers through a socket manager. The client
// resolves the configured address, issues a non-blocking connect on the poll
// goroutine, reports connection state changes to a handler and can reconnect
// automatically.
package tcpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/packet"
	"github.com/cyberinferno/gamenet/resolver"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client is closed")
	// ErrBusy is returned by Connect while connected or connecting.
	ErrBusy = errors.New("already connected or connecting")
	// ErrNotConnected is returned by Send before the connection is established.
	ErrNotConnected = errors.New("not connected")
)

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Resolving or connect in flight
	Connected                           // Connect completed
	Reconnecting                        // Waiting to retry after a loss (AutoReconnect only)
	Closed                              // Client closed; terminal
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The configured "host:port"
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by a failure
}

// ConnectionStateHandler is called for every state change. Calls are made in
// order, one at a time, off the caller's goroutine.
type ConnectionStateHandler func(event ConnectionStateEvent)

// Config holds configuration for the client.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// AutoReconnect retries after a failed connect or a lost connection.
	AutoReconnect bool
	// ReconnectInterval is the delay before each retry.
	ReconnectInterval time.Duration
	// ConnectionTimeout bounds name resolution and the connect handshake.
	ConnectionTimeout time.Duration
	// IdleTimeout drops an established connection after this long without
	// traffic; 0 disables it.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with AutoReconnect false, ReconnectInterval 5s,
//     ConnectionTimeout 10s and IdleTimeout disabled
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ReconnectInterval: 5 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Client is one outbound connection managed by a socket manager. Its methods
// are safe for concurrent use; socket work is posted to the poll goroutine,
// where packet handlers also run.
type Client struct {
	config   Config
	manager  *netsocket.Manager
	resolver *resolver.Resolver
	log      logger.Logger

	mu                sync.RWMutex
	state             ConnectionState
	closed            bool
	manual            bool
	retry             *time.Timer
	onConnectionState ConnectionStateHandler
	onPacket          netsocket.PacketHandler
	events            *queue.Queue // pending ConnectionStateEvents
	delivering        bool

	// Touched only on the poll goroutine.
	sock *clientSocket
}

// New creates a client in the Disconnected state.
//
// Parameters:
//   - config: Connection settings, e.g. from DefaultConfig
//   - m: The socket manager whose poll loop drives the connection
//   - r: Resolves the configured host; nil uses the system resolver with a private cache
//   - log: The logger; nil discards output
//
// Returns:
//   - A new Client; call Connect to start
func New(config Config, m *netsocket.Manager, r *resolver.Resolver, log logger.Logger) *Client {
	if r == nil {
		r = resolver.New(nil, nil, 0, log)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Client{
		config:   config,
		manager:  m,
		resolver: r,
		log:      log.With(logger.Field{Key: "client", Value: config.Address}),
		state:    Disconnected,
		events:   queue.New(),
	}
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnPacket registers the handler for received packets, replacing any previous
// one. It runs on the poll goroutine.
func (c *Client) OnPacket(handler netsocket.PacketHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket = handler
}

// Connect resolves the configured address and starts a non-blocking connect.
// It returns once the connect is queued; completion is reported through the
// state handler.
//
// Parameters:
//   - ctx: Bounds name resolution
//
// Returns:
//   - ErrClosed, ErrBusy, or an address or resolution error
func (c *Client) Connect(ctx context.Context) error {
	host, portText, err := net.SplitHostPort(c.config.Address)
	if err != nil {
		return fmt.Errorf("address %q: %w", c.config.Address, err)
	}

	port, err := strconv.Atoi(portText)
	if err != nil {
		return fmt.Errorf("port %q: %w", portText, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrBusy
	}

	c.manual = false
	c.stopRetry()
	c.state = Connecting
	c.emitConnectionState(Connecting, nil)
	c.mu.Unlock()

	if c.config.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectionTimeout)
		defer cancel()
	}

	ip, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		c.lost(err)
		return err
	}

	if err := c.manager.Post(func(m *netsocket.Manager) { c.dial(m, ip, port) }); err != nil {
		c.setState(Disconnected, err)
		return err
	}

	return nil
}

func (c *Client) dial(m *netsocket.Manager, ip net.IP, port int) {
	if c.isClosed() || c.sock != nil {
		return
	}

	conn := netsocket.NewConn()
	if err := conn.Connect(ip, port); err != nil {
		c.lost(err)
		return
	}

	conn.SetTimeout(c.config.ConnectionTimeout)
	sock := &clientSocket{
		EventSocket: netsocket.NewEventSocket(conn, netsocket.PacketHandlerFunc(c.deliver)),
		client:      c,
	}

	if _, err := m.AddSocket(sock); err != nil {
		_ = conn.Release()
		c.lost(err)
		return
	}

	c.sock = sock
}

func (c *Client) deliver(conn *netsocket.Conn, p *packet.Packet) {
	c.mu.RLock()
	handler := c.onPacket
	c.mu.RUnlock()

	if handler != nil {
		handler.HandlePacket(conn, p)
	}
}

// Send queues p on the connection.
//
// Returns:
//   - ErrNotConnected unless the client is Connected
func (c *Client) Send(p *packet.Packet) error {
	if c.State() != Connected {
		return ErrNotConnected
	}

	return c.manager.Post(func(*netsocket.Manager) {
		if c.sock != nil {
			if err := c.sock.Send(p); err != nil {
				c.log.Debug("send dropped", logger.Field{Key: "error", Value: err.Error()})
			}
		}
	})
}

// Disconnect closes the current connection without reconnecting. Connect may
// be called again afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	c.stopRetry()
	c.mu.Unlock()

	return c.manager.Post(func(*netsocket.Manager) {
		if c.sock != nil {
			c.sock.Close()
		}
	})
}

// Close shuts the client down for good. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.stopRetry()
	c.mu.Unlock()

	_ = c.manager.Post(func(*netsocket.Manager) {
		if c.sock != nil {
			c.sock.Close()
		}
	})

	c.setState(Closed, nil)
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// lost records a failed connect or a dropped connection and schedules a retry.
func (c *Client) lost(err error) {
	if c.isClosed() {
		return
	}

	c.log.Info("connection lost", logger.Field{Key: "error", Value: err.Error()})
	c.setState(Disconnected, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.config.AutoReconnect || c.closed || c.manual {
		return
	}

	c.stopRetry()
	c.retry = time.AfterFunc(c.config.ReconnectInterval, func() {
		if err := c.Connect(context.Background()); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrBusy) {
			c.log.Debug("reconnect failed", logger.Field{Key: "error", Value: err.Error()})
		}
	})

	c.state = Reconnecting
	c.emitConnectionState(Reconnecting, nil)
}

// stopRetry cancels a pending reconnect. Callers hold c.mu.
func (c *Client) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.emitConnectionState(state, err)
	c.mu.Unlock()
}

// emitConnectionState queues the event for the delivery goroutine, starting
// one if none is running. Callers hold c.mu.
func (c *Client) emitConnectionState(state ConnectionState, err error) {
	if c.onConnectionState == nil {
		return
	}

	c.events.Add(ConnectionStateEvent{
		State:     state,
		Address:   c.config.Address,
		Timestamp: time.Now(),
		Error:     err,
	})

	if !c.delivering {
		c.delivering = true
		go c.deliverEvents()
	}
}

// deliverEvents hands queued events to the handler until the queue is empty.
func (c *Client) deliverEvents() {
	for {
		c.mu.Lock()
		if c.events.Length() == 0 {
			c.delivering = false
			c.mu.Unlock()
			return
		}

		e := c.events.Remove().(ConnectionStateEvent)
		handler := c.onConnectionState
		c.mu.Unlock()

		if handler != nil {
			handler(e)
		}
	}
}

// clientSocket is the client's event socket; it reports the connect handshake
// completing and the socket being swept.
type clientSocket struct {
	*netsocket.EventSocket
	client *Client
}

func (s *clientSocket) OnReadable() int {
	n := s.EventSocket.OnReadable()
	s.established()
	return n
}

func (s *clientSocket) OnWritable() int {
	n := s.EventSocket.OnWritable()
	s.established()
	return n
}

func (s *clientSocket) established() {
	if s.State() != netsocket.StateOpen || s.Removal() != 0 || s.client.State() != Connecting {
		return
	}

	s.SetTimeout(s.client.config.IdleTimeout)
	s.client.setState(Connected, nil)
}

// OnRemoved is called by the manager's sweep once the socket is released.
func (s *clientSocket) OnRemoved(reason netsocket.Removal) {
	c := s.client
	if c.sock == s {
		c.sock = nil
	}

	c.mu.RLock()
	manual := c.manual
	c.mu.RUnlock()

	if manual {
		c.setState(Disconnected, nil)
		return
	}

	c.lost(fmt.Errorf("connection removed: %s", reason))
}
