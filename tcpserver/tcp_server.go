// Package tcpserver bootstraps a listening socket core: it owns a socket
// manager, registers a listener on the configured port and runs the poll loop
// until stopped.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/packet"
)

// Config holds the settings of a TCPServer.
type Config struct {
	// Name identifies the server in logs.
	Name string
	// Port is the TCP port to listen on; 0 picks an ephemeral port.
	Port int
	// PollInterval bounds each readiness wait so the loop notices Stop.
	PollInterval time.Duration
	// Manager configures the socket manager.
	Manager netsocket.Config
}

// DefaultConfig returns a Config with a 100ms poll interval and the default
// manager settings.
//
// Parameters:
//   - name: The server name used in logs
//   - port: The TCP port to listen on
//
// Returns:
//   - A Config ready to adjust and pass to New
func DefaultConfig(name string, port int) Config {
	return Config{
		Name:         name,
		Port:         port,
		PollInterval: 100 * time.Millisecond,
		Manager:      netsocket.DefaultConfig(),
	}
}

// TCPServer accepts peers on one port and hands each connection's packets to
// the session created for it by NewSession. All sessions run on the poll
// goroutine inside Run.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Port       int
	Manager    *netsocket.Manager
	Listener   *netsocket.Listener
	Running    atomic.Bool
	NewSession NewSessionFunc

	pollInterval time.Duration
	done         chan struct{}
}

// New creates a server and its socket manager. The port is not bound until Start.
//
// Parameters:
//   - cfg: The server configuration
//   - newSession: Creates the session for each accepted connection
//   - log: The logger; nil discards output
//
// Returns:
//   - The server, or an error if the socket manager cannot be created
func New(cfg Config, newSession NewSessionFunc, log logger.Logger) (*TCPServer, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	log = log.With(logger.Field{Key: "server", Value: cfg.Name})
	m, err := netsocket.NewManager(cfg.Manager, log)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", cfg.Name, err)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	return &TCPServer{
		Logger:       log,
		Name:         cfg.Name,
		Port:         cfg.Port,
		Manager:      m,
		NewSession:   newSession,
		pollInterval: cfg.PollInterval,
		done:         make(chan struct{}),
	}, nil
}

// Start binds the port and registers the listener. Port is updated to the
// bound port. Call Run afterwards to serve.
//
// Returns:
//   - An error if the server is already running or the port cannot be bound
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	l, err := netsocket.NewListener(s.Port, s.accept)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	if _, err := s.Manager.AddSocket(l); err != nil {
		_ = l.Release()
		return fmt.Errorf("server %s failed to register listener: %w", s.Name, err)
	}

	s.Listener = l
	s.Port = l.Port()
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "port", Value: s.Port})
	return nil
}

func (s *TCPServer) accept(c *netsocket.Conn) netsocket.Socket {
	return netsocket.NewEventSocket(c, s.NewSession(c))
}

// Run drives the poll loop on the calling goroutine until Stop is called or
// ctx ends, then releases every socket.
//
// Parameters:
//   - ctx: Stops the loop when done
//
// Returns:
//   - An error if the server was not started
func (s *TCPServer) Run(ctx context.Context) error {
	if !s.Running.Load() {
		return fmt.Errorf("server %s not started", s.Name)
	}

	defer close(s.done)
	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	for s.Running.Load() {
		if err := s.Manager.DoSelect(s.pollInterval, true); err != nil {
			if errors.Is(err, netsocket.ErrManagerClosed) {
				break
			}

			s.Logger.Error(fmt.Sprintf("%s server poll error", s.Name), logger.Field{Key: "error", Value: err.Error()})
		}
	}

	s.Manager.Shutdown()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
	return nil
}

// Stop asks Run to return and wakes its poll. It is safe to call from any
// goroutine and when the server is not running.
func (s *TCPServer) Stop() {
	if !s.Running.Swap(false) {
		return
	}

	_ = s.Manager.Post(func(*netsocket.Manager) {})
}

// Done is closed once Run has returned.
func (s *TCPServer) Done() <-chan struct{} {
	return s.done
}

// Send queues p for the connection id. It is safe to call from any goroutine;
// the packet is handed over on the poll goroutine.
//
// Parameters:
//   - id: The connection id
//   - p: The packet to send
//
// Returns:
//   - An error if the server is shut down
func (s *TCPServer) Send(id uint32, p *packet.Packet) error {
	return s.Manager.Post(func(m *netsocket.Manager) {
		if !m.Send(id, p) {
			s.Logger.Debug("send to unknown connection", logger.Field{Key: "conn", Value: id})
		}
	})
}

// Kick closes the connection id from any goroutine.
func (s *TCPServer) Kick(id uint32) error {
	return s.Manager.Post(func(m *netsocket.Manager) {
		if sock, ok := m.FindSocket(id); ok {
			sock.Base().Close()
		}
	})
}

// Stats returns the socket manager counters.
func (s *TCPServer) Stats() netsocket.Stats {
	return s.Manager.Stats()
}
