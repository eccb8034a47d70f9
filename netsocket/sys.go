package netsocket

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const (
	listenBacklog = 128
	acceptBatch   = 64
)

// wouldBlock reports errors that mean "try again on the next readiness event".
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// openStream creates a non-blocking, close-on-exec IPv4 TCP socket.
func openStream() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("set non-blocking: %w", err)
	}

	return fd, nil
}

// listenStream opens a non-blocking listening socket on every IPv4 interface.
// Port 0 picks an ephemeral port; the bound port is returned.
func listenStream(port int) (int, int, error) {
	fd, err := openStream()
	if err != nil {
		return -1, 0, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("bind port %d: %w", port, err)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("listen port %d: %w", port, err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("getsockname: %w", err)
	}

	_, bound := sockaddrIP(sa)
	return fd, bound, nil
}

// acceptStream accepts one pending peer and makes it non-blocking.
func acceptStream(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}

	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, fmt.Errorf("set non-blocking: %w", err)
	}

	setNoDelay(nfd)
	return nfd, sa, nil
}

// setNoDelay disables Nagle coalescing; small game packets go out immediately.
func setNoDelay(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// connectError returns the pending error of a non-blocking connect, if any.
func connectError(fd int) error {
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}

	if soErr != 0 {
		return unix.Errno(soErr)
	}

	return nil
}

func sockaddrIP(sa unix.Sockaddr) (net.IP, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), a.Port
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return ip, a.Port
	default:
		return nil, 0
	}
}

func inet4(ip net.IP, port int) (*unix.SockaddrInet4, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("%v is not an IPv4 address", ip)
	}

	if port <= 0 || port > 0xFFFF {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], v4)
	return sa, nil
}

// pollMillis converts a poll timeout to poll(2) milliseconds, rounding
// sub-millisecond waits up so a positive timeout never busy-spins.
func pollMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}

	ms := int(d / time.Millisecond)
	if ms == 0 && d > 0 {
		return 1
	}

	return ms
}

// wakePipe is a self-pipe that interrupts a blocked poll when work is posted.
type wakePipe struct {
	r, w int
}

func newWakePipe() (*wakePipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}

	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, fmt.Errorf("set non-blocking: %w", err)
		}
	}

	return &wakePipe{r: fds[0], w: fds[1]}, nil
}

// signal never blocks; a full pipe already guarantees a wakeup.
func (p *wakePipe) signal() {
	_, _ = unix.Write(p.w, []byte{1})
}

func (p *wakePipe) drain() {
	var buf [64]byte
	for {
		if n, err := unix.Read(p.r, buf[:]); n <= 0 || err != nil {
			return
		}
	}
}

func (p *wakePipe) close() {
	_ = unix.Close(p.r)
	_ = unix.Close(p.w)
}
