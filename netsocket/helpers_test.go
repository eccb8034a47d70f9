package netsocket

import (
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type recordingObserver struct {
	mu       sync.Mutex
	in       int
	out      int
	opened   int
	rejected int
	cycles   int
	closed   []Removal
}

func (o *recordingObserver) BytesIn(n int)  { o.mu.Lock(); o.in += n; o.mu.Unlock() }
func (o *recordingObserver) BytesOut(n int) { o.mu.Lock(); o.out += n; o.mu.Unlock() }
func (o *recordingObserver) Opened()        { o.mu.Lock(); o.opened++; o.mu.Unlock() }
func (o *recordingObserver) Rejected()      { o.mu.Lock(); o.rejected++; o.mu.Unlock() }

func (o *recordingObserver) Closed(reason Removal) {
	o.mu.Lock()
	o.closed = append(o.closed, reason)
	o.mu.Unlock()
}

func (o *recordingObserver) PollCycle(time.Duration) {
	o.mu.Lock()
	o.cycles++
	o.mu.Unlock()
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeClock) {
	t.Helper()

	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clock.Now
	t.Cleanup(m.Shutdown)
	return m, clock
}

// socketPair returns a connection over one end of a unix stream pair and a
// net.Conn over the other end acting as the remote peer.
func socketPair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	c, err := NewConnFromFD(fds[0])
	require.NoError(t, err)

	f := os.NewFile(uintptr(fds[1]), "peer")
	peer, err := net.FileConn(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)

	t.Cleanup(func() { _ = peer.Close() })
	return c, peer
}

func writePeer(t *testing.T, peer net.Conn, b []byte) {
	t.Helper()
	_, err := peer.Write(b)
	require.NoError(t, err)
}

func readPeer(t *testing.T, peer net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, n)
	_, err := io.ReadFull(peer, buf)
	require.NoError(t, err)
	return buf
}

// pumpUntil runs poll cycles until cond holds or the attempts run out.
func pumpUntil(t *testing.T, m *Manager, cond func() bool) {
	t.Helper()

	for range 100 {
		require.NoError(t, m.DoSelect(50*time.Millisecond, true))
		if cond() {
			return
		}
	}

	t.Fatal("condition not reached")
}
