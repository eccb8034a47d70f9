package tcpclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/packet"
)

// runLoop registers an echo listener and drives the manager on its own
// goroutine until the test ends.
func runLoop(t *testing.T) (*netsocket.Manager, int) {
	t.Helper()

	m, err := netsocket.NewManager(netsocket.DefaultConfig(), nil)
	require.NoError(t, err)

	echo := netsocket.PacketHandlerFunc(func(c *netsocket.Conn, p *packet.Packet) {
		_ = c.Send(packet.NewText("echo:" + p.Text()))
	})
	l, err := netsocket.NewListener(0, func(c *netsocket.Conn) netsocket.Socket {
		return netsocket.NewEventSocket(c, echo)
	})
	require.NoError(t, err)
	_, err = m.AddSocket(l)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			_ = m.DoSelect(20*time.Millisecond, true)
		}
		m.Shutdown()
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return m, l.Port()
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(e ConnectionStateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, e.State)
}

func (r *stateRecorder) seen(s ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}

	return false
}

func (r *stateRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Reconnecting", Reconnecting.String())
	assert.Equal(t, "Unknown", ConnectionState(42).String())
}

func TestClient_ConnectSendDisconnect(t *testing.T) {
	m, port := runLoop(t)

	c := New(DefaultConfig(fmt.Sprintf("127.0.0.1:%d", port)), m, nil, nil)
	defer c.Close()

	received := make(chan string, 1)
	c.OnPacket(netsocket.PacketHandlerFunc(func(_ *netsocket.Conn, p *packet.Packet) {
		received <- p.Text()
	}))

	assert.ErrorIs(t, c.Send(packet.NewText("early")), ErrNotConnected)
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrBusy)

	require.NoError(t, c.Send(packet.NewText("hello")))
	select {
	case got := <-received:
		assert.Equal(t, "echo:hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}

	require.NoError(t, c.Disconnect())
	require.Eventually(t, func() bool { return c.State() == Disconnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
}

func TestClient_RefusedWithReconnect(t *testing.T) {
	m, _ := runLoop(t)

	closedPort := func() int {
		l, err := netsocket.NewListener(0, nil)
		require.NoError(t, err)
		defer func() { _ = l.Release() }()
		return l.Port()
	}()

	cfg := DefaultConfig(fmt.Sprintf("127.0.0.1:%d", closedPort))
	cfg.AutoReconnect = true
	cfg.ReconnectInterval = 50 * time.Millisecond
	c := New(cfg, m, nil, nil)

	rec := &stateRecorder{}
	c.OnConnectionState(rec.record)

	err := c.Connect(context.Background())
	if err != nil {
		assert.NotErrorIs(t, err, ErrBusy)
	}

	require.Eventually(t, func() bool { return rec.seen(Reconnecting) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.IsConnected())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestClient_BadAddress(t *testing.T) {
	m, _ := runLoop(t)

	c := New(DefaultConfig("no-port"), m, nil, nil)
	assert.Error(t, c.Connect(context.Background()))
	assert.Equal(t, Disconnected, c.State())

	c = New(DefaultConfig("127.0.0.1:http-ish"), m, nil, nil)
	assert.Error(t, c.Connect(context.Background()))
}

func TestClient_StateEventsDeliveredInOrder(t *testing.T) {
	c := New(DefaultConfig("127.0.0.1:1"), nil, nil, nil)

	var running, overlapped atomic.Int32
	rec := &stateRecorder{}
	c.OnConnectionState(func(e ConnectionStateEvent) {
		if running.Add(1) > 1 {
			overlapped.Add(1)
		}
		defer running.Add(-1)

		// A slow first handler call gives later events every chance to overtake it.
		if e.State == Connecting && len(rec.snapshot()) == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		rec.record(e)
	})

	sequence := []ConnectionState{Connecting, Connected, Disconnected, Reconnecting, Connecting, Connected, Closed}
	var want []ConnectionState
	for range 20 {
		for _, s := range sequence {
			c.setState(s, nil)
			want = append(want, s)
		}
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
	assert.Zero(t, overlapped.Load())
}

func TestClient_ConnectCycleEventOrder(t *testing.T) {
	m, port := runLoop(t)

	c := New(DefaultConfig(fmt.Sprintf("127.0.0.1:%d", port)), m, nil, nil)

	rec := &stateRecorder{}
	c.OnConnectionState(func(e ConnectionStateEvent) {
		if e.State == Connecting && len(rec.snapshot()) == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		rec.record(e)
	})

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Disconnect())
	require.Eventually(t, func() bool { return c.State() == Disconnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())

	want := []ConnectionState{Connecting, Connected, Disconnected, Connecting, Connected, Closed}
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= len(want) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
}
