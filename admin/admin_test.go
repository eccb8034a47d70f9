package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/gamenet/metrics"
	"github.com/cyberinferno/gamenet/netsocket"
)

func newManager(t *testing.T, reg *prometheus.Registry) (*netsocket.Manager, int) {
	t.Helper()

	cfg := netsocket.DefaultConfig()
	cfg.Observer = metrics.New(metrics.Config{Registry: reg})
	m, err := netsocket.NewManager(cfg, nil)
	require.NoError(t, err)

	l, err := netsocket.NewListener(0, nil)
	require.NoError(t, err)
	_, err = m.AddSocket(l)
	require.NoError(t, err)

	return m, l.Port()
}

// drive runs the poll loop until the test ends.
func drive(t *testing.T, m *netsocket.Manager) {
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
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Stats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := newManager(t, reg)
	defer m.Shutdown()

	rec := get(t, New(m, reg, nil).Handler(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats netsocket.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Listeners)
	assert.Equal(t, 0, stats.Open)
}

func TestServer_MetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := newManager(t, reg)
	defer m.Shutdown()

	require.NoError(t, m.DoSelect(0, true))
	h := New(m, reg, nil).Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gamenet_poll_cycle_seconds_count 1")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope").Code)
}

func TestServer_Connections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, port := newManager(t, reg)
	drive(t, m)
	h := New(m, reg, nil).Handler()

	client, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return m.Stats().Open == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := get(t, h, "/connections")
	require.Equal(t, http.StatusOK, rec.Code)

	var conns []netsocket.ConnInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conns))
	require.Len(t, conns, 2)
	assert.True(t, conns[0].Listener)
	assert.False(t, conns[1].Listener)
	assert.True(t, strings.HasPrefix(conns[1].Peer, "127.0.0.1:"))
}

func TestServer_ConnectionsAfterShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := newManager(t, reg)
	m.Shutdown()

	rec := get(t, New(m, reg, nil).Handler(), "/connections")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), netsocket.ErrManagerClosed.Error())
}

func TestServer_Serve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := newManager(t, reg)
	defer m.Shutdown()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- New(m, reg, nil).Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
