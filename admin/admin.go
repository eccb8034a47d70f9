// Package admin serves the operator HTTP endpoints of a gamenet process:
// Prometheus metrics, manager counters and the live connection table.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/netsocket"
)

// Server exposes one socket manager over HTTP.
type Server struct {
	manager  *netsocket.Manager
	gatherer prometheus.Gatherer
	log      logger.Logger
	router   chi.Router
}

// New builds the admin router.
//
// Parameters:
//   - m: The manager to report on
//   - g: Source of /metrics; nil uses prometheus.DefaultGatherer
//   - log: The logger; nil discards output
//
// Returns:
//   - A Server; use Handler or ListenAndServe
func New(m *netsocket.Manager, g prometheus.Gatherer, log logger.Logger) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{manager: m, gatherer: g, log: log.With(logger.Field{Key: "component", Value: "admin"})}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/stats", s.stats)
	r.Get("/connections", s.connections)

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

// connections snapshots the table on the poll goroutine, which is the only
// goroutine allowed to walk it.
func (s *Server) connections(w http.ResponseWriter, r *http.Request) {
	result := make(chan []netsocket.ConnInfo, 1)
	err := s.manager.Post(func(m *netsocket.Manager) {
		result <- m.Connections()
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	select {
	case conns := <-result:
		writeJSON(w, http.StatusOK, conns)
	case <-r.Context().Done():
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": r.Context().Err().Error()})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("admin request",
			logger.Field{Key: "method", Value: r.Method},
			logger.Field{Key: "path", Value: r.URL.Path},
			logger.Field{Key: "status", Value: ww.Status()},
			logger.Field{Key: "duration", Value: time.Since(start).String()},
		)
	})
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
//
// Parameters:
//   - ctx: Stops the server when done
//   - addr: The listen address, e.g. "127.0.0.1:9100"
//
// Returns:
//   - nil after a clean shutdown, otherwise the listen or serve error
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("admin server started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Info("admin server stopped")
		return nil
	}

	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
